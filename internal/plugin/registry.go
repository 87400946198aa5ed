// Package plugin holds the registered-function table the environment macro
// pass evaluates against. Extension modules contribute named cty functions
// at startup; the expansion pass looks macro names up here and rejects
// anything unknown instead of attempting open-ended evaluation.
package plugin

import (
	"fmt"
	"log/slog"

	"github.com/zclconf/go-cty/cty/function"
)

// Module is the interface extension units implement to contribute functions.
type Module interface {
	Register(r *Registry)
}

// Registry maps function names to typed cty callables for a single
// application instance.
type Registry struct {
	funcs map[string]function.Function
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{funcs: make(map[string]function.Function)}
}

// RegisterFunction adds a named function. Registering the same name twice is
// a programmer error.
func (r *Registry) RegisterFunction(name string, fn function.Function) {
	if _, exists := r.funcs[name]; exists {
		panic(fmt.Sprintf("plugin function %q already registered", name))
	}
	slog.Debug("Registering plugin function.", "name", name)
	r.funcs[name] = fn
}

// Lookup returns the function registered under name.
func (r *Registry) Lookup(name string) (function.Function, bool) {
	fn, ok := r.funcs[name]
	return fn, ok
}

// Functions exposes the table in the shape hcl.EvalContext wants.
func (r *Registry) Functions() map[string]function.Function {
	return r.funcs
}

// Len reports how many functions are registered.
func (r *Registry) Len() int {
	return len(r.funcs)
}
