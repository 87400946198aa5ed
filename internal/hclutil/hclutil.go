// Package hclutil provides the expression-evaluation and value-conversion
// helpers shared by the loader, synthesizer, and renderer.
package hclutil

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/function"
)

// EvalContext assembles an hcl.EvalContext from plain maps. Either map may
// be nil.
func EvalContext(vars map[string]cty.Value, funcs map[string]function.Function) *hcl.EvalContext {
	return &hcl.EvalContext{Variables: vars, Functions: funcs}
}

// EvalExpr evaluates an expression against the given variables and functions.
func EvalExpr(expr hcl.Expression, vars map[string]cty.Value, funcs map[string]function.Function) (cty.Value, error) {
	val, diags := expr.Value(EvalContext(vars, funcs))
	if diags.HasErrors() {
		return cty.NilVal, diags
	}
	return val, nil
}

// EvalString evaluates an expression and converts the result to a string.
func EvalString(expr hcl.Expression, vars map[string]cty.Value, funcs map[string]function.Function) (string, error) {
	val, err := EvalExpr(expr, vars, funcs)
	if err != nil {
		return "", err
	}
	str, err := convert.Convert(val, cty.String)
	if err != nil {
		return "", fmt.Errorf("cannot convert %s to string: %w", val.Type().FriendlyName(), err)
	}
	if str.IsNull() {
		return "", fmt.Errorf("expression evaluated to null")
	}
	return str.AsString(), nil
}

// EvalTemplate parses src as an HCL template (the ${...} / %{for} syntax)
// and evaluates it to a string. filename is used for diagnostics only.
func EvalTemplate(src []byte, filename string, vars map[string]cty.Value, funcs map[string]function.Function) (string, error) {
	expr, diags := hclsyntax.ParseTemplate(src, filename, hcl.InitialPos)
	if diags.HasErrors() {
		return "", diags
	}
	return EvalString(expr, vars, funcs)
}

// EvalExprString parses src as a single HCL expression and evaluates it.
// Used for the %fun macro remainder, where only registered functions are in
// scope.
func EvalExprString(src string, funcs map[string]function.Function) (cty.Value, error) {
	expr, diags := hclsyntax.ParseExpression([]byte(src), "<macro>", hcl.InitialPos)
	if diags.HasErrors() {
		return cty.NilVal, diags
	}
	return EvalExpr(expr, nil, funcs)
}

// BodyAttributes returns a body's attributes, tolerating sub-blocks living
// alongside them. JustAttributes cannot be used for that: hclsyntax rejects
// any body still carrying blocks, even ones a surrounding gohcl schema
// already consumed. Names in skip (attributes the schema consumed) are left
// out.
func BodyAttributes(body hcl.Body, skip ...string) (hcl.Attributes, hcl.Diagnostics) {
	skipped := func(name string) bool {
		for _, s := range skip {
			if s == name {
				return true
			}
		}
		return false
	}

	if sb, ok := body.(*hclsyntax.Body); ok {
		attrs := make(hcl.Attributes, len(sb.Attributes))
		for name, attr := range sb.Attributes {
			if skipped(name) {
				continue
			}
			attrs[name] = attr.AsHCLAttribute()
		}
		return attrs, nil
	}

	attrs, diags := body.JustAttributes()
	if diags.HasErrors() {
		return nil, diags
	}
	for name := range attrs {
		if skipped(name) {
			delete(attrs, name)
		}
	}
	return attrs, nil
}

// IsNullExpr reports whether an expression is absent: nil, or the synthetic
// null gohcl assigns for missing optional attributes.
func IsNullExpr(expr hcl.Expression) bool {
	if expr == nil {
		return true
	}
	val, diags := expr.Value(nil)
	return !diags.HasErrors() && val.IsNull()
}

// ExprRootNames returns the deduplicated root variable names an expression
// references, in first-reference order.
func ExprRootNames(expr hcl.Expression) []string {
	var names []string
	seen := make(map[string]struct{})
	for _, traversal := range expr.Variables() {
		name := traversal.RootName()
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names
}
