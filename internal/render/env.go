// Package render expands node environments and produces rendered
// configuration files and substituted command text.
package render

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/vk/nsweave/internal/ctxlog"
	"github.com/vk/nsweave/internal/faults"
	"github.com/vk/nsweave/internal/hclutil"
	"github.com/vk/nsweave/internal/topology"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
)

// macroPrefix marks a string value whose remainder is evaluated against the
// registered-function table.
const macroPrefix = "%fun "

// EvalEnv evaluates a node's free-form environment: the default layer and
// the node's own layer are each substituted with `node` and the node's
// resolved addresses in scope, then deep-merged (maps by key-union, lists by
// concatenation, scalars overridden by the node). No macro pass is applied;
// command-text call sites use this directly.
func EvalEnv(ctx context.Context, node *topology.Node, funcs map[string]function.Function) (map[string]any, error) {
	addrsVal, err := hclutil.GoToCty(node.Addrs)
	if err != nil {
		return nil, faults.ConfigMalformed("node %q: addresses: %s", node.ID, err)
	}
	vars := map[string]cty.Value{
		"node":  cty.StringVal(node.ID),
		"addrs": addrsVal,
	}

	evalLayer := func(layer map[string]hcl.Expression) (map[string]any, error) {
		out := make(map[string]any, len(layer))
		for _, name := range hclutil.SortedKeys(layer) {
			val, err := hclutil.EvalExpr(layer[name], vars, funcs)
			if err != nil {
				return nil, faults.ConfigMalformed("node %q: environment %q: %s", node.ID, name, err)
			}
			gv, err := hclutil.CtyToGo(val)
			if err != nil {
				return nil, faults.ConfigMalformed("node %q: environment %q: %s", node.ID, name, err)
			}
			out[name] = gv
		}
		return out, nil
	}

	defaults, err := evalLayer(node.DefaultEnv)
	if err != nil {
		return nil, err
	}
	own, err := evalLayer(node.Env)
	if err != nil {
		return nil, err
	}
	return deepMerge(defaults, own), nil
}

// ExpandEnv is EvalEnv followed by the macro pass: every string leaf (and
// nested mapping key) carrying the %fun prefix is replaced by the result of
// evaluating its remainder against the function table. File-template
// rendering consumes this form.
func ExpandEnv(ctx context.Context, node *topology.Node, funcs map[string]function.Function) (map[string]any, error) {
	env, err := EvalEnv(ctx, node, funcs)
	if err != nil {
		return nil, err
	}
	expanded, err := expandMacros(env, funcs)
	if err != nil {
		return nil, faults.ConfigMalformed("node %q: %s", node.ID, err)
	}
	ctxlog.FromContext(ctx).Debug("Node environment expanded.", "node", node.ID, "keys", len(env))
	return expanded.(map[string]any), nil
}

// expandMacros walks string leaves and nested mappings. Other value kinds
// pass through unchanged.
func expandMacros(v any, funcs map[string]function.Function) (any, error) {
	switch tv := v.(type) {
	case string:
		return expandMacroString(tv, funcs)
	case map[string]any:
		out := make(map[string]any, len(tv))
		for _, k := range hclutil.SortedKeys(tv) {
			ek, err := expandMacroString(k, funcs)
			if err != nil {
				return nil, err
			}
			key, ok := ek.(string)
			if !ok {
				return nil, faults.ConfigMalformed("macro in key %q must produce a string", k)
			}
			ev, err := expandMacros(tv[k], funcs)
			if err != nil {
				return nil, err
			}
			out[key] = ev
		}
		return out, nil
	default:
		return v, nil
	}
}

func expandMacroString(s string, funcs map[string]function.Function) (any, error) {
	rest, ok := strings.CutPrefix(s, macroPrefix)
	if !ok {
		return s, nil
	}
	val, err := hclutil.EvalExprString(rest, funcs)
	if err != nil {
		return nil, fmt.Errorf("macro %q: %w", rest, err)
	}
	gv, err := hclutil.CtyToGo(val)
	if err != nil {
		return nil, err
	}
	// A macro may itself produce macro-carrying values; expand those too.
	return expandMacros(gv, funcs)
}

// deepMerge layers `over` on top of `base`: maps merge by key-union
// recursively, lists concatenate (base first), any other pair is overridden
// by `over`.
func deepMerge(base, over map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(over))
	for k, v := range base {
		out[k] = v
	}
	for k, ov := range over {
		bv, exists := out[k]
		if !exists {
			out[k] = ov
			continue
		}
		switch bt := bv.(type) {
		case map[string]any:
			if ot, ok := ov.(map[string]any); ok {
				out[k] = deepMerge(bt, ot)
				continue
			}
		case []any:
			if ot, ok := ov.([]any); ok {
				out[k] = append(append([]any(nil), bt...), ot...)
				continue
			}
		}
		out[k] = ov
	}
	return out
}
