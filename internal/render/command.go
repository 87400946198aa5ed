package render

import (
	"github.com/hashicorp/hcl/v2"
	"github.com/vk/nsweave/internal/faults"
	"github.com/vk/nsweave/internal/hclutil"
	"github.com/zclconf/go-cty/cty"
)

// Command substitutes a command expression against the given variables. No
// functions are in scope; macros never apply to command text.
func Command(expr hcl.Expression, vars map[string]cty.Value) (string, error) {
	s, err := hclutil.EvalString(expr, vars, nil)
	if err != nil {
		return "", faults.ConfigMalformed("command: %s", err)
	}
	return s, nil
}

// CoreVars builds the substitution scope for a pinned process: `node` plus
// one variable per core slot bound to its allocated core ID.
func CoreVars(nodeID string, slots []string, cores []int) map[string]cty.Value {
	vars := map[string]cty.Value{"node": cty.StringVal(nodeID)}
	for i, slot := range slots {
		if i < len(cores) {
			vars[slot] = cty.NumberIntVal(int64(cores[i]))
		}
	}
	return vars
}

// EnvVars builds the substitution scope for a node's exec commands: `node`
// plus the node's evaluated environment.
func EnvVars(nodeID string, env map[string]any) (map[string]cty.Value, error) {
	vars := map[string]cty.Value{"node": cty.StringVal(nodeID)}
	for _, k := range hclutil.SortedKeys(env) {
		if k == "node" {
			continue
		}
		val, err := hclutil.GoToCty(env[k])
		if err != nil {
			return nil, faults.ConfigMalformed("environment %q: %s", k, err)
		}
		vars[k] = val
	}
	return vars, nil
}
