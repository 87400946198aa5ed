package render

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/vk/nsweave/internal/ctxlog"
	"github.com/vk/nsweave/internal/faults"
	"github.com/vk/nsweave/internal/fsutil"
	"github.com/vk/nsweave/internal/hclutil"
	"github.com/vk/nsweave/internal/topology"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
)

// File is one rendered configuration file: the destination path on the node
// and the rendered content.
type File struct {
	Dst     string
	Content []byte
}

// NodeFiles renders every file template declared on the node, keyed by the
// destination's base name. Templates are looked up under searchPath. The
// rendering scope is the node's expanded environment plus `node`, `rid`, and
// `ifaces` (the node's interfaces with peer and link attributes); environment
// keys shadow the built-ins.
func NodeFiles(ctx context.Context, node *topology.Node, topo *topology.Topology, searchPath string, funcs map[string]function.Function) (map[string]File, error) {
	if len(node.Templates) == 0 {
		return nil, nil
	}
	logger := ctxlog.FromContext(ctx)

	env, err := ExpandEnv(ctx, node, funcs)
	if err != nil {
		return nil, err
	}

	vars, err := templateScope(node, topo, env)
	if err != nil {
		return nil, err
	}

	out := make(map[string]File, len(node.Templates))
	for _, tpl := range node.Templates {
		path, err := fsutil.ResolveUnder(searchPath, tpl.Name)
		if err != nil {
			return nil, faults.ConfigMalformed("node %q: template %q not found under %s: %s", node.ID, tpl.Name, searchPath, err)
		}
		src, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading template %s: %w", path, err)
		}
		content, err := hclutil.EvalTemplate(src, tpl.Name, vars, funcs)
		if err != nil {
			return nil, faults.ConfigMalformed("node %q: rendering template %q: %s", node.ID, tpl.Name, err)
		}
		dst, err := hclutil.EvalString(tpl.Dst, map[string]cty.Value{"node": cty.StringVal(node.ID)}, nil)
		if err != nil {
			return nil, faults.ConfigMalformed("node %q: template %q destination: %s", node.ID, tpl.Name, err)
		}
		out[filepath.Base(dst)] = File{Dst: dst, Content: []byte(content)}
		logger.Debug("Template rendered.", "node", node.ID, "template", tpl.Name, "dst", dst)
	}
	return out, nil
}

// templateScope builds the variable map for file-template rendering.
func templateScope(node *topology.Node, topo *topology.Topology, env map[string]any) (map[string]cty.Value, error) {
	ifaces := make(map[string]any)
	for _, e := range topo.Adjacency(node.ID) {
		entry := map[string]any{"peer": e.Tail}
		if e.Attrs != nil {
			if e.Attrs.Latency != "" {
				entry["latency"] = e.Attrs.Latency
			}
			if e.Attrs.Bandwidth != "" {
				entry["bandwidth"] = e.Attrs.Bandwidth
			}
			if e.Attrs.MTU > 0 {
				entry["mtu"] = e.Attrs.MTU
			}
			for k, v := range e.Attrs.Extra {
				entry[k] = v
			}
		}
		ifaces[e.LocalIface] = entry
	}

	scope := map[string]any{
		"node":   node.ID,
		"rid":    NodeRID(node, topo, env),
		"ifaces": ifaces,
	}
	// Environment keys win over the built-ins.
	for k, v := range env {
		scope[k] = v
	}

	vars := make(map[string]cty.Value, len(scope))
	for _, k := range hclutil.SortedKeys(scope) {
		val, err := hclutil.GoToCty(scope[k])
		if err != nil {
			return nil, faults.ConfigMalformed("node %q: template variable %q: %s", node.ID, k, err)
		}
		vars[k] = val
	}
	return vars, nil
}

// NodeRID returns the node's router identifier: the environment's `rid`
// value when one is set, otherwise the node's 1-based declaration index
// formatted as a dotted quad.
func NodeRID(node *topology.Node, topo *topology.Topology, env map[string]any) string {
	if v, ok := env["rid"]; ok {
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprint(v)
	}
	return dottedQuad(uint32(topo.Index(node.ID) + 1))
}

func dottedQuad(n uint32) string {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], n)
	return net.IP(b[:]).String()
}
