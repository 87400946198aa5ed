package hcl

import (
	"context"
	"math/big"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/vk/nsweave/internal/ctxlog"
	"github.com/vk/nsweave/internal/faults"
	"github.com/vk/nsweave/internal/hclutil"
	"github.com/vk/nsweave/internal/infra"
	"github.com/vk/nsweave/internal/schema"
	"github.com/vk/nsweave/internal/topology"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
)

// nodeDefaults is the translated content of defaults.node, merged into every
// node: blocks and exec concatenate (defaults first), addrs/sysctls merge by
// key-union with the node winning, free-form attrs become the node's
// DefaultEnv layer.
type nodeDefaults struct {
	pinned    []*schema.PinnedBlock
	templates []*schema.TemplateBlock
	addrs     map[string][]string
	sysctls   map[string]string
	exec      []hcl.Expression
	env       map[string]hcl.Expression
}

func (l *Loader) translateTopology(ctx context.Context, blocks []*schema.TopologyBlock) (*topology.Topology, error) {
	logger := ctxlog.FromContext(ctx)

	nodeDefs := &nodeDefaults{}
	linkDefs := map[string]cty.Value{}
	seenDefaults := false
	for _, block := range blocks {
		if block.Defaults == nil {
			continue
		}
		if seenDefaults {
			return nil, faults.ConfigMalformed("topology defaults declared more than once")
		}
		seenDefaults = true
		if block.Defaults.Node != nil {
			d := block.Defaults.Node
			addrs, sysctls, exec, env, err := splitNodeBody(d.Body, "defaults")
			if err != nil {
				return nil, err
			}
			nodeDefs = &nodeDefaults{
				pinned:    d.Pinned,
				templates: d.Templates,
				addrs:     addrs,
				sysctls:   sysctls,
				exec:      exec,
				env:       env,
			}
		}
		if block.Defaults.Link != nil {
			attrs, err := staticAttributes(block.Defaults.Link.Body, "link defaults")
			if err != nil {
				return nil, err
			}
			linkDefs = attrs
		}
	}

	topo := topology.New()

	for _, block := range blocks {
		for _, nb := range block.Nodes {
			node, err := l.translateNode(nb, nodeDefs)
			if err != nil {
				return nil, err
			}
			if err := topo.AddNode(node); err != nil {
				return nil, err
			}
		}
	}

	linkCount := 0
	for _, block := range blocks {
		for _, lb := range block.Links {
			if err := l.translateLink(topo, lb, linkDefs); err != nil {
				return nil, err
			}
			linkCount++
		}
	}

	if len(topo.NodeIDs()) == 0 {
		return nil, faults.ConfigMalformed("no nodes found in topology")
	}

	logger.Debug("Topology translated.", "nodes", len(topo.NodeIDs()), "links", linkCount)
	return topo, nil
}

func (l *Loader) translateNode(block *schema.NodeBlock, defs *nodeDefaults) (*topology.Node, error) {
	addrs, sysctls, exec, env, err := splitNodeBody(block.Body, block.Name)
	if err != nil {
		return nil, err
	}

	node := &topology.Node{
		ID:         block.Name,
		Addrs:      mergeStringListMap(defs.addrs, addrs),
		Sysctls:    mergeStringMap(defs.sysctls, sysctls),
		Exec:       append(append([]hcl.Expression(nil), defs.exec...), exec...),
		Env:        env,
		DefaultEnv: defs.env,
	}

	for _, pb := range append(append([]*schema.PinnedBlock(nil), defs.pinned...), block.Pinned...) {
		pinned, err := translatePinned(pb, block.Name)
		if err != nil {
			return nil, err
		}
		node.Pinned = append(node.Pinned, pinned)
	}

	seenTemplates := make(map[string]struct{})
	for _, tb := range append(append([]*schema.TemplateBlock(nil), defs.templates...), block.Templates...) {
		if _, dup := seenTemplates[tb.Name]; dup {
			return nil, faults.ConfigMalformed("node %q: template %q declared twice", block.Name, tb.Name)
		}
		seenTemplates[tb.Name] = struct{}{}
		node.Templates = append(node.Templates, topology.FileTemplate{Name: tb.Name, Dst: tb.Dst})
	}

	return node, nil
}

func translatePinned(block *schema.PinnedBlock, owner string) (*topology.Pinned, error) {
	if hclutil.IsNullExpr(block.Cmd) {
		return nil, faults.ConfigMalformed("node %q: pinned process has no 'cmd'", owner)
	}
	pinned := &topology.Pinned{Cmd: block.Cmd}

	if !hclutil.IsNullExpr(block.Environ) {
		pairs, diags := hcl.ExprMap(block.Environ)
		if diags.HasErrors() {
			return nil, faults.ConfigMalformed("node %q: pinned 'environ' must be a map: %s", owner, diags)
		}
		for _, pair := range pairs {
			name, err := hclutil.EvalString(pair.Key, nil, nil)
			if err != nil {
				return nil, faults.ConfigMalformed("node %q: pinned 'environ' key: %s", owner, err)
			}
			pinned.Environ = append(pinned.Environ, topology.EnvVar{Name: name, Expr: pair.Value})
		}
	}
	if !hclutil.IsNullExpr(block.Down) {
		pinned.Down = block.Down
	}
	return pinned, nil
}

func (l *Loader) translateLink(topo *topology.Topology, block *schema.LinkBlock, defs map[string]cty.Value) error {
	if len(block.Endpoints) != 2 {
		return faults.ConfigMalformed("link must declare exactly two endpoints, got %d", len(block.Endpoints))
	}
	headNode, headIface, err := parseEndpoint(block.Endpoints[0])
	if err != nil {
		return err
	}
	tailNode, tailIface, err := parseEndpoint(block.Endpoints[1])
	if err != nil {
		return err
	}

	attrs, err := staticAttributes(block.Body, "link "+block.Endpoints[0]+"-"+block.Endpoints[1], "endpoints")
	if err != nil {
		return err
	}
	// Defaults only fill attributes the link does not set itself.
	for name, val := range defs {
		if _, set := attrs[name]; !set {
			attrs[name] = val
		}
	}

	linkAttrs := &topology.LinkAttrs{Extra: map[string]any{}}
	for _, name := range hclutil.SortedKeys(attrs) {
		val := attrs[name]
		switch name {
		case "latency", "bw":
			str, err := convert.Convert(val, cty.String)
			if err != nil || str.IsNull() {
				return faults.ConfigMalformed("link %s-%s: %q must be a string", block.Endpoints[0], block.Endpoints[1], name)
			}
			if name == "latency" {
				linkAttrs.Latency = str.AsString()
			} else {
				linkAttrs.Bandwidth = str.AsString()
			}
		case "mtu":
			n, err := ctyInt(val)
			if err != nil {
				return faults.ConfigMalformed("link %s-%s: 'mtu' must be an integer", block.Endpoints[0], block.Endpoints[1])
			}
			linkAttrs.MTU = n
		default:
			gv, err := hclutil.CtyToGo(val)
			if err != nil {
				return faults.ConfigMalformed("link %s-%s: attribute %q: %s", block.Endpoints[0], block.Endpoints[1], name, err)
			}
			linkAttrs.Extra[name] = gv
		}
	}

	return topo.AddLink(headNode, headIface, tailNode, tailIface, linkAttrs)
}

func (l *Loader) translateInfrastructure(ctx context.Context, blocks []*schema.InfrastructureBlock) (*infra.Infrastructure, error) {
	logger := ctxlog.FromContext(ctx)
	inf := infra.New()

	for _, block := range blocks {
		for _, pb := range block.Phynodes {
			groups, err := decodeCores(pb.Cores, pb.Name)
			if err != nil {
				return nil, err
			}
			if err := inf.AddPhynode(&infra.Phynode{ID: pb.Name, Groups: groups, Trunk: pb.Trunk}); err != nil {
				return nil, err
			}
		}
		if block.Setup != nil {
			pre, err := decodeSetup(block.Setup.Pre, "pre")
			if err != nil {
				return nil, err
			}
			post, err := decodeSetup(block.Setup.Post, "post")
			if err != nil {
				return nil, err
			}
			inf.Pre = append(inf.Pre, pre...)
			inf.Post = append(inf.Post, post...)
		}
		for _, bb := range block.Builders {
			if _, dup := inf.Builders[bb.Name]; dup {
				return nil, faults.ConfigMalformed("builder %q redefined", bb.Name)
			}
			inf.Builders[bb.Name] = infra.BuildRecipe{Context: bb.Context, Containerfile: bb.Containerfile}
		}
	}

	if len(inf.PhynodeIDs()) == 0 {
		return nil, faults.ConfigMalformed("infrastructure should contain at least one phynode")
	}

	logger.Debug("Infrastructure translated.", "phynodes", len(inf.PhynodeIDs()), "builders", len(inf.Builders))
	return inf, nil
}

// --- decoding helpers ---

// splitNodeBody separates a node body's reserved attributes from its
// free-form environment. Reserved: addrs, sysctls, exec (pinned and template
// arrive as blocks). Environment values stay unevaluated.
func splitNodeBody(body hcl.Body, owner string) (map[string][]string, map[string]string, []hcl.Expression, map[string]hcl.Expression, error) {
	attrs, diags := hclutil.BodyAttributes(body)
	if diags.HasErrors() {
		return nil, nil, nil, nil, faults.ConfigMalformed("node %q: %s", owner, diags)
	}

	var addrs map[string][]string
	var sysctls map[string]string
	var exec []hcl.Expression
	env := make(map[string]hcl.Expression)

	for _, name := range hclutil.SortedKeys(attrs) {
		attr := attrs[name]
		switch name {
		case "addrs":
			m, err := decodeAddrs(attr.Expr)
			if err != nil {
				return nil, nil, nil, nil, faults.ConfigMalformed("node %q: 'addrs': %s", owner, err)
			}
			addrs = m
		case "sysctls":
			m, err := decodeStringMap(attr.Expr)
			if err != nil {
				return nil, nil, nil, nil, faults.ConfigMalformed("node %q: 'sysctls': %s", owner, err)
			}
			sysctls = m
		case "exec":
			exprs, diags := hcl.ExprList(attr.Expr)
			if diags.HasErrors() {
				return nil, nil, nil, nil, faults.ConfigMalformed("node %q: 'exec' must be a list of commands: %s", owner, diags)
			}
			exec = exprs
		default:
			env[name] = attr.Expr
		}
	}
	return addrs, sysctls, exec, env, nil
}

func decodeAddrs(expr hcl.Expression) (map[string][]string, error) {
	val, diags := expr.Value(nil)
	if diags.HasErrors() {
		return nil, diags
	}
	if val.IsNull() {
		return nil, nil
	}
	if !val.Type().IsObjectType() && !val.Type().IsMapType() {
		return nil, faults.ConfigMalformed("expected a map of interface to address list")
	}
	out := make(map[string][]string)
	for it := val.ElementIterator(); it.Next(); {
		kv, ev := it.Element()
		if ev.IsNull() {
			continue
		}
		if !ev.CanIterateElements() {
			return nil, faults.ConfigMalformed("addresses of %q must be a list", kv.AsString())
		}
		var list []string
		for eit := ev.ElementIterator(); eit.Next(); {
			_, av := eit.Element()
			str, err := convert.Convert(av, cty.String)
			if err != nil || str.IsNull() {
				return nil, faults.ConfigMalformed("address of %q is not a string", kv.AsString())
			}
			list = append(list, str.AsString())
		}
		out[kv.AsString()] = list
	}
	return out, nil
}

func decodeStringMap(expr hcl.Expression) (map[string]string, error) {
	val, diags := expr.Value(nil)
	if diags.HasErrors() {
		return nil, diags
	}
	if val.IsNull() {
		return nil, nil
	}
	if !val.Type().IsObjectType() && !val.Type().IsMapType() {
		return nil, faults.ConfigMalformed("expected a map")
	}
	out := make(map[string]string)
	for it := val.ElementIterator(); it.Next(); {
		kv, ev := it.Element()
		str, err := convert.Convert(ev, cty.String)
		if err != nil || str.IsNull() {
			return nil, faults.ConfigMalformed("value of %q is not a string", kv.AsString())
		}
		out[kv.AsString()] = str.AsString()
	}
	return out, nil
}

// staticAttributes evaluates every attribute of a body with no variables in
// scope. Used where the description must be literal (link attributes). Names
// in skip were consumed by the block's schema and are not part of the body's
// free attributes.
func staticAttributes(body hcl.Body, owner string, skip ...string) (map[string]cty.Value, error) {
	attrs, diags := hclutil.BodyAttributes(body, skip...)
	if diags.HasErrors() {
		return nil, faults.ConfigMalformed("%s: %s", owner, diags)
	}
	out := make(map[string]cty.Value, len(attrs))
	for name, attr := range attrs {
		val, diags := attr.Expr.Value(nil)
		if diags.HasErrors() {
			return nil, faults.ConfigMalformed("%s: attribute %q: %s", owner, name, diags)
		}
		out[name] = val
	}
	return out, nil
}

func parseEndpoint(s string) (node, iface string, err error) {
	node, iface, ok := strings.Cut(s, ":")
	if !ok || node == "" || iface == "" {
		return "", "", faults.ConfigMalformed("endpoint %q must have the form node:iface", s)
	}
	return node, iface, nil
}

func decodeCores(expr hcl.Expression, owner string) ([][]int, error) {
	val, diags := expr.Value(nil)
	if diags.HasErrors() {
		return nil, faults.ConfigMalformed("phynode %q: 'cores': %s", owner, diags)
	}
	switch {
	case val.Type() == cty.Number:
		n, err := ctyInt(val)
		if err != nil || n <= 0 {
			return nil, faults.ConfigMalformed("phynode %q: 'cores' count must be a positive integer", owner)
		}
		group := make([]int, n)
		for i := range group {
			group[i] = i
		}
		return [][]int{group}, nil
	case val.CanIterateElements():
		var groups [][]int
		for it := val.ElementIterator(); it.Next(); {
			_, gv := it.Element()
			if !gv.CanIterateElements() {
				return nil, faults.ConfigMalformed("phynode %q: 'cores' groups must be lists of core IDs", owner)
			}
			var group []int
			for git := gv.ElementIterator(); git.Next(); {
				_, cv := git.Element()
				id, err := ctyInt(cv)
				if err != nil {
					return nil, faults.ConfigMalformed("phynode %q: core IDs must be integers", owner)
				}
				group = append(group, id)
			}
			groups = append(groups, group)
		}
		if len(groups) == 0 {
			return nil, faults.ConfigMalformed("phynode %q: 'cores' declares no groups", owner)
		}
		return groups, nil
	default:
		return nil, faults.ConfigMalformed("phynode %q: 'cores' should be an integer or a list of core-ID groups", owner)
	}
}

func decodeSetup(expr hcl.Expression, which string) ([]infra.SetupCommand, error) {
	if hclutil.IsNullExpr(expr) {
		return nil, nil
	}
	val, diags := expr.Value(nil)
	if diags.HasErrors() {
		return nil, faults.ConfigMalformed("setup %s: %s", which, diags)
	}
	if !val.CanIterateElements() {
		return nil, faults.ConfigMalformed("setup %s must be a list of command entries", which)
	}
	var out []infra.SetupCommand
	for it := val.ElementIterator(); it.Next(); {
		_, ev := it.Element()
		entry, err := hclutil.CtyToGo(ev)
		if err != nil {
			return nil, faults.ConfigMalformed("setup %s entry: %s", which, err)
		}
		m, ok := entry.(map[string]any)
		if !ok {
			return nil, faults.ConfigMalformed("setup %s entries must be objects like { inline = \"...\" }", which)
		}
		// Only inline commands are supported; script references are reserved.
		if cmd, ok := m["inline"].(string); ok {
			out = append(out, infra.SetupCommand{Inline: cmd})
		}
	}
	return out, nil
}

func ctyInt(val cty.Value) (int, error) {
	if val.IsNull() || val.Type() != cty.Number {
		return 0, faults.ConfigMalformed("expected a number")
	}
	i, acc := val.AsBigFloat().Int64()
	if acc != big.Exact {
		return 0, faults.ConfigMalformed("expected an integer")
	}
	return int(i), nil
}

func mergeStringListMap(base, over map[string][]string) map[string][]string {
	if base == nil && over == nil {
		return map[string][]string{}
	}
	out := make(map[string][]string, len(base)+len(over))
	for k, v := range base {
		out[k] = append([]string(nil), v...)
	}
	for k, v := range over {
		out[k] = append([]string(nil), v...)
	}
	return out
}

func mergeStringMap(base, over map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(over))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range over {
		out[k] = v
	}
	return out
}
