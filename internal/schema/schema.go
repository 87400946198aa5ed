// Package schema defines the HCL block structures of the topology and
// infrastructure description files. Late-bound strings (command templates,
// environment values, destination paths) stay hcl.Expression so they can be
// evaluated against the right context later in the pipeline.
package schema

import (
	"github.com/hashicorp/hcl/v2"
)

// --- Topology description ---

// TopologyBlock is the `topology` top-level block.
type TopologyBlock struct {
	Defaults *DefaultsBlock `hcl:"defaults,block"`
	Nodes    []*NodeBlock   `hcl:"node,block"`
	Links    []*LinkBlock   `hcl:"link,block"`
}

// DefaultsBlock carries topology-wide defaults for nodes and links.
type DefaultsBlock struct {
	Node *NodeDefaults `hcl:"node,block"`
	Link *LinkDefaults `hcl:"link,block"`
}

// NodeDefaults has the same shape as a node block, without the label.
type NodeDefaults struct {
	Pinned    []*PinnedBlock   `hcl:"pinned,block"`
	Templates []*TemplateBlock `hcl:"template,block"`
	Body      hcl.Body         `hcl:",remain"`
}

// LinkDefaults carries default link attributes, filled into every link that
// does not set them itself.
type LinkDefaults struct {
	Body hcl.Body `hcl:",remain"`
}

// NodeBlock is a `node "<id>"` block. Besides the declared sub-blocks, its
// body holds the reserved attributes (addrs, sysctls, exec) and the node's
// free-form environment (everything else).
type NodeBlock struct {
	Name      string           `hcl:"name,label"`
	Pinned    []*PinnedBlock   `hcl:"pinned,block"`
	Templates []*TemplateBlock `hcl:"template,block"`
	Body      hcl.Body         `hcl:",remain"`
}

// PinnedBlock is a `pinned` process block within a node.
type PinnedBlock struct {
	Cmd     hcl.Expression `hcl:"cmd"`
	Environ hcl.Expression `hcl:"environ,optional"`
	Down    hcl.Expression `hcl:"down,optional"`
}

// TemplateBlock is a `template "<name>"` block within a node.
type TemplateBlock struct {
	Name string         `hcl:"name,label"`
	Dst  hcl.Expression `hcl:"dst"`
}

// LinkBlock is a `link` block. Endpoints are "node:iface" pairs; the
// remaining attributes (latency, bw, mtu, user-defined fields) live in Body.
type LinkBlock struct {
	Endpoints []string `hcl:"endpoints"`
	Body      hcl.Body `hcl:",remain"`
}

// --- Infrastructure description ---

// InfrastructureBlock is the `infrastructure` top-level block.
type InfrastructureBlock struct {
	Phynodes []*PhynodeBlock `hcl:"phynode,block"`
	Setup    *SetupBlock     `hcl:"setup,block"`
	Builders []*BuilderBlock `hcl:"builder,block"`
}

// PhynodeBlock is a `phynode "<id>"` block. Cores is either an integer
// (shorthand for one group of that many cores) or a list of core-ID lists,
// one per locality group.
type PhynodeBlock struct {
	Name  string         `hcl:"name,label"`
	Cores hcl.Expression `hcl:"cores"`
	Trunk string         `hcl:"trunk,optional"`
}

// SetupBlock carries the pre/post host setup command lists. Each entry is an
// object tagging the command form, currently `{ inline = "<cmd>" }`.
type SetupBlock struct {
	Pre  hcl.Expression `hcl:"pre,optional"`
	Post hcl.Expression `hcl:"post,optional"`
}

// BuilderBlock is a `builder "<name>"` recipe for the image-build
// collaborator.
type BuilderBlock struct {
	Name          string `hcl:"name,label"`
	Context       string `hcl:"context"`
	Containerfile string `hcl:"containerfile"`
}

// Root decodes all recognized top-level blocks from any description file.
type Root struct {
	Topology       *TopologyBlock       `hcl:"topology,block"`
	Infrastructure *InfrastructureBlock `hcl:"infrastructure,block"`
	Remain         hcl.Body             `hcl:",remain"`
}
