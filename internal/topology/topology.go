// Package topology models the logical network description: a directed
// multigraph of nodes and link endpoints, with per-node configuration.
// The graph is an explicit adjacency structure; each declared link becomes
// two directed edges sharing one attribute set.
package topology

import (
	"github.com/vk/nsweave/internal/faults"
)

// LinkAttrs carries the attributes shared by both directions of a link.
type LinkAttrs struct {
	// Latency is the one-way delay applied by traffic shaping, e.g. "10ms".
	// Empty means the shaping default of 0ms.
	Latency string
	// Bandwidth is the shaping rate, e.g. "100mbit". Empty means the
	// default rate.
	Bandwidth string
	// MTU is applied to both interfaces when non-zero.
	MTU int
	// Extra holds user-defined link fields, available to file templates.
	Extra map[string]any
}

// Edge is one directed endpoint of a link: Head's LocalIface towards Tail's
// PeerIface. The reverse direction exists as its own Edge with the same
// Attrs pointer.
type Edge struct {
	Head       string
	LocalIface string
	Tail       string
	PeerIface  string
	Attrs      *LinkAttrs

	// Declared marks the direction as written in the description. Link
	// naming and traffic shaping attach to the declared head.
	Declared bool
}

// Topology is the directed multigraph over logical nodes.
type Topology struct {
	order  []string
	nodes  map[string]*Node
	adj    map[string][]Edge
	ifaces map[string]map[string]struct{}
}

// New creates an empty topology.
func New() *Topology {
	return &Topology{
		nodes:  make(map[string]*Node),
		adj:    make(map[string][]Edge),
		ifaces: make(map[string]map[string]struct{}),
	}
}

// AddNode registers a node. Redefining an ID is malformed configuration.
func (t *Topology) AddNode(n *Node) error {
	if _, exists := t.nodes[n.ID]; exists {
		return faults.ConfigMalformed("node %q redefined", n.ID)
	}
	t.nodes[n.ID] = n
	t.order = append(t.order, n.ID)
	t.ifaces[n.ID] = make(map[string]struct{})
	return nil
}

// AddLink declares a link between a:aIface and b:bIface, recording both
// directed edges. Both endpoints must name declared nodes, and an interface
// name may be used at most once per node across all its links.
func (t *Topology) AddLink(a, aIface, b, bIface string, attrs *LinkAttrs) error {
	for _, id := range []string{a, b} {
		if _, ok := t.nodes[id]; !ok {
			return faults.ConfigMalformed("link endpoint references undeclared node %q", id)
		}
	}
	if _, used := t.ifaces[a][aIface]; used {
		return faults.ConfigMalformed("interface %q already in use on node %q", aIface, a)
	}
	if a == b && aIface == bIface {
		return faults.ConfigMalformed("link connects %s:%s to itself", a, aIface)
	}
	if _, used := t.ifaces[b][bIface]; used {
		return faults.ConfigMalformed("interface %q already in use on node %q", bIface, b)
	}
	if attrs == nil {
		attrs = &LinkAttrs{}
	}
	t.adj[a] = append(t.adj[a], Edge{Head: a, LocalIface: aIface, Tail: b, PeerIface: bIface, Attrs: attrs, Declared: true})
	t.adj[b] = append(t.adj[b], Edge{Head: b, LocalIface: bIface, Tail: a, PeerIface: aIface, Attrs: attrs})
	t.ifaces[a][aIface] = struct{}{}
	t.ifaces[b][bIface] = struct{}{}
	return nil
}

// Node returns the node with the given ID.
func (t *Topology) Node(id string) (*Node, bool) {
	n, ok := t.nodes[id]
	return n, ok
}

// NodeIDs returns all node IDs in declaration order.
func (t *Topology) NodeIDs() []string {
	return t.order
}

// Nodes returns all nodes in declaration order.
func (t *Topology) Nodes() []*Node {
	out := make([]*Node, len(t.order))
	for i, id := range t.order {
		out[i] = t.nodes[id]
	}
	return out
}

// Index returns the 0-based declaration index of a node, or -1.
func (t *Topology) Index(id string) int {
	for i, nid := range t.order {
		if nid == id {
			return i
		}
	}
	return -1
}

// Adjacency returns the directed edges leaving the given node, in link
// declaration order.
func (t *Topology) Adjacency(id string) []Edge {
	return t.adj[id]
}

// Edges returns every directed edge, grouped by head node in declaration
// order. Each undirected link appears twice, once per direction.
func (t *Topology) Edges() []Edge {
	var out []Edge
	for _, id := range t.order {
		out = append(out, t.adj[id]...)
	}
	return out
}

// TotalCores is the topology's total core requirement across all nodes.
func (t *Topology) TotalCores() int {
	total := 0
	for _, n := range t.nodes {
		total += n.CoreCount()
	}
	return total
}
