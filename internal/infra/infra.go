// Package infra models the physical infrastructure: the pool of phynodes
// with their core layouts, optional setup hooks, and named build recipes.
package infra

import (
	"context"

	"github.com/vk/nsweave/internal/faults"
)

// Phynode is a physical host contributing CPU cores, grouped by locality
// domain (e.g. NUMA node). Each group lists available core IDs.
type Phynode struct {
	ID     string
	Groups [][]int

	// Trunk names the physical device carrying cross-host VLAN links.
	// Optional; a cross-host link terminating on a trunkless phynode is
	// unresolvable.
	Trunk string
}

// TotalCores is the flattened core count across all groups.
func (p *Phynode) TotalCores() int {
	total := 0
	for _, g := range p.Groups {
		total += len(g)
	}
	return total
}

// SetupCommand is one pre/post setup entry. Only inline text is supported;
// script references are reserved.
type SetupCommand struct {
	Inline string
}

// BuildRecipe names the inputs of a config-generation sandbox image.
type BuildRecipe struct {
	Context       string
	Containerfile string
}

// ImageBuilder turns a named recipe into a runnable environment. The build
// itself is an external collaborator; the core only carries recipes.
type ImageBuilder interface {
	Build(ctx context.Context, name string, recipe BuildRecipe) error
}

// Infrastructure is the inventory of phynodes plus host-level hooks.
type Infrastructure struct {
	order    []string
	phynodes map[string]*Phynode

	// Pre and Post are appended to every participating phynode's PreSetup
	// and PostSetup phases, in declared order.
	Pre  []SetupCommand
	Post []SetupCommand

	// Builders maps recipe names for the image-build collaborator.
	Builders map[string]BuildRecipe
}

// New creates an empty infrastructure.
func New() *Infrastructure {
	return &Infrastructure{
		phynodes: make(map[string]*Phynode),
		Builders: make(map[string]BuildRecipe),
	}
}

// AddPhynode registers a host. Redefining an ID is malformed configuration.
func (i *Infrastructure) AddPhynode(p *Phynode) error {
	if _, exists := i.phynodes[p.ID]; exists {
		return faults.ConfigMalformed("phynode %q redefined", p.ID)
	}
	i.phynodes[p.ID] = p
	i.order = append(i.order, p.ID)
	return nil
}

// Phynode returns the host with the given ID.
func (i *Infrastructure) Phynode(id string) (*Phynode, bool) {
	p, ok := i.phynodes[id]
	return p, ok
}

// PhynodeIDs returns all host IDs in declaration order.
func (i *Infrastructure) PhynodeIDs() []string {
	return i.order
}

// TotalCores is the flattened core count across all hosts.
func (i *Infrastructure) TotalCores() int {
	total := 0
	for _, p := range i.phynodes {
		total += p.TotalCores()
	}
	return total
}

// CoreGroups returns a deep copy of every host's core groups, keyed by host
// ID. The allocator consumes the copy so the inventory itself is never
// depleted by a failed or repeated allocation attempt.
func (i *Infrastructure) CoreGroups() map[string][][]int {
	out := make(map[string][][]int, len(i.phynodes))
	for id, p := range i.phynodes {
		groups := make([][]int, len(p.Groups))
		for gi, g := range p.Groups {
			groups[gi] = append([]int(nil), g...)
		}
		out[id] = groups
	}
	return out
}
