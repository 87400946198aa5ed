// Package alloc assigns each logical node's pinned processes to physical
// cores on a specific phynode.
//
// The algorithm is deterministic largest-first bin packing: nodes are placed
// in descending order of their total core requirement (declaration order
// breaks ties), and each process takes the first sufficiently large core
// group scanning hosts and groups in declaration order. A process's cores
// all come from one group, keeping its threads inside one locality domain.
// There is no backtracking or defragmentation; that is a known limitation,
// not a correctness bug.
package alloc

import (
	"context"
	"sort"

	"github.com/vk/nsweave/internal/ctxlog"
	"github.com/vk/nsweave/internal/faults"
	"github.com/vk/nsweave/internal/infra"
	"github.com/vk/nsweave/internal/topology"
)

// Assignment is one node's placement: the chosen phynode and, per pinned
// process in declared order, the concrete core IDs backing its slots. The
// first core of each list backs core_0.
type Assignment struct {
	Phynode string
	Cores   [][]int
}

// Placement maps logical node IDs to their assignments.
type Placement map[string]Assignment

// Host returns the phynode a node was placed on.
func (p Placement) Host(nodeID string) (string, bool) {
	a, ok := p[nodeID]
	if !ok {
		return "", false
	}
	return a.Phynode, true
}

// Allocator computes and caches a Placement for one topology/infrastructure
// pair. Allocate may be called any number of times; the first call computes,
// later calls return the cached result unchanged.
type Allocator struct {
	topo      *topology.Topology
	inf       *infra.Infrastructure
	placement Placement
}

// New creates an Allocator.
func New(topo *topology.Topology, inf *infra.Infrastructure) *Allocator {
	return &Allocator{topo: topo, inf: inf}
}

// Allocate computes the placement map. The infrastructure's core pool is
// consumed from a private copy, so a failed attempt never depletes the
// inventory and repeated calls are harmless.
func (a *Allocator) Allocate(ctx context.Context) (Placement, error) {
	if a.placement != nil {
		return a.placement, nil
	}
	logger := ctxlog.FromContext(ctx)

	available := a.inf.CoreGroups()
	hosts := a.inf.PhynodeIDs()
	if len(hosts) == 0 && len(a.topo.NodeIDs()) > 0 {
		return nil, faults.ResourceExhausted("infrastructure declares no phynodes")
	}

	// Largest total requirement first; equal requirements keep declaration
	// order so the result is stable.
	ordered := append([]string(nil), a.topo.NodeIDs()...)
	sort.SliceStable(ordered, func(i, j int) bool {
		ni, _ := a.topo.Node(ordered[i])
		nj, _ := a.topo.Node(ordered[j])
		return ni.CoreCount() > nj.CoreCount()
	})

	placement := make(Placement, len(ordered))
	for _, nid := range ordered {
		node, _ := a.topo.Node(nid)
		assignment := Assignment{}

		for pi, pinned := range node.Pinned {
			need := pinned.CoreCount()

			// The first process fixes the node's host; the rest must fit on
			// the same one, since a node lives in exactly one namespace.
			candidates := hosts
			if assignment.Phynode != "" {
				candidates = []string{assignment.Phynode}
			}

			host, cores := takeCores(available, candidates, need)
			if host == "" {
				return nil, faults.ResourceExhausted(
					"no core group can satisfy process %d of node %q (%d cores required)", pi, nid, need)
			}
			assignment.Phynode = host
			assignment.Cores = append(assignment.Cores, cores)
		}

		if assignment.Phynode == "" {
			// A node with no pinned processes still needs a namespace
			// somewhere; it costs no cores, so the first host takes it.
			assignment.Phynode = hosts[0]
		}
		placement[nid] = assignment
		logger.Debug("Node placed.", "node", nid, "phynode", assignment.Phynode, "cores", assignment.Cores)
	}

	a.placement = placement
	return a.placement, nil
}

// takeCores pops `need` core IDs off the first group large enough, scanning
// the candidate hosts and their groups in order. The popped IDs map 1:1, in
// order, to the process's slots.
func takeCores(available map[string][][]int, candidates []string, need int) (string, []int) {
	for _, host := range candidates {
		for gi, group := range available[host] {
			if len(group) >= need {
				cores := append([]int(nil), group[:need]...)
				available[host][gi] = group[need:]
				return host, cores
			}
		}
	}
	return "", nil
}
