package alloc

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/nsweave/internal/faults"
	"github.com/vk/nsweave/internal/infra"
	"github.com/vk/nsweave/internal/testutil"
	"github.com/vk/nsweave/internal/topology"
)

func TestAllocateLargestFirst(t *testing.T) {
	// "small" is declared first but "big" needs more cores, so big must be
	// packed first and land in the only group that fits it.
	topo, inf := testutil.Load(t, `
topology {
  node "small" {
    pinned { cmd = "worker" }
  }
  node "big" {
    pinned {
      cmd     = "router"
      environ = { WORKERS = "${core_1},${core_2}" }
    }
  }
  link { endpoints = ["small:eth0", "big:eth0"] }
}
infrastructure {
  phynode "alpha" { cores = [[0, 1]] }
  phynode "beta"  { cores = [[10, 11, 12, 13]] }
}
`)
	placement, err := New(topo, inf).Allocate(testutil.Context(t))
	require.NoError(t, err)

	want := Placement{
		"big":   {Phynode: "beta", Cores: [][]int{{10, 11, 12}}},
		"small": {Phynode: "alpha", Cores: [][]int{{0}}},
	}
	assert.Empty(t, cmp.Diff(want, placement))
}

func TestAllocateDrainsByRequirement(t *testing.T) {
	// Declared order is five, one, two; packing must go five, two, one, so
	// the single group is drained in that order.
	topo, inf := testutil.Load(t, `
topology {
  node "one" {
    pinned { cmd = "a" }
  }
  node "five" {
    pinned {
      cmd     = "b"
      environ = { W = "${core_1},${core_2},${core_3},${core_4}" }
    }
  }
  node "two" {
    pinned {
      cmd     = "c"
      environ = { W = "${core_1}" }
    }
  }
  link { endpoints = ["one:eth0", "five:eth0"] }
  link { endpoints = ["five:eth1", "two:eth0"] }
}
infrastructure {
  phynode "alpha" { cores = 8 }
}
`)
	placement, err := New(topo, inf).Allocate(testutil.Context(t))
	require.NoError(t, err)

	assert.Equal(t, [][]int{{0, 1, 2, 3, 4}}, placement["five"].Cores)
	assert.Equal(t, [][]int{{5, 6}}, placement["two"].Cores)
	assert.Equal(t, [][]int{{7}}, placement["one"].Cores)
}

func TestAllocateKeepsProcessesTogether(t *testing.T) {
	// Both processes of "dual" must land on the same phynode even though the
	// second one would also fit on alpha.
	topo, inf := testutil.Load(t, `
topology {
  node "dual" {
    pinned {
      cmd     = "a"
      environ = { W = "${core_1},${core_2}" }
    }
    pinned { cmd = "b" }
  }
  node "peer" {}
  link { endpoints = ["dual:eth0", "peer:eth0"] }
}
infrastructure {
  phynode "alpha" { cores = [[0, 1]] }
  phynode "beta"  { cores = [[5, 6, 7], [8]] }
}
`)
	placement, err := New(topo, inf).Allocate(testutil.Context(t))
	require.NoError(t, err)

	assert.Equal(t, Assignment{Phynode: "beta", Cores: [][]int{{5, 6, 7}, {8}}}, placement["dual"])

	t.Run("node without pinned processes goes to the first host", func(t *testing.T) {
		assert.Equal(t, "alpha", placement["peer"].Phynode)
		assert.Empty(t, placement["peer"].Cores)
	})
}

func TestAllocateExhaustion(t *testing.T) {
	topo, inf := testutil.Load(t, `
topology {
  node "a" {
    pinned {
      cmd     = "x"
      environ = { W = "${core_1}" }
    }
  }
  node "b" {}
  link { endpoints = ["a:eth0", "b:eth0"] }
}
infrastructure {
  phynode "alpha" { cores = [[0], [1]] }
}
`)
	// Two cores exist but no single group holds two, so the two-core process
	// cannot be placed.
	_, err := New(topo, inf).Allocate(testutil.Context(t))
	require.ErrorIs(t, err, faults.ErrResourceExhausted)
}

func TestAllocateIsIdempotent(t *testing.T) {
	topo, inf := testutil.Load(t, `
topology {
  node "a" {
    pinned { cmd = "x" }
  }
  node "b" {}
  link { endpoints = ["a:eth0", "b:eth0"] }
}
infrastructure {
  phynode "alpha" { cores = 1 }
}
`)
	a := New(topo, inf)
	first, err := a.Allocate(testutil.Context(t))
	require.NoError(t, err)
	second, err := a.Allocate(testutil.Context(t))
	require.NoError(t, err)
	assert.Equal(t, first, second)

	t.Run("failed run leaves the inventory intact", func(t *testing.T) {
		assert.Equal(t, [][]int{{0}}, inf.CoreGroups()["alpha"])
	})
}

func TestAllocateWithoutPhynodes(t *testing.T) {
	topo := topology.New()
	require.NoError(t, topo.AddNode(&topology.Node{ID: "a"}))

	_, err := New(topo, infra.New()).Allocate(testutil.Context(t))
	require.ErrorIs(t, err, faults.ErrResourceExhausted)
}
