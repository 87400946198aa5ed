package synth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/nsweave/internal/alloc"
	"github.com/vk/nsweave/internal/faults"
	"github.com/vk/nsweave/internal/infra"
	"github.com/vk/nsweave/internal/testutil"
	"github.com/vk/nsweave/internal/topology"
)

func compile(t *testing.T, src string) PerHostConfig {
	t.Helper()
	topo, inf := testutil.Load(t, src)
	ctx := testutil.Context(t)
	placement, err := alloc.New(topo, inf).Allocate(ctx)
	require.NoError(t, err)
	configs, err := New(topo, inf, placement, nil).Build(ctx)
	require.NoError(t, err)
	return configs
}

const sameHostDescription = `
topology {
  node "client" {
    addrs = {
      lo   = ["127.0.1.1/32"]
      eth0 = ["10.0.0.1/24"]
    }
    sysctls = { "net.ipv4.ip_forward" = "1" }
    exec    = ["ethtool -K eth0 tso off"]

    pinned {
      cmd     = "iperf3 -c 10.0.0.2"
      environ = { THREADS = "${core_1}" }
    }
  }
  node "server" {
    addrs = { eth0 = ["10.0.0.2/24"] }

    pinned {
      cmd  = "iperf3 -s"
      down = "pkill iperf3"
    }
  }
  link {
    endpoints = ["client:eth0", "server:eth0"]
    latency   = "5ms"
    bw        = "100mbit"
    mtu       = 1500
  }
}
infrastructure {
  phynode "alpha" { cores = 8 }

  setup {
    pre  = [{ inline = "modprobe 8021q" }]
    post = [{ inline = "echo ready" }]
  }
}
`

func TestBuildSameHost(t *testing.T) {
	configs := compile(t, sameHostDescription)
	require.Len(t, configs, 1)
	alpha := configs["alpha"]

	t.Run("node phase", func(t *testing.T) {
		assert.Equal(t, []string{
			"ip netns add client",
			"ip -n client a add 127.0.1.1/32 dev lo",
			"ip -n client l set dev lo up",
			`ip netns exec client bash -c "ethtool -K eth0 tso off"`,
			`ip netns exec client bash -c "sysctl -w net.ipv4.ip_forward=1"`,
			"ip netns add server",
			"ip -n server l set dev lo up",
		}, alpha[PhaseNodes])
	})

	t.Run("link phase emits one veth pair with shaping on the head", func(t *testing.T) {
		assert.Equal(t, []string{
			"ip l add dev eth0 netns client type veth peer name eth0 netns server",
			`ip netns exec client bash -c "tc qdisc add dev eth0 root netem delay 5ms rate 100mbit"`,
			"ip -n client l set dev eth0 mtu 1500",
			"ip -n server l set dev eth0 mtu 1500",
			"ip -n client a add 10.0.0.1/24 dev eth0",
			"ip -n client l set dev eth0 up",
			"ip -n server a add 10.0.0.2/24 dev eth0",
			"ip -n server l set dev eth0 up",
		}, alpha[PhaseLinks])
	})

	t.Run("process phase binds core_0 and prefixes the environment", func(t *testing.T) {
		assert.Equal(t, []string{
			`THREADS=1 ip netns exec client bash -c "taskset -c 0 iperf3 -c 10.0.0.2"`,
			`ip netns exec server bash -c "taskset -c 2 iperf3 -s"`,
		}, alpha[PhaseProcesses])
	})

	t.Run("down phase carries declared teardown only", func(t *testing.T) {
		assert.Equal(t, []string{
			`ip netns exec server bash -c "pkill iperf3"`,
		}, alpha[PhaseDown])
		assert.Empty(t, alpha[PhasePreDown])
	})

	t.Run("setup hooks land on participating hosts", func(t *testing.T) {
		assert.Equal(t, []string{"modprobe 8021q"}, alpha[PhasePreSetup])
		assert.Equal(t, []string{"echo ready"}, alpha[PhasePostSetup])
	})
}

const crossHostDescription = `
topology {
  node "client" {
    pinned { cmd = "ping 10.0.0.2" }
  }
  node "server" {
    pinned { cmd = "sleep infinity" }
  }
  link { endpoints = ["client:eth0", "server:eth0"] }
}
infrastructure {
  phynode "alpha" {
    cores = [[0]]
    trunk = "eno1"
  }
  phynode "beta" {
    cores = [[4]]
    trunk = "ens2"
  }
}
`

func TestBuildCrossHost(t *testing.T) {
	configs := compile(t, crossHostDescription)
	require.Len(t, configs, 2)

	t.Run("each end gets a VLAN subinterface over its trunk", func(t *testing.T) {
		assert.Contains(t, configs["alpha"][PhaseLinks],
			"ip l add link eno1 name eth0 netns client type vlan id 258")
		assert.Contains(t, configs["beta"][PhaseLinks],
			"ip l add link ens2 name eth0 netns server type vlan id 258")
	})

	t.Run("default shaping applies when the link sets none", func(t *testing.T) {
		assert.Contains(t, configs["alpha"][PhaseLinks],
			`ip netns exec client bash -c "tc qdisc add dev eth0 root netem delay 0ms rate 1gbit"`)
	})

	t.Run("interfaces come up on both hosts", func(t *testing.T) {
		assert.Contains(t, configs["alpha"][PhaseLinks], "ip -n client l set dev eth0 up")
		assert.Contains(t, configs["beta"][PhaseLinks], "ip -n server l set dev eth0 up")
	})
}

func TestBuildCrossHostWithoutTrunk(t *testing.T) {
	topo, inf := testutil.Load(t, `
topology {
  node "client" {
    pinned { cmd = "a" }
  }
  node "server" {
    pinned { cmd = "b" }
  }
  link { endpoints = ["client:eth0", "server:eth0"] }
}
infrastructure {
  phynode "alpha" { cores = [[0]] }
  phynode "beta"  { cores = [[1]] }
}
`)
	ctx := testutil.Context(t)
	placement, err := alloc.New(topo, inf).Allocate(ctx)
	require.NoError(t, err)

	_, err = New(topo, inf, placement, nil).Build(ctx)
	require.ErrorIs(t, err, faults.ErrUnresolvedLink)
}

func TestBuildEmitsEachLinkOnce(t *testing.T) {
	configs := compile(t, sameHostDescription)

	veths := 0
	for _, cmd := range configs["alpha"][PhaseLinks] {
		if cmd == "ip l add dev eth0 netns client type veth peer name eth0 netns server" {
			veths++
		}
	}
	assert.Equal(t, 1, veths)
}

func TestBuildMissingPlacement(t *testing.T) {
	topo, inf := testutil.Load(t, `
topology {
  node "a" {}
  node "b" {}
  link { endpoints = ["a:eth0", "b:eth0"] }
}
infrastructure {
  phynode "p" { cores = 1 }
}
`)
	_, err := New(topo, inf, alloc.Placement{}, nil).Build(testutil.Context(t))
	require.ErrorIs(t, err, faults.ErrPlacementMissing)
}

func TestVlanTagSpace(t *testing.T) {
	topo := topology.New()
	require.NoError(t, topo.AddNode(&topology.Node{ID: "a"}))
	require.NoError(t, topo.AddNode(&topology.Node{ID: "b"}))

	inf := infra.New()
	s := New(topo, inf, alloc.Placement{}, nil)

	tag, err := s.vlanTag("a", "b")
	require.NoError(t, err)
	assert.Equal(t, 1<<8|2, tag)
}
