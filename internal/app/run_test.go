package app

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/nsweave/internal/export"
	"github.com/vk/nsweave/internal/faults"
	"github.com/vk/nsweave/internal/hcl"
	"github.com/vk/nsweave/internal/testutil"
	"gopkg.in/yaml.v3"
)

const labDescription = `
topology {
  node "client" {
    addrs = { eth0 = ["10.0.0.1/24"] }

    pinned {
      cmd     = "iperf3 -c 10.0.0.2"
      environ = { THREADS = "${core_1}" }
    }

    template "client.conf" {
      dst = "/etc/lab/${node}.conf"
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
    latency   = "2ms"
  }
}
infrastructure {
  phynode "alpha" { cores = 4 }
}
`

func writeLab(t *testing.T) (cfgPath, dir string) {
	t.Helper()
	dir = t.TempDir()
	cfgPath = filepath.Join(dir, "lab.hcl")
	require.NoError(t, os.WriteFile(cfgPath, []byte(labDescription), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "client.conf"),
		[]byte("server ${ifaces[\"eth0\"][\"peer\"]} id ${rid}\n"), 0o644))
	return cfgPath, dir
}

func TestAppRunEndToEnd(t *testing.T) {
	cfgPath, dir := writeLab(t)
	cfg, err := NewConfig(Config{TopologyPath: cfgPath, LogLevel: "error", LogFormat: "text"})
	require.NoError(t, err)

	var out bytes.Buffer
	labApp := NewApp(&out, cfg, hcl.NewLoader())
	require.NoError(t, labApp.Run(testutil.Context(t), cfg))

	t.Run("host commands cover every phase", func(t *testing.T) {
		data, err := os.ReadFile(filepath.Join(dir, export.ArtifactDir, "alpha"))
		require.NoError(t, err)
		var config map[string][]string
		require.NoError(t, json.Unmarshal(data, &config))

		assert.Contains(t, config["Nodes"], "ip netns add client")
		assert.Contains(t, config["Links"],
			"ip l add dev eth0 netns client type veth peer name eth0 netns server")
		assert.Contains(t, config["Processes"],
			`THREADS=1 ip netns exec client bash -c "taskset -c 0 iperf3 -c 10.0.0.2"`)
		assert.Contains(t, config["Down"],
			`ip netns exec server bash -c "pkill iperf3"`)
	})

	t.Run("rendered node files land with their manifest", func(t *testing.T) {
		content, err := os.ReadFile(filepath.Join(dir, export.ArtifactDir, "nodes", "client", "client.conf"))
		require.NoError(t, err)
		assert.Equal(t, "server server id 0.0.0.1\n", string(content))

		data, err := os.ReadFile(filepath.Join(dir, export.ArtifactDir, "nodes", "client", "targets.yml"))
		require.NoError(t, err)
		var targets map[string]string
		require.NoError(t, yaml.Unmarshal(data, &targets))
		assert.Equal(t, "/etc/lab/client.conf", targets["client.conf"])
	})

	t.Run("roles artifact is derived from the topology", func(t *testing.T) {
		data, err := os.ReadFile(filepath.Join(dir, "lab.mpf.yml"))
		require.NoError(t, err)
		var roles []export.Role
		require.NoError(t, yaml.Unmarshal(data, &roles))
		require.Len(t, roles, 2)
		assert.Equal(t, "client", roles[0].Namespace)
	})
}

func TestAppRunCapacityPrecheck(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "lab.hcl")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
topology {
  node "big" {
    pinned {
      cmd     = "run"
      environ = { W = "${core_1},${core_2}" }
    }
  }
  node "peer" {}
  link { endpoints = ["big:eth0", "peer:eth0"] }
}
infrastructure {
  phynode "tiny" { cores = 2 }
}
`), 0o644))

	cfg, err := NewConfig(Config{TopologyPath: cfgPath, LogLevel: "error"})
	require.NoError(t, err)

	var out bytes.Buffer
	labApp := NewApp(&out, cfg, hcl.NewLoader())
	err = labApp.Run(testutil.Context(t), cfg)
	require.ErrorIs(t, err, faults.ErrResourceExhausted)

	t.Run("nothing is written on failure", func(t *testing.T) {
		_, statErr := os.Stat(filepath.Join(dir, export.ArtifactDir))
		assert.True(t, os.IsNotExist(statErr))
	})
}

func TestNewAppPanicsOnBrokenDescription(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "broken.hcl")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`topology {`), 0o644))

	cfg, err := NewConfig(Config{TopologyPath: cfgPath, LogLevel: "error"})
	require.NoError(t, err)

	var out bytes.Buffer
	require.Panics(t, func() {
		NewApp(&out, cfg, hcl.NewLoader())
	})
}

func TestConfigDefaults(t *testing.T) {
	t.Run("paths default next to the topology", func(t *testing.T) {
		cfg, err := NewConfig(Config{TopologyPath: "/data/lab/net.hcl"})
		require.NoError(t, err)
		assert.Equal(t, "/data/lab", cfg.OutDir)
		assert.Equal(t, "/data/lab", cfg.TemplatesPath)
		assert.Equal(t, "mpf", cfg.Backend)
		assert.Equal(t, "net", cfg.ArtifactName())
	})

	t.Run("topology path is required", func(t *testing.T) {
		_, err := NewConfig(Config{})
		require.Error(t, err)
	})

	t.Run("backend is validated", func(t *testing.T) {
		_, err := NewConfig(Config{TopologyPath: "x.hcl", Backend: "docker"})
		require.ErrorIs(t, err, faults.ErrConfigMalformed)
	})
}
