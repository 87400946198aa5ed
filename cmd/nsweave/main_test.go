package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/nsweave/internal/cli"
	"github.com/vk/nsweave/internal/export"
)

func TestRunWithoutArgumentsPrintsUsage(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run(&out, nil))
	assert.Contains(t, out.String(), "Usage:")
}

func TestRunRejectsUnknownFlags(t *testing.T) {
	var out bytes.Buffer
	err := run(&out, []string{"--bogus"})
	var exitErr *cli.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 2, exitErr.Code)
}

func TestRunCompilesADescription(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lab.hcl")
	require.NoError(t, os.WriteFile(path, []byte(`
topology {
  node "a" {
    pinned { cmd = "sleep infinity" }
  }
  node "b" {}
  link { endpoints = ["a:eth0", "b:eth0"] }
}
infrastructure {
  phynode "alpha" { cores = 2 }
}
`), 0o644))

	var out bytes.Buffer
	require.NoError(t, run(&out, []string{"-t", path, "--log-level", "error", "--log-format", "text"}))

	data, err := os.ReadFile(filepath.Join(dir, export.ArtifactDir, "alpha"))
	require.NoError(t, err)
	var config map[string][]string
	require.NoError(t, json.Unmarshal(data, &config))
	assert.Contains(t, config["Nodes"], "ip netns add a")
	assert.Contains(t, config["Processes"], `ip netns exec a bash -c "taskset -c 0 sleep infinity"`)
}
