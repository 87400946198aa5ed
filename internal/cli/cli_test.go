package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Run("no arguments prints usage and exits cleanly", func(t *testing.T) {
		var out bytes.Buffer
		cfg, shouldExit, err := Parse(nil, &out)
		require.NoError(t, err)
		assert.True(t, shouldExit)
		assert.Nil(t, cfg)
		assert.Contains(t, out.String(), "Usage:")
	})

	t.Run("topology flag with defaults", func(t *testing.T) {
		var out bytes.Buffer
		cfg, shouldExit, err := Parse([]string{"-t", "/data/lab/net.hcl"}, &out)
		require.NoError(t, err)
		require.False(t, shouldExit)
		assert.Equal(t, "/data/lab/net.hcl", cfg.TopologyPath)
		assert.Equal(t, "mpf", cfg.Backend)
		assert.Equal(t, "/data/lab", cfg.OutDir)
		assert.Equal(t, "json", cfg.LogFormat)
		assert.Equal(t, "info", cfg.LogLevel)
	})

	t.Run("positional topology path", func(t *testing.T) {
		var out bytes.Buffer
		cfg, _, err := Parse([]string{"net.hcl"}, &out)
		require.NoError(t, err)
		assert.Equal(t, "net.hcl", cfg.TopologyPath)
	})

	t.Run("long flags override defaults", func(t *testing.T) {
		var out bytes.Buffer
		cfg, _, err := Parse([]string{
			"--topology", "net.hcl",
			"--backend", "shell",
			"--out", "/tmp/artifacts",
			"--templates", "/tmp/templates",
			"--log-format", "text",
			"--log-level", "debug",
		}, &out)
		require.NoError(t, err)
		assert.Equal(t, "shell", cfg.Backend)
		assert.Equal(t, "/tmp/artifacts", cfg.OutDir)
		assert.Equal(t, "/tmp/templates", cfg.TemplatesPath)
		assert.Equal(t, "text", cfg.LogFormat)
		assert.Equal(t, "debug", cfg.LogLevel)
	})

	t.Run("invalid backend", func(t *testing.T) {
		var out bytes.Buffer
		_, _, err := Parse([]string{"-t", "net.hcl", "-b", "docker"}, &out)
		var exitErr *ExitError
		require.ErrorAs(t, err, &exitErr)
		assert.Equal(t, 2, exitErr.Code)
	})

	t.Run("invalid log level", func(t *testing.T) {
		var out bytes.Buffer
		_, _, err := Parse([]string{"-t", "net.hcl", "--log-level", "loud"}, &out)
		var exitErr *ExitError
		require.ErrorAs(t, err, &exitErr)
		assert.Equal(t, 2, exitErr.Code)
	})

	t.Run("help requests a clean exit", func(t *testing.T) {
		var out bytes.Buffer
		_, shouldExit, err := Parse([]string{"-h"}, &out)
		require.NoError(t, err)
		assert.True(t, shouldExit)
	})

	t.Run("unknown flag is an exit error", func(t *testing.T) {
		var out bytes.Buffer
		_, _, err := Parse([]string{"--bogus"}, &out)
		var exitErr *ExitError
		require.ErrorAs(t, err, &exitErr)
		assert.Equal(t, 2, exitErr.Code)
	})
}
