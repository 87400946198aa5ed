// Package testutil provides the fixture helpers shared by package tests:
// a context carrying a quiet logger and inline-HCL description loading.
package testutil

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vk/nsweave/internal/ctxlog"
	"github.com/vk/nsweave/internal/hcl"
	"github.com/vk/nsweave/internal/infra"
	"github.com/vk/nsweave/internal/topology"
)

// Context returns a context carrying a logger that discards all output.
func Context(t *testing.T) context.Context {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return ctxlog.WithLogger(context.Background(), logger)
}

// WriteDescription writes src as a .hcl file into a fresh temp directory and
// returns the file's path.
func WriteDescription(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "description.hcl")
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	return path
}

// Load parses an inline description and returns the domain models, failing
// the test on any error.
func Load(t *testing.T, src string) (*topology.Topology, *infra.Infrastructure) {
	t.Helper()
	topo, inf, err := hcl.NewLoader().Load(Context(t), WriteDescription(t, src))
	require.NoError(t, err)
	return topo, inf
}
