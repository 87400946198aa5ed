package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/vk/nsweave/internal/ctxlog"
	"github.com/vk/nsweave/internal/hcl"
	"github.com/vk/nsweave/internal/infra"
	"github.com/vk/nsweave/internal/plugin"
	"github.com/vk/nsweave/internal/topology"
)

// App encapsulates the application's dependencies, configuration, and
// lifecycle.
type App struct {
	outW     io.Writer
	logger   *slog.Logger
	registry *plugin.Registry
	topo     *topology.Topology
	inf      *infra.Infrastructure
}

// NewApp is the constructor for the main application. It returns a fully
// initialized App instance, including its own isolated logger and function
// registry, with the description files already loaded and validated.
func NewApp(outW io.Writer, cfg *Config, loader *hcl.Loader, modules ...plugin.Module) *App {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	topo, inf, err := loader.Load(ctx, cfg.TopologyPath)
	if err != nil {
		// A failure to load the descriptions is a fatal startup error.
		panic(fmt.Errorf("failed to load descriptions: %w", err))
	}
	logger.Debug("Descriptions loaded into domain models.")

	reg := plugin.New()
	if len(modules) == 0 {
		modules = coreModules
	}
	for _, mod := range modules {
		mod.Register(reg)
	}
	logger.Debug("All function modules registered.", "count", reg.Len())

	return &App{
		outW:     outW,
		logger:   logger,
		registry: reg,
		topo:     topo,
		inf:      inf,
	}
}

// Registry returns the application's function registry. This is primarily
// for testing.
func (a *App) Registry() *plugin.Registry {
	return a.registry
}
