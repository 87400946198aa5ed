package app

import (
	"context"
	"fmt"

	"github.com/vk/nsweave/internal/alloc"
	"github.com/vk/nsweave/internal/ctxlog"
	"github.com/vk/nsweave/internal/export"
	"github.com/vk/nsweave/internal/faults"
	"github.com/vk/nsweave/internal/render"
	"github.com/vk/nsweave/internal/synth"
)

// Run executes the compile pipeline: capacity check, core allocation, command
// synthesis, file rendering, and artifact export. It fails before writing
// anything if the topology cannot possibly fit the infrastructure.
func (a *App) Run(ctx context.Context, cfg *Config) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	if need, have := a.topo.TotalCores(), a.inf.TotalCores(); need > have {
		return faults.ResourceExhausted(
			"topology requires %d cores but the infrastructure provides %d", need, have)
	}

	placement, err := alloc.New(a.topo, a.inf).Allocate(ctx)
	if err != nil {
		return fmt.Errorf("core allocation failed: %w", err)
	}
	a.logger.Info("Allocation complete.", "nodes", len(placement))

	funcs := a.registry.Functions()
	configs, err := synth.New(a.topo, a.inf, placement, funcs).Build(ctx)
	if err != nil {
		return fmt.Errorf("command synthesis failed: %w", err)
	}
	a.logger.Info("Synthesis complete.", "hosts", len(configs))

	nodeFiles := make(map[string]map[string]render.File)
	for _, node := range a.topo.Nodes() {
		files, err := render.NodeFiles(ctx, node, a.topo, cfg.TemplatesPath, funcs)
		if err != nil {
			return fmt.Errorf("rendering files for node %q failed: %w", node.ID, err)
		}
		if len(files) > 0 {
			nodeFiles[node.ID] = files
		}
	}

	backend, err := export.ParseBackend(cfg.Backend)
	if err != nil {
		return err
	}
	bundle := &export.Bundle{
		Name:      cfg.ArtifactName(),
		Hosts:     configs,
		NodeFiles: nodeFiles,
		Roles:     export.Roles(a.topo),
	}
	if err := export.New(cfg.OutDir, backend).Export(ctx, bundle); err != nil {
		return fmt.Errorf("export failed: %w", err)
	}

	a.logger.Info("Artifacts written.", "dir", cfg.OutDir, "backend", cfg.Backend)
	a.logger.Debug("App.Run method finished.")
	return nil
}
