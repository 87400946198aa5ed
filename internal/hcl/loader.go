// Package hcl loads topology and infrastructure descriptions from HCL files
// and translates them into the domain models.
package hcl

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/vk/nsweave/internal/ctxlog"
	"github.com/vk/nsweave/internal/faults"
	"github.com/vk/nsweave/internal/fsutil"
	"github.com/vk/nsweave/internal/infra"
	"github.com/vk/nsweave/internal/schema"
	"github.com/vk/nsweave/internal/topology"
)

// Loader parses description files and produces the domain models.
type Loader struct{}

// NewLoader creates a new HCL description loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load reads every .hcl file reachable from the given paths (files or
// directories) and builds the topology and infrastructure models. Both
// sections may live in one file or be split across several.
func (l *Loader) Load(ctx context.Context, paths ...string) (*topology.Topology, *infra.Infrastructure, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Description loader started.", "path_count", len(paths))

	files, err := l.findDescriptionFiles(paths)
	if err != nil {
		return nil, nil, err
	}
	if len(files) == 0 {
		return nil, nil, faults.ConfigMalformed("no description files found under %v", paths)
	}
	logger.Debug("Discovered description files.", "count", len(files))

	parser := hclparse.NewParser()
	var topoBlocks []*schema.TopologyBlock
	var infraBlocks []*schema.InfrastructureBlock

	for _, file := range files {
		hclFile, diags := parser.ParseHCLFile(file)
		if diags.HasErrors() {
			return nil, nil, faults.ConfigMalformed("failed to parse %s: %s", file, diags)
		}
		var root schema.Root
		if diags := gohcl.DecodeBody(hclFile.Body, nil, &root); diags.HasErrors() {
			return nil, nil, faults.ConfigMalformed("failed to decode %s: %s", file, diags)
		}
		if root.Topology != nil {
			topoBlocks = append(topoBlocks, root.Topology)
		}
		if root.Infrastructure != nil {
			infraBlocks = append(infraBlocks, root.Infrastructure)
		}
	}

	if len(topoBlocks) == 0 {
		return nil, nil, faults.ConfigMalformed("no topology section found in the configuration")
	}
	if len(infraBlocks) == 0 {
		return nil, nil, faults.ConfigMalformed("no infrastructure section found in the configuration")
	}

	topo, err := l.translateTopology(ctx, topoBlocks)
	if err != nil {
		return nil, nil, err
	}
	inf, err := l.translateInfrastructure(ctx, infraBlocks)
	if err != nil {
		return nil, nil, err
	}

	logger.Debug("Description loading complete.",
		"nodes", len(topo.NodeIDs()),
		"phynodes", len(inf.PhynodeIDs()),
		"required_cores", topo.TotalCores(),
		"available_cores", inf.TotalCores(),
	)
	return topo, inf, nil
}

// findDescriptionFiles walks all given paths and returns a flat, de-duplicated
// list of .hcl files.
func (l *Loader) findDescriptionFiles(paths []string) ([]string, error) {
	var all []string
	seen := make(map[string]struct{})

	add := func(p string) {
		if _, ok := seen[p]; !ok {
			all = append(all, p)
			seen[p] = struct{}{}
		}
	}

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("error accessing path %s: %w", path, err)
		}
		if info.IsDir() {
			found, err := fsutil.FindFilesByExtension(path, ".hcl")
			if err != nil {
				return nil, err
			}
			for _, p := range found {
				add(p)
			}
		} else if filepath.Ext(path) == ".hcl" {
			add(path)
		}
	}
	return all, nil
}
