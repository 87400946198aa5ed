// Package export writes the compiled artifacts: per-host command files, each
// node's rendered configuration files with their placement manifest, and the
// roles artifact consumed by the deployment layer.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/vk/nsweave/internal/ctxlog"
	"github.com/vk/nsweave/internal/faults"
	"github.com/vk/nsweave/internal/hclutil"
	"github.com/vk/nsweave/internal/render"
	"github.com/vk/nsweave/internal/synth"
	"gopkg.in/yaml.v3"
)

// Backend selects the artifact flavor written for the per-host configs.
type Backend string

const (
	// BackendMPF writes JSON phase maps plus the roles artifact, for
	// orchestrated deployment.
	BackendMPF Backend = "mpf"
	// BackendShell writes an executable setup script and, when teardown
	// commands exist, a teardown script per host.
	BackendShell Backend = "shell"
)

// ParseBackend validates a backend name from the command line.
func ParseBackend(s string) (Backend, error) {
	switch Backend(s) {
	case BackendMPF, BackendShell:
		return Backend(s), nil
	default:
		return "", faults.ConfigMalformed("unknown backend %q (want mpf or shell)", s)
	}
}

// ArtifactDir is the directory created under the output root holding the
// per-host configs and per-node file trees.
const ArtifactDir = ".nsweave"

// Bundle is everything one compilation produced, ready to be written.
type Bundle struct {
	// Name is the artifact base name, usually the topology file's stem.
	Name string
	// Hosts holds each phynode's command phases.
	Hosts synth.PerHostConfig
	// NodeFiles maps node ID to rendered files keyed by local file name.
	NodeFiles map[string]map[string]render.File
	// Roles is the deployment-role derivation of the topology.
	Roles []Role
}

// Exporter writes bundles under a fixed output root.
type Exporter struct {
	outDir  string
	backend Backend
}

// New creates an Exporter. The output root must already exist.
func New(outDir string, backend Backend) *Exporter {
	return &Exporter{outDir: outDir, backend: backend}
}

// Export writes the bundle. Everything is staged into a temporary directory
// first and moved into place with a single rename, so a failed export never
// leaves a half-written artifact tree behind.
func (e *Exporter) Export(ctx context.Context, b *Bundle) (err error) {
	logger := ctxlog.FromContext(ctx)

	stage, err := os.MkdirTemp(e.outDir, ArtifactDir+"-stage-*")
	if err != nil {
		return fmt.Errorf("creating staging directory: %w", err)
	}
	defer func() {
		if err != nil {
			os.RemoveAll(stage)
		}
	}()

	if err = e.writeHosts(stage, b); err != nil {
		return err
	}
	if err = e.writeNodes(stage, b); err != nil {
		return err
	}

	// The roles artifact is staged too, so a roles failure cannot follow a
	// published artifact tree. Only renames happen past this point.
	var rolesTmp string
	if e.backend == BackendMPF {
		if rolesTmp, err = e.stageRoles(b); err != nil {
			return err
		}
		defer func() {
			if err != nil {
				os.Remove(rolesTmp)
			}
		}()
	}

	final := filepath.Join(e.outDir, ArtifactDir)
	if err = os.RemoveAll(final); err != nil {
		return fmt.Errorf("clearing previous artifacts: %w", err)
	}
	if err = os.Rename(stage, final); err != nil {
		return fmt.Errorf("publishing artifacts: %w", err)
	}

	if rolesTmp != "" {
		if err = e.publishRoles(rolesTmp, b.Name); err != nil {
			return err
		}
	}

	logger.Debug("Export complete.", "dir", final, "backend", string(e.backend), "hosts", len(b.Hosts))
	return nil
}

func (e *Exporter) writeHosts(stage string, b *Bundle) error {
	for _, host := range hclutil.SortedKeys(b.Hosts) {
		config := b.Hosts[host]
		switch e.backend {
		case BackendShell:
			if err := writeShell(filepath.Join(stage, host+".sh"), config, synth.SetupOrder); err != nil {
				return err
			}
			if hasCommands(config, synth.DownOrder) {
				if err := writeShell(filepath.Join(stage, host+".down.sh"), config, synth.DownOrder); err != nil {
					return err
				}
			}
		default:
			data, err := json.MarshalIndent(config, "", "  ")
			if err != nil {
				return fmt.Errorf("encoding host %s: %w", host, err)
			}
			if err := os.WriteFile(filepath.Join(stage, host), data, 0o644); err != nil {
				return fmt.Errorf("writing host %s: %w", host, err)
			}
		}
	}
	return nil
}

// writeShell emits an executable script with one commented section per
// phase, in the given order. Empty phases keep their header so scripts stay
// diffable across runs.
func writeShell(path string, config map[synth.Phase][]string, order []synth.Phase) error {
	var sb strings.Builder
	sb.WriteString("#!/usr/bin/env bash\nset -eu\n")
	for _, phase := range order {
		sb.WriteString("\n# " + string(phase) + "\n")
		for _, cmd := range config[phase] {
			sb.WriteString(cmd + "\n")
		}
	}
	if err := os.WriteFile(path, []byte(sb.String()), 0o755); err != nil {
		return fmt.Errorf("writing script %s: %w", path, err)
	}
	return nil
}

func hasCommands(config map[synth.Phase][]string, phases []synth.Phase) bool {
	for _, phase := range phases {
		if len(config[phase]) > 0 {
			return true
		}
	}
	return false
}

// writeNodes lays out nodes/<id>/<file> plus a targets.yml manifest mapping
// each local file name to its destination path inside the namespace's root.
func (e *Exporter) writeNodes(stage string, b *Bundle) error {
	if len(b.NodeFiles) == 0 {
		return nil
	}
	nodesDir := filepath.Join(stage, "nodes")
	for _, nid := range hclutil.SortedKeys(b.NodeFiles) {
		files := b.NodeFiles[nid]
		nodeDir := filepath.Join(nodesDir, nid)
		if err := os.MkdirAll(nodeDir, 0o755); err != nil {
			return fmt.Errorf("creating node directory %s: %w", nodeDir, err)
		}

		targets := make(map[string]string, len(files))
		for _, local := range hclutil.SortedKeys(files) {
			f := files[local]
			targets[local] = f.Dst
			if err := os.WriteFile(filepath.Join(nodeDir, local), f.Content, 0o644); err != nil {
				return fmt.Errorf("writing node file %s/%s: %w", nid, local, err)
			}
		}

		manifest, err := yaml.Marshal(targets)
		if err != nil {
			return fmt.Errorf("encoding manifest for node %s: %w", nid, err)
		}
		if err := os.WriteFile(filepath.Join(nodeDir, "targets.yml"), manifest, 0o644); err != nil {
			return fmt.Errorf("writing manifest for node %s: %w", nid, err)
		}
	}
	return nil
}

// stageRoles writes the roles document to a temporary file next to its final
// location and returns its path.
func (e *Exporter) stageRoles(b *Bundle) (string, error) {
	data, err := yaml.Marshal(b.Roles)
	if err != nil {
		return "", fmt.Errorf("encoding roles: %w", err)
	}
	tmp, err := os.CreateTemp(e.outDir, b.Name+".mpf-*")
	if err != nil {
		return "", fmt.Errorf("staging roles artifact: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("writing roles artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("writing roles artifact: %w", err)
	}
	return tmp.Name(), nil
}

// publishRoles moves the staged roles file to <name>.mpf.yml beside the
// artifact directory via a same-directory rename.
func (e *Exporter) publishRoles(tmp, name string) error {
	final := filepath.Join(e.outDir, name+".mpf.yml")
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("publishing roles artifact: %w", err)
	}
	return os.Chmod(final, 0o644)
}
