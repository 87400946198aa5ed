package app

import (
	"errors"
	"path/filepath"
	"strings"

	"github.com/vk/nsweave/internal/export"
)

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	TopologyPath  string // .hcl file or directory of .hcl files
	TemplatesPath string // search root for node file templates
	OutDir        string // artifact output root
	Backend       string // "mpf" or "shell"

	LogFormat string
	LogLevel  string
}

// NewConfig validates a Config and fills in the path defaults: templates and
// artifacts default to living beside the topology description.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.TopologyPath == "" {
		return nil, errors.New("TopologyPath is a required configuration field and cannot be empty")
	}
	if cfg.Backend == "" {
		cfg.Backend = string(export.BackendMPF)
	}
	if _, err := export.ParseBackend(cfg.Backend); err != nil {
		return nil, err
	}

	base := filepath.Dir(cfg.TopologyPath)
	if cfg.TemplatesPath == "" {
		cfg.TemplatesPath = base
	}
	if cfg.OutDir == "" {
		cfg.OutDir = base
	}
	return &cfg, nil
}

// ArtifactName derives the artifact base name from the topology path: the
// file name with its extension stripped.
func (c *Config) ArtifactName() string {
	name := filepath.Base(c.TopologyPath)
	return strings.TrimSuffix(name, filepath.Ext(name))
}
