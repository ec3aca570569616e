package plugin

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ManifestFile is the descriptor every plugin directory carries.
const ManifestFile = "plugin.yaml"

// Manifest describes how to reach a plugin's entry point. Exactly one of
// Entry (a name in the loader's linked table) or Library (a Go plugin built
// with -buildmode=plugin, relative to the plugin directory) must be set.
type Manifest struct {
	Name         string       `yaml:"name"`
	Version      string       `yaml:"version"`
	Description  string       `yaml:"description"`
	Author       string       `yaml:"author"`
	Entry        string       `yaml:"entry"`
	Library      string       `yaml:"library"`
	Capabilities []Capability `yaml:"capabilities"`
}

// Validate checks the manifest is usable.
func (m Manifest) Validate() error {
	entry, lib := strings.TrimSpace(m.Entry), strings.TrimSpace(m.Library)
	switch {
	case entry == "" && lib == "":
		return errors.New("manifest declares no entry point")
	case entry != "" && lib != "":
		return errors.New("manifest declares both entry and library")
	}
	return nil
}

// ReadManifest loads dir/plugin.yaml. The name defaults to the directory name.
func ReadManifest(dir string) (Manifest, error) {
	var m Manifest
	raw, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return m, fmt.Errorf("read manifest: %w", err)
	}
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return m, fmt.Errorf("unmarshal manifest: %w", err)
	}
	if m.Name == "" {
		m.Name = filepath.Base(dir)
	}
	return m, m.Validate()
}

// SourceConfig points a source kind at a directory.
type SourceConfig struct {
	Kind SourceKind `yaml:"kind" mapstructure:"kind"`
	Dir  string     `yaml:"dir" mapstructure:"dir"`
}

// LoaderConfig describes where plugins live and what they may do.
type LoaderConfig struct {
	Root    string          `yaml:"root" mapstructure:"root"`
	Sources []SourceConfig  `yaml:"sources" mapstructure:"sources"`
	Policy  IsolationPolicy `yaml:"policy" mapstructure:"policy"`
}

// IsolationPolicy governs which capabilities plugins may declare.
type IsolationPolicy struct {
	AllowedCapabilities []Capability `yaml:"allowedCapabilities" mapstructure:"allowed_capabilities"`
	DeniedCapabilities  []Capability `yaml:"deniedCapabilities" mapstructure:"denied_capabilities"`
}

// DefaultSources lays the sources out under root the way the engine ships them.
func DefaultSources(root string) []SourceConfig {
	return []SourceConfig{
		{Kind: SourceCore, Dir: filepath.Join(root, "components")},
		{Kind: SourceOfficial, Dir: filepath.Join(root, "plugins", "official")},
		{Kind: SourceCommunity, Dir: filepath.Join(root, "plugins", "community")},
	}
}

// Resolved returns the sources in scan order, filling kinds missing from
// Sources with the default directories under Root.
func (c LoaderConfig) Resolved() []SourceConfig {
	byKind := make(map[SourceKind]string, len(c.Sources))
	for _, s := range c.Sources {
		dir := s.Dir
		if dir != "" && !filepath.IsAbs(dir) && c.Root != "" {
			dir = filepath.Join(c.Root, dir)
		}
		byKind[s.Kind] = dir
	}
	out := make([]SourceConfig, 0, len(Kinds()))
	for _, def := range DefaultSources(c.Root) {
		if dir, ok := byKind[def.Kind]; ok {
			def.Dir = dir
		}
		if def.Dir != "" {
			out = append(out, def)
		}
	}
	return out
}

// Validate ensures the configuration is internally consistent.
func (c LoaderConfig) Validate() error {
	seen := make(map[SourceKind]bool, len(c.Sources))
	for _, s := range c.Sources {
		switch s.Kind {
		case SourceCore, SourceOfficial, SourceCommunity:
		default:
			return fmt.Errorf("unknown plugin source kind %q", s.Kind)
		}
		if seen[s.Kind] {
			return fmt.Errorf("plugin source %s configured twice", s.Kind)
		}
		seen[s.Kind] = true
	}
	for _, allowed := range c.Policy.AllowedCapabilities {
		for _, denied := range c.Policy.DeniedCapabilities {
			if allowed == denied {
				return fmt.Errorf("capability %s is both allowed and denied", allowed)
			}
		}
	}
	return nil
}

// LoadLoaderConfig reads a YAML file into a LoaderConfig. A relative Root is
// resolved against the file's directory.
func LoadLoaderConfig(path string) (LoaderConfig, error) {
	var cfg LoaderConfig
	if path == "" {
		return cfg, errors.New("config path cannot be empty")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read plugin config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal plugin config: %w", err)
	}
	if cfg.Root == "" {
		cfg.Root = "."
	}
	if !filepath.IsAbs(cfg.Root) {
		cfg.Root = filepath.Join(filepath.Dir(path), cfg.Root)
	}
	return cfg, cfg.Validate()
}
