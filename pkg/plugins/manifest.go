package plugins

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Manifest names the plugin kinds and configuration of one stack.
type Manifest struct {
	Plugins []ManifestEntry `yaml:"plugins"`
	Config  Config          `yaml:"config,omitempty"`
}

// ManifestEntry selects one kind, optionally constrained by version.
type ManifestEntry struct {
	Kind    string `yaml:"kind"`
	Version string `yaml:"version,omitempty"` // semver constraint, e.g. ">=1.0.0"
}

// ParseManifest parses a manifest from YAML
func ParseManifest(data []byte) (*Manifest, error) {
	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if err := manifest.Validate(); err != nil {
		return nil, err
	}
	return &manifest, nil
}

// LoadManifest loads and parses a manifest from a file
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return ParseManifest(data)
}

// SaveManifest writes a manifest to a file
func SaveManifest(manifest *Manifest, path string) error {
	data, err := yaml.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}

	return nil
}

// Validate checks that every entry names a kind exactly once
func (m *Manifest) Validate() error {
	if len(m.Plugins) == 0 {
		return fmt.Errorf("manifest lists no plugins")
	}
	seen := make(map[string]bool, len(m.Plugins))
	for i, e := range m.Plugins {
		if e.Kind == "" {
			return fmt.Errorf("manifest entry %d: kind is required", i)
		}
		if seen[e.Kind] {
			return fmt.Errorf("manifest entry %d: kind %s listed twice", i, e.Kind)
		}
		seen[e.Kind] = true
	}
	return nil
}

// Kinds looks up every entry in the registry, in manifest order
func (m *Manifest) Kinds(reg *Registry) ([]*Kind, error) {
	kinds := make([]*Kind, 0, len(m.Plugins))
	for _, e := range m.Plugins {
		k, err := reg.Resolve(e.Kind, e.Version)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

// KindIDs returns the kind IDs in manifest order
func (m *Manifest) KindIDs() []string {
	ids := make([]string, len(m.Plugins))
	for i, e := range m.Plugins {
		ids[i] = e.Kind
	}
	return ids
}

// Equal reports whether two manifests select the same kinds and config
func (m *Manifest) Equal(other *Manifest) bool {
	if other == nil || len(m.Plugins) != len(other.Plugins) {
		return false
	}
	for i := range m.Plugins {
		if m.Plugins[i] != other.Plugins[i] {
			return false
		}
	}
	return m.Config.Equal(other.Config)
}
