package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// ManifestPath is where the per-project manifest lives inside the
// project tree.
const ManifestPath = "/sketch.yml"

// Manifest carries per-project preview settings stored alongside the
// source files. All fields are optional.
type Manifest struct {
	// Name titles the preview document.
	Name string `yaml:"name"`
	// Entry overrides the default entry point candidates. Paths are
	// project-absolute and tried in order.
	Entry []string `yaml:"entry"`
	// Alias overrides the import alias prefix, "@" by default.
	Alias string `yaml:"alias"`
	// Packages pins bare import specifiers to versions, e.g.
	// "react": "18.3.1".
	Packages map[string]string `yaml:"packages"`
}

// ParseManifest decodes a sketch.yml payload. An empty payload yields an
// empty manifest.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &m, nil
}

// ManifestReader abstracts the project tree for manifest lookup.
type ManifestReader interface {
	ReadFile(path string) (string, bool)
}

// LoadManifest reads and parses the manifest from the project tree.
// A missing manifest is not an error and yields an empty manifest.
func LoadManifest(tree ManifestReader) (*Manifest, error) {
	content, ok := tree.ReadFile(ManifestPath)
	if !ok {
		return &Manifest{}, nil
	}
	return ParseManifest([]byte(content))
}
