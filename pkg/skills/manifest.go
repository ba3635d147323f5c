package skills

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ManifestFile is the per-skill manifest consumed by the core.
const ManifestFile = "skill.yaml"

var validArgTypes = map[string]string{
	"string": "string",
	"int":    "integer",
	"number": "number",
	"bool":   "boolean",
	"object": "object",
	"array":  "array",
}

// ArgSpec declares one argument a skill accepts.
type ArgSpec struct {
	Name        string `yaml:"name"`
	Type        string `yaml:"type"`
	Required    bool   `yaml:"required"`
	Default     any    `yaml:"default"`
	Description string `yaml:"description"`
}

// Manifest is the parsed skill.yaml. Only the fields the core reads are
// modeled; authors may add more.
type Manifest struct {
	Type           string    `yaml:"type"`
	Name           string    `yaml:"name"`
	Summary        string    `yaml:"summary"`
	Args           []ArgSpec `yaml:"args"`
	SessionSecrets []string  `yaml:"session_secrets"`
	Env            []string  `yaml:"env"`
}

func loadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Manifest) validate() error {
	if m.Type != "skill" {
		return fmt.Errorf("manifest type %q is not \"skill\"", m.Type)
	}
	if m.Name == "" {
		return fmt.Errorf("manifest has no name")
	}
	seen := make(map[string]bool, len(m.Args))
	for _, a := range m.Args {
		if a.Name == "" {
			return fmt.Errorf("skill %s declares an unnamed arg", m.Name)
		}
		if seen[a.Name] {
			return fmt.Errorf("skill %s declares arg %q twice", m.Name, a.Name)
		}
		seen[a.Name] = true
		if _, ok := validArgTypes[a.Type]; !ok {
			return fmt.Errorf("skill %s arg %q has unknown type %q", m.Name, a.Name, a.Type)
		}
		if a.Required && a.Default != nil {
			return fmt.Errorf("skill %s arg %q is required but has a default", m.Name, a.Name)
		}
	}
	return nil
}
