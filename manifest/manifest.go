// Package manifest implements the §6.4 plugin manifest format and the
// §4.9 hot reload sequence: watch a plugin directory tree, parse each
// plugin's manifest file, spawn a pool for it, and register its declared
// modules into the shared registry.Registry.
//
// Grounded on the teacher's implied-but-absent module discovery step
// (coordinator.go builds its tool registry from a static list at startup)
// generalized into a real directory scan, using goccy/go-yaml for parsing
// (same as docfmt) and fsnotify for the watch loop, the library the
// compozy pack reaches for the same job.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-yaml"

	"github.com/lyzr/flowengine/errs"
	"github.com/lyzr/flowengine/types"
)

const manifestFileName = "plugin.yaml"

// RuntimeSpec describes how to launch a plugin's entry process.
type RuntimeSpec struct {
	Language        string `yaml:"language"`
	Entry           string `yaml:"entry"`
	MinEngineVersion string `yaml:"min_engine_version,omitempty"`
}

// ModuleSpec is one module declared by a plugin manifest, shaped closely
// enough to types.ModuleMetadata that toModuleMetadata is a near-direct
// field copy.
type ModuleSpec struct {
	ID           string                          `yaml:"id"`
	Label        string                          `yaml:"label"`
	Description  string                          `yaml:"description"`
	Category     string                          `yaml:"category"`
	ParamsSchema map[string]types.ParamSpec       `yaml:"params_schema,omitempty"`
	OutputSchema map[string]types.OutputSpec      `yaml:"output_schema,omitempty"`
	InputTypes   []types.DataType                `yaml:"input_types,omitempty"`
	OutputTypes  []types.DataType                `yaml:"output_types,omitempty"`
}

// Manifest is the parsed contents of one plugin.yaml.
type Manifest struct {
	Name        string       `yaml:"name"`
	Version     string       `yaml:"version"`
	Runtime     RuntimeSpec  `yaml:"runtime"`
	Modules     []ModuleSpec `yaml:"modules"`
	Permissions []string     `yaml:"permissions,omitempty"`

	// Dir is the plugin's directory, set by Load/Scan rather than parsed
	// from the file; it anchors the per-plugin working directory the
	// process manager launches Runtime.Entry in.
	Dir string `yaml:"-"`
}

// Parse decodes one manifest document.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, errs.Wrap(errs.ValidationError, "manifest: failed to parse plugin manifest", err)
	}
	if m.Name == "" {
		return nil, errs.New(errs.ValidationError, "manifest: missing required field name")
	}
	if m.Version == "" {
		return nil, errs.New(errs.ValidationError, "manifest: missing required field version")
	}
	if m.Runtime.Entry == "" {
		return nil, errs.New(errs.ValidationError, fmt.Sprintf("manifest %s: runtime.entry is required", m.Name))
	}
	for _, mod := range m.Modules {
		if mod.ID == "" {
			return nil, errs.New(errs.ValidationError, fmt.Sprintf("manifest %s: module entry missing id", m.Name))
		}
		if types.IsBuiltin(mod.ID) {
			return nil, errs.New(errs.ValidationError, fmt.Sprintf("manifest %s: module id %q collides with the builtin flow.* namespace", m.Name, mod.ID))
		}
	}
	return &m, nil
}

// Load parses the manifest file at dir/plugin.yaml.
func Load(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, manifestFileName))
	if err != nil {
		return nil, errs.Wrap(errs.NotFound, fmt.Sprintf("manifest: failed to read %s", dir), err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, err
	}
	m.Dir = dir
	return m, nil
}

// Scan walks root one level deep, loading every subdirectory that
// contains a plugin.yaml. A subdirectory without one is silently
// skipped, since root may hold other files.
func Scan(root string) ([]*Manifest, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, errs.Wrap(errs.NotFound, fmt.Sprintf("manifest: failed to scan %s", root), err)
	}

	var out []*Manifest
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(root, e.Name())
		if _, err := os.Stat(filepath.Join(dir, manifestFileName)); err != nil {
			continue
		}
		m, err := Load(dir)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// toModuleMetadata renders one declared module as a registry entry. Every
// plugin-hosted module is tier=toolkit/stability=beta unless a future
// manifest revision adds fields to override that; plugins are third-party
// extensions by construction, so they start out of the curated featured
// tier.
func (m *Manifest) toModuleMetadata(mod ModuleSpec) types.ModuleMetadata {
	caps := make([]types.Capability, 0, len(m.Permissions))
	for _, p := range m.Permissions {
		caps = append(caps, types.Capability(p))
	}
	return types.ModuleMetadata{
		ModuleID:     mod.ID,
		Version:      m.Version,
		Category:     mod.Category,
		Namespace:    m.Name,
		Tier:         types.TierToolkit,
		Stability:    types.StabilityBeta,
		Label:        mod.Label,
		Description:  mod.Description,
		ParamsSchema: mod.ParamsSchema,
		OutputSchema: mod.OutputSchema,
		InputTypes:   mod.InputTypes,
		OutputTypes:  mod.OutputTypes,
		Capabilities: caps,
	}
}
