package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/flowengine/types"
)

const validManifest = `
name: demo-plugin
version: 1.0.0
runtime:
  language: python
  entry: main.py
modules:
  - id: demo.echo
    label: Echo
    category: demo
`

func TestParse_ValidManifest(t *testing.T) {
	m, err := Parse([]byte(validManifest))
	require.NoError(t, err)
	assert.Equal(t, "demo-plugin", m.Name)
	assert.Equal(t, "main.py", m.Runtime.Entry)
	require.Len(t, m.Modules, 1)
	assert.Equal(t, "demo.echo", m.Modules[0].ID)
}

func TestParse_RejectsMissingName(t *testing.T) {
	_, err := Parse([]byte("version: 1.0.0\nruntime:\n  entry: main.py\n"))
	require.Error(t, err)
}

func TestParse_RejectsMissingEntry(t *testing.T) {
	_, err := Parse([]byte("name: x\nversion: 1.0.0\nruntime:\n  language: go\n"))
	require.Error(t, err)
}

func TestParse_RejectsModuleCollidingWithBuiltinNamespace(t *testing.T) {
	_, err := Parse([]byte(`
name: bad
version: 1.0.0
runtime:
  entry: main.py
modules:
  - id: flow.branch
`))
	require.Error(t, err)
}

func TestLoad_ReadsManifestFileAndStampsDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plugin.yaml"), []byte(validManifest), 0o644))

	m, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, m.Dir)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(t.TempDir())
	require.Error(t, err)
}

func TestScan_FindsPluginSubdirsAndSkipsOthers(t *testing.T) {
	root := t.TempDir()

	pluginDir := filepath.Join(root, "demo")
	require.NoError(t, os.MkdirAll(pluginDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(pluginDir, "plugin.yaml"), []byte(validManifest), 0o644))

	plainDir := filepath.Join(root, "not-a-plugin")
	require.NoError(t, os.MkdirAll(plainDir, 0o755))

	manifests, err := Scan(root)
	require.NoError(t, err)
	require.Len(t, manifests, 1)
	assert.Equal(t, "demo-plugin", manifests[0].Name)
}

func TestToModuleMetadata_DefaultsToolkitBeta(t *testing.T) {
	m, err := Parse([]byte(validManifest))
	require.NoError(t, err)
	meta := m.toModuleMetadata(m.Modules[0])
	assert.Equal(t, "demo.echo", meta.ModuleID)
	assert.Equal(t, "demo-plugin", meta.Namespace)
	assert.Equal(t, types.TierToolkit, meta.Tier)
	assert.Equal(t, types.StabilityBeta, meta.Stability)
}
