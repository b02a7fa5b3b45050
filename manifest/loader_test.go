package manifest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/flowengine/registry"
)

func writePlugin(t *testing.T, root, name string) {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, manifestFileName), []byte(`
name: `+name+`
version: 1.0.0
runtime:
  language: python
  entry: main.py
modules:
  - id: `+name+`.echo
    label: Echo
`), 0o644))
}

func TestLoader_LoadAllRegistersModulesAndBumpsCatalogVersion(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, "alpha")

	reg := registry.New(16)
	l := NewLoader(root, reg, nil)

	assert.Equal(t, uint64(0), l.CatalogVersion())
	require.NoError(t, l.LoadAll(context.Background()))
	assert.Equal(t, uint64(1), l.CatalogVersion())

	_, ok := reg.Get("alpha.echo")
	assert.True(t, ok)

	owner, pools := l.Snapshot()
	assert.Equal(t, "alpha", owner["alpha.echo"])
	assert.Contains(t, pools, "alpha")
}

func TestLoader_ReloadPicksUpNewPluginsAndDropsRemovedOnes(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, "alpha")

	reg := registry.New(16)
	l := NewLoader(root, reg, nil)
	require.NoError(t, l.LoadAll(context.Background()))

	writePlugin(t, root, "beta")
	require.NoError(t, l.Reload(context.Background()))
	assert.Equal(t, uint64(2), l.CatalogVersion())

	_, ok := reg.Get("beta.echo")
	assert.True(t, ok)

	owner, pools := l.Snapshot()
	assert.Len(t, owner, 2)
	assert.Contains(t, pools, "alpha")
	assert.Contains(t, pools, "beta")

	require.NoError(t, os.RemoveAll(filepath.Join(root, "alpha")))
	require.NoError(t, l.Reload(context.Background()))

	owner, pools = l.Snapshot()
	assert.NotContains(t, owner, "alpha.echo")
	assert.NotContains(t, pools, "alpha")
	assert.Contains(t, pools, "beta")
}

func TestLoader_SnapshotReturnsIndependentCopies(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, "alpha")

	reg := registry.New(16)
	l := NewLoader(root, reg, nil)
	require.NoError(t, l.LoadAll(context.Background()))

	owner, _ := l.Snapshot()
	owner["alpha.echo"] = "tampered"

	owner2, _ := l.Snapshot()
	assert.Equal(t, "alpha", owner2["alpha.echo"])
}

func TestLoader_CloseShutsDownWithoutSpawnedInstances(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, "alpha")

	reg := registry.New(16)
	l := NewLoader(root, reg, nil)
	require.NoError(t, l.LoadAll(context.Background()))

	l.Close(context.Background())
}

func TestLoader_LoadAllOnEmptyRootRegistersNothing(t *testing.T) {
	root := t.TempDir()
	reg := registry.New(16)
	l := NewLoader(root, reg, nil)

	require.NoError(t, l.LoadAll(context.Background()))
	owner, pools := l.Snapshot()
	assert.Empty(t, owner)
	assert.Empty(t, pools)
}
