package store

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiln-host/kiln/framework"
)

func TestOpenPackage(t *testing.T) {
	t.Parallel()

	s := testStore(t)
	archive := zipArchive(t, map[string]string{
		"project.json": `{
  "version": "1.2.0",
  "dependencies": { "Shared.Dep": "1.0" },
  "frameworks": {
    "net45": {
      "dependencies": { "Net.Dep": "2.0" },
      "frameworkAssemblies": { "System.Xml": "" }
    }
  }
}`,
		"lib/Pkg.wasm":       "shared binary",
		"lib/net45/Pkg.wasm": "net45 binary",
		"content/readme.txt": "hi",
	})
	_, err := s.Install("Pkg", "1.2.0", bytes.NewReader(archive))
	require.NoError(t, err)

	pkg, err := s.Open("Pkg", "1.2.0")
	require.NoError(t, err)

	assert.Equal(t, "Pkg", pkg.Name)
	assert.Equal(t, "1.2.0", pkg.Version.String())
	assert.False(t, pkg.SHA.IsZero())
	assert.Contains(t, pkg.Files, "content/readme.txt")
	assert.Contains(t, pkg.Files, "project.json")

	net45, err := framework.Parse("net45")
	require.NoError(t, err)
	k10, err := framework.Parse("k10")
	require.NoError(t, err)

	shared := pkg.DependencySets[framework.Profile{}]
	require.Len(t, shared, 1)
	assert.Equal(t, "Shared.Dep", shared[0].Name)

	assert.Equal(t, []string{"System.Xml"}, pkg.FrameworkAssemblies[net45])

	table := framework.NewCompatibilityTable(nil)
	deps := pkg.Dependencies(net45, table)
	require.Len(t, deps, 2)
	assert.Equal(t, "Shared.Dep", deps[0].Name)
	assert.Equal(t, "Net.Dep", deps[1].Name)

	assert.Len(t, pkg.Dependencies(k10, table), 1, "incompatible profile gets the shared set only")
}

func TestOpenMissing(t *testing.T) {
	t.Parallel()

	s := testStore(t)
	_, err := s.Open("Pkg", "1.0.0")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBinaryPath(t *testing.T) {
	t.Parallel()

	s := testStore(t)
	archive := zipArchive(t, map[string]string{
		"lib/Pkg.wasm":       "shared",
		"lib/net45/Pkg.wasm": "specific",
	})
	_, err := s.Install("Pkg", "1.0.0", bytes.NewReader(archive))
	require.NoError(t, err)
	pkg, err := s.Open("Pkg", "1.0.0")
	require.NoError(t, err)

	net45, err := framework.Parse("net45")
	require.NoError(t, err)
	k10, err := framework.Parse("k10")
	require.NoError(t, err)

	p, ok := pkg.BinaryPath("Pkg", net45)
	require.True(t, ok)
	assert.Contains(t, p, "net45")

	p, ok = pkg.BinaryPath("Pkg", k10)
	require.True(t, ok, "falls back to the shared lib/ root")
	assert.NotContains(t, p, "k10")

	_, ok = pkg.BinaryPath("Other", net45)
	assert.False(t, ok)
}
