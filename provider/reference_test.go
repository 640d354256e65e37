package provider

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiln-host/kiln/framework"
	"github.com/kiln-host/kiln/library"
	"github.com/kiln-host/kiln/version"
)

func TestReferenceFindCandidates(t *testing.T) {
	t.Parallel()

	net45 := frameworkProfile(t, "net45")
	set := ReferenceSet{
		net45: {
			{Name: "System.Xml", Version: version.MustParse("4.0"), Path: "/ref/net45/System.Xml.wasm"},
		},
	}
	p := NewReference(set)

	rng := library.NewFrameworkReference("system.xml")
	got, err := p.FindCandidates(t.Context(), rng, net45)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "System.Xml", got[0].Library.Name)
	assert.Equal(t, KindReference, got[0].Kind)
	assert.Equal(t, "/ref/net45/System.Xml.wasm", got[0].Source)

	// Lookup is keyed by the consumer's profile.
	got, err = p.FindCandidates(t.Context(), rng, frameworkProfile(t, "k10"))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestGACFindCandidates(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	for _, ver := range []string{"1.0.0", "2.0.0"} {
		vdir := filepath.Join(dir, "System.Data", ver)
		require.NoError(t, os.MkdirAll(vdir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(vdir, "System.Data.wasm"), []byte("bin"), 0o644))
	}
	// A version directory without the binary is skipped.
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "System.Data", "3.0.0"), 0o755))

	p := NewGAC([]string{t.TempDir(), dir})

	got, err := p.FindCandidates(t.Context(), library.NewFrameworkReference("system.data"), framework.Profile{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "System.Data", got[0].Library.Name)
	assert.Equal(t, "2.0.0", got[0].Library.Version.String(), "highest version with a binary wins")
	assert.Equal(t, KindGAC, got[0].Kind)

	got, err = p.FindCandidates(t.Context(), library.NewFrameworkReference("Absent"), framework.Profile{})
	require.NoError(t, err)
	assert.Empty(t, got)
}
