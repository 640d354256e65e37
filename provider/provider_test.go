package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiln-host/kiln/library"
	"github.com/kiln-host/kiln/version"
)

func mustRange(t *testing.T, name, rng string) library.Range {
	t.Helper()
	vr, err := version.ParseRange(rng)
	require.NoError(t, err)
	return library.NewRange(name, vr)
}

func TestKindString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "project", KindProject.String())
	assert.Equal(t, "remote", KindRemote.String())
	assert.Equal(t, "unresolved", KindUnresolved.String())
	assert.Equal(t, "unknown", Kind(99).String())
}

func TestBest(t *testing.T) {
	t.Parallel()

	_, ok := Best(nil)
	assert.False(t, ok)

	candidates := []Candidate{
		{Library: library.Identity{Name: "A", Version: version.MustParse("1.0")}},
		{Library: library.Identity{Name: "A", Version: version.MustParse("2.0")}},
		{Library: library.Identity{Name: "A", Version: version.MustParse("1.5")}},
		{Library: library.Identity{Name: "A"}},
	}
	best, ok := Best(candidates)
	require.True(t, ok)
	assert.Equal(t, "2.0.0", best.Library.Version.String())
}

func TestBestPrefersEarlierOnTie(t *testing.T) {
	t.Parallel()

	candidates := []Candidate{
		{Source: "first", Library: library.Identity{Name: "A", Version: version.MustParse("1.0")}},
		{Source: "second", Library: library.Identity{Name: "A", Version: version.MustParse("1.0")}},
	}
	best, ok := Best(candidates)
	require.True(t, ok)
	assert.Equal(t, "first", best.Source)
}

func TestUnresolvedAlwaysMatches(t *testing.T) {
	t.Parallel()

	p := NewUnresolved()
	got, err := p.FindCandidates(t.Context(), mustRange(t, "Anything", "1.0"), frameworkProfile(t, "net45"))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, KindUnresolved, got[0].Kind)
	assert.Equal(t, "Anything", got[0].Library.Name)
	assert.Nil(t, got[0].Library.Version)

	deps, err := p.Dependencies(t.Context(), got[0], frameworkProfile(t, "net45"))
	require.NoError(t, err)
	assert.Empty(t, deps)

	assert.False(t, p.HasBytes())
	assert.ErrorIs(t, p.Materialise(t.Context(), got[0], nil), ErrNoMaterialise)
}
