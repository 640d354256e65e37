package provider

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/kiln-host/kiln/framework"
	"github.com/kiln-host/kiln/library"
	"github.com/kiln-host/kiln/store"
)

// NewLocal builds the local package-store provider. It offers every
// installed version satisfying the range; dependency sets come from the
// installed package's embedded manifest.
func NewLocal(s *store.Store, table *framework.CompatibilityTable) *Provider {
	l := &localSource{store: s, table: table}
	return &Provider{
		Kind: KindLocal,
		Name: s.Root(),
		Ops: Operations{
			FindCandidates: l.findCandidates,
			Dependencies:   l.dependencies,
			Materialise:    l.materialise,
		},
	}
}

type localSource struct {
	store *store.Store
	table *framework.CompatibilityTable
}

func (l *localSource) findCandidates(_ context.Context, rng library.Range, _ framework.Profile) ([]Candidate, error) {
	actual, versions, err := l.store.Lookup(rng.Name)
	if err != nil {
		return nil, err
	}
	var out []Candidate
	for _, v := range versions {
		if rng.Version != nil && !rng.Version.Satisfies(v) {
			continue
		}
		out = append(out, Candidate{
			Library: library.Identity{Name: actual, Version: v},
			Kind:    KindLocal,
			Source:  l.store.PackageDir(actual, v.String()),
			Token:   actual,
		})
	}
	return out, nil
}

func (l *localSource) dependencies(_ context.Context, c Candidate, profile framework.Profile) ([]library.Dependency, error) {
	pkg, err := l.store.Open(c.Library.Name, c.Library.Version.String())
	if err != nil {
		return nil, err
	}
	return pkg.Dependencies(profile, l.table), nil
}

func (l *localSource) materialise(_ context.Context, c Candidate, w io.Writer) error {
	f, err := os.Open(l.store.ArchivePath(c.Library.Name, c.Library.Version.String()))
	if err != nil {
		return fmt.Errorf("open local package archive: %w", err)
	}
	defer func() { _ = f.Close() }()
	_, err = io.Copy(w, f)
	return err
}
