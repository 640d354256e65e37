package provider

import (
	"context"

	"github.com/kiln-host/kiln/framework"
	"github.com/kiln-host/kiln/library"
)

// NewUnresolved builds the sentinel provider that terminates every
// walk: it always matches, emitting a candidate with no library so the
// failure surfaces downstream instead of aborting the walk.
func NewUnresolved() *Provider {
	return &Provider{
		Kind: KindUnresolved,
		Name: "unresolved",
		Ops: Operations{
			FindCandidates: func(_ context.Context, rng library.Range, _ framework.Profile) ([]Candidate, error) {
				return []Candidate{{
					Library: library.Identity{Name: rng.Name},
					Kind:    KindUnresolved,
				}}, nil
			},
		},
	}
}
