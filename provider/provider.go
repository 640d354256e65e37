// Package provider implements the uniform candidate sources the graph
// walker draws from: project directories, the local package store,
// framework reference sets, machine-wide caches, remote feeds, and the
// unresolved sentinel.
//
// Providers are a tagged variant sharing one operation table rather than
// an open interface hierarchy; new sources are added by extending the
// Kind enum and supplying Operations.
package provider

import (
	"context"
	"errors"
	"io"

	"github.com/kiln-host/kiln/framework"
	"github.com/kiln-host/kiln/library"
)

// Kind tags a provider variant.
type Kind int

const (
	KindProject Kind = iota
	KindLocal
	KindReference
	KindGAC
	KindRemote
	KindUnresolved
)

// String names the variant for logs and diagnostics.
func (k Kind) String() string {
	switch k {
	case KindProject:
		return "project"
	case KindLocal:
		return "local"
	case KindReference:
		return "reference"
	case KindGAC:
		return "gac"
	case KindRemote:
		return "remote"
	case KindUnresolved:
		return "unresolved"
	}
	return "unknown"
}

// ErrNoMaterialise is returned by providers whose candidates carry no
// bytes (projects, framework references).
var ErrNoMaterialise = errors.New("provider does not materialise packages")

// Candidate is a concrete library offered by a provider, with a
// provider-specific token for later dependency and materialise calls.
type Candidate struct {
	Library library.Identity
	Kind    Kind
	Source  string
	Token   any
}

// Operations is the shared capability table every variant fills in.
// Materialise may be nil for variants that produce no bytes.
type Operations struct {
	FindCandidates func(ctx context.Context, rng library.Range, profile framework.Profile) ([]Candidate, error)
	Dependencies   func(ctx context.Context, c Candidate, profile framework.Profile) ([]library.Dependency, error)
	Materialise    func(ctx context.Context, c Candidate, w io.Writer) error
}

// Provider pairs a variant tag with its operations.
type Provider struct {
	Kind Kind
	// Name identifies the instance in logs, e.g. a feed URL.
	Name string
	Ops  Operations
}

// FindCandidates asks the provider for libraries satisfying the range.
func (p *Provider) FindCandidates(ctx context.Context, rng library.Range, profile framework.Profile) ([]Candidate, error) {
	return p.Ops.FindCandidates(ctx, rng, profile)
}

// Dependencies returns the candidate's declared ranges for a profile.
func (p *Provider) Dependencies(ctx context.Context, c Candidate, profile framework.Profile) ([]library.Dependency, error) {
	if p.Ops.Dependencies == nil {
		return nil, nil
	}
	return p.Ops.Dependencies(ctx, c, profile)
}

// Materialise streams the candidate's package bytes into w.
func (p *Provider) Materialise(ctx context.Context, c Candidate, w io.Writer) error {
	if p.Ops.Materialise == nil {
		return ErrNoMaterialise
	}
	return p.Ops.Materialise(ctx, c, w)
}

// HasBytes reports whether the variant can materialise packages.
func (p *Provider) HasBytes() bool {
	return p.Ops.Materialise != nil
}

// Best returns the highest-version candidate, or the zero candidate
// when the slice is empty.
func Best(candidates []Candidate) (Candidate, bool) {
	var best Candidate
	found := false
	for _, c := range candidates {
		if c.Library.Version == nil {
			continue
		}
		if !found || c.Library.Version.Compare(best.Library.Version) > 0 {
			best = c
			found = true
		}
	}
	return best, found
}
