package provider

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/kiln-host/kiln/feed"
	"github.com/kiln-host/kiln/framework"
	"github.com/kiln-host/kiln/library"
	"github.com/kiln-host/kiln/version"
)

// NewRemote builds a provider over one remote feed. Version lists are
// cached for the provider's lifetime, which is one command run. With
// ignoreFailures set, feed errors demote to warnings and the source
// simply offers nothing.
func NewRemote(f feed.Feed, logger *slog.Logger, ignoreFailures bool) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	r := &remoteSource{
		feed:           f,
		logger:         logger,
		ignoreFailures: ignoreFailures,
		versions:       map[string]remoteListing{},
	}
	return &Provider{
		Kind: KindRemote,
		Name: f.URL(),
		Ops: Operations{
			FindCandidates: r.findCandidates,
			Dependencies:   r.dependencies,
			Materialise:    r.materialise,
		},
	}
}

type remoteListing struct {
	actual   string
	versions []*version.Version
	err      error
}

type remoteSource struct {
	feed           feed.Feed
	logger         *slog.Logger
	ignoreFailures bool

	mu       sync.Mutex
	versions map[string]remoteListing
}

func (r *remoteSource) listVersions(ctx context.Context, name string) (remoteListing, error) {
	key := strings.ToLower(name)

	r.mu.Lock()
	listing, ok := r.versions[key]
	r.mu.Unlock()
	if !ok {
		actual, versions, err := r.feed.Versions(ctx, name)
		listing = remoteListing{actual: actual, versions: versions, err: err}
		r.mu.Lock()
		r.versions[key] = listing
		r.mu.Unlock()
	}

	if listing.err != nil {
		if errors.Is(listing.err, feed.ErrNotInFeed) {
			return remoteListing{}, nil
		}
		ferr := &feed.FeedError{Source: r.feed.URL(), Err: listing.err}
		if r.ignoreFailures {
			r.logger.Warn("ignoring failed source", "source", r.feed.URL(), "package", name, "error", listing.err)
			return remoteListing{}, nil
		}
		return remoteListing{}, ferr
	}
	return listing, nil
}

func (r *remoteSource) findCandidates(ctx context.Context, rng library.Range, _ framework.Profile) ([]Candidate, error) {
	listing, err := r.listVersions(ctx, rng.Name)
	if err != nil {
		return nil, err
	}

	var out []Candidate
	for _, v := range listing.versions {
		if rng.Version != nil && !rng.Version.Satisfies(v) {
			continue
		}
		out = append(out, Candidate{
			Library: library.Identity{Name: listing.actual, Version: v},
			Kind:    KindRemote,
			Source:  r.feed.URL(),
		})
	}
	return out, nil
}

func (r *remoteSource) dependencies(ctx context.Context, c Candidate, profile framework.Profile) ([]library.Dependency, error) {
	project, err := r.feed.Manifest(ctx, c.Library.Name, c.Library.Version)
	if err != nil {
		return nil, &feed.FeedError{Source: r.feed.URL(), Err: err}
	}
	return project.Dependencies(profile), nil
}

func (r *remoteSource) materialise(ctx context.Context, c Candidate, w io.Writer) error {
	if err := r.feed.Download(ctx, c.Library.Name, c.Library.Version, w); err != nil {
		return &feed.FeedError{Source: r.feed.URL(), Err: err}
	}
	return nil
}
