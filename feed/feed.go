// Package feed implements remote package sources: a flat HTTP(S) feed
// and an OCI registry adapter, both behind one Feed contract, plus the
// YAML source configuration and the on-disk response cache.
package feed

import (
	"context"
	"errors"
	"io"

	"github.com/kiln-host/kiln/manifest"
	"github.com/kiln-host/kiln/version"
)

// ErrNotInFeed is returned when a feed does not carry the package.
var ErrNotInFeed = errors.New("package not found in feed")

// Feed is a remote package source.
type Feed interface {
	// URL identifies the source; it keys the response cache.
	URL() string

	// Versions lists the feed's versions of a package, together with
	// the feed's own spelling of the name.
	Versions(ctx context.Context, name string) (actual string, versions []*version.Version, err error)

	// Manifest fetches the package manifest for a concrete version.
	Manifest(ctx context.Context, name string, v *version.Version) (*manifest.Project, error)

	// Download streams the package archive into w.
	Download(ctx context.Context, name string, v *version.Version, w io.Writer) error
}

// FeedError wraps a failure of a particular source so the driver can
// demote it to a warning under ignore-failed-sources.
type FeedError struct {
	Source string
	Err    error
}

func (e *FeedError) Error() string {
	return "feed " + e.Source + ": " + e.Err.Error()
}

func (e *FeedError) Unwrap() error { return e.Err }
