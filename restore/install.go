package restore

import (
	"context"
	"fmt"

	"github.com/kiln-host/kiln/framework"
	"github.com/kiln-host/kiln/library"
	"github.com/kiln-host/kiln/provider"
	"github.com/kiln-host/kiln/version"
	"github.com/kiln-host/kiln/walker"
)

// InstallPackage resolves and installs one named package plus its
// transitive dependencies, without a project manifest and without
// touching any lock file. It returns the installed package's root
// directory in the store.
func InstallPackage(ctx context.Context, name, ver string, opts Options) (string, error) {
	rng := library.Range{Name: name}
	if ver != "" {
		v, err := version.Parse(ver)
		if err != nil {
			return "", fmt.Errorf("package %s: %w", name, err)
		}
		rng.Version = version.Exact(v)
	} else {
		r, err := version.ParseRange("")
		if err != nil {
			return "", err
		}
		rng.Version = r
	}

	st, err := openStore(opts)
	if err != nil {
		return "", err
	}
	feeds, err := openFeeds(opts)
	if err != nil {
		return "", err
	}

	table := opts.Compatibility
	if table == nil {
		table = framework.NewCompatibilityTable(nil)
	}
	remotes := make([]*provider.Provider, 0, len(feeds))
	for _, f := range feeds {
		remotes = append(remotes, provider.NewRemote(f, opts.logger(), opts.IgnoreFailedSources))
	}

	walkerOpts := []walker.Option{
		walker.WithLocalProviders(provider.NewLocal(st, table)),
		walker.WithRemoteProviders(remotes...),
		walker.WithReferenceProviders(referenceProviders(opts)...),
		walker.WithLogger(opts.logger()),
	}
	if opts.Sequential {
		walkerOpts = append(walkerOpts, walker.Sequential())
	}
	w := walker.New(walkerOpts...)

	root, err := w.Walk(ctx, rng, framework.Profile{})
	if err != nil {
		return "", err
	}
	if diag := w.Diagnostics(); len(diag.Unresolved) > 0 {
		failures := make([]UnresolvedRange, 0, len(diag.Unresolved))
		for _, n := range diag.Unresolved {
			failures = append(failures, UnresolvedRange{Range: n.Range, Suggestion: n.Suggestion})
		}
		return "", &UnresolvedError{Failures: dedupeFailures(failures)}
	}

	resolved := walker.Resolved(root)
	if _, _, err := installPackages(ctx, st, nil, lockAbsent, resolved, opts); err != nil {
		return "", err
	}

	id := root.Item.Candidate.Library
	return st.PackageDir(id.Name, id.Version.String()), nil
}
