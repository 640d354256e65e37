// Package restore implements the restore driver: it orchestrates hook
// execution, lock classification, the per-profile graph walks, package
// installation, and the lock rewrite.
package restore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kiln-host/kiln/feed"
	"github.com/kiln-host/kiln/framework"
	"github.com/kiln-host/kiln/library"
	"github.com/kiln-host/kiln/lockfile"
	"github.com/kiln-host/kiln/manifest"
	"github.com/kiln-host/kiln/provider"
	"github.com/kiln-host/kiln/store"
	"github.com/kiln-host/kiln/version"
	"github.com/kiln-host/kiln/walker"
)

// Options configures a restore run. Zero values give a lock-respecting
// online restore against the default store.
type Options struct {
	// PackagesDir overrides the package store location.
	PackagesDir string

	// Sources and FallbackSources are feed URLs from the command line;
	// they extend (sources) or trail (fallback) the configured set.
	Sources         []string
	FallbackSources []string

	// ConfigFile points at the YAML source configuration.
	ConfigFile string

	NoCache             bool
	IgnoreFailedSources bool

	// Lock forces writing a locked lock file; Unlock forces a fresh
	// resolution and an unlocked rewrite.
	Lock   bool
	Unlock bool

	// Sequential disables parallel walking and installing.
	Sequential bool

	// ReferenceAssemblies supplies installed framework reference sets.
	ReferenceAssemblies provider.ReferenceSet

	// GACDirs lists machine-wide assembly cache directories to probe.
	GACDirs []string

	// Compatibility relates library target profiles to consumer
	// profiles when reading installed package dependency sets.
	Compatibility *framework.CompatibilityTable

	Logger *slog.Logger
}

func (o *Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// Result summarises one project's restore.
type Result struct {
	Project   *manifest.Project
	Installed []library.Identity
	Lock      *lockfile.LockFile
	// WroteLock reports whether the lock file was replaced.
	WroteLock bool
}

// UnresolvedError aggregates every range no provider satisfied, with
// case-mismatch suggestions when available.
type UnresolvedError struct {
	Failures []UnresolvedRange
}

// UnresolvedRange is one failed range.
type UnresolvedRange struct {
	Range      library.Range
	Suggestion string
}

func (e *UnresolvedError) Error() string {
	msgs := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		msg := "Unable to locate " + f.Range.String()
		if f.Suggestion != "" {
			msg += fmt.Sprintf(" (found %q; dependency names are case-sensitive)", f.Suggestion)
		}
		msgs[i] = msg
	}
	return strings.Join(msgs, "\n")
}

// Restore runs the driver against a project path: a manifest file, a
// project directory, or a root containing several project directories.
func Restore(ctx context.Context, path string, opts Options) ([]*Result, error) {
	root, err := normalisePath(path)
	if err != nil {
		return nil, err
	}

	dirs, err := discoverProjects(root)
	if err != nil {
		return nil, err
	}
	if len(dirs) == 0 {
		return nil, fmt.Errorf("%w under %s", manifest.ErrNoManifest, root)
	}

	st, err := openStore(opts)
	if err != nil {
		return nil, err
	}
	feeds, err := openFeeds(opts)
	if err != nil {
		return nil, err
	}

	results := make([]*Result, 0, len(dirs))
	for _, dir := range dirs {
		res, err := restoreProject(ctx, dir, st, feeds, opts)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, nil
}

func normalisePath(path string) (string, error) {
	if path == "" {
		path = "."
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("restore path %s: %w", path, err)
	}
	if !info.IsDir() {
		path = filepath.Dir(path)
	}
	return filepath.Abs(path)
}

// discoverProjects finds every directory under root carrying a
// manifest. The store and hidden directories are skipped.
func discoverProjects(root string) ([]string, error) {
	var dirs []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		base := filepath.Base(path)
		if path != root && (strings.HasPrefix(base, ".") || base == "packages" || base == "node_modules") {
			return filepath.SkipDir
		}
		if manifest.Exists(path) {
			dirs = append(dirs, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discovering projects under %s: %w", root, err)
	}
	sort.Strings(dirs)
	return dirs, nil
}

func openStore(opts Options) (*store.Store, error) {
	return store.New(opts.PackagesDir, store.WithLogger(opts.logger()))
}

// openFeeds merges the configured sources with command-line ones:
// --source URLs join the primary set, --fallback-source URLs trail.
func openFeeds(opts Options) ([]feed.Feed, error) {
	cache, err := feed.NewCache("", opts.NoCache)
	if err != nil {
		return nil, err
	}

	cfg := &feed.Config{}
	if opts.ConfigFile != "" {
		cfg, err = feed.LoadConfig(opts.ConfigFile)
		if err != nil {
			return nil, err
		}
	}
	for _, url := range opts.Sources {
		cfg.Sources = append(cfg.Sources, feed.SourceConfig{URL: url})
	}
	for _, url := range opts.FallbackSources {
		cfg.FallbackSources = append(cfg.FallbackSources, feed.SourceConfig{URL: url})
	}
	return cfg.OpenAll(cache, opts.logger())
}

func restoreProject(ctx context.Context, dir string, st *store.Store, feeds []feed.Feed, opts Options) (*Result, error) {
	p, err := manifest.Load(dir)
	if err != nil {
		return nil, err
	}
	log := opts.logger().With("project", p.Name)

	if err := runHook(ctx, p, HookPreRestore); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lock, state := classifyLock(p, opts)
	log.Debug("lock file classified", "state", state)

	roots, unresolved, err := walkProfiles(ctx, p, st, feeds, lock, state, opts)
	if err != nil {
		return nil, err
	}
	if len(unresolved.Failures) > 0 {
		return nil, unresolved
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resolved := walker.Resolved(roots...)
	reportDivergences(log, roots)

	installed, shas, err := installPackages(ctx, st, lock, state, resolved, opts)
	if err != nil {
		return nil, err
	}

	res := &Result{Project: p, Installed: installed}
	if state == lockLocked {
		res.Lock = lock
	} else {
		newLock, err := buildLock(p, st, resolved, shas, opts)
		if err != nil {
			return nil, err
		}
		if err := newLock.Write(p.ProjectDir); err != nil {
			return nil, err
		}
		res.Lock, res.WroteLock = newLock, true
		log.Info("lock file written", "path", lockfile.Path(p.ProjectDir), "libraries", len(newLock.Libraries))
	}

	if err := runHook(ctx, p, HookPostRestore); err != nil {
		return nil, err
	}
	if err := runHook(ctx, p, HookPrepare); err != nil {
		return nil, err
	}
	return res, nil
}

type lockState int

const (
	lockAbsent lockState = iota
	lockLocked
	lockUnlocked
	lockInvalid
)

func (s lockState) String() string {
	switch s {
	case lockAbsent:
		return "absent"
	case lockLocked:
		return "locked"
	case lockUnlocked:
		return "unlocked"
	case lockInvalid:
		return "invalid"
	}
	return "unknown"
}

// classifyLock reads and validates the project's lock file. --lock
// treats a valid lock as locked regardless of its flag; --unlock
// forces a fresh resolution.
func classifyLock(p *manifest.Project, opts Options) (*lockfile.LockFile, lockState) {
	lock, err := lockfile.Read(p.ProjectDir)
	if err != nil {
		return nil, lockAbsent
	}
	if !lock.Validate(p) {
		return nil, lockInvalid
	}
	if opts.Unlock {
		return lock, lockUnlocked
	}
	if lock.Locked || opts.Lock {
		return lock, lockLocked
	}
	return lock, lockUnlocked
}

// walkProfiles runs one walk per target framework, in parallel unless
// sequential mode is on, and merges unresolved diagnostics.
func walkProfiles(ctx context.Context, p *manifest.Project, st *store.Store, feeds []feed.Feed, lock *lockfile.LockFile, state lockState, opts Options) ([]*walker.Node, *UnresolvedError, error) {
	profiles := p.Profiles()
	if len(profiles) == 0 {
		profiles = []framework.Profile{{}}
	}

	table := opts.Compatibility
	if table == nil {
		table = framework.NewCompatibilityTable(nil)
	}

	walkerOpts := []walker.Option{
		walker.WithProjectProviders(provider.NewProject(filepath.Dir(p.ProjectDir))),
		walker.WithLocalProviders(provider.NewLocal(st, table)),
		walker.WithReferenceProviders(referenceProviders(opts)...),
		walker.WithLogger(opts.logger()),
	}
	if opts.Sequential {
		walkerOpts = append(walkerOpts, walker.Sequential())
	}

	pinned := map[string]*version.Range{}
	if state == lockLocked {
		pinned = lock.PinnedRanges()
		walkerOpts = append(walkerOpts, walker.Pinned())
	} else {
		remotes := make([]*provider.Provider, 0, len(feeds))
		for _, f := range feeds {
			remotes = append(remotes, provider.NewRemote(f, opts.logger(), opts.IgnoreFailedSources))
		}
		walkerOpts = append(walkerOpts, walker.WithRemoteProviders(remotes...))
	}

	var (
		mu         sync.Mutex
		roots      []*walker.Node
		unresolved UnresolvedError
	)

	g, gctx := errgroup.WithContext(ctx)
	if opts.Sequential {
		g.SetLimit(1)
	}
	for _, profile := range profiles {
		g.Go(func() error {
			w := walker.New(walkerOpts...)
			var profileRoots []*walker.Node
			for _, dep := range p.Dependencies(profile) {
				rng := dep.Range
				if state == lockLocked && !rng.FrameworkReference {
					if pin, ok := pinned[strings.ToLower(rng.Name)]; ok {
						rng = library.Range{Name: rng.Name, Version: pin}
					}
				}
				node, err := w.Walk(gctx, rng, profile)
				if err != nil {
					return err
				}
				profileRoots = append(profileRoots, node)
			}

			mu.Lock()
			defer mu.Unlock()
			roots = append(roots, profileRoots...)
			for _, n := range w.Diagnostics().Unresolved {
				unresolved.Failures = append(unresolved.Failures, UnresolvedRange{Range: n.Range, Suggestion: n.Suggestion})
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	sort.Slice(unresolved.Failures, func(i, j int) bool {
		return unresolved.Failures[i].Range.String() < unresolved.Failures[j].Range.String()
	})
	unresolved.Failures = dedupeFailures(unresolved.Failures)
	return roots, &unresolved, nil
}

func dedupeFailures(in []UnresolvedRange) []UnresolvedRange {
	var out []UnresolvedRange
	seen := map[string]bool{}
	for _, f := range in {
		key := f.Range.String()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, f)
	}
	return out
}

func referenceProviders(opts Options) []*provider.Provider {
	ps := []*provider.Provider{provider.NewReference(opts.ReferenceAssemblies)}
	if len(opts.GACDirs) > 0 {
		ps = append(ps, provider.NewGAC(opts.GACDirs))
	}
	return ps
}

func reportDivergences(log *slog.Logger, roots []*walker.Node) {
	for name, ids := range walker.Divergences(roots...) {
		versions := make([]string, len(ids))
		for i, id := range ids {
			versions[i] = id.Version.String()
		}
		log.Warn("multiple versions selected", "library", name, "versions", strings.Join(versions, ", "))
	}
}

// installPackages materialises every remote-resolved node into the
// store, in parallel, verifying archive digests. Under a locked lock
// every installed package must match its recorded sha.
func installPackages(ctx context.Context, st *store.Store, lock *lockfile.LockFile, state lockState, resolved []*walker.Node, opts Options) ([]library.Identity, map[string]store.Digest, error) {
	var (
		mu        sync.Mutex
		installed []library.Identity
		shas      = map[string]store.Digest{}
	)

	g, gctx := errgroup.WithContext(ctx)
	if opts.Sequential {
		g.SetLimit(1)
	}
	var installErrs []error
	for _, node := range resolved {
		item := node.Item
		id := item.Candidate.Library
		switch item.Candidate.Kind {
		case provider.KindRemote:
		case provider.KindLocal:
			// Already on disk; verify against a locked sha if recorded.
			if state == lockLocked {
				if lib, ok := lock.Lookup(id.Name); ok && lib.SHA != "" {
					g.Go(func() error {
						if err := st.Verify(id.Name, id.Version.String(), store.NewDigest(lib.SHA)); err != nil {
							mu.Lock()
							installErrs = append(installErrs, err)
							mu.Unlock()
						}
						return nil
					})
				}
			}
			continue
		default:
			continue
		}

		g.Go(func() error {
			if st.Installed(id.Name, id.Version.String()) {
				return nil
			}
			sha, err := installOne(gctx, st, item)
			if err != nil {
				mu.Lock()
				installErrs = append(installErrs, fmt.Errorf("installing %s: %w", id, err))
				mu.Unlock()
				return nil
			}
			if state == lockLocked {
				if lib, ok := lock.Lookup(id.Name); ok && lib.SHA != "" && !sha.Equals(store.NewDigest(lib.SHA)) {
					mu.Lock()
					installErrs = append(installErrs, &store.IntegrityError{
						Name:     id.Name,
						Version:  id.Version.String(),
						Expected: store.NewDigest(lib.SHA),
						Actual:   sha,
					})
					mu.Unlock()
					return nil
				}
			}
			mu.Lock()
			installed = append(installed, id)
			shas[id.Key()] = sha
			mu.Unlock()
			opts.logger().Info("installed package", "library", id.String(), "sha", sha.String())
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	if len(installErrs) > 0 {
		return nil, nil, errors.Join(installErrs...)
	}

	sort.Slice(installed, func(i, j int) bool { return installed[i].String() < installed[j].String() })
	return installed, shas, nil
}

// installOne streams the provider's archive through the store install
// pipeline and returns the archive digest.
func installOne(ctx context.Context, st *store.Store, item *walker.Item) (store.Digest, error) {
	pr, pw := io.Pipe()
	errCh := make(chan error, 1)
	go func() {
		err := item.Provider.Materialise(ctx, item.Candidate, pw)
		_ = pw.CloseWithError(err)
		errCh <- err
	}()

	id := item.Candidate.Library
	sha, installErr := st.Install(id.Name, id.Version.String(), pr)
	_ = pr.CloseWithError(installErr)
	if err := <-errCh; err != nil {
		return store.Digest{}, err
	}
	return sha, installErr
}

// buildLock assembles the lock document for a fresh resolution.
func buildLock(p *manifest.Project, st *store.Store, resolved []*walker.Node, shas map[string]store.Digest, opts Options) (*lockfile.LockFile, error) {
	lf := &lockfile.LockFile{
		Locked:                opts.Lock,
		Version:               lockfile.CurrentVersion,
		FrameworkDependencies: lockfile.DependencyGroups(p),
	}

	for _, node := range resolved {
		item := node.Item
		id := item.Candidate.Library
		switch item.Candidate.Kind {
		case provider.KindLocal, provider.KindRemote:
		default:
			continue
		}

		lib := &lockfile.Library{
			Name:                id.Name,
			Version:             id.Version,
			DependencySets:      map[string][]string{},
			FrameworkAssemblies: map[string][]string{},
		}
		if sha, ok := shas[id.Key()]; ok {
			lib.SHA = sha.String()
		} else if sha, err := st.SHA(id.Name, id.Version.String()); err == nil {
			lib.SHA = sha.String()
		}

		if pkg, err := st.Open(id.Name, id.Version.String()); err == nil {
			lib.Files = pkg.Files
			for profile, deps := range pkg.DependencySets {
				strs := make([]string, 0, len(deps))
				for _, d := range deps {
					strs = append(strs, d.Range.String())
				}
				lib.DependencySets[profile.String()] = strs
			}
			for profile, names := range pkg.FrameworkAssemblies {
				lib.FrameworkAssemblies[profile.String()] = append([]string(nil), names...)
			}
		}
		lf.Libraries = append(lf.Libraries, lib)
	}
	return lf, nil
}
