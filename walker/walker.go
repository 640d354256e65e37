// Package walker builds the dependency graph for one target framework
// by querying ordered provider groups: project, then local, then
// remote, with a reference group for framework-assembly ranges. It
// performs no unification; conflicting versions survive as distinct
// nodes and are reported, not merged.
package walker

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kiln-host/kiln/framework"
	"github.com/kiln-host/kiln/library"
	"github.com/kiln-host/kiln/provider"
)

// Item is a resolved node's payload: the chosen candidate and the
// provider that offered it.
type Item struct {
	Candidate provider.Candidate
	Provider  *provider.Provider
}

// Node is one vertex of the walked graph. Item is nil for unresolved
// ranges; Suggestion carries a provider's spelling when resolution
// failed only on name casing.
type Node struct {
	Range      library.Range
	Item       *Item
	Deps       []*Node
	Suggestion string
}

// Resolved reports whether the node carries a usable candidate.
func (n *Node) Resolved() bool {
	return n.Item != nil && n.Item.Candidate.Kind != provider.KindUnresolved
}

// Walker coordinates one resolution run over a fixed provider
// configuration. It is not reusable across runs; memoisation assumes a
// stable provider state.
type Walker struct {
	project   []*provider.Provider
	local     []*provider.Provider
	remote    []*provider.Provider
	reference []*provider.Provider

	acceptRemote func(library.Range) bool
	requireLocal bool
	logger       *slog.Logger

	sem chan struct{}

	mu   sync.Mutex
	memo map[string]*memoEntry

	diag Diagnostics
}

type memoEntry struct {
	once sync.Once
	node *Node
	err  error
}

// Option configures a Walker.
type Option func(*Walker)

// WithProjectProviders sets the first provider group.
func WithProjectProviders(ps ...*provider.Provider) Option {
	return func(w *Walker) { w.project = ps }
}

// WithLocalProviders sets the second provider group.
func WithLocalProviders(ps ...*provider.Provider) Option {
	return func(w *Walker) { w.local = ps }
}

// WithRemoteProviders sets the third provider group.
func WithRemoteProviders(ps ...*provider.Provider) Option {
	return func(w *Walker) { w.remote = ps }
}

// WithReferenceProviders sets the group consulted for
// framework-assembly ranges.
func WithReferenceProviders(ps ...*provider.Provider) Option {
	return func(w *Walker) { w.reference = ps }
}

// WithRemotePredicate gates remote lookups per range. The default
// admits every range.
func WithRemotePredicate(accept func(library.Range) bool) Option {
	return func(w *Walker) { w.acceptRemote = accept }
}

// Pinned configures lock-replay mode: no remote calls, and any range
// the project and local groups cannot satisfy fails the walk.
func Pinned() Option {
	return func(w *Walker) {
		w.acceptRemote = func(library.Range) bool { return false }
		w.requireLocal = true
	}
}

// Sequential disables parallel provider queries for platforms where
// concurrent execution is flagged unsafe.
func Sequential() Option {
	return func(w *Walker) { w.sem = make(chan struct{}, 1) }
}

// WithLogger sets the walker's logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Walker) { w.logger = l }
}

// New builds a walker.
func New(opts ...Option) *Walker {
	w := &Walker{
		acceptRemote: func(library.Range) bool { return true },
		logger:       slog.Default(),
		memo:         map[string]*memoEntry{},
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.sem == nil {
		w.sem = make(chan struct{}, runtime.GOMAXPROCS(0))
	}
	return w
}

// Walk resolves a root range and its transitive closure for one target
// framework.
func (w *Walker) Walk(ctx context.Context, rng library.Range, profile framework.Profile) (*Node, error) {
	return w.walk(ctx, rng, profile)
}

func memoKey(rng library.Range, profile framework.Profile) string {
	key := strings.ToLower(rng.Name) + "\x00" + profile.String()
	if rng.FrameworkReference {
		return key + "\x00fwref"
	}
	if rng.Version != nil {
		key += "\x00" + rng.Version.String()
	}
	return key
}

func (w *Walker) walk(ctx context.Context, rng library.Range, profile framework.Profile) (*Node, error) {
	key := memoKey(rng, profile)

	w.mu.Lock()
	entry, ok := w.memo[key]
	if !ok {
		entry = &memoEntry{}
		w.memo[key] = entry
	}
	w.mu.Unlock()

	entry.once.Do(func() {
		entry.node, entry.err = w.build(ctx, rng, profile)
	})
	return entry.node, entry.err
}

func (w *Walker) build(ctx context.Context, rng library.Range, profile framework.Profile) (*Node, error) {
	node := &Node{Range: rng}

	item, err := w.resolve(ctx, rng, profile)
	if err != nil {
		return nil, err
	}
	node.Item = item

	if item != nil && item.Candidate.Kind != provider.KindUnresolved {
		actual := item.Candidate.Library.Name
		if actual != rng.Name && strings.EqualFold(actual, rng.Name) {
			node.Item = w.unresolvedItem(ctx, rng, profile)
			node.Suggestion = actual
			w.recordUnresolved(node)
			return node, nil
		}
	}

	if !node.Resolved() {
		if w.requireLocal {
			return nil, fmt.Errorf("dependency %s is not available locally", rng)
		}
		w.recordUnresolved(node)
		return node, nil
	}

	deps, err := item.Provider.Dependencies(ctx, item.Candidate, profile)
	if err != nil {
		return nil, fmt.Errorf("dependencies of %s: %w", item.Candidate.Library, err)
	}

	node.Deps = make([]*Node, len(deps))
	g, gctx := errgroup.WithContext(ctx)
	for i, dep := range deps {
		g.Go(func() error {
			child, err := w.walk(gctx, dep.Range, profile)
			if err != nil {
				return err
			}
			node.Deps[i] = child
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return node, nil
}

// resolve runs the group ladder for one range. Framework-assembly
// ranges consult only the reference group.
func (w *Walker) resolve(ctx context.Context, rng library.Range, profile framework.Profile) (*Item, error) {
	if rng.FrameworkReference {
		if item, err := w.query(ctx, w.reference, rng, profile); item != nil || err != nil {
			return item, err
		}
		return w.unresolvedItem(ctx, rng, profile), nil
	}

	if item, err := w.query(ctx, w.project, rng, profile); item != nil || err != nil {
		return item, err
	}
	if item, err := w.query(ctx, w.local, rng, profile); item != nil || err != nil {
		return item, err
	}
	if w.acceptRemote(rng) {
		if item, err := w.query(ctx, w.remote, rng, profile); item != nil || err != nil {
			return item, err
		}
	}
	return w.unresolvedItem(ctx, rng, profile), nil
}

// query fans out over one provider group and picks the highest
// satisfying version; on a version tie the earlier provider wins.
func (w *Walker) query(ctx context.Context, group []*provider.Provider, rng library.Range, profile framework.Profile) (*Item, error) {
	if len(group) == 0 {
		return nil, nil
	}

	type result struct {
		candidate provider.Candidate
		provider  *provider.Provider
		found     bool
	}
	results := make([]result, len(group))

	g, gctx := errgroup.WithContext(ctx)
	for i, p := range group {
		g.Go(func() error {
			w.sem <- struct{}{}
			defer func() { <-w.sem }()

			candidates, err := p.FindCandidates(gctx, rng, profile)
			if err != nil {
				return fmt.Errorf("provider %s: %w", p.Name, err)
			}
			if best, ok := provider.Best(candidates); ok {
				results[i] = result{candidate: best, provider: p, found: true}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var best *Item
	for i := range results {
		r := results[i]
		if !r.found {
			continue
		}
		if best == nil || r.candidate.Library.Version.Compare(best.Candidate.Library.Version) > 0 {
			best = &Item{Candidate: r.candidate, Provider: r.provider}
		}
	}
	return best, nil
}

var unresolvedProvider = provider.NewUnresolved()

func (w *Walker) unresolvedItem(ctx context.Context, rng library.Range, profile framework.Profile) *Item {
	candidates, _ := unresolvedProvider.FindCandidates(ctx, rng, profile)
	return &Item{Candidate: candidates[0], Provider: unresolvedProvider}
}

func (w *Walker) recordUnresolved(node *Node) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.diag.Unresolved = append(w.diag.Unresolved, node)
}
