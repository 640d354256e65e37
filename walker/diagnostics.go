package walker

import (
	"sort"
	"strings"

	"github.com/kiln-host/kiln/library"
	"github.com/kiln-host/kiln/provider"
)

// Diagnostics accumulates per-walk findings the driver turns into
// errors and warnings after all profiles complete.
type Diagnostics struct {
	// Unresolved holds every node no provider could satisfy, including
	// case-mismatch nodes carrying a Suggestion.
	Unresolved []*Node
}

// Diagnostics returns the findings of the walk so far. Call after the
// walk completes; the walker does not synchronise further access.
func (w *Walker) Diagnostics() Diagnostics {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Diagnostics{Unresolved: append([]*Node(nil), w.diag.Unresolved...)}
}

// Flatten returns every node of the graphs reachable from roots,
// de-duplicated by pointer, in breadth-first order.
func Flatten(roots ...*Node) []*Node {
	seen := map[*Node]bool{}
	var out []*Node
	queue := append([]*Node(nil), roots...)
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if n == nil || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
		queue = append(queue, n.Deps...)
	}
	return out
}

// Resolved returns the distinct resolved identities across the graphs,
// de-duplicated by (name, version) and sorted for determinism.
func Resolved(roots ...*Node) []*Node {
	seen := map[string]bool{}
	var out []*Node
	for _, n := range Flatten(roots...) {
		if !n.Resolved() {
			continue
		}
		key := n.Item.Candidate.Library.Key()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Item.Candidate.Library, out[j].Item.Candidate.Library
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.Version.Compare(b.Version) < 0
	})
	return out
}

// Divergences reports libraries selected at more than one version by
// different paths, keyed by lowercase name with versions sorted.
func Divergences(roots ...*Node) map[string][]library.Identity {
	byName := map[string]map[string]library.Identity{}
	for _, n := range Resolved(roots...) {
		id := n.Item.Candidate.Library
		if n.Item.Candidate.Kind == provider.KindReference || n.Item.Candidate.Kind == provider.KindGAC {
			continue
		}
		key := strings.ToLower(id.Name)
		if byName[key] == nil {
			byName[key] = map[string]library.Identity{}
		}
		byName[key][id.Version.String()] = id
	}

	out := map[string][]library.Identity{}
	for name, versions := range byName {
		if len(versions) < 2 {
			continue
		}
		ids := make([]library.Identity, 0, len(versions))
		for _, id := range versions {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i].Version.Compare(ids[j].Version) < 0 })
		out[name] = ids
	}
	return out
}
