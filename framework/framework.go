// Package framework models target-framework profiles and their
// compatibility relation.
package framework

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Profile is a versioned target-framework identifier, e.g. "net45"
// (identifier "net", version 4.5) or "k10" (identifier "k", version 1.0).
type Profile struct {
	Identifier string
	Version    string
}

// Parse splits a short framework name into its identifier and version
// digits: the identifier is the leading run of letters, the version the
// remaining digits read as dotted components ("45" -> "4.5").
func Parse(s string) (Profile, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Profile{}, fmt.Errorf("empty framework name")
	}
	i := 0
	for i < len(s) && unicode.IsLetter(rune(s[i])) {
		i++
	}
	if i == 0 {
		return Profile{}, fmt.Errorf("invalid framework name %q", s)
	}
	ident := s[i:]
	digits := ident
	if digits == "" {
		return Profile{Identifier: s}, nil
	}
	if strings.Contains(digits, ".") {
		return Profile{Identifier: s[:i], Version: digits}, nil
	}
	if _, err := strconv.Atoi(digits); err != nil {
		return Profile{}, fmt.Errorf("invalid framework name %q: %w", s, err)
	}
	parts := make([]string, 0, len(digits))
	for _, d := range digits {
		parts = append(parts, string(d))
	}
	return Profile{Identifier: s[:i], Version: strings.Join(parts, ".")}, nil
}

// String renders the short name back: identifier + version digits.
func (p Profile) String() string {
	if p.Version == "" {
		return p.Identifier
	}
	return p.Identifier + strings.ReplaceAll(p.Version, ".", "")
}

// IsZero reports the absent profile (the "all frameworks" key).
func (p Profile) IsZero() bool {
	return p.Identifier == "" && p.Version == ""
}

// CompatibilityTable answers whether a library targeting one profile is
// acceptable to a consumer targeting another. The relation is an
// injected lookup; it is never recomputed from profile structure.
type CompatibilityTable struct {
	pairs map[[2]Profile]bool
}

// NewCompatibilityTable builds a table from explicit (dependency,
// consumer) pairs. Every profile is compatible with itself without an
// entry.
func NewCompatibilityTable(pairs map[[2]Profile]bool) *CompatibilityTable {
	if pairs == nil {
		pairs = make(map[[2]Profile]bool)
	}
	return &CompatibilityTable{pairs: pairs}
}

// Add records that a library targeting dep satisfies a consumer
// targeting consumer.
func (t *CompatibilityTable) Add(dep, consumer Profile) {
	t.pairs[[2]Profile{dep, consumer}] = true
}

// Compatible reports whether dep satisfies consumer. The zero profile
// (shared, "all frameworks") satisfies every consumer.
func (t *CompatibilityTable) Compatible(dep, consumer Profile) bool {
	if dep == consumer || dep.IsZero() {
		return true
	}
	return t.pairs[[2]Profile{dep, consumer}]
}
