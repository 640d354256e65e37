// Package library holds the identity and constraint value objects shared
// by the manifest model, the providers and the graph walker.
package library

import (
	"fmt"
	"strings"

	"github.com/kiln-host/kiln/version"
)

// Identity names a concrete library: (name, version). Names compare
// case-sensitively for equality; provider lookup may match them
// case-insensitively, and a case difference between a declaration and
// the found library is a resolution error.
type Identity struct {
	Name    string
	Version *version.Version
}

// String renders "Name 1.2.3", or just the name when unversioned.
func (i Identity) String() string {
	if i.Version == nil {
		return i.Name
	}
	return i.Name + " " + i.Version.String()
}

// Equal is case-sensitive on the name and component-wise on the version.
func (i Identity) Equal(other Identity) bool {
	if i.Name != other.Name {
		return false
	}
	if i.Version == nil || other.Version == nil {
		return i.Version == other.Version
	}
	return i.Version.Equal(other.Version)
}

// Key is the de-duplication key used at install and lock time.
func (i Identity) Key() string {
	return i.String()
}

// Range is a dependency constraint: a name plus either a version range
// or the framework-reference marker (framework and GAC references bypass
// version resolution entirely).
type Range struct {
	Name               string
	Version            *version.Range
	FrameworkReference bool
}

// NewRange builds a version-constrained range.
func NewRange(name string, vr *version.Range) Range {
	return Range{Name: name, Version: vr}
}

// NewFrameworkReference builds a range that bypasses version resolution.
func NewFrameworkReference(name string) Range {
	return Range{Name: name, FrameworkReference: true}
}

// Validate enforces the invariant that a range carries a version
// constraint unless it is a framework reference.
func (r Range) Validate() error {
	if r.Version == nil && !r.FrameworkReference {
		return fmt.Errorf("library range %q: missing version range", r.Name)
	}
	return nil
}

// String is the canonical rendering recorded in lock files: the name
// followed by the range's canonical form when one is present.
func (r Range) String() string {
	if r.Version == nil {
		return r.Name
	}
	if s := r.Version.String(); s != "" {
		return r.Name + " " + s
	}
	return r.Name
}

// Matches reports whether the candidate name refers to this range,
// ignoring case. Callers must still check exact spelling afterwards.
func (r Range) Matches(name string) bool {
	return strings.EqualFold(r.Name, name)
}

// DependencyType hints how a dependency is consumed at build time. It
// restricts inclusion for the consumer's build only and never changes
// resolution.
type DependencyType string

const (
	TypeDefault DependencyType = "default"
	TypeBuild   DependencyType = "build"
)

// Dependency is a declared edge: a range plus its type hint.
type Dependency struct {
	Range
	Type DependencyType
}
