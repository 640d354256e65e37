// Package version implements the four-component semantic version algebra
// used by the dependency resolver: versions, ranges, and float behaviors.
package version

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Version is a semantic version with an additional fourth "revision"
// component and an optional prerelease tag. The three leading components
// and the tag ride a semver.Version; revision is compared as a tiebreak
// before the release/prerelease distinction.
type Version struct {
	core       *semver.Version
	revision   uint64
	prerelease string
}

// Parse accepts 1 to 4 dotted numeric components with an optional
// "-tag" suffix, e.g. "1", "1.2", "1.2.3.4", "1.2.3.4-beta2".
func Parse(s string) (*Version, error) {
	if s == "" {
		return nil, fmt.Errorf("empty version string")
	}

	numeric := s
	prerelease := ""
	if i := strings.IndexByte(s, '-'); i >= 0 {
		numeric = s[:i]
		prerelease = s[i+1:]
		if prerelease == "" {
			return nil, fmt.Errorf("invalid version %q: empty prerelease tag", s)
		}
	}

	parts := strings.Split(numeric, ".")
	if len(parts) > 4 {
		return nil, fmt.Errorf("invalid version %q: more than four components", s)
	}

	nums := make([]uint64, 4)
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid version %q: component %q: %w", s, p, err)
		}
		nums[i] = n
	}

	core := semver.New(nums[0], nums[1], nums[2], "", "")
	return &Version{core: core, revision: nums[3], prerelease: prerelease}, nil
}

// MustParse parses s and panics on error. For fixtures and constants.
func MustParse(s string) *Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// Major returns the first version component.
func (v *Version) Major() uint64 { return v.core.Major() }

// Minor returns the second version component.
func (v *Version) Minor() uint64 { return v.core.Minor() }

// Patch returns the third version component.
func (v *Version) Patch() uint64 { return v.core.Patch() }

// Revision returns the fourth version component.
func (v *Version) Revision() uint64 { return v.revision }

// Prerelease returns the prerelease tag, empty for release versions.
func (v *Version) Prerelease() string { return v.prerelease }

// IsPrerelease reports whether the version carries a prerelease tag.
func (v *Version) IsPrerelease() bool { return v.prerelease != "" }

// Compare orders versions by numeric components first, then release over
// prerelease, then lexicographic prerelease tags. Returns -1, 0 or 1.
func (v *Version) Compare(other *Version) int {
	if c := v.core.Compare(other.core); c != 0 {
		return c
	}
	if v.revision != other.revision {
		if v.revision < other.revision {
			return -1
		}
		return 1
	}
	switch {
	case v.prerelease == other.prerelease:
		return 0
	case v.prerelease == "":
		return 1
	case other.prerelease == "":
		return -1
	}
	return strings.Compare(v.prerelease, other.prerelease)
}

// Equal reports component-wise equality.
func (v *Version) Equal(other *Version) bool {
	return other != nil && v.Compare(other) == 0
}

// String renders the canonical form: "major.minor.patch", with the
// revision appended only when non-zero, and "-tag" when prerelease.
// This form is the one the lock file records.
func (v *Version) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d.%d.%d", v.core.Major(), v.core.Minor(), v.core.Patch())
	if v.revision != 0 {
		fmt.Fprintf(&b, ".%d", v.revision)
	}
	if v.prerelease != "" {
		b.WriteByte('-')
		b.WriteString(v.prerelease)
	}
	return b.String()
}
