package version

import (
	"fmt"
	"strings"
)

// Float describes which version component of a range is allowed to drift
// to newer values during resolution.
type Float int

const (
	FloatNone Float = iota
	FloatPrerelease
	FloatRevision
	FloatBuild
	FloatMinor
	FloatMajor
	FloatAbsoluteLatest
)

// Range constrains acceptable versions for a dependency.
// A nil Min or Max leaves that side unbounded.
type Range struct {
	Min          *Version
	Max          *Version
	MinInclusive bool
	MaxInclusive bool
	Float        Float
}

// ParseRange accepts:
//   - "" — unbounded;
//   - a plain version "1.0" — minimum-inclusive, no maximum;
//   - a floating form "1.0.*", "1.*", "*", "1.0.0-*";
//   - a bracket range "[1.0,2.0)", "[1.0]", "(,2.0]".
func ParseRange(s string) (*Range, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return &Range{}, nil
	}
	if strings.HasPrefix(s, "[") || strings.HasPrefix(s, "(") {
		return parseBracketRange(s)
	}
	if strings.Contains(s, "*") {
		return parseFloatRange(s)
	}
	min, err := Parse(s)
	if err != nil {
		return nil, err
	}
	return &Range{Min: min, MinInclusive: true}, nil
}

func parseFloatRange(s string) (*Range, error) {
	if s == "*" {
		return &Range{Float: FloatMajor, Min: MustParse("0"), MinInclusive: true}, nil
	}
	if strings.HasSuffix(s, "-*") {
		min, err := Parse(strings.TrimSuffix(s, "-*"))
		if err != nil {
			return nil, fmt.Errorf("invalid floating range %q: %w", s, err)
		}
		return &Range{Min: min, MinInclusive: true, Float: FloatPrerelease}, nil
	}
	if !strings.HasSuffix(s, ".*") {
		return nil, fmt.Errorf("invalid floating range %q", s)
	}
	base := strings.TrimSuffix(s, ".*")
	min, err := Parse(base)
	if err != nil {
		return nil, fmt.Errorf("invalid floating range %q: %w", s, err)
	}
	var f Float
	switch strings.Count(base, ".") {
	case 0:
		f = FloatMinor
	case 1:
		f = FloatBuild
	case 2:
		f = FloatRevision
	default:
		return nil, fmt.Errorf("invalid floating range %q", s)
	}
	return &Range{Min: min, MinInclusive: true, Float: f}, nil
}

func parseBracketRange(s string) (*Range, error) {
	if len(s) < 3 {
		return nil, fmt.Errorf("invalid range %q", s)
	}
	minInc := s[0] == '['
	last := s[len(s)-1]
	if last != ']' && last != ')' {
		return nil, fmt.Errorf("invalid range %q: unterminated", s)
	}
	maxInc := last == ']'

	inner := s[1 : len(s)-1]
	r := &Range{MinInclusive: minInc, MaxInclusive: maxInc}

	if !strings.Contains(inner, ",") {
		// Exact pin: "[1.0]".
		if !minInc || !maxInc {
			return nil, fmt.Errorf("invalid range %q: exact pin must be inclusive", s)
		}
		v, err := Parse(inner)
		if err != nil {
			return nil, err
		}
		r.Min, r.Max = v, v
		return r, nil
	}

	parts := strings.SplitN(inner, ",", 2)
	lo, hi := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	if lo != "" {
		v, err := Parse(lo)
		if err != nil {
			return nil, err
		}
		r.Min = v
	} else {
		r.MinInclusive = false
	}
	if hi != "" {
		v, err := Parse(hi)
		if err != nil {
			return nil, err
		}
		r.Max = v
	} else {
		r.MaxInclusive = false
	}
	return r, nil
}

// Exact builds the pin [v, v] used by lock-file replay.
func Exact(v *Version) *Range {
	return &Range{Min: v, Max: v, MinInclusive: true, MaxInclusive: true}
}

// Satisfies reports whether v falls within the range bounds. Floating
// ranges additionally require the floated component (and any more
// specific one) to be the only ones drifting past the minimum.
func (r *Range) Satisfies(v *Version) bool {
	if v == nil {
		return false
	}
	if r.Min != nil {
		c := v.Compare(r.Min)
		if c < 0 && r.Float == FloatPrerelease && !r.Min.IsPrerelease() &&
			v.IsPrerelease() && r.floatAdmits(v) {
			// "1.0.0-*" admits every prerelease tag of 1.0.0.
			c = 0
		}
		if c < 0 || (c == 0 && !r.MinInclusive) {
			return false
		}
	}
	if r.Max != nil {
		c := v.Compare(r.Max)
		if c > 0 || (c == 0 && !r.MaxInclusive) {
			return false
		}
	}
	if r.Float != FloatNone && r.Min != nil && !r.floatAdmits(v) {
		return false
	}
	if r.Float == FloatNone && v.IsPrerelease() {
		// Prerelease candidates only match when the minimum itself
		// names a prerelease of the same numeric version.
		return r.Min != nil && r.Min.IsPrerelease() &&
			r.Min.Major() == v.Major() && r.Min.Minor() == v.Minor() &&
			r.Min.Patch() == v.Patch() && r.Min.Revision() == v.Revision()
	}
	return true
}

func (r *Range) floatAdmits(v *Version) bool {
	min := r.Min
	switch r.Float {
	case FloatMajor, FloatAbsoluteLatest:
		return true
	case FloatMinor:
		return v.Major() == min.Major()
	case FloatBuild:
		return v.Major() == min.Major() && v.Minor() == min.Minor()
	case FloatRevision:
		return v.Major() == min.Major() && v.Minor() == min.Minor() &&
			v.Patch() == min.Patch()
	case FloatPrerelease:
		return v.Major() == min.Major() && v.Minor() == min.Minor() &&
			v.Patch() == min.Patch() && v.Revision() == min.Revision()
	}
	return false
}

// AllowsPrerelease reports whether prerelease candidates are admissible.
func (r *Range) AllowsPrerelease() bool {
	if r.Float == FloatPrerelease || r.Float == FloatAbsoluteLatest {
		return true
	}
	return r.Min != nil && r.Min.IsPrerelease()
}

// IsExact reports whether the range pins a single version.
func (r *Range) IsExact() bool {
	return r.Min != nil && r.Max != nil && r.MinInclusive && r.MaxInclusive &&
		r.Min.Equal(r.Max)
}

// String renders the canonical form used for lock-file equality. Every
// range in the system round-trips through this one formatter:
//
//	unbounded              ""
//	exact pin              "[1.2.3]"
//	minimum only           ">= 1.2.3"  (or "> 1.2.3" when exclusive)
//	bounded                "[1.2.3, 2.0.0)"
func (r *Range) String() string {
	if r.Min == nil && r.Max == nil {
		return ""
	}
	if r.IsExact() {
		return "[" + r.Min.String() + "]"
	}
	if r.Max == nil {
		op := ">= "
		if !r.MinInclusive {
			op = "> "
		}
		return op + r.Min.String() + floatSuffix(r.Float)
	}
	var b strings.Builder
	if r.MinInclusive {
		b.WriteByte('[')
	} else {
		b.WriteByte('(')
	}
	if r.Min != nil {
		b.WriteString(r.Min.String())
	}
	b.WriteString(", ")
	b.WriteString(r.Max.String())
	if r.MaxInclusive {
		b.WriteByte(']')
	} else {
		b.WriteByte(')')
	}
	return b.String()
}

func floatSuffix(f Float) string {
	switch f {
	case FloatPrerelease:
		return "-*"
	case FloatRevision, FloatBuild, FloatMinor, FloatMajor:
		return ".*"
	case FloatAbsoluteLatest:
		return " latest"
	}
	return ""
}

// Equal compares ranges by their canonical formatted strings, which is
// the equality the lock file depends on.
func (r *Range) Equal(other *Range) bool {
	if other == nil {
		return false
	}
	return r.String() == other.String()
}
