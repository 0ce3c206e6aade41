package pep440

import (
	"strings"

	"deps.dev/util/semver"

	"github.com/pindown/pindown/pkg/errors"
)

// Specifiers is an ordered conjunction of version specifiers for one
// project, e.g. ">=1.0,<2.0,!=1.3". The empty conjunction matches every
// version. An unsatisfiable conjunction is not a parse error; it simply
// matches nothing and surfaces later as a resolution conflict.
type Specifiers struct {
	raw string
	c   *semver.Constraint
}

// ParseSpecifiers parses a comma-separated specifier list. The empty string
// yields the match-all conjunction. Returns a MALFORMED_REQUIREMENT error on
// syntax errors, naming the offending text.
func ParseSpecifiers(s string) (Specifiers, error) {
	s = strings.TrimSpace(s)
	c, err := semver.PyPI.ParseConstraint(s)
	if err != nil {
		return Specifiers{}, errors.Wrap(errors.ErrCodeMalformedRequirement, err, "parsing version specifiers %q", s)
	}
	return Specifiers{raw: s, c: c}, nil
}

// MustParseSpecifiers is ParseSpecifiers for tests; it panics on error.
func MustParseSpecifiers(s string) Specifiers {
	sp, err := ParseSpecifiers(s)
	if err != nil {
		panic(err)
	}
	return sp
}

// String returns the specifiers as originally written.
func (s Specifiers) String() string { return s.raw }

// IsEmpty reports whether the conjunction has no specifiers at all, i.e.
// matches everything.
func (s Specifiers) IsEmpty() bool { return s.raw == "" }

// Match reports whether v satisfies every specifier in the conjunction.
// Pre-release versions only match when the conjunction itself mentions a
// pre-release, mirroring pip's default behavior.
func (s Specifiers) Match(v Version) bool {
	if s.c == nil {
		return true
	}
	return s.c.MatchVersion(v.v)
}

// MatchPrerelease is Match with pre-release versions always eligible, used
// when the caller explicitly allows pre-releases or when nothing else
// matches.
func (s Specifiers) MatchPrerelease(v Version) bool {
	if s.c == nil {
		return true
	}
	return s.c.MatchVersionPrerelease(v.v)
}

// HasPrerelease reports whether any specifier in the conjunction mentions a
// pre-release version, which makes pre-releases eligible candidates.
func (s Specifiers) HasPrerelease() bool {
	return s.c != nil && s.c.HasPrerelease()
}

// IsPinned reports whether the conjunction pins an exact version with == or
// ===. Used by the resolver's preference ordering.
func (s Specifiers) IsPinned() bool {
	return strings.Contains(s.raw, "==")
}

// And returns the conjunction of s and o. Joining is textual; both inputs
// already parsed, so the result parses too unless the two sides are
// individually empty.
func (s Specifiers) And(o Specifiers) (Specifiers, error) {
	switch {
	case s.IsEmpty():
		return o, nil
	case o.IsEmpty():
		return s, nil
	}
	return ParseSpecifiers(s.raw + "," + o.raw)
}
