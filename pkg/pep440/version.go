// Package pep440 models Python package versions and version specifiers.
//
// Version parsing and ordering follow PEP 440 (release segments, epochs,
// pre/post/dev suffixes, local identifiers) and are delegated to the PyPI
// system of deps.dev/util/semver, which implements the full comparison
// rules. This package adds the typed layer the resolver works with: parsed
// versions that remember their original spelling, and specifier conjunctions
// that can be narrowed as new requirements arrive.
package pep440

import (
	"sort"
	"strings"

	"deps.dev/util/pypi"
	"deps.dev/util/semver"

	"github.com/pindown/pindown/pkg/errors"
)

// Version is a parsed PEP 440 version. The zero value is not valid; use
// Parse. Version values are immutable and safe to copy.
type Version struct {
	raw string
	v   *semver.Version
}

// Parse parses a version string. Returns an INVALID_VERSION error on
// malformed input.
func Parse(s string) (Version, error) {
	v, err := semver.PyPI.Parse(s)
	if err != nil {
		return Version{}, errors.Wrap(errors.ErrCodeInvalidVersion, err, "parsing version %q", s)
	}
	return Version{raw: s, v: v}, nil
}

// MustParse is Parse for tests and constants; it panics on error.
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// String returns the version as originally written.
func (v Version) String() string { return v.raw }

// Canon returns the canonicalized form ("1.0" -> "1.0.0" stays "1.0";
// "1.0.post" -> "1.0.post0" and so on).
func (v Version) Canon() string {
	if v.v == nil {
		return v.raw
	}
	return v.v.Canon(true)
}

// IsZero reports whether v is the zero Version (never produced by Parse).
func (v Version) IsZero() bool { return v.v == nil }

// Compare returns -1, 0 or +1 ordering v against o per PEP 440.
func (v Version) Compare(o Version) int { return v.v.Compare(o.v) }

// Equal reports whether two versions compare equal under PEP 440, which is
// weaker than string equality ("1.0" equals "1.0.0").
func (v Version) Equal(o Version) bool { return v.Compare(o) == 0 }

// IsPrerelease reports whether the version carries a pre-release or dev
// suffix.
func (v Version) IsPrerelease() bool { return v.v.IsPrerelease() }

// Sort orders versions ascending per PEP 440, breaking exact ties by the raw
// string so the order is total and deterministic.
func Sort(vs []Version) {
	sort.SliceStable(vs, func(i, j int) bool {
		if c := vs[i].Compare(vs[j]); c != 0 {
			return c < 0
		}
		return vs[i].raw < vs[j].raw
	})
}

// CanonName returns the canonical (PEP 503) form of a project name:
// lowercase with runs of [-_.] collapsed to a single hyphen.
func CanonName(name string) string {
	return pypi.CanonPackageName(strings.TrimSpace(name))
}

// CanonVersion canonicalizes a version string, returning it unchanged when
// it does not parse.
func CanonVersion(v string) string {
	return pypi.CanonVersion(v)
}
