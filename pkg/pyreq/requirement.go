// Package pyreq models PEP 508 requirement statements and pip-style
// requirements files.
package pyreq

import (
	"sort"
	"strings"

	"github.com/pindown/pindown/pkg/errors"
	"github.com/pindown/pindown/pkg/pep440"
	"github.com/pindown/pindown/pkg/pymarker"
)

// Requirement is a parsed PEP 508 requirement such as
// "requests[socks]>=2.20,<3; python_version >= '3.7'". Requirements are
// immutable once parsed; share them freely.
type Requirement struct {
	// Name is the PEP 503 normalized project name.
	Name string
	// Extras holds the requested extras, normalized and sorted.
	Extras []string
	// Specifiers is the version constraint. Empty means any version. URL
	// requirements carry no specifiers.
	Specifiers pep440.Specifiers
	// Marker is the environment marker, or nil when the requirement is
	// unconditional.
	Marker *pymarker.Marker
	// URL is set for direct references ("name @ https://...").
	URL string
	// Raw is the requirement as originally written.
	Raw string
}

// Parse parses a PEP 508 requirement statement, including direct URL
// references. Failures carry MALFORMED_REQUIREMENT and name the offending
// input.
func Parse(raw string) (*Requirement, error) {
	const whitespace = " \t"
	s := strings.Trim(raw, whitespace)
	if s == "" {
		return nil, errors.New(errors.ErrCodeMalformedRequirement, "empty requirement")
	}

	r := &Requirement{Raw: raw}

	// Name runs until whitespace or the start of extras, a constraint, a
	// direct reference, or a marker.
	nameEnd := strings.IndexAny(s, whitespace+"[(;@<=!~>")
	if nameEnd == 0 {
		return nil, errors.New(errors.ErrCodeMalformedRequirement,
			"requirement %q has an empty name", raw)
	}
	name := s
	if nameEnd > 0 {
		name = s[:nameEnd]
		s = strings.TrimLeft(s[nameEnd:], whitespace)
	} else {
		s = ""
	}
	if !validName(name) {
		return nil, errors.New(errors.ErrCodeMalformedRequirement,
			"requirement %q has an invalid name %q", raw, name)
	}
	r.Name = pep440.CanonName(name)

	if len(s) > 0 && s[0] == '[' {
		end := strings.IndexByte(s, ']')
		if end < 0 {
			return nil, errors.New(errors.ErrCodeMalformedRequirement,
				"requirement %q has an unterminated extras list", raw)
		}
		for _, e := range strings.Split(s[1:end], ",") {
			e = strings.Trim(e, whitespace)
			if e == "" {
				continue
			}
			r.Extras = append(r.Extras, pep440.CanonName(e))
		}
		sort.Strings(r.Extras)
		s = strings.TrimLeft(s[end+1:], whitespace)
	}

	if len(s) > 0 && s[0] == '@' {
		// Direct reference: everything up to an unquoted ';' is the URL.
		rest := strings.TrimLeft(s[1:], whitespace)
		url := rest
		if i := strings.IndexByte(rest, ';'); i >= 0 {
			url = strings.Trim(rest[:i], whitespace)
			s = rest[i:]
		} else {
			s = ""
		}
		if url == "" {
			return nil, errors.New(errors.ErrCodeMalformedRequirement,
				"requirement %q has an empty URL", raw)
		}
		r.URL = url
	} else if len(s) > 0 && s[0] != ';' {
		spec := s
		if i := strings.IndexByte(s, ';'); i >= 0 {
			spec = s[:i]
			s = s[i:]
		} else {
			s = ""
		}
		spec = strings.Trim(spec, whitespace)
		// pip accepts a parenthesized constraint, a leftover of the old
		// METADATA format.
		if strings.HasPrefix(spec, "(") && strings.HasSuffix(spec, ")") {
			spec = strings.Trim(spec[1:len(spec)-1], whitespace)
		}
		ss, err := pep440.ParseSpecifiers(spec)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeMalformedRequirement, err,
				"requirement %q has an invalid version constraint", raw)
		}
		r.Specifiers = ss
	}

	if len(s) > 0 {
		if s[0] != ';' {
			return nil, errors.New(errors.ErrCodeMalformedRequirement,
				"requirement %q has trailing text %q", raw, s)
		}
		markerText := strings.Trim(s[1:], whitespace)
		if markerText == "" {
			return nil, errors.New(errors.ErrCodeMalformedRequirement,
				"requirement %q has an empty marker", raw)
		}
		m, err := pymarker.ParseMarker(markerText)
		if err != nil {
			return nil, err
		}
		r.Marker = m
	}
	return r, nil
}

// MustParse is Parse for static requirement strings in tests and examples.
func MustParse(raw string) *Requirement {
	r, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return r
}

// validName enforces the PEP 508 name grammar: letters, digits, '.', '-'
// and '_', starting and ending with a letter or digit.
func validName(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		case c == '.' || c == '-' || c == '_':
			if i == 0 || i == len(name)-1 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// ID identifies the resolution target this requirement constrains. A name
// with different extras is a distinct target, so extras are part of the
// identity: "requests" and "requests[socks]" resolve separately (to the
// same pinned version, enforced by the dependency the extras variant
// carries on its base).
func (r *Requirement) ID() string {
	if len(r.Extras) == 0 {
		return r.Name
	}
	return r.Name + "[" + strings.Join(r.Extras, ",") + "]"
}

// Applies reports whether the requirement is active in the given
// environment with the given extras requested of its parent. A nil marker
// always applies.
func (r *Requirement) Applies(env *pymarker.Environment, extras map[string]bool) bool {
	if r.Marker == nil {
		return true
	}
	return r.Marker.Eval(env, extras)
}

// String renders the requirement canonically.
func (r *Requirement) String() string {
	var b strings.Builder
	b.WriteString(r.Name)
	if len(r.Extras) > 0 {
		b.WriteString("[")
		b.WriteString(strings.Join(r.Extras, ","))
		b.WriteString("]")
	}
	if r.URL != "" {
		b.WriteString(" @ ")
		b.WriteString(r.URL)
	} else if !r.Specifiers.IsEmpty() {
		b.WriteString(r.Specifiers.String())
	}
	if r.Marker != nil {
		b.WriteString("; ")
		b.WriteString(r.Marker.String())
	}
	return b.String()
}
