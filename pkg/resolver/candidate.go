package resolver

import (
	"strings"

	"github.com/pindown/pindown/pkg/pep440"
	"github.com/pindown/pindown/pkg/pypi"
)

// Candidate is a pinnable choice for one resolution target: a distribution
// file, plus the extras the target asks of it. The same file can back both
// "requests" and "requests[socks]"; the two are distinct candidates for
// distinct targets.
type Candidate struct {
	// Name is the normalized project name.
	Name string
	// Extras carries the target's extras, sorted.
	Extras []string
	// Dist is the distribution file backing this candidate.
	Dist *pypi.Candidate
}

// ID returns the identity of the target this candidate satisfies.
func (c *Candidate) ID() string {
	if len(c.Extras) == 0 {
		return c.Name
	}
	return c.Name + "[" + strings.Join(c.Extras, ",") + "]"
}

// Version returns the candidate's release version.
func (c *Candidate) Version() pep440.Version {
	return c.Dist.Version
}

func (c *Candidate) String() string {
	return c.ID() + "==" + c.Dist.Version.String()
}

// versionKey is the value incompatibility sets and pins are compared by.
// Extras variants of the same release share a key on purpose: they must pin
// the same version.
func (c *Candidate) versionKey() string {
	return c.Dist.Version.Canon()
}

// candidateSeq is a lazily filtered view over a supplier's preference-ordered
// candidate list. Narrowing never re-fetches: each derived sequence keeps
// the same base slice and adds constraints, and every iteration restarts
// from the top of the base. Sequences are immutable; narrow and ban return
// new ones.
type candidateSeq struct {
	base   []*Candidate        // full list, most preferred first
	specs  []pep440.Specifiers // every spec must match
	banned map[string]bool     // version keys known not to work
	// allowPre admits prerelease versions. Set when the caller asked for
	// them, when any spec mentions a prerelease, or when the project has
	// no stable releases at all.
	allowPre bool
}

func newCandidateSeq(base []*Candidate, prereleases bool) *candidateSeq {
	allow := prereleases
	if !allow {
		allow = true
		for _, c := range base {
			if !c.Dist.Version.IsPrerelease() {
				allow = false
				break
			}
		}
	}
	return &candidateSeq{base: base, allowPre: allow}
}

// narrow returns a sequence additionally constrained by spec.
func (s *candidateSeq) narrow(spec pep440.Specifiers) *candidateSeq {
	n := *s
	if !spec.IsEmpty() {
		n.specs = append(s.specs[:len(s.specs):len(s.specs)], spec)
		n.allowPre = n.allowPre || spec.HasPrerelease()
	}
	return &n
}

// ban returns a sequence that also excludes the given version keys.
func (s *candidateSeq) ban(keys map[string]bool) *candidateSeq {
	n := *s
	merged := make(map[string]bool, len(s.banned)+len(keys))
	for k := range s.banned {
		merged[k] = true
	}
	for k := range keys {
		merged[k] = true
	}
	n.banned = merged
	return &n
}

func (s *candidateSeq) admits(c *Candidate) bool {
	if s.banned[c.versionKey()] {
		return false
	}
	v := c.Dist.Version
	if v.IsPrerelease() && !s.allowPre {
		return false
	}
	for _, spec := range s.specs {
		if s.allowPre {
			if !spec.MatchPrerelease(v) {
				return false
			}
		} else if !spec.Match(v) {
			return false
		}
	}
	return true
}

// each calls f on the admitted candidates in preference order, stopping
// when f returns false.
func (s *candidateSeq) each(f func(*Candidate) bool) {
	for _, c := range s.base {
		if !s.admits(c) {
			continue
		}
		if !f(c) {
			return
		}
	}
}

// empty reports whether no candidate is admitted.
func (s *candidateSeq) empty() bool {
	found := false
	s.each(func(*Candidate) bool {
		found = true
		return false
	})
	return !found
}

// contains reports whether the sequence admits a candidate with the given
// version key.
func (s *candidateSeq) contains(key string) bool {
	found := false
	s.each(func(c *Candidate) bool {
		if c.versionKey() == key {
			found = true
			return false
		}
		return true
	})
	return found
}

// versionMap maps target IDs to pinned candidates while tracking insertion
// order, so the most recent pin can be removed during backtracking.
type versionMap struct {
	m     map[string]*Candidate
	stack []string
}

func newVersionMap() *versionMap {
	return &versionMap{m: make(map[string]*Candidate)}
}

func (v *versionMap) Len() int { return len(v.m) }

func (v *versionMap) Get(id string) (*Candidate, bool) {
	c, ok := v.m[id]
	return c, ok
}

// Set records a pin. Re-pinning an existing target moves it to the top of
// the insertion order.
func (v *versionMap) Set(id string, c *Candidate) {
	for i, p := range v.stack {
		if p == id {
			v.stack = append(v.stack[:i], v.stack[i+1:]...)
			break
		}
	}
	v.m[id] = c
	v.stack = append(v.stack, id)
}

// Pop removes and returns the most recent pin.
func (v *versionMap) Pop() (string, *Candidate) {
	if len(v.stack) == 0 {
		return "", nil
	}
	id := v.stack[len(v.stack)-1]
	c := v.m[id]
	delete(v.m, id)
	v.stack = v.stack[:len(v.stack)-1]
	return id, c
}

// Iterate applies f to every pin in insertion order.
func (v *versionMap) Iterate(f func(string, *Candidate)) {
	for _, id := range v.stack {
		f(id, v.m[id])
	}
}

// Clone copies the map and its insertion order.
func (v *versionMap) Clone() *versionMap {
	w := &versionMap{
		m:     make(map[string]*Candidate, len(v.m)),
		stack: append([]string(nil), v.stack...),
	}
	for id, c := range v.m {
		w.m[id] = c
	}
	return w
}
