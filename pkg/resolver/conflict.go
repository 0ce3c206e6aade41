package resolver

import (
	"strings"

	"github.com/pindown/pindown/pkg/errors"
)

// Conflict is the terminal resolution error: no combination of versions
// satisfies the requirements. It carries the requirement sets that closed
// off the last branch of the search, with the candidate that introduced
// each requirement, so callers can explain the failure.
type Conflict struct {
	Causes []ConflictTarget
	base   *errors.Error
}

// ConflictTarget describes the unsatisfiable requirements on one target.
type ConflictTarget struct {
	// Target is the resolution target, e.g. "pkg-a" or "pkg-a[extra]".
	Target string
	// Requirements holds the conflicting requirements as written.
	Requirements []string
	// Parents names the pinned candidate that introduced each
	// requirement; empty string marks a user requirement.
	Parents []string
	// NoCandidates is set when the target had no installable candidates
	// at all, as opposed to mutually exclusive constraints.
	NoCandidates bool
}

func newConflict(causes ...conflictError) *Conflict {
	c := &Conflict{}
	for _, ce := range causes {
		t := ConflictTarget{Target: ce.id, NoCandidates: ce.noCandidates}
		for _, cause := range ce.causes {
			t.Requirements = append(t.Requirements, cause.req.Raw)
			parent := ""
			if cause.parent != nil {
				parent = cause.parent.String()
			}
			t.Parents = append(t.Parents, parent)
		}
		c.Causes = append(c.Causes, t)
	}
	c.base = errors.New(errors.ErrCodeConflict, "%s", c.describe())
	return c
}

func (c *Conflict) describe() string {
	var sb strings.Builder
	sb.WriteString("cannot resolve dependencies:")
	for _, t := range c.Causes {
		sb.WriteString("\n  ")
		sb.WriteString(t.Target)
		if t.NoCandidates {
			sb.WriteString(" has no installable candidates")
		} else {
			sb.WriteString(" cannot satisfy all of:")
		}
		for i, req := range t.Requirements {
			sb.WriteString("\n    ")
			sb.WriteString(req)
			if t.Parents[i] != "" {
				sb.WriteString(" (from ")
				sb.WriteString(t.Parents[i])
				sb.WriteString(")")
			}
		}
	}
	return sb.String()
}

func (c *Conflict) Error() string { return c.base.Error() }

// Unwrap exposes the CONFLICT error code to errors.Is.
func (c *Conflict) Unwrap() error { return c.base }
