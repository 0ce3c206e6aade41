package resolver

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/pindown/pindown/pkg/errors"
	"github.com/pindown/pindown/pkg/pyreq"
)

// state is one frame of the resolution: the versions pinned so far and the
// accumulated criteria. The solver keeps a stack of these so backtracking
// can unwind to any earlier decision point.
type state struct {
	pins     *versionMap
	criteria *criteria
}

// criterion captures everything known about one resolution target: the
// requirements placed on it, the candidate that introduced each
// requirement, and the candidates still in play.
type criterion struct {
	// reqs and parents are parallel slices; a nil parent means the
	// requirement came from the user. Shared between states, never
	// mutated in place.
	reqs    []*pyreq.Requirement
	parents []*Candidate
	// banned holds version keys discovered not to work during
	// backtracking. Banned versions migrate out of seq and never return.
	banned map[string]bool
	// seq is the restartable sequence of candidates that satisfy every
	// requirement so far, most preferred first.
	seq *candidateSeq
}

func (c criterion) copy() criterion {
	banned := make(map[string]bool, len(c.banned))
	for k := range c.banned {
		banned[k] = true
	}
	return criterion{
		reqs:    c.reqs,
		parents: c.parents,
		banned:  banned,
		seq:     c.seq,
	}
}

// criteria is an ordered collection of criterion keyed by target ID, kept
// sorted so state copies and iteration are deterministic.
type criteria []criterionPair

type criterionPair struct {
	id   string
	crit criterion
}

func newCriteria() *criteria {
	c := criteria([]criterionPair{})
	return &c
}

func (c *criteria) Copy() *criteria {
	d := make(criteria, len(*c))
	copy(d, *c)
	return &d
}

func (c criteria) Get(id string) (criterion, bool) {
	i := sort.Search(len(c), func(i int) bool { return c[i].id >= id })
	if i < len(c) && c[i].id == id {
		return c[i].crit, true
	}
	return criterion{}, false
}

func (c *criteria) Put(id string, crit criterion) {
	cs := *c
	i := sort.Search(len(cs), func(i int) bool { return cs[i].id >= id })
	switch {
	case i < len(cs) && cs[i].id == id:
		cs[i].crit = crit
	case i < len(cs):
		cs = append(cs[:i+1], cs[i:]...)
		cs[i] = criterionPair{id: id, crit: crit}
	default:
		cs = append(cs, criterionPair{id: id, crit: crit})
	}
	*c = cs
}

// resolution drives one backtracking search. It maps directly onto
// resolvelib's Resolution class.
type resolution struct {
	run    *run
	states []*state
}

func (r *resolution) state() *state {
	if len(r.states) == 0 {
		return nil
	}
	return r.states[len(r.states)-1]
}

func (r *resolution) pushNewState() {
	base := r.state()
	r.states = append(r.states, &state{
		pins:     base.pins.Clone(),
		criteria: base.criteria.Copy(),
	})
}

// conflictCause pairs a failed requirement with the candidate that
// introduced it.
type conflictCause struct {
	req    *pyreq.Requirement
	parent *Candidate
}

// conflictError signals that a set of requirements on one target admits no
// candidate. It flows through the solver to trigger backtracking and only
// becomes a user-facing *Conflict when the search is exhausted.
type conflictError struct {
	id           string
	noCandidates bool
	causes       []conflictCause
}

func (e conflictError) Error() string {
	var reqs []string
	for _, c := range e.causes {
		reqs = append(reqs, c.req.Raw)
	}
	if e.noCandidates {
		return fmt.Sprintf("no candidates at all for %s %q", e.id, strings.Join(reqs, ", "))
	}
	return fmt.Sprintf("requirements conflict for %s: %q", e.id, strings.Join(reqs, ", "))
}

// mergeIntoCriterion folds a new requirement into the target's criterion,
// narrowing its candidate sequence. The current state is left untouched;
// the caller installs the returned criterion once the whole batch works.
func (r *resolution) mergeIntoCriterion(ctx context.Context, req *pyreq.Requirement, parent *Candidate) (string, criterion, error) {
	id := req.ID()
	crit, known := r.state().criteria.Get(id)

	// The same requirement from the same parent is a no-op.
	for i, old := range crit.reqs {
		if old.Raw == req.Raw && crit.parents[i] == parent {
			return id, crit, nil
		}
	}

	var seq *candidateSeq
	if known {
		seq = crit.seq.narrow(req.Specifiers)
	} else {
		base, err := r.run.candidatesFor(ctx, req)
		if err != nil {
			if errors.Is(err, errors.ErrCodeProjectNotFound) {
				return "", criterion{}, conflictError{
					id:           id,
					noCandidates: true,
					causes:       []conflictCause{{req: req, parent: parent}},
				}
			}
			return "", criterion{}, err
		}
		seq = base.narrow(req.Specifiers)
	}
	if seq.empty() {
		causes := make([]conflictCause, 0, len(crit.reqs)+1)
		for i := range crit.reqs {
			causes = append(causes, conflictCause{req: crit.reqs[i], parent: crit.parents[i]})
		}
		causes = append(causes, conflictCause{req: req, parent: parent})
		return "", criterion{}, conflictError{id: id, noCandidates: !known, causes: causes}
	}

	newCrit := crit.copy()
	newCrit.reqs = append(crit.reqs[:len(crit.reqs):len(crit.reqs)], req)
	newCrit.parents = append(crit.parents[:len(crit.parents):len(crit.parents)], parent)
	newCrit.seq = seq
	return id, newCrit, nil
}

// pinSatisfied reports whether the current pin for a target is still
// admitted by its criterion.
func (r *resolution) pinSatisfied(id string, crit criterion) bool {
	pin, ok := r.state().pins.Get(id)
	if !ok {
		return false
	}
	return crit.seq.contains(pin.versionKey())
}

// criteriaToUpdate collects the merged criteria for everything a candidate
// depends on, without touching the current state.
func (r *resolution) criteriaToUpdate(ctx context.Context, c *Candidate) (map[string]criterion, error) {
	deps, err := r.run.dependencies(ctx, c)
	if err != nil {
		return nil, err
	}
	updates := make(map[string]criterion, len(deps))
	for _, d := range deps {
		id, crit, err := r.mergeIntoCriterion(ctx, d, c)
		if err != nil {
			return nil, err
		}
		updates[id] = crit
	}
	return updates, nil
}

// attemptToPin tries the target's candidates in preference order until one
// has dependencies compatible with the rest of the state. It returns the
// conflicts encountered when every candidate fails.
func (r *resolution) attemptToPin(ctx context.Context, id string) ([]conflictError, error) {
	crit, _ := r.state().criteria.Get(id)
	var causes []conflictError
	var pinned bool
	var outerErr error

	crit.seq.each(func(candidate *Candidate) bool {
		updates, err := r.criteriaToUpdate(ctx, candidate)
		if err != nil {
			var ce conflictError
			if errors.As(err, &ce) {
				causes = append(causes, ce)
				return true // try the next candidate
			}
			if errors.Is(err, errors.ErrCodeMetadataUnavailable) {
				// A candidate whose metadata cannot be extracted is
				// not installable. Prune it and move on; if nothing
				// else remains the gathered causes become a
				// conflict.
				ce = conflictError{id: id}
				for i := range crit.reqs {
					ce.causes = append(ce.causes, conflictCause{req: crit.reqs[i], parent: crit.parents[i]})
				}
				causes = append(causes, ce)
				return true
			}
			outerErr = err
			return false
		}
		s := r.state()
		s.pins.Set(id, candidate)
		for n, c := range updates {
			s.criteria.Put(n, c)
		}
		pinned = true
		return false
	})

	if outerErr != nil {
		return nil, outerErr
	}
	if pinned {
		return nil, nil
	}
	return causes, nil
}

// backtrack unwinds the state stack after a failed pin, recording the
// offending version as an incompatibility at the first state that still
// has alternatives.
func (r *resolution) backtrack(ctx context.Context) (bool, error) {
	for len(r.states) >= 3 {
		// Drop the state that triggered backtracking; the one now on
		// top holds the pin that caused it.
		r.states = r.states[:len(r.states)-1]
		broken := r.state()
		r.states = r.states[:len(r.states)-1]

		id, candidate := broken.pins.Pop()

		// Carry over incompatibilities discovered below the broken
		// state, plus the newly discovered one.
		type incompat struct {
			id   string
			keys map[string]bool
		}
		var incompats []incompat
		for _, pair := range *broken.criteria {
			if len(pair.crit.banned) > 0 {
				incompats = append(incompats, incompat{id: pair.id, keys: pair.crit.banned})
			}
		}
		incompats = append(incompats, incompat{
			id:   id,
			keys: map[string]bool{candidate.versionKey(): true},
		})

		r.pushNewState()
		ok := true
		for _, inc := range incompats {
			crit, found := r.state().criteria.Get(inc.id)
			if !found {
				continue
			}
			merged := make(map[string]bool, len(crit.banned)+len(inc.keys))
			for k := range crit.banned {
				merged[k] = true
			}
			for k := range inc.keys {
				merged[k] = true
			}
			newCrit := crit.copy()
			newCrit.banned = merged
			newCrit.seq = crit.seq.ban(inc.keys)
			if newCrit.seq.empty() {
				ok = false
				break
			}
			r.state().criteria.Put(inc.id, newCrit)
		}
		if ok {
			return true, nil
		}
		// This state cannot absorb the new incompatibilities. Leave the
		// fresh copy on top; the next iteration removes it as the trigger
		// and unwinds one more pin.
	}
	return false, nil
}

// resolve runs the search loop for at most maxRounds iterations.
func (r *resolution) resolve(ctx context.Context, reqs []*pyreq.Requirement, maxRounds int) (*state, error) {
	if len(r.states) != 0 {
		return nil, errors.New(errors.ErrCodeInternal, "resolution already ran")
	}
	r.states = []*state{{pins: newVersionMap(), criteria: newCriteria()}}

	for _, req := range reqs {
		id, crit, err := r.mergeIntoCriterion(ctx, req, nil)
		if err != nil {
			var ce conflictError
			if errors.As(err, &ce) {
				return nil, newConflict(ce)
			}
			return nil, err
		}
		r.state().criteria.Put(id, crit)
	}
	// Keep a pristine first state so there is always something to
	// backtrack to.
	r.pushNewState()

	var unsatisfied []string
	for round := 0; round < maxRounds; round++ {
		if round%100 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, errors.Wrap(errors.ErrCodeResolutionTimedOut, err,
					"resolution canceled after %d rounds", round)
			}
		}
		s := r.state()

		unsatisfied = unsatisfied[:0]
		for _, pair := range *s.criteria {
			if !r.pinSatisfied(pair.id, pair.crit) {
				unsatisfied = append(unsatisfied, pair.id)
			}
		}
		if len(unsatisfied) == 0 {
			return s, nil
		}

		next := unsatisfied[0]
		best := r.preference(next)
		for _, id := range unsatisfied[1:] {
			if key := r.preference(id); key.Less(best) {
				next = id
				best = key
			}
		}

		causes, err := r.attemptToPin(ctx, next)
		if err != nil {
			return nil, err
		}
		if len(causes) > 0 {
			ok, err := r.backtrack(ctx)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, newConflict(causes...)
			}
		} else {
			r.pushNewState()
		}
	}
	return nil, errors.New(errors.ErrCodeResolutionTimedOut,
		"resolution gave up after %d rounds", maxRounds)
}

func (r *resolution) preference(id string) preferenceKey {
	crit, _ := r.state().criteria.Get(id)
	return r.run.preference(id, crit)
}
