// Package resolver implements backtracking dependency resolution for
// Python requirements.
//
// The algorithm is a port of resolvelib, the resolver vendored by pip: a
// stack of states holds the versions pinned so far, criteria track the
// requirements accumulated per target, and conflicts unwind the stack
// while recording which versions are known not to work. Candidate
// discovery and metadata extraction are pluggable through the
// CandidateSupplier and RequirementExpander interfaces; everything fetched
// is memoized for the lifetime of one Resolve call.
package resolver

import (
	"context"
	"strings"
	"time"

	"github.com/pindown/pindown/pkg/errors"
	"github.com/pindown/pindown/pkg/metadata"
	"github.com/pindown/pindown/pkg/pymarker"
	"github.com/pindown/pindown/pkg/pypi"
	"github.com/pindown/pindown/pkg/pyreq"
)

const (
	// DefaultMaxRounds bounds the solver's pin/backtrack iterations, the
	// same cap pip uses.
	DefaultMaxRounds = 200000

	// DefaultPrefetch is how many root projects are warmed concurrently
	// before solving starts.
	DefaultPrefetch = 10
)

// Options configures a Resolver.
type Options struct {
	// Environment is the target interpreter and platform. Required.
	Environment *pymarker.Environment
	// MaxRounds bounds solver iterations (default: 200000).
	MaxRounds int
	// Prereleases admits pre and dev releases for every requirement.
	Prereleases bool
	// Prefetch is the number of concurrent index fetches used to warm the
	// candidate cache before solving (default: 10).
	Prefetch int
	// Supplier and Expander override the index-backed implementations.
	// Both must be set together with nil Client, or neither.
	Supplier CandidateSupplier
	Expander RequirementExpander
	// Client and Extractor build the default supplier when Supplier is
	// nil.
	Client    *pypi.Client
	Extractor *metadata.Extractor
	// Logger receives progress messages (optional).
	Logger func(string, ...any)
}

// WithDefaults returns a copy of Options with zero values replaced by defaults.
func (o Options) WithDefaults() Options {
	opts := o
	if opts.MaxRounds <= 0 {
		opts.MaxRounds = DefaultMaxRounds
	}
	if opts.Prefetch <= 0 {
		opts.Prefetch = DefaultPrefetch
	}
	if opts.Logger == nil {
		opts.Logger = func(string, ...any) {}
	}
	return opts
}

// Resolver resolves sets of requirements against a package index.
type Resolver struct {
	opts Options
}

// New creates a Resolver. The environment is mandatory; candidate
// discovery needs it to filter wheels and markers.
func New(opts Options) (*Resolver, error) {
	opts = opts.WithDefaults()
	if opts.Environment == nil {
		return nil, errors.New(errors.ErrCodeInvalidInput, "resolver requires an environment")
	}
	if opts.Supplier == nil {
		if opts.Client == nil {
			return nil, errors.New(errors.ErrCodeInvalidInput, "resolver requires a supplier or an index client")
		}
		if opts.Extractor == nil {
			opts.Extractor = metadata.NewExtractor(opts.Client, metadata.Options{Logger: opts.Logger})
		}
	}
	return &Resolver{opts: opts}, nil
}

// Resolve pins a version for every requirement reachable from reqs in the
// configured environment. Requirements whose markers exclude the
// environment are dropped up front. The result is deterministic for a
// fixed index state.
//
// Unsatisfiable requirement sets yield a *Conflict error (code CONFLICT).
// Hitting MaxRounds or the context deadline yields RESOLUTION_TIMED_OUT.
func (r *Resolver) Resolve(ctx context.Context, reqs []*pyreq.Requirement) (*Resolution, error) {
	t0 := time.Now()
	opts := r.opts

	// Every Resolve call gets a fresh run: memoization never leaks
	// between runs, so an index change between calls is picked up.
	run := &run{
		opts:     opts,
		env:      opts.Environment,
		supplier: opts.Supplier,
		expander: opts.Expander,
		direct:   make(map[string]*pypi.Candidate),
	}
	var index *indexSupplier
	if run.supplier == nil {
		index = newIndexSupplier(opts.Client, opts.Extractor, opts.Environment, opts.Prereleases)
		run.supplier = index
		run.expander = index
	}

	// Drop requirements whose markers exclude this environment, and
	// record the order of the rest for preference scoring.
	active := make([]*pyreq.Requirement, 0, len(reqs))
	run.userRequested = make(map[string]int, len(reqs))
	for _, req := range reqs {
		if !req.Applies(opts.Environment, nil) {
			opts.Logger("skipping %s: marker excludes %s", req, opts.Environment)
			continue
		}
		if _, ok := run.userRequested[req.ID()]; !ok {
			run.userRequested[req.ID()] = len(active)
		}
		active = append(active, req)
	}
	if len(active) == 0 {
		return &Resolution{Duration: time.Since(t0)}, nil
	}

	if index != nil {
		index.prefetch(ctx, active, opts.Prefetch)
	}

	res := resolution{run: run}
	state, err := res.resolve(ctx, active, opts.MaxRounds)
	if err != nil {
		return nil, err
	}

	result, err := buildResult(state, active)
	if err != nil {
		return nil, err
	}
	result.Duration = time.Since(t0)
	return result, nil
}

// run is the per-Resolve context: the supplier, the expander, and every
// run-scoped cache. Nothing in here outlives the Resolve call that created
// it.
type run struct {
	opts          Options
	env           *pymarker.Environment
	supplier      CandidateSupplier
	expander      RequirementExpander
	userRequested map[string]int
	// direct holds synthesized candidates for "name @ url" requirements,
	// keyed by target ID.
	direct map[string]*pypi.Candidate
}

// candidatesFor builds the full preference-ordered candidate sequence for
// a requirement's target.
func (r *run) candidatesFor(ctx context.Context, req *pyreq.Requirement) (*candidateSeq, error) {
	if req.URL != "" {
		dist, err := r.directCandidate(req)
		if err != nil {
			return nil, err
		}
		c := &Candidate{Name: req.Name, Extras: req.Extras, Dist: dist}
		return newCandidateSeq([]*Candidate{c}, true), nil
	}
	dists, err := r.supplier.Candidates(ctx, req.Name)
	if err != nil {
		return nil, err
	}
	cands := make([]*Candidate, len(dists))
	for i, d := range dists {
		cands[i] = &Candidate{Name: req.Name, Extras: req.Extras, Dist: d}
	}
	return newCandidateSeq(cands, r.opts.Prereleases), nil
}

// directCandidate synthesizes the single candidate for a direct URL
// requirement. The version must be recoverable from the filename.
func (r *run) directCandidate(req *pyreq.Requirement) (*pypi.Candidate, error) {
	if c, ok := r.direct[req.ID()]; ok {
		return c, nil
	}
	filename := req.URL
	if i := strings.LastIndexByte(filename, '/'); i >= 0 {
		filename = filename[i+1:]
	}
	if i := strings.IndexAny(filename, "?#"); i >= 0 {
		filename = filename[:i]
	}
	c, err := pypi.CandidateFromFilename(req.Name, filename, req.URL)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeMalformedRequirement, err,
			"direct requirement %s", req.Raw)
	}
	r.direct[req.ID()] = c
	return c, nil
}

// dependencies returns the requirements a pinned candidate introduces,
// with environment markers already applied. Extras candidates additionally
// pin their base project to the same version, which is what keeps
// "requests" and "requests[socks]" on one release.
func (r *run) dependencies(ctx context.Context, c *Candidate) ([]*pyreq.Requirement, error) {
	deps, err := r.expander.Expand(ctx, c.Dist)
	if err != nil {
		return nil, err
	}
	var extras map[string]bool
	var out []*pyreq.Requirement
	if len(c.Extras) > 0 {
		extras = make(map[string]bool, len(c.Extras))
		for _, e := range c.Extras {
			extras[e] = true
		}
		base, err := pyreq.Parse(c.Name + "==" + c.Dist.Version.String())
		if err != nil {
			return nil, err
		}
		out = append(out, base)
	}
	for _, d := range deps {
		if d.Applies(r.env, extras) {
			out = append(out, d)
		}
	}
	return out, nil
}

// preference scores a target for "which unsatisfied criterion next". Lower
// sorts first. The shape follows pip: prefer targets with pinning
// requirements, then any constraint at all, then user order, then name.
func (r *run) preference(id string, crit criterion) preferenceKey {
	key := preferenceKey{name: id, restrictiveRating: 3}
	for _, req := range crit.reqs {
		if req.URL != "" || req.Specifiers.IsPinned() {
			key.restrictiveRating = 1
			break
		}
		if !req.Specifiers.IsEmpty() {
			key.restrictiveRating = 2
			break
		}
	}
	key.order = int(^uint(0) >> 1)
	if ur, ok := r.userRequested[id]; ok {
		key.order = ur
	}
	// setuptools has thousands of releases and is rarely constrained;
	// deciding it early causes pathological backtracking.
	key.delayThis = strings.HasPrefix(id, "setuptools")
	return key
}

type preferenceKey struct {
	delayThis         bool
	restrictiveRating int
	order             int
	name              string
}

func (k preferenceKey) Less(o preferenceKey) bool {
	if k.delayThis != o.delayThis {
		return !k.delayThis
	}
	if k.restrictiveRating != o.restrictiveRating {
		return k.restrictiveRating < o.restrictiveRating
	}
	if k.order != o.order {
		return k.order < o.order
	}
	return k.name < o.name
}
