package resolver

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/pindown/pindown/pkg/metadata"
	"github.com/pindown/pindown/pkg/pymarker"
	"github.com/pindown/pindown/pkg/pypi"
	"github.com/pindown/pindown/pkg/pyreq"
)

// CandidateSupplier finds the installable releases of a project, most
// preferred first. Implementations must be deterministic: the same project
// yields the same ordering for the lifetime of a resolution run.
type CandidateSupplier interface {
	// Candidates returns at most one candidate per release version.
	Candidates(ctx context.Context, name string) ([]*pypi.Candidate, error)
}

// RequirementExpander turns a pinned distribution into its declared
// requirements, unfiltered; the solver applies environment markers itself.
type RequirementExpander interface {
	Expand(ctx context.Context, dist *pypi.Candidate) ([]*pyreq.Requirement, error)
}

// indexSupplier serves candidates and requirements from a package index,
// memoizing for the lifetime of one resolution run. The singleflight
// groups collapse concurrent lookups so prefetching and the solver never
// duplicate a fetch.
type indexSupplier struct {
	client     *pypi.Client
	extractor  *metadata.Extractor
	env        *pymarker.Environment
	prerelease bool

	candGroup singleflight.Group
	depsGroup singleflight.Group

	mu         sync.Mutex
	candidates map[string][]*pypi.Candidate
	deps       map[string][]*pyreq.Requirement
}

func newIndexSupplier(client *pypi.Client, extractor *metadata.Extractor, env *pymarker.Environment, prerelease bool) *indexSupplier {
	return &indexSupplier{
		client:     client,
		extractor:  extractor,
		env:        env,
		prerelease: prerelease,
		candidates: make(map[string][]*pypi.Candidate),
		deps:       make(map[string][]*pyreq.Requirement),
	}
}

// Candidates lists a project's releases newest first, one candidate per
// version. Within a version the index client already prefers wheels, so
// keeping the first file per version keeps the best one.
func (s *indexSupplier) Candidates(ctx context.Context, name string) ([]*pypi.Candidate, error) {
	s.mu.Lock()
	cached, ok := s.candidates[name]
	s.mu.Unlock()
	if ok {
		return cached, nil
	}

	v, err, _ := s.candGroup.Do(name, func() (any, error) {
		files, err := s.client.Candidates(ctx, name, s.env, pypi.CandidateOptions{Prereleases: s.prerelease})
		if err != nil {
			return nil, err
		}
		perVersion := make([]*pypi.Candidate, 0, len(files))
		seen := make(map[string]bool, len(files))
		for _, f := range files {
			key := f.Version.Canon()
			if seen[key] {
				continue
			}
			seen[key] = true
			perVersion = append(perVersion, f)
		}
		s.mu.Lock()
		s.candidates[name] = perVersion
		s.mu.Unlock()
		return perVersion, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]*pypi.Candidate), nil
}

func (s *indexSupplier) Expand(ctx context.Context, dist *pypi.Candidate) ([]*pyreq.Requirement, error) {
	key := dist.Filename
	s.mu.Lock()
	cached, ok := s.deps[key]
	s.mu.Unlock()
	if ok {
		return cached, nil
	}

	v, err, _ := s.depsGroup.Do(key, func() (any, error) {
		d, err := s.extractor.Dependencies(ctx, dist)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.deps[key] = d.Requirements
		s.mu.Unlock()
		return d.Requirements, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]*pyreq.Requirement), nil
}

// prefetch warms the candidate cache for the given requirements
// concurrently. Failures are ignored here; the solver surfaces them with
// proper context when it actually needs the project.
func (s *indexSupplier) prefetch(ctx context.Context, reqs []*pyreq.Requirement, parallelism int) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for _, req := range reqs {
		if req.URL != "" {
			continue
		}
		name := req.Name
		g.Go(func() error {
			_, _ = s.Candidates(gctx, name)
			return nil
		})
	}
	_ = g.Wait()
}
