package resolver

import (
	"sort"
	"time"

	"github.com/pindown/pindown/pkg/errors"
	"github.com/pindown/pindown/pkg/pypi"
	"github.com/pindown/pindown/pkg/pyreq"
)

// Resolution is a successful outcome: a pinned version for every project
// reachable from the input requirements.
type Resolution struct {
	// Packages lists the pinned projects sorted by name. Extras targets
	// are folded into their base project; both always pin the same
	// version.
	Packages []Package
	// Edges records which requirement introduced each package. An empty
	// From marks a user requirement.
	Edges []Edge
	// Duration is the wall time the resolution took.
	Duration time.Duration
}

// Package is one resolved project.
type Package struct {
	Name    string
	Version string
	// Dist is the distribution file the pin is backed by.
	Dist *pypi.Candidate
}

// Edge is one dependency relationship in the resolved graph.
type Edge struct {
	From        string // parent project name, empty for user requirements
	To          string
	Requirement string // the requirement as written
}

// Find returns the resolved package with the given name, if present.
func (r *Resolution) Find(name string) (Package, bool) {
	for _, p := range r.Packages {
		if p.Name == name {
			return p, true
		}
	}
	return Package{}, false
}

// buildResult converts a finished solver state into a Resolution. The
// solver does not always clean up pins orphaned by backtracking, so
// anything without a requirement path back to the user's requirements is
// filtered out, the same pruning pip applies when building its result.
func buildResult(s *state, userReqs []*pyreq.Requirement) (*Resolution, error) {
	connected := make(map[string]connState, s.pins.Len())
	s.pins.Iterate(func(id string, _ *Candidate) {
		routeToRoot(s, id, connected)
	})

	res := &Resolution{}
	seen := make(map[string]bool)
	s.pins.Iterate(func(id string, c *Candidate) {
		if connected[id] != connYes || seen[c.Name] {
			return
		}
		seen[c.Name] = true
		res.Packages = append(res.Packages, Package{
			Name:    c.Name,
			Version: c.Dist.Version.String(),
			Dist:    c.Dist,
		})
	})
	sort.Slice(res.Packages, func(i, j int) bool {
		return res.Packages[i].Name < res.Packages[j].Name
	})

	seenEdge := make(map[Edge]bool)
	for _, pair := range *s.criteria {
		if connected[pair.id] != connYes {
			continue
		}
		pin, ok := s.pins.Get(pair.id)
		if !ok {
			return nil, errors.New(errors.ErrCodeInternal,
				"no pin for connected target %s", pair.id)
		}
		for i, req := range pair.crit.reqs {
			parent := pair.crit.parents[i]
			from := ""
			if parent != nil {
				if connected[parent.ID()] != connYes {
					continue
				}
				from = parent.Name
			}
			if from == pin.Name {
				// The synthetic base pin an extras target carries
				// would render as a self edge.
				continue
			}
			// Extras variants repeat their base's requirements; keep
			// one edge per relationship.
			e := Edge{From: from, To: pin.Name, Requirement: req.Raw}
			if seenEdge[e] {
				continue
			}
			seenEdge[e] = true
			res.Edges = append(res.Edges, e)
		}
	}
	sort.Slice(res.Edges, func(i, j int) bool {
		if res.Edges[i].To != res.Edges[j].To {
			return res.Edges[i].To < res.Edges[j].To
		}
		if res.Edges[i].From != res.Edges[j].From {
			return res.Edges[i].From < res.Edges[j].From
		}
		return res.Edges[i].Requirement < res.Edges[j].Requirement
	})
	return res, nil
}

type connState int

const (
	connUnknown connState = iota
	connVisiting
	connNo
	connYes
)

// routeToRoot reports whether a pinned target can be traced back to a user
// requirement through parents that are themselves still pinned.
func routeToRoot(s *state, id string, connected map[string]connState) bool {
	switch connected[id] {
	case connYes:
		return true
	case connNo, connVisiting:
		return false
	}
	connected[id] = connVisiting

	crit, ok := s.criteria.Get(id)
	if !ok {
		connected[id] = connNo
		return false
	}
	for _, parent := range crit.parents {
		if parent == nil {
			connected[id] = connYes
			return true
		}
		pv, ok := s.pins.Get(parent.ID())
		if !ok || pv.versionKey() != parent.versionKey() {
			// The parent was never pinned, or a different version
			// is pinned now.
			continue
		}
		if routeToRoot(s, parent.ID(), connected) {
			connected[id] = connYes
			return true
		}
	}
	connected[id] = connNo
	return false
}
