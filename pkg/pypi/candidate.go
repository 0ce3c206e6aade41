package pypi

import (
	"context"
	"fmt"
	"sort"
	"strings"

	pypiutil "deps.dev/util/pypi"

	"github.com/pindown/pindown/pkg/pep440"
	"github.com/pindown/pindown/pkg/pymarker"
)

// Candidate is one installable distribution file: a concrete (project,
// version, file) triple the solver can pin.
type Candidate struct {
	// Name is the normalized project name.
	Name string
	// Version is the release version parsed from the filename.
	Version pep440.Version
	// Filename and URL locate the file on the index.
	Filename string
	URL      string
	// IsWheel distinguishes built wheels from sdists.
	IsWheel bool
	// RequiresPython is the file's interpreter constraint, or empty.
	RequiresPython string
	// HasMetadata reports a PEP 658 metadata sidecar at URL + ".metadata".
	HasMetadata bool
}

// String renders the candidate as name==version, the form error messages
// and graph output use.
func (c *Candidate) String() string {
	return c.Name + "==" + c.Version.String()
}

// CandidateOptions controls candidate discovery.
type CandidateOptions struct {
	// Prereleases admits pre and dev releases unconditionally. Without it
	// they are admitted only when a project has no stable releases at all.
	Prereleases bool
}

// Candidates lists the installable candidates for a project in preference
// order: newest version first, and within a version wheels before sdists.
// Files are dropped when they are yanked, carry a wheel tag the environment
// cannot use, or declare a Requires-Python the environment fails.
//
// The ordering is deterministic: equal inputs always produce the same
// slice.
func (c *Client) Candidates(ctx context.Context, name string, env *pymarker.Environment, opts CandidateOptions) ([]*Candidate, error) {
	project, err := c.Project(ctx, name)
	if err != nil {
		return nil, err
	}
	return selectCandidates(project, env, opts, c.opts.Logger), nil
}

func selectCandidates(project *Project, env *pymarker.Environment, opts CandidateOptions, logf func(string, ...any)) []*Candidate {
	var out []*Candidate
	for _, f := range project.Files {
		if f.Yanked {
			continue
		}
		cand, ok := fileCandidate(project.Name, f, env, logf)
		if !ok {
			continue
		}
		if !env.SatisfiesRequiresPython(f.RequiresPython) {
			continue
		}
		out = append(out, cand)
	}

	if !opts.Prereleases && hasStable(out) {
		kept := out[:0]
		for _, cand := range out {
			if !cand.Version.IsPrerelease() {
				kept = append(kept, cand)
			}
		}
		out = kept
	}

	sort.SliceStable(out, func(i, j int) bool {
		if cmp := out[i].Version.Compare(out[j].Version); cmp != 0 {
			return cmp > 0
		}
		if out[i].IsWheel != out[j].IsWheel {
			return out[i].IsWheel
		}
		return out[i].Filename < out[j].Filename
	})
	return out
}

func fileCandidate(name string, f File, env *pymarker.Environment, logf func(string, ...any)) (*Candidate, bool) {
	switch {
	case strings.HasSuffix(f.Filename, ".whl"):
		info, err := pypiutil.ParseWheelName(f.Filename)
		if err != nil {
			logf("skipping %s: %v", f.Filename, err)
			return nil, false
		}
		if !env.WheelSupported(info.Platforms) {
			return nil, false
		}
		v, err := pep440.Parse(info.Version)
		if err != nil {
			logf("skipping %s: %v", f.Filename, err)
			return nil, false
		}
		return &Candidate{
			Name:           name,
			Version:        v,
			Filename:       f.Filename,
			URL:            f.URL,
			IsWheel:        true,
			RequiresPython: f.RequiresPython,
			HasMetadata:    f.HasMetadata,
		}, true

	case sdistFilename(f.Filename):
		_, ver, err := pypiutil.SdistVersion(name, f.Filename)
		if err != nil {
			logf("skipping %s: %v", f.Filename, err)
			return nil, false
		}
		v, err := pep440.Parse(ver)
		if err != nil {
			logf("skipping %s: %v", f.Filename, err)
			return nil, false
		}
		return &Candidate{
			Name:           name,
			Version:        v,
			Filename:       f.Filename,
			URL:            f.URL,
			RequiresPython: f.RequiresPython,
			HasMetadata:    f.HasMetadata,
		}, true
	}
	// Eggs and other legacy formats are not installable here.
	return nil, false
}

// CandidateFromFilename builds a candidate for a distribution file that is
// not listed on an index, such as the target of a direct URL requirement.
// The version must be recoverable from the filename.
func CandidateFromFilename(name, filename, fileURL string) (*Candidate, error) {
	name = pep440.CanonName(name)
	switch {
	case strings.HasSuffix(filename, ".whl"):
		info, err := pypiutil.ParseWheelName(filename)
		if err != nil {
			return nil, err
		}
		v, err := pep440.Parse(info.Version)
		if err != nil {
			return nil, err
		}
		return &Candidate{Name: name, Version: v, Filename: filename, URL: fileURL, IsWheel: true}, nil
	case sdistFilename(filename):
		_, ver, err := pypiutil.SdistVersion(name, filename)
		if err != nil {
			return nil, err
		}
		v, err := pep440.Parse(ver)
		if err != nil {
			return nil, err
		}
		return &Candidate{Name: name, Version: v, Filename: filename, URL: fileURL}, nil
	}
	return nil, fmt.Errorf("cannot determine a version from %q", filename)
}

func sdistFilename(name string) bool {
	for _, ext := range []string{".tar.gz", ".zip", ".tar.bz2", ".tgz"} {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

func hasStable(cands []*Candidate) bool {
	for _, c := range cands {
		if !c.Version.IsPrerelease() {
			return true
		}
	}
	return false
}
