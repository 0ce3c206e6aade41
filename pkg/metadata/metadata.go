// Package metadata extracts declared dependencies from Python
// distributions.
//
// A release's dependencies live in different places depending on how it was
// uploaded: a PEP 658 metadata sidecar on the index, the METADATA member of
// a wheel, the PKG-INFO or pyproject.toml of an sdist, or the legacy JSON
// API. The Extractor tries these sources cheapest-first and returns the
// first one that yields usable metadata.
package metadata

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	pypiutil "deps.dev/util/pypi"

	"github.com/pindown/pindown/pkg/errors"
	"github.com/pindown/pindown/pkg/pypi"
	"github.com/pindown/pindown/pkg/pyreq"
)

// Source names where a distribution's metadata came from.
type Source string

const (
	SourceSidecar   Source = "sidecar"   // PEP 658 metadata file on the index
	SourceWheel     Source = "wheel"     // METADATA inside the wheel
	SourceSdist     Source = "sdist"     // PKG-INFO inside the sdist
	SourcePyproject Source = "pyproject" // [project] table of pyproject.toml
	SourceJSONAPI   Source = "jsonapi"   // legacy JSON API requires_dist
)

// Distribution is the dependency-relevant metadata of one release file.
type Distribution struct {
	Name           string
	Version        string
	RequiresPython string
	Requirements   []*pyreq.Requirement
	// Source records which metadata source produced this result.
	Source Source
}

// Options configures an Extractor.
type Options struct {
	// AllowSdist admits sdist-only releases: their PKG-INFO and
	// pyproject.toml are read for dependencies. Off by default because
	// sdist metadata may differ from what a build would produce.
	AllowSdist bool
	// PreferJSONAPI consults the JSON API before downloading any
	// distribution file. Cheaper, but trusts the uploader's requires_dist.
	PreferJSONAPI bool
	// Logger receives progress and skip messages (optional).
	Logger func(string, ...any)
}

// WithDefaults returns a copy of Options with zero values replaced by defaults.
func (o Options) WithDefaults() Options {
	opts := o
	if opts.Logger == nil {
		opts.Logger = func(string, ...any) {}
	}
	return opts
}

// Extractor resolves candidates to their declared dependencies using an
// index client for downloads. Safe for concurrent use.
type Extractor struct {
	client *pypi.Client
	opts   Options
}

// NewExtractor creates an Extractor over the given index client.
func NewExtractor(client *pypi.Client, opts Options) *Extractor {
	return &Extractor{client: client, opts: opts.WithDefaults()}
}

// Dependencies returns the declared dependencies of a candidate. All
// sources failing yields METADATA_UNAVAILABLE with the per-source failures
// in the message.
func (e *Extractor) Dependencies(ctx context.Context, c *pypi.Candidate) (*Distribution, error) {
	var attempts []string

	try := func(source Source, fn func() (*Distribution, error)) *Distribution {
		d, err := fn()
		if err != nil {
			e.opts.Logger("%s: %s metadata: %v", c, source, err)
			attempts = append(attempts, fmt.Sprintf("%s: %v", source, err))
			return nil
		}
		d.Source = source
		if d.Name == "" {
			d.Name = c.Name
		}
		if d.Version == "" {
			d.Version = c.Version.String()
		}
		if d.RequiresPython == "" {
			d.RequiresPython = c.RequiresPython
		}
		return d
	}

	if e.opts.PreferJSONAPI {
		if d := try(SourceJSONAPI, func() (*Distribution, error) { return e.fromJSONAPI(ctx, c) }); d != nil {
			return d, nil
		}
	}
	if c.HasMetadata {
		if d := try(SourceSidecar, func() (*Distribution, error) { return e.fromSidecar(ctx, c) }); d != nil {
			return d, nil
		}
	}
	if c.IsWheel {
		if d := try(SourceWheel, func() (*Distribution, error) { return e.fromWheel(ctx, c) }); d != nil {
			return d, nil
		}
	} else if e.opts.AllowSdist {
		data, err := e.client.Download(ctx, c.URL)
		if err != nil {
			attempts = append(attempts, fmt.Sprintf("download: %v", err))
		} else {
			if d := try(SourceSdist, func() (*Distribution, error) { return e.fromSdist(ctx, c, data) }); d != nil {
				return d, nil
			}
			if d := try(SourcePyproject, func() (*Distribution, error) { return fromPyproject(c, data) }); d != nil {
				return d, nil
			}
		}
	}
	if !e.opts.PreferJSONAPI {
		if d := try(SourceJSONAPI, func() (*Distribution, error) { return e.fromJSONAPI(ctx, c) }); d != nil {
			return d, nil
		}
	}

	return nil, errors.New(errors.ErrCodeMetadataUnavailable,
		"no usable metadata for %s (%s)", c, strings.Join(attempts, "; "))
}

func (e *Extractor) fromSidecar(ctx context.Context, c *pypi.Candidate) (*Distribution, error) {
	data, err := e.client.Download(ctx, c.URL+".metadata")
	if err != nil {
		return nil, err
	}
	md, err := pypiutil.ParseMetadata(ctx, string(data))
	if err != nil {
		return nil, err
	}
	return distribution(md)
}

func (e *Extractor) fromWheel(ctx context.Context, c *pypi.Candidate) (*Distribution, error) {
	data, err := e.client.Download(ctx, c.URL)
	if err != nil {
		return nil, err
	}
	md, err := pypiutil.WheelMetadata(ctx, bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	return distribution(*md)
}

func (e *Extractor) fromSdist(ctx context.Context, c *pypi.Candidate, data []byte) (*Distribution, error) {
	md, err := pypiutil.SdistMetadata(ctx, c.Filename, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return distribution(*md)
}

func (e *Extractor) fromJSONAPI(ctx context.Context, c *pypi.Candidate) (*Distribution, error) {
	rel, err := e.client.Release(ctx, c.Name, c.Version.String())
	if err != nil {
		return nil, err
	}
	reqs, err := parseAll(rel.RequiresDist)
	if err != nil {
		return nil, err
	}
	return &Distribution{
		Name:           rel.Name,
		Version:        rel.Version,
		RequiresPython: rel.RequiresPython,
		Requirements:   reqs,
	}, nil
}

// distribution converts parsed core metadata into a Distribution,
// re-assembling each dependency into a requirement statement.
func distribution(md pypiutil.Metadata) (*Distribution, error) {
	reqs := make([]*pyreq.Requirement, 0, len(md.Dependencies))
	for _, dep := range md.Dependencies {
		raw := dep.Name
		if dep.Extras != "" {
			raw += "[" + dep.Extras + "]"
		}
		if dep.Constraint != "" {
			raw += dep.Constraint
		}
		if dep.Environment != "" {
			raw += "; " + dep.Environment
		}
		r, err := pyreq.Parse(raw)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, r)
	}
	return &Distribution{
		Name:         pypiutil.CanonPackageName(md.Name),
		Version:      md.Version,
		Requirements: reqs,
	}, nil
}

func parseAll(raws []string) ([]*pyreq.Requirement, error) {
	reqs := make([]*pyreq.Requirement, 0, len(raws))
	for _, raw := range raws {
		r, err := pyreq.Parse(raw)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, r)
	}
	return reqs, nil
}
