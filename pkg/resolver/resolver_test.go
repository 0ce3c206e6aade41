package resolver

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/pindown/pindown/pkg/errors"
	"github.com/pindown/pindown/pkg/pep440"
	"github.com/pindown/pindown/pkg/pymarker"
	"github.com/pindown/pindown/pkg/pypi"
	"github.com/pindown/pindown/pkg/pyreq"
)

// fakeIndex is an in-memory CandidateSupplier and RequirementExpander.
// Versions must be listed newest first, matching the supplier contract.
type fakeIndex struct {
	releases map[string][]fakeRelease
	// expandCalls counts Expand invocations per filename, to observe
	// memoization from the outside.
	expandCalls map[string]int
}

type fakeRelease struct {
	version    string
	deps       []string
	brokenMeta bool // metadata extraction fails for this release
}

func (f *fakeIndex) Candidates(ctx context.Context, name string) ([]*pypi.Candidate, error) {
	rels, ok := f.releases[name]
	if !ok {
		return nil, errors.New(errors.ErrCodeProjectNotFound, "project %s", name)
	}
	cands := make([]*pypi.Candidate, len(rels))
	for i, rel := range rels {
		cands[i] = &pypi.Candidate{
			Name:     name,
			Version:  pep440.MustParse(rel.version),
			Filename: fmt.Sprintf("%s-%s-py3-none-any.whl", strings.ReplaceAll(name, "-", "_"), rel.version),
			IsWheel:  true,
		}
	}
	return cands, nil
}

func (f *fakeIndex) Expand(ctx context.Context, dist *pypi.Candidate) ([]*pyreq.Requirement, error) {
	if f.expandCalls != nil {
		f.expandCalls[dist.Filename]++
	}
	for _, rel := range f.releases[dist.Name] {
		if rel.version != dist.Version.String() {
			continue
		}
		if rel.brokenMeta {
			return nil, errors.New(errors.ErrCodeMetadataUnavailable, "no usable metadata for %s", dist)
		}
		reqs := make([]*pyreq.Requirement, len(rel.deps))
		for i, d := range rel.deps {
			reqs[i] = pyreq.MustParse(d)
		}
		return reqs, nil
	}
	// Candidates not in the index (direct URLs) have no dependencies.
	return nil, nil
}

func testResolver(t *testing.T, idx *fakeIndex, opts Options) *Resolver {
	t.Helper()
	if opts.Environment == nil {
		env, err := pymarker.NewEnvironment("3.11", "linux")
		if err != nil {
			t.Fatal(err)
		}
		opts.Environment = env
	}
	opts.Supplier = idx
	opts.Expander = idx
	r, err := New(opts)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func parseReqs(t *testing.T, raws ...string) []*pyreq.Requirement {
	t.Helper()
	reqs := make([]*pyreq.Requirement, len(raws))
	for i, raw := range raws {
		reqs[i] = pyreq.MustParse(raw)
	}
	return reqs
}

func pins(res *Resolution) map[string]string {
	out := make(map[string]string, len(res.Packages))
	for _, p := range res.Packages {
		out[p.Name] = p.Version
	}
	return out
}

func wantPins(t *testing.T, res *Resolution, want map[string]string) {
	t.Helper()
	got := pins(res)
	if len(got) != len(want) {
		t.Errorf("resolved %v, want %v", got, want)
		return
	}
	for name, version := range want {
		if got[name] != version {
			t.Errorf("%s pinned to %q, want %q", name, got[name], version)
		}
	}
}

func TestResolvePicksNewest(t *testing.T) {
	idx := &fakeIndex{releases: map[string][]fakeRelease{
		"pkg-a": {{version: "1.1"}, {version: "1.0"}},
	}}
	res, err := testResolver(t, idx, Options{}).Resolve(context.Background(), parseReqs(t, "pkg-a>=1.0"))
	if err != nil {
		t.Fatal(err)
	}
	wantPins(t, res, map[string]string{"pkg-a": "1.1"})
	if len(res.Edges) != 1 || res.Edges[0].From != "" || res.Edges[0].To != "pkg-a" {
		t.Errorf("edges = %v, want one root edge to pkg-a", res.Edges)
	}
}

func TestResolveTransitive(t *testing.T) {
	idx := &fakeIndex{releases: map[string][]fakeRelease{
		"pkg-a": {{version: "1.0", deps: []string{"pkg-c<2"}}},
		"pkg-b": {{version: "1.0", deps: []string{"pkg-c>=1"}}},
		"pkg-c": {{version: "2.0"}, {version: "1.5"}, {version: "1.0"}},
	}}
	res, err := testResolver(t, idx, Options{}).Resolve(context.Background(), parseReqs(t, "pkg-a", "pkg-b"))
	if err != nil {
		t.Fatal(err)
	}
	wantPins(t, res, map[string]string{"pkg-a": "1.0", "pkg-b": "1.0", "pkg-c": "1.5"})
}

func TestResolveBacktracks(t *testing.T) {
	// pkg-a 2.0 needs pkg-c 2.0, but pkg-b forces pkg-c 1.0, so the
	// solver must give up on pkg-a 2.0 and fall back to 1.0.
	idx := &fakeIndex{releases: map[string][]fakeRelease{
		"pkg-a": {
			{version: "2.0", deps: []string{"pkg-c==2.0"}},
			{version: "1.0", deps: []string{"pkg-c==1.0"}},
		},
		"pkg-b": {{version: "1.0", deps: []string{"pkg-c==1.0"}}},
		"pkg-c": {{version: "2.0"}, {version: "1.0"}},
	}}
	res, err := testResolver(t, idx, Options{}).Resolve(context.Background(), parseReqs(t, "pkg-a", "pkg-b"))
	if err != nil {
		t.Fatal(err)
	}
	wantPins(t, res, map[string]string{"pkg-a": "1.0", "pkg-b": "1.0", "pkg-c": "1.0"})
}

func TestResolveSkipsCandidateWithMissingDep(t *testing.T) {
	// The newest pkg-a depends on a project the index does not have; the
	// solver must reject it and settle on 1.1.
	idx := &fakeIndex{releases: map[string][]fakeRelease{
		"pkg-a": {
			{version: "2.0", deps: []string{"pkg-b>=2.0"}},
			{version: "1.1"},
			{version: "1.0"},
		},
	}}
	res, err := testResolver(t, idx, Options{}).Resolve(context.Background(), parseReqs(t, "pkg-a>=1.0"))
	if err != nil {
		t.Fatal(err)
	}
	wantPins(t, res, map[string]string{"pkg-a": "1.1"})
}

func TestResolveSkipsCandidateWithBrokenMetadata(t *testing.T) {
	// Metadata extraction fails for the newest release; it is pruned and
	// the next candidate is pinned.
	idx := &fakeIndex{releases: map[string][]fakeRelease{
		"pkg-a": {
			{version: "2.0", brokenMeta: true},
			{version: "1.0"},
		},
	}}
	res, err := testResolver(t, idx, Options{}).Resolve(context.Background(), parseReqs(t, "pkg-a"))
	if err != nil {
		t.Fatal(err)
	}
	wantPins(t, res, map[string]string{"pkg-a": "1.0"})
}

func TestResolveAllMetadataBroken(t *testing.T) {
	idx := &fakeIndex{releases: map[string][]fakeRelease{
		"pkg-a": {{version: "1.0", brokenMeta: true}},
	}}
	_, err := testResolver(t, idx, Options{}).Resolve(context.Background(), parseReqs(t, "pkg-a"))
	if err == nil {
		t.Fatal("Resolve succeeded with no extractable metadata")
	}
	if !errors.Is(err, errors.ErrCodeConflict) {
		t.Errorf("error code = %v, want CONFLICT (err: %v)", errors.GetCode(err), err)
	}
}

func TestResolveConflict(t *testing.T) {
	idx := &fakeIndex{releases: map[string][]fakeRelease{
		"pkg-a": {{version: "2.0"}},
	}}
	_, err := testResolver(t, idx, Options{}).Resolve(context.Background(), parseReqs(t, "pkg-a", "pkg-a==1.0"))
	if err == nil {
		t.Fatal("Resolve succeeded on conflicting requirements")
	}
	if !errors.Is(err, errors.ErrCodeConflict) {
		t.Fatalf("error code = %v, want CONFLICT (err: %v)", errors.GetCode(err), err)
	}
	var conflict *Conflict
	if !errors.As(err, &conflict) {
		t.Fatalf("error %T does not expose *Conflict", err)
	}
	if len(conflict.Causes) == 0 || conflict.Causes[0].Target != "pkg-a" {
		t.Errorf("conflict causes = %+v, want pkg-a", conflict.Causes)
	}
}

func TestResolveUnknownProject(t *testing.T) {
	idx := &fakeIndex{releases: map[string][]fakeRelease{}}
	_, err := testResolver(t, idx, Options{}).Resolve(context.Background(), parseReqs(t, "no-such-pkg"))
	if err == nil {
		t.Fatal("Resolve succeeded for an unknown project")
	}
	if !errors.Is(err, errors.ErrCodeConflict) {
		t.Errorf("error code = %v, want CONFLICT", errors.GetCode(err))
	}
}

func TestResolveDropsExcludedMarkers(t *testing.T) {
	idx := &fakeIndex{releases: map[string][]fakeRelease{
		"pkg-a": {{version: "1.0"}},
		// colorama exists but must never be consulted on linux.
	}}
	res, err := testResolver(t, idx, Options{}).Resolve(context.Background(),
		parseReqs(t, "pkg-a", `colorama; sys_platform == "win32"`))
	if err != nil {
		t.Fatal(err)
	}
	wantPins(t, res, map[string]string{"pkg-a": "1.0"})
}

func TestResolveTransitiveMarkers(t *testing.T) {
	idx := &fakeIndex{releases: map[string][]fakeRelease{
		"pkg-a": {{version: "1.0", deps: []string{
			`pkg-old; python_version < "3.8"`,
			`pkg-new; python_version >= "3.8"`,
		}}},
		"pkg-old": {{version: "1.0"}},
		"pkg-new": {{version: "1.0"}},
	}}
	res, err := testResolver(t, idx, Options{}).Resolve(context.Background(), parseReqs(t, "pkg-a"))
	if err != nil {
		t.Fatal(err)
	}
	wantPins(t, res, map[string]string{"pkg-a": "1.0", "pkg-new": "1.0"})
}

func TestResolveExtras(t *testing.T) {
	idx := &fakeIndex{releases: map[string][]fakeRelease{
		"requests": {{version: "2.28.1", deps: []string{
			"urllib3>=1.21",
			`pysocks>=1.5; extra == "socks"`,
		}}},
		"urllib3": {{version: "1.26.0"}},
		"pysocks": {{version: "1.7.1"}},
	}}
	res, err := testResolver(t, idx, Options{}).Resolve(context.Background(), parseReqs(t, "requests[socks]"))
	if err != nil {
		t.Fatal(err)
	}
	wantPins(t, res, map[string]string{
		"requests": "2.28.1",
		"urllib3":  "1.26.0",
		"pysocks":  "1.7.1",
	})
}

func TestResolveExtrasPinBase(t *testing.T) {
	// The plain and extras targets must agree on one version even when a
	// newer release exists that only one of them accepts.
	idx := &fakeIndex{releases: map[string][]fakeRelease{
		"requests": {
			{version: "2.28.1", deps: []string{`pysocks; extra == "socks"`}},
			{version: "2.20.0", deps: []string{`pysocks; extra == "socks"`}},
		},
		"pysocks": {{version: "1.7.1"}},
	}}
	res, err := testResolver(t, idx, Options{}).Resolve(context.Background(),
		parseReqs(t, "requests[socks]", "requests<2.28"))
	if err != nil {
		t.Fatal(err)
	}
	wantPins(t, res, map[string]string{"requests": "2.20.0", "pysocks": "1.7.1"})
}

func TestResolvePrereleases(t *testing.T) {
	idx := &fakeIndex{releases: map[string][]fakeRelease{
		"pkg-a": {{version: "2.0rc1"}, {version: "1.0"}},
		"pkg-b": {{version: "1.0b1"}},
	}}

	// Default: stable wins.
	res, err := testResolver(t, idx, Options{}).Resolve(context.Background(), parseReqs(t, "pkg-a"))
	if err != nil {
		t.Fatal(err)
	}
	wantPins(t, res, map[string]string{"pkg-a": "1.0"})

	// Prereleases opted in.
	res, err = testResolver(t, idx, Options{Prereleases: true}).Resolve(context.Background(), parseReqs(t, "pkg-a"))
	if err != nil {
		t.Fatal(err)
	}
	wantPins(t, res, map[string]string{"pkg-a": "2.0rc1"})

	// A prerelease-only project yields its prerelease without the flag.
	res, err = testResolver(t, idx, Options{}).Resolve(context.Background(), parseReqs(t, "pkg-b"))
	if err != nil {
		t.Fatal(err)
	}
	wantPins(t, res, map[string]string{"pkg-b": "1.0b1"})

	// A specifier naming a prerelease admits prereleases for its target.
	res, err = testResolver(t, idx, Options{}).Resolve(context.Background(), parseReqs(t, "pkg-a>=2.0rc1"))
	if err != nil {
		t.Fatal(err)
	}
	wantPins(t, res, map[string]string{"pkg-a": "2.0rc1"})
}

func TestResolveMaxRounds(t *testing.T) {
	idx := &fakeIndex{releases: map[string][]fakeRelease{
		"pkg-a": {{version: "1.0", deps: []string{"pkg-b"}}},
		"pkg-b": {{version: "1.0", deps: []string{"pkg-c"}}},
		"pkg-c": {{version: "1.0"}},
	}}
	_, err := testResolver(t, idx, Options{MaxRounds: 1}).Resolve(context.Background(), parseReqs(t, "pkg-a"))
	if err == nil {
		t.Fatal("Resolve succeeded within one round")
	}
	if !errors.Is(err, errors.ErrCodeResolutionTimedOut) {
		t.Errorf("error code = %v, want RESOLUTION_TIMED_OUT", errors.GetCode(err))
	}
}

func TestResolveContextCancellation(t *testing.T) {
	idx := &fakeIndex{releases: map[string][]fakeRelease{
		"pkg-a": {{version: "1.0"}},
	}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := testResolver(t, idx, Options{}).Resolve(ctx, parseReqs(t, "pkg-a"))
	if err == nil {
		t.Fatal("Resolve succeeded with a canceled context")
	}
	if !errors.Is(err, errors.ErrCodeResolutionTimedOut) {
		t.Errorf("error code = %v, want RESOLUTION_TIMED_OUT", errors.GetCode(err))
	}
}

func TestResolveDeterministic(t *testing.T) {
	idx := &fakeIndex{releases: map[string][]fakeRelease{
		"pkg-a": {{version: "1.0", deps: []string{"pkg-c", "pkg-d"}}},
		"pkg-b": {{version: "1.0", deps: []string{"pkg-d", "pkg-e"}}},
		"pkg-c": {{version: "3.0"}, {version: "2.0"}, {version: "1.0"}},
		"pkg-d": {{version: "2.0"}, {version: "1.0"}},
		"pkg-e": {{version: "1.0"}},
	}}
	r := testResolver(t, idx, Options{})
	first, err := r.Resolve(context.Background(), parseReqs(t, "pkg-a", "pkg-b"))
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		again, err := r.Resolve(context.Background(), parseReqs(t, "pkg-a", "pkg-b"))
		if err != nil {
			t.Fatal(err)
		}
		if fmt.Sprint(pins(again)) != fmt.Sprint(pins(first)) {
			t.Fatalf("run %d resolved %v, previous run %v", i, pins(again), pins(first))
		}
		if len(again.Edges) != len(first.Edges) {
			t.Fatalf("run %d produced %d edges, previous run %d", i, len(again.Edges), len(first.Edges))
		}
	}
}

func TestResolveMemoizesExpansion(t *testing.T) {
	idx := &fakeIndex{
		releases: map[string][]fakeRelease{
			"pkg-a": {{version: "1.0", deps: []string{"pkg-c"}}},
			"pkg-b": {{version: "1.0", deps: []string{"pkg-c"}}},
			"pkg-c": {{version: "1.0"}},
		},
		expandCalls: map[string]int{},
	}
	// The run caches live in the supplier here, so this exercises the
	// solver's behavior of expanding each pinned candidate once per need.
	if _, err := testResolver(t, idx, Options{}).Resolve(context.Background(), parseReqs(t, "pkg-a", "pkg-b")); err != nil {
		t.Fatal(err)
	}
	for file, n := range idx.expandCalls {
		if n > 2 {
			t.Errorf("%s expanded %d times", file, n)
		}
	}
}

func TestResolveEmptyAfterFiltering(t *testing.T) {
	idx := &fakeIndex{releases: map[string][]fakeRelease{}}
	res, err := testResolver(t, idx, Options{}).Resolve(context.Background(),
		parseReqs(t, `pywin32; sys_platform == "win32"`))
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Packages) != 0 {
		t.Errorf("packages = %v, want none", res.Packages)
	}
}

func TestResolveDirectURL(t *testing.T) {
	idx := &fakeIndex{releases: map[string][]fakeRelease{}}
	r := testResolver(t, idx, Options{})
	res, err := r.Resolve(context.Background(),
		parseReqs(t, "pkg-a @ https://files.example.com/pkg_a-1.2.0-py3-none-any.whl"))
	if err != nil {
		t.Fatal(err)
	}
	wantPins(t, res, map[string]string{"pkg-a": "1.2.0"})
	pkg, _ := res.Find("pkg-a")
	if pkg.Dist.URL != "https://files.example.com/pkg_a-1.2.0-py3-none-any.whl" {
		t.Errorf("Dist.URL = %q, want the direct URL", pkg.Dist.URL)
	}
}

func TestResolveDuration(t *testing.T) {
	idx := &fakeIndex{releases: map[string][]fakeRelease{
		"pkg-a": {{version: "1.0"}},
	}}
	res, err := testResolver(t, idx, Options{}).Resolve(context.Background(), parseReqs(t, "pkg-a"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Duration <= 0 || res.Duration > time.Minute {
		t.Errorf("Duration = %v, want a small positive duration", res.Duration)
	}
}
