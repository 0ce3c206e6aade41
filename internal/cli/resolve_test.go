package cli

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pindown/pindown/pkg/pyreq"
)

type testLogger struct{}

func (testLogger) Debugf(string, ...any) {}

func TestApplyConstraints(t *testing.T) {
	reqs := []*pyreq.Requirement{
		pyreq.MustParse("requests>=2.20"),
		pyreq.MustParse("flask"),
	}
	constraints := []*pyreq.Requirement{
		pyreq.MustParse("requests<2.28"),
		pyreq.MustParse("certifi==2024.2.2"), // not required, ignored
	}

	merged := applyConstraints(reqs, constraints, testLogger{})
	if len(merged) != 2 {
		t.Fatalf("got %d requirements", len(merged))
	}
	spec := merged[0].Specifiers.String()
	if spec != ">=2.20,<2.28" {
		t.Errorf("requests specifiers = %q", spec)
	}
	if !merged[1].Specifiers.IsEmpty() {
		t.Errorf("flask specifiers = %q, want empty", merged[1].Specifiers)
	}
	// The inputs are shared and immutable; constraining must copy.
	if got := reqs[0].Specifiers.String(); got != ">=2.20" {
		t.Errorf("original requirement mutated to %q", got)
	}
	if merged[0] == reqs[0] {
		t.Error("constrained requirement was not copied")
	}
	if merged[1] != reqs[1] {
		t.Error("unconstrained requirement was copied needlessly")
	}
}

func TestGatherRequirements(t *testing.T) {
	dir := t.TempDir()
	reqFile := filepath.Join(dir, "requirements.txt")
	if err := os.WriteFile(reqFile, []byte(
		"--index-url https://mirror.example.com/simple\n"+
			"requests>=2.28\n"+
			"-e ./local-project\n",
	), 0o644); err != nil {
		t.Fatal(err)
	}
	conFile := filepath.Join(dir, "constraints.txt")
	if err := os.WriteFile(conFile, []byte("urllib3<2\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	opts := &resolveOpts{reqFiles: []string{reqFile}, conFiles: []string{conFile}}
	reqs, constraints, indexURL, err := gatherRequirements(context.Background(), opts, []string{"click>=8"})
	if err != nil {
		t.Fatal(err)
	}
	if len(reqs) != 2 || reqs[0].Name != "click" || reqs[1].Name != "requests" {
		t.Errorf("requirements = %v", reqs)
	}
	if len(constraints) != 1 || constraints[0].Name != "urllib3" {
		t.Errorf("constraints = %v", constraints)
	}
	if indexURL != "https://mirror.example.com/simple" {
		t.Errorf("indexURL = %q", indexURL)
	}
}

func TestGatherRequirementsBadArg(t *testing.T) {
	if _, _, _, err := gatherRequirements(context.Background(), &resolveOpts{}, []string{"not a req!!"}); err == nil {
		t.Error("bad requirement accepted")
	}
}
