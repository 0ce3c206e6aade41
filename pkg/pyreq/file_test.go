package pyreq

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pindown/pindown/pkg/errors"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func reqNames(reqs []*Requirement) []string {
	names := make([]string, len(reqs))
	for i, r := range reqs {
		names[i] = r.Name
	}
	return names
}

func TestParseFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "requirements.txt", `
# production dependencies
requests>=2.20,<3
click==8.1.3  # pinned for reproducibility
flask[async] \
    >=2.0
colorama; sys_platform == "win32"
`)
	f, err := ParseFile(path)
	if err != nil {
		t.Fatal(err)
	}
	got := reqNames(f.Requirements)
	want := []string{"requests", "click", "flask", "colorama"}
	if strings.Join(got, " ") != strings.Join(want, " ") {
		t.Errorf("requirements = %v, want %v", got, want)
	}
	if spec := f.Requirements[2].Specifiers.String(); !strings.Contains(spec, ">=2.0") {
		t.Errorf("continuation line lost its constraint: %q", spec)
	}
	if f.Requirements[1].Specifiers.String() != "==8.1.3" {
		t.Errorf("inline comment not stripped: %q", f.Requirements[1].Specifiers.String())
	}
}

func TestParseFileIncludes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.txt", "requests>=2.20\n")
	writeFile(t, dir, "constraints.txt", "urllib3<2\n")
	path := writeFile(t, dir, "requirements.txt", `
-r base.txt
-c constraints.txt
click
`)
	f, err := ParseFile(path)
	if err != nil {
		t.Fatal(err)
	}
	got := reqNames(f.Requirements)
	want := []string{"requests", "click"}
	if strings.Join(got, " ") != strings.Join(want, " ") {
		t.Errorf("requirements = %v, want %v", got, want)
	}
	if cs := reqNames(f.Constraints); len(cs) != 1 || cs[0] != "urllib3" {
		t.Errorf("constraints = %v, want [urllib3]", cs)
	}
}

func TestParseFileIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "-r b.txt\n")
	writeFile(t, dir, "b.txt", "-r a.txt\n")
	_, err := ParseFile(filepath.Join(dir, "a.txt"))
	if err == nil {
		t.Fatal("ParseFile succeeded on an include cycle")
	}
	if !errors.Is(err, errors.ErrCodeInvalidInput) {
		t.Errorf("error code = %v, want INVALID_INPUT", errors.GetCode(err))
	}
}

func TestParseFileOptions(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "requirements.txt", `
--index-url https://pypi.example.com/simple
--extra-index-url=https://mirror.example.com/simple
-e ./local-project
./vendored/pkg.tar.gz
--hash sha256:deadbeef
requests
`)
	f, err := ParseFile(path)
	if err != nil {
		t.Fatal(err)
	}
	wantURLs := []string{"https://pypi.example.com/simple", "https://mirror.example.com/simple"}
	if strings.Join(f.IndexURLs, " ") != strings.Join(wantURLs, " ") {
		t.Errorf("IndexURLs = %v, want %v", f.IndexURLs, wantURLs)
	}
	if got := reqNames(f.Requirements); len(got) != 1 || got[0] != "requests" {
		t.Errorf("requirements = %v, want [requests]", got)
	}
	if len(f.Skipped) != 3 {
		t.Errorf("Skipped = %v, want 3 entries", f.Skipped)
	}
}

func TestParseFileMalformedLine(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "requirements.txt", "requests>>=2.0\n")
	_, err := ParseFile(path)
	if err == nil {
		t.Fatal("ParseFile succeeded on a malformed requirement")
	}
	if !errors.Is(err, errors.ErrCodeMalformedRequirement) {
		t.Errorf("error code = %v, want MALFORMED_REQUIREMENT", errors.GetCode(err))
	}
	if !strings.Contains(err.Error(), "requirements.txt:1") {
		t.Errorf("error %q does not name the file and line", err)
	}
}

func TestParseFileMissing(t *testing.T) {
	_, err := ParseFile(filepath.Join(t.TempDir(), "nope.txt"))
	if err == nil {
		t.Fatal("ParseFile succeeded on a missing file")
	}
	if !errors.Is(err, errors.ErrCodeInvalidInput) {
		t.Errorf("error code = %v, want INVALID_INPUT", errors.GetCode(err))
	}
}
