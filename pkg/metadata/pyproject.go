package metadata

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"fmt"
	"io"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/pindown/pindown/pkg/pep440"
	"github.com/pindown/pindown/pkg/pypi"
	"github.com/pindown/pindown/pkg/pyreq"
)

// pyproject mirrors the [project] table defined by PEP 621.
type pyproject struct {
	Project struct {
		Name           string              `toml:"name"`
		Version        string              `toml:"version"`
		RequiresPython string              `toml:"requires-python"`
		Dependencies   []string            `toml:"dependencies"`
		OptionalDeps   map[string][]string `toml:"optional-dependencies"`
		Dynamic        []string            `toml:"dynamic"`
	} `toml:"project"`
}

// fromPyproject reads the pyproject.toml at the root of an sdist archive.
// It is the fallback for sdists whose PKG-INFO predates Requires-Dist or
// whose setup.py holds the dependencies.
func fromPyproject(c *pypi.Candidate, data []byte) (*Distribution, error) {
	content, err := sdistFile(c.Filename, data, "pyproject.toml")
	if err != nil {
		return nil, err
	}

	var pp pyproject
	if err := toml.Unmarshal(content, &pp); err != nil {
		return nil, fmt.Errorf("parsing pyproject.toml: %w", err)
	}
	if pp.Project.Name == "" {
		return nil, fmt.Errorf("pyproject.toml has no [project] table")
	}
	for _, dyn := range pp.Project.Dynamic {
		if dyn == "dependencies" || dyn == "optional-dependencies" {
			return nil, fmt.Errorf("pyproject.toml declares %s as dynamic", dyn)
		}
	}

	reqs, err := parseAll(pp.Project.Dependencies)
	if err != nil {
		return nil, err
	}
	// Optional dependency groups become requirements guarded by an extra
	// marker, the same shape core metadata uses.
	for extra, deps := range pp.Project.OptionalDeps {
		for _, dep := range deps {
			r, err := pyreq.Parse(withExtraMarker(dep, extra))
			if err != nil {
				return nil, err
			}
			reqs = append(reqs, r)
		}
	}

	return &Distribution{
		Name:           pep440.CanonName(pp.Project.Name),
		Version:        pp.Project.Version,
		RequiresPython: pp.Project.RequiresPython,
		Requirements:   reqs,
	}, nil
}

func withExtraMarker(dep, extra string) string {
	if i := strings.LastIndexByte(dep, ';'); i >= 0 {
		// Parenthesize the existing marker so an "or" inside it does
		// not capture the extra clause.
		return fmt.Sprintf(`%s; (%s) and extra == "%s"`,
			strings.TrimSpace(dep[:i]), strings.TrimSpace(dep[i+1:]), extra)
	}
	return fmt.Sprintf(`%s; extra == "%s"`, dep, extra)
}

// sdistFile extracts a single file from the root directory of an sdist
// archive. Sdists contain one top-level directory named after the release,
// so the target lives at "<anything>/<name>".
func sdistFile(filename string, data []byte, name string) ([]byte, error) {
	switch {
	case strings.HasSuffix(filename, ".zip"):
		return zipFile(data, name)
	case strings.HasSuffix(filename, ".tar.gz"), strings.HasSuffix(filename, ".tgz"):
		gz, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		return tarFile(gz, name)
	case strings.HasSuffix(filename, ".tar.bz2"):
		return tarFile(bzip2.NewReader(bytes.NewReader(data)), name)
	}
	return nil, fmt.Errorf("unrecognized sdist format: %s", filename)
}

func tarFile(r io.Reader, name string) ([]byte, error) {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if hdr.Typeflag == tar.TypeReg && atRoot(hdr.Name, name) {
			return io.ReadAll(tr)
		}
	}
	return nil, fmt.Errorf("%s not found in sdist", name)
}

func zipFile(data []byte, name string) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	for _, f := range zr.File {
		if atRoot(f.Name, name) {
			rc, err := f.Open()
			if err != nil {
				return nil, err
			}
			defer rc.Close()
			return io.ReadAll(rc)
		}
	}
	return nil, fmt.Errorf("%s not found in sdist", name)
}

// atRoot reports whether an archive member path is the target file in the
// archive's single top-level directory.
func atRoot(member, name string) bool {
	dir, file, ok := strings.Cut(member, "/")
	return ok && dir != "" && file == name
}
