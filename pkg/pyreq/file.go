package pyreq

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pindown/pindown/pkg/errors"
)

// File is the parsed content of a pip requirements file, with nested
// -r/--requirement and -c/--constraint files flattened in.
type File struct {
	// Requirements are the install requirements, in file order.
	Requirements []*Requirement
	// Constraints come from -c files. They bound versions but never add
	// projects to the resolution themselves.
	Constraints []*Requirement
	// IndexURLs collects -i/--index-url and --extra-index-url options, in
	// the order seen.
	IndexURLs []string
	// Skipped lists lines this parser does not handle, such as editable
	// installs and local paths, as "file:line: text".
	Skipped []string
}

// ParseFile reads a pip-style requirements file. Nested includes are
// resolved relative to the including file; include cycles are an error.
func ParseFile(path string) (*File, error) {
	f := &File{}
	if err := f.load(path, false, map[string]bool{}); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *File) load(path string, asConstraints bool, seen map[string]bool) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInvalidInput, err, "resolving %s", path)
	}
	if seen[abs] {
		return errors.New(errors.ErrCodeInvalidInput,
			"requirements file include cycle through %s", path)
	}
	seen[abs] = true

	file, err := os.Open(abs)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInvalidInput, err, "opening requirements file %s", path)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := scanner.Text()
		// Join backslash continuations before anything else.
		for strings.HasSuffix(strings.TrimRight(line, " \t"), `\`) && scanner.Scan() {
			lineno++
			trimmed := strings.TrimRight(line, " \t")
			line = trimmed[:len(trimmed)-1] + scanner.Text()
		}
		line = stripComment(line)
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := f.handleLine(line, abs, lineno, asConstraints, seen); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidInput, err, "reading requirements file %s", path)
	}
	return nil
}

func (f *File) handleLine(line, path string, lineno int, asConstraints bool, seen map[string]bool) error {
	if opt, arg, ok := splitOption(line); ok {
		switch opt {
		case "-r", "--requirement":
			return f.load(filepath.Join(filepath.Dir(path), arg), asConstraints, seen)
		case "-c", "--constraint":
			return f.load(filepath.Join(filepath.Dir(path), arg), true, seen)
		case "-i", "--index-url", "--extra-index-url":
			f.IndexURLs = append(f.IndexURLs, arg)
			return nil
		case "-e", "--editable":
			f.skip(path, lineno, line)
			return nil
		default:
			// Other pip options (--hash, --no-binary, ...) do not affect
			// which versions resolve.
			f.skip(path, lineno, line)
			return nil
		}
	}
	if isLocalPath(line) {
		f.skip(path, lineno, line)
		return nil
	}

	req, err := Parse(line)
	if err != nil {
		return errors.Wrap(errors.ErrCodeMalformedRequirement, err,
			"%s:%d", filepath.Base(path), lineno)
	}
	if asConstraints {
		f.Constraints = append(f.Constraints, req)
	} else {
		f.Requirements = append(f.Requirements, req)
	}
	return nil
}

func (f *File) skip(path string, lineno int, line string) {
	f.Skipped = append(f.Skipped, fmt.Sprintf("%s:%d: %s", filepath.Base(path), lineno, line))
}

// stripComment removes a trailing comment. Matching pip, '#' starts a
// comment only at the beginning of the line or after whitespace.
func stripComment(line string) string {
	if strings.HasPrefix(strings.TrimLeft(line, " \t"), "#") {
		return ""
	}
	for i := 1; i < len(line); i++ {
		if line[i] == '#' && (line[i-1] == ' ' || line[i-1] == '\t') {
			return line[:i]
		}
	}
	return line
}

// splitOption splits an option line into its flag and argument, handling
// both "--index-url URL" and "--index-url=URL" spellings.
func splitOption(line string) (opt, arg string, ok bool) {
	if !strings.HasPrefix(line, "-") {
		return "", "", false
	}
	if i := strings.IndexAny(line, " \t="); i >= 0 {
		return line[:i], strings.TrimSpace(line[i+1:]), true
	}
	return line, "", true
}

// isLocalPath reports whether a line refers to a local file or directory
// rather than a named requirement.
func isLocalPath(line string) bool {
	switch {
	case strings.HasPrefix(line, "."), strings.HasPrefix(line, "/"), strings.HasPrefix(line, "~"):
		return true
	case strings.HasPrefix(line, "file:"):
		return true
	}
	// Archives referenced by bare filename.
	for _, ext := range []string{".whl", ".tar.gz", ".zip", ".tar.bz2"} {
		if strings.HasSuffix(line, ext) && !strings.Contains(line, "@") {
			return true
		}
	}
	return false
}
