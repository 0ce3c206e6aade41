package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/pindown/pindown/pkg/resolver"
)

// writeResolution renders res in the requested format to path, or stdout
// when path is empty.
func writeResolution(res *resolver.Resolution, path, format string, logger interface{ Infof(string, ...any) }) error {
	out, err := openOutput(path)
	if err != nil {
		return err
	}
	defer out.Close()

	switch format {
	case "pins":
		err = writePins(out, res)
	case "tree":
		err = writeTree(out, res)
	case "json":
		err = writeJSON(out, res)
	default:
		return fmt.Errorf("unknown format %q (want pins, tree or json)", format)
	}
	if err != nil {
		return err
	}
	if path != "" {
		logger.Infof("Wrote resolution to %s", path)
	}
	return nil
}

func openOutput(path string) (io.WriteCloser, error) {
	if path == "" {
		return nopCloser{os.Stdout}, nil
	}
	return os.Create(path)
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// writePins prints one "name==version" line per package, the shape a
// requirements lockfile expects.
func writePins(w io.Writer, res *resolver.Resolution) error {
	for _, pkg := range res.Packages {
		if _, err := fmt.Fprintf(w, "%s==%s\n", pkg.Name, pkg.Version); err != nil {
			return err
		}
	}
	return nil
}

// writeTree prints the dependency graph as an indented tree rooted at the
// user requirements. A package reached through several parents appears
// under each; descent stops at nodes already on the current path, so
// dependency cycles terminate.
func writeTree(w io.Writer, res *resolver.Resolution) error {
	children := make(map[string][]resolver.Edge)
	for _, e := range res.Edges {
		children[e.From] = append(children[e.From], e)
	}
	for from := range children {
		edges := children[from]
		sort.Slice(edges, func(i, j int) bool { return edges[i].To < edges[j].To })
	}

	var walk func(name string, depth int, path map[string]bool) error
	walk = func(name string, depth int, path map[string]bool) error {
		pkg, ok := res.Find(name)
		if !ok {
			return nil
		}
		if _, err := fmt.Fprintf(w, "%s%s==%s\n", strings.Repeat("  ", depth), pkg.Name, pkg.Version); err != nil {
			return err
		}
		if path[name] {
			return nil
		}
		path[name] = true
		defer delete(path, name)
		for _, e := range children[name] {
			if err := walk(e.To, depth+1, path); err != nil {
				return err
			}
		}
		return nil
	}

	for _, e := range children[""] {
		if err := walk(e.To, 0, map[string]bool{}); err != nil {
			return err
		}
	}
	return nil
}

// jsonResolution is the stable JSON shape for --format json.
type jsonResolution struct {
	Packages []jsonPackage `json:"packages"`
	Edges    []jsonEdge    `json:"edges"`
	Duration string        `json:"duration"`
}

type jsonPackage struct {
	Name           string `json:"name"`
	Version        string `json:"version"`
	Filename       string `json:"filename,omitempty"`
	URL            string `json:"url,omitempty"`
	IsWheel        bool   `json:"is_wheel,omitempty"`
	RequiresPython string `json:"requires_python,omitempty"`
}

type jsonEdge struct {
	From        string `json:"from,omitempty"`
	To          string `json:"to"`
	Requirement string `json:"requirement"`
}

func writeJSON(w io.Writer, res *resolver.Resolution) error {
	view := jsonResolution{
		Packages: make([]jsonPackage, len(res.Packages)),
		Edges:    make([]jsonEdge, len(res.Edges)),
		Duration: res.Duration.String(),
	}
	for i, pkg := range res.Packages {
		jp := jsonPackage{Name: pkg.Name, Version: pkg.Version}
		if pkg.Dist != nil {
			jp.Filename = pkg.Dist.Filename
			jp.URL = pkg.Dist.URL
			jp.IsWheel = pkg.Dist.IsWheel
			jp.RequiresPython = pkg.Dist.RequiresPython
		}
		view.Packages[i] = jp
	}
	for i, e := range res.Edges {
		view.Edges[i] = jsonEdge{From: e.From, To: e.To, Requirement: e.Requirement}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(view)
}
