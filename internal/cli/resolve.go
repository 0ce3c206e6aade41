package cli

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/pindown/pindown/pkg/httputil"
	"github.com/pindown/pindown/pkg/metadata"
	"github.com/pindown/pindown/pkg/pymarker"
	"github.com/pindown/pindown/pkg/pypi"
	"github.com/pindown/pindown/pkg/pyreq"
	"github.com/pindown/pindown/pkg/resolver"
)

// resolveOpts holds the command-line flags for the resolve command.
type resolveOpts struct {
	pythonVersion string   // target interpreter, e.g. "3.12"
	osName        string   // target OS: linux, macos or windows
	indexURL      string   // simple index base URL
	reqFiles      []string // -r requirements files
	conFiles      []string // -c constraints files
	prerelease    bool     // admit pre and dev releases
	allowSdist    bool     // extract metadata from sdist-only releases
	jsonAPI       bool     // prefer the index JSON API over downloads
	refresh       bool     // bypass the HTTP cache
	noCache       bool     // disable the HTTP cache entirely
	maxRounds     int      // solver iteration cap
	timeout       time.Duration
	output        string // output file path (stdout if empty)
	format        string // pins, tree or json
}

// hostOS maps the running platform onto a resolution target OS, so the
// default matches the machine the command runs on.
func hostOS() string {
	switch runtime.GOOS {
	case "darwin":
		return "macos"
	case "windows":
		return "windows"
	default:
		return "linux"
	}
}

func newResolveCmd() *cobra.Command {
	opts := resolveOpts{
		pythonVersion: "3.12",
		osName:        hostOS(),
		maxRounds:     resolver.DefaultMaxRounds,
		format:        "pins",
	}

	cmd := &cobra.Command{
		Use:   "resolve [requirement...]",
		Short: "Resolve requirements to pinned versions",
		Long: `Resolve PEP 508 requirements to a set of pinned versions.

Requirements come from the command line, from -r requirements files, or
both. Constraints files (-c) bound versions of directly required projects
without adding them.

Examples:
  pindown resolve "requests>=2.28"
  pindown resolve -r requirements.txt -c constraints.txt
  pindown resolve --python-version 3.10 --os windows "numpy" "pandas<3"
  pindown resolve --format json "flask[async]"`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResolve(cmd.Context(), &opts, args)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.pythonVersion, "python-version", opts.pythonVersion, "target python version")
	f.StringVar(&opts.osName, "os", opts.osName, "target operating system (linux, macos, windows)")
	f.StringVarP(&opts.indexURL, "index-url", "i", "", "simple index base URL (default: PyPI)")
	f.StringArrayVarP(&opts.reqFiles, "requirement", "r", nil, "requirements file (repeatable)")
	f.StringArrayVarP(&opts.conFiles, "constraint", "c", nil, "constraints file (repeatable)")
	f.BoolVar(&opts.prerelease, "pre", false, "admit pre and dev releases")
	f.BoolVar(&opts.allowSdist, "allow-sdist", false, "extract metadata from sdist-only releases")
	f.BoolVar(&opts.jsonAPI, "json-api", false, "prefer the index JSON API over artifact downloads")
	f.BoolVar(&opts.refresh, "refresh", false, "bypass cache")
	f.BoolVar(&opts.noCache, "no-cache", false, "disable the HTTP cache")
	f.IntVar(&opts.maxRounds, "max-rounds", opts.maxRounds, "maximum solver rounds")
	f.DurationVar(&opts.timeout, "timeout", 0, "overall resolution timeout (0 = none)")
	f.StringVarP(&opts.output, "output", "o", "", "output file (stdout if empty)")
	f.StringVar(&opts.format, "format", opts.format, "output format: pins, tree or json")

	return cmd
}

func runResolve(ctx context.Context, opts *resolveOpts, args []string) error {
	logger := loggerFromContext(ctx)

	reqs, constraints, indexURL, err := gatherRequirements(ctx, opts, args)
	if err != nil {
		return err
	}
	if len(reqs) == 0 {
		return fmt.Errorf("nothing to resolve: pass requirements or -r files")
	}
	if opts.indexURL != "" {
		indexURL = opts.indexURL
	}

	env, err := pymarker.NewEnvironment(opts.pythonVersion, opts.osName)
	if err != nil {
		return err
	}

	client, err := newIndexClient(opts, indexURL, logger)
	if err != nil {
		return err
	}
	extractor := metadata.NewExtractor(client, metadata.Options{
		AllowSdist:    opts.allowSdist,
		PreferJSONAPI: opts.jsonAPI,
		Logger:        func(msg string, a ...any) { logger.Debugf(msg, a...) },
	})

	r, err := resolver.New(resolver.Options{
		Environment: env,
		MaxRounds:   opts.maxRounds,
		Prereleases: opts.prerelease,
		Client:      client,
		Extractor:   extractor,
		Logger:      func(msg string, a ...any) { logger.Debugf(msg, a...) },
	})
	if err != nil {
		return err
	}

	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	logger.Infof("Resolving %d requirements for %s", len(reqs), env)
	prog := newProgress(logger)
	res, err := r.Resolve(ctx, applyConstraints(reqs, constraints, logger))
	if err != nil {
		return err
	}
	prog.done(fmt.Sprintf("Pinned %d packages", len(res.Packages)))

	return writeResolution(res, opts.output, opts.format, logger)
}

// gatherRequirements collects requirements and constraints from the
// command line and every -r/-c file. The returned index URL is the first
// one any requirements file names, or empty.
func gatherRequirements(ctx context.Context, opts *resolveOpts, args []string) (reqs, constraints []*pyreq.Requirement, indexURL string, err error) {
	logger := loggerFromContext(ctx)

	for _, arg := range args {
		req, err := pyreq.Parse(arg)
		if err != nil {
			return nil, nil, "", err
		}
		reqs = append(reqs, req)
	}
	for _, path := range opts.reqFiles {
		file, err := pyreq.ParseFile(path)
		if err != nil {
			return nil, nil, "", err
		}
		reqs = append(reqs, file.Requirements...)
		constraints = append(constraints, file.Constraints...)
		if indexURL == "" && len(file.IndexURLs) > 0 {
			indexURL = file.IndexURLs[0]
		}
		for _, skipped := range file.Skipped {
			logger.Warnf("skipping unsupported line %s", skipped)
		}
	}
	for _, path := range opts.conFiles {
		file, err := pyreq.ParseFile(path)
		if err != nil {
			return nil, nil, "", err
		}
		// Everything in a -c file acts as a constraint, including plain
		// requirement lines.
		constraints = append(constraints, file.Requirements...)
		constraints = append(constraints, file.Constraints...)
	}
	return reqs, constraints, indexURL, nil
}

// applyConstraints intersects constraint specifiers into the requirements
// that name the same project. Requirements are shared and immutable, so
// constrained ones are replaced with copies carrying the merged
// specifiers. Constraints on projects nobody requires are dropped with a
// debug note.
func applyConstraints(reqs, constraints []*pyreq.Requirement, logger interface{ Debugf(string, ...any) }) []*pyreq.Requirement {
	if len(constraints) == 0 {
		return reqs
	}
	required := make(map[string]bool, len(reqs))
	for _, req := range reqs {
		required[req.Name] = true
	}
	byName := make(map[string][]*pyreq.Requirement, len(constraints))
	for _, con := range constraints {
		if !required[con.Name] {
			logger.Debugf("constraint %s matches no requirement", con.Raw)
			continue
		}
		byName[con.Name] = append(byName[con.Name], con)
	}

	out := make([]*pyreq.Requirement, len(reqs))
	for i, req := range reqs {
		out[i] = req
		merged := req.Specifiers
		applied := false
		for _, con := range byName[req.Name] {
			m, err := merged.And(con.Specifiers)
			if err != nil {
				logger.Debugf("cannot apply constraint %s to %s: %v", con.Raw, req.Raw, err)
				continue
			}
			merged = m
			applied = true
		}
		if applied {
			constrained := *req
			constrained.Specifiers = merged
			out[i] = &constrained
		}
	}
	return out
}

// newIndexClient builds the simple-index client, wiring in the file cache
// unless --no-cache asked for direct fetches.
func newIndexClient(opts *resolveOpts, indexURL string, logger interface{ Debugf(string, ...any) }) (*pypi.Client, error) {
	var cache *httputil.Cache
	if !opts.noCache {
		dir, err := cacheDir()
		if err == nil {
			cache, err = httputil.NewCache(dir, DefaultCacheTTL)
		}
		if err != nil {
			logger.Debugf("cache disabled: %v", err)
			cache = nil
		}
	}
	return pypi.NewClient(pypi.Options{
		IndexURL: indexURL,
		Cache:    cache,
		Refresh:  opts.refresh,
		Logger:   func(msg string, a ...any) { logger.Debugf(msg, a...) },
	})
}
