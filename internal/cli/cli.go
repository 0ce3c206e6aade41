// Package cli implements the pindown command-line interface.
//
// The main command is resolve, which pins versions for a set of PEP 508
// requirements against a simple index and prints the result as pins, a
// dependency tree, or JSON. The cache command manages the HTTP response
// cache shared by every resolve run.
//
// All commands support --verbose (-v) for debug-level logging. Loggers are
// passed through context.Context so long operations can report progress.
package cli

import (
	"os"
	"path/filepath"
	"time"
)

const appName = "pindown"

// DefaultCacheTTL is how long cached index responses and artifacts stay
// fresh.
const DefaultCacheTTL = 24 * time.Hour

// cacheDir returns the cache directory using the XDG standard
// (~/.cache/pindown/).
func cacheDir() (string, error) {
	if cacheHome := os.Getenv("XDG_CACHE_HOME"); cacheHome != "" {
		return filepath.Join(cacheHome, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".cache", appName), nil
}
