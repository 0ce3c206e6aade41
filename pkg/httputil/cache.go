package httputil

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"time"
)

// ErrExpired is returned by [Cache.Get] when a cached entry exists but has
// exceeded its time-to-live. The stale data still exists on disk; callers
// should fetch fresh data and update the entry with [Cache.Set].
var ErrExpired = errors.New("cache entry expired")

// Cache provides file-based caching of raw response bodies and downloaded
// artifacts. Each entry is stored as a single file whose name is the SHA-256
// hash of the cache key, so arbitrary keys (URLs, project names) are safe.
// The first two hash characters form a subdirectory to keep directory
// listings manageable.
//
// Expiry is based on file modification time. A TTL of 0 means entries never
// expire. Multiple Cache instances, even in different processes, can share a
// directory; the filesystem provides the necessary atomicity.
//
// Use [Cache.Namespace] to scope keys per data source:
//
//	index := cache.Namespace("simple:")
//	files := cache.Namespace("dist:")
type Cache struct {
	dir    string
	ttl    time.Duration
	prefix string
}

// NewCache creates a Cache that stores entries in dir with the given TTL.
// If dir is empty the default directory ~/.cache/pindown is used. The
// directory is created if it does not exist.
func NewCache(dir string, ttl time.Duration) (*Cache, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		dir = filepath.Join(home, ".cache", "pindown")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Cache{dir: dir, ttl: ttl}, nil
}

// Dir returns the absolute path to the cache directory.
func (c *Cache) Dir() string { return c.dir }

// TTL returns the time-to-live for cache entries. Zero means no expiry.
func (c *Cache) TTL() time.Duration { return c.ttl }

// Get retrieves the cached bytes for key.
//
// Outcomes:
//   - (data, true, nil): fresh hit
//   - (nil, false, nil): miss, no entry exists
//   - (nil, false, ErrExpired): entry exists but exceeded its TTL
//   - (nil, false, err): I/O error
func (c *Cache) Get(key string) ([]byte, bool, error) {
	path := c.keyPath(key)
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if c.ttl > 0 && time.Since(info.ModTime()) > c.ttl {
		return nil, false, ErrExpired
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// Set stores data under key, overwriting any existing entry and resetting
// its TTL.
func (c *Cache) Set(key string, data []byte) error {
	path := c.keyPath(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Delete removes the entry for key. Removing a missing entry is not an error.
func (c *Cache) Delete(key string) error {
	err := os.Remove(c.keyPath(key))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Namespace returns a view of the cache that prefixes all keys, keeping
// different data sources from colliding. The returned Cache shares the
// directory and TTL of its parent; namespaces can be nested.
func (c *Cache) Namespace(prefix string) *Cache {
	return &Cache{dir: c.dir, ttl: c.ttl, prefix: c.prefix + prefix}
}

func (c *Cache) keyPath(key string) string {
	h := sha256.Sum256([]byte(c.prefix + key))
	name := hex.EncodeToString(h[:])
	return filepath.Join(c.dir, name[:2], name[2:])
}
