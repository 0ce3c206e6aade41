package httputil

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestCacheRoundTrip(t *testing.T) {
	c, err := NewCache(t.TempDir(), 0)
	if err != nil {
		t.Fatal(err)
	}

	if err := c.Set("https://pypi.org/simple/requests/", []byte(`{"files":[]}`)); err != nil {
		t.Fatal(err)
	}

	data, ok, err := c.Get("https://pypi.org/simple/requests/")
	if err != nil || !ok {
		t.Fatalf("Get = (%v, %v), want hit", ok, err)
	}
	if string(data) != `{"files":[]}` {
		t.Errorf("data = %q", data)
	}
}

func TestCacheMiss(t *testing.T) {
	c, err := NewCache(t.TempDir(), 0)
	if err != nil {
		t.Fatal(err)
	}
	data, ok, err := c.Get("never-set")
	if err != nil || ok || data != nil {
		t.Errorf("Get = (%v, %v, %v), want clean miss", data, ok, err)
	}
}

func TestCacheExpiry(t *testing.T) {
	dir := t.TempDir()
	c, err := NewCache(dir, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Set("key", []byte("v")); err != nil {
		t.Fatal(err)
	}

	// Age the entry past its TTL by rewinding the file mtime.
	var entry string
	if err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			entry = path
		}
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-2 * time.Minute)
	if err := os.Chtimes(entry, old, old); err != nil {
		t.Fatal(err)
	}

	_, ok, err := c.Get("key")
	if ok || !errors.Is(err, ErrExpired) {
		t.Errorf("Get = (%v, %v), want ErrExpired", ok, err)
	}
}

func TestCacheNamespace(t *testing.T) {
	c, err := NewCache(t.TempDir(), 0)
	if err != nil {
		t.Fatal(err)
	}
	a := c.Namespace("simple:")
	b := c.Namespace("dist:")

	if err := a.Set("requests", []byte("listing")); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := b.Get("requests"); ok {
		t.Error("namespaces should not share entries")
	}
	if _, ok, _ := a.Get("requests"); !ok {
		t.Error("entry missing from its own namespace")
	}
}

func TestCacheDelete(t *testing.T) {
	c, err := NewCache(t.TempDir(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Set("k", []byte("v")); err != nil {
		t.Fatal(err)
	}
	if err := c.Delete("k"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := c.Get("k"); ok {
		t.Error("entry should be gone after Delete")
	}
	if err := c.Delete("k"); err != nil {
		t.Error("deleting a missing entry should not error")
	}
}
