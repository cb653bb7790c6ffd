package codecache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/v8app/jsapp/internal/assets"
	"github.com/v8app/jsapp/jsapperr"
)

func newTestRoots(t *testing.T) *assets.Roots {
	t.Helper()
	dir := t.TempDir()
	for _, sub := range []string{assets.JSDir, assets.ModulesDir, assets.ResourcesDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", sub, err)
		}
	}
	roots, err := assets.NewRoots(dir)
	if err != nil {
		t.Fatalf("NewRoots: %v", err)
	}
	return roots
}

func TestLoadScriptFileNoCacheYet(t *testing.T) {
	roots := newTestRoots(t)
	srcPath := filepath.Join(roots.JS, "main.js")
	if err := os.WriteFile(srcPath, []byte("1+1;"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}

	c := New(roots)
	source, cached, hasCache, err := c.LoadScriptFile(srcPath)
	if err != nil {
		t.Fatalf("LoadScriptFile: %v", err)
	}
	if source != "1+1;" {
		t.Fatalf("source = %q", source)
	}
	if hasCache || cached != nil {
		t.Fatalf("expected no cache on first load")
	}
}

func TestSetCodeCacheThenLoadReturnsHit(t *testing.T) {
	roots := newTestRoots(t)
	srcPath := filepath.Join(roots.JS, "main.js")
	if err := os.WriteFile(srcPath, []byte("1+1;"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}

	c := New(roots)
	if err := c.SetCodeCache(srcPath, "1+1;", []byte("compiled-bytes")); err != nil {
		t.Fatalf("SetCodeCache: %v", err)
	}

	cacheFile, err := c.cacheFilePath(srcPath)
	if err != nil {
		t.Fatalf("cacheFilePath: %v", err)
	}
	rel := stripCodeCacheDir(roots.CodeCache, cacheFile)
	if rel != "main.js.jscc" {
		t.Fatalf("cache file relative path = %q, want main.js.jscc", rel)
	}

	_, cached, hasCache, err := c.LoadScriptFile(srcPath)
	if err != nil {
		t.Fatalf("LoadScriptFile: %v", err)
	}
	if !hasCache || string(cached) != "compiled-bytes" {
		t.Fatalf("expected cache hit with compiled-bytes, got hasCache=%v cached=%q", hasCache, cached)
	}
}

func TestLoadScriptFileStaleCacheIsIgnored(t *testing.T) {
	roots := newTestRoots(t)
	srcPath := filepath.Join(roots.JS, "main.js")
	if err := os.WriteFile(srcPath, []byte("1+1;"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}

	c := New(roots)
	if err := c.SetCodeCache(srcPath, "1+1;", []byte("stale")); err != nil {
		t.Fatalf("SetCodeCache: %v", err)
	}

	// Touch the source forward so its mtime is newer than the cache file.
	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(srcPath, future, future); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}

	_, cached, hasCache, err := c.LoadScriptFile(srcPath)
	if err != nil {
		t.Fatalf("LoadScriptFile: %v", err)
	}
	if hasCache || cached != nil {
		t.Fatalf("expected stale cache to be ignored")
	}
}

func TestLoadScriptFileRejectsOutsideRoots(t *testing.T) {
	roots := newTestRoots(t)
	outside := filepath.Join(t.TempDir(), "evil.js")
	if err := os.WriteFile(outside, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	c := New(roots)
	_, _, _, err := c.LoadScriptFile(outside)
	if !jsapperr.Is(err, jsapperr.ConfigError) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
}

func TestLoadScriptFileMissingSourceIsError(t *testing.T) {
	roots := newTestRoots(t)
	missing := filepath.Join(roots.JS, "missing.js")
	c := New(roots)
	_, _, _, err := c.LoadScriptFile(missing)
	if !jsapperr.Is(err, jsapperr.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}
