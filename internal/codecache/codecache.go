// Package codecache implements an on-disk compiled-module cache: entries
// keyed by absolute source path, persisted under
// <app-root>/.code_cache/<relative-under-js-or-modules>.jscc, consulted as
// a compiler consume-hint when the cache file's mtime is at least as new
// as the source file's.
package codecache

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/v8app/jsapp/internal/assets"
	"github.com/v8app/jsapp/jsapperr"
)

// Entry is one cache record: the source text, the compiler-produced
// cached bytes (nil until first compile), and the mtime the bytes were
// compiled against.
type Entry struct {
	SourceString   string
	CompiledBytes  []byte
	LastCompiled   time.Time
	SourceFile     string
	CacheFile      string
}

// Cache is the in-memory index over on-disk .jscc files, scoped to one
// App's asset roots.
type Cache struct {
	roots *assets.Roots

	mu      sync.Mutex
	entries map[string]*Entry
}

// New creates a Cache rooted at roots.
func New(roots *assets.Roots) *Cache {
	return &Cache{roots: roots, entries: make(map[string]*Entry)}
}

// cacheFilePath maps an absolute source path under js/ or modules/ to its
// .jscc path under .code_cache/, rejecting paths elsewhere.
func (c *Cache) cacheFilePath(absSourcePath string) (string, error) {
	switch c.roots.ClassifyPrefix(absSourcePath) {
	case assets.PrefixJS, assets.PrefixModules:
	default:
		return "", jsapperr.New(jsapperr.ConfigError, "codecache.cacheFilePath", "source path must be under js/ or modules/: "+absSourcePath)
	}
	ext := filepath.Ext(absSourcePath)
	switch ext {
	case ".js", ".mjs", ".json":
	default:
		return "", jsapperr.New(jsapperr.ConfigError, "codecache.cacheFilePath", "unrecognized source extension: "+ext)
	}
	rel, err := filepath.Rel(c.roots.AppRoot, absSourcePath)
	if err != nil {
		return "", jsapperr.Wrap(jsapperr.ConfigError, "codecache.cacheFilePath", "relativizing path", err)
	}
	return filepath.Join(c.roots.CodeCache, rel+".jscc"), nil
}

// LoadScriptFile reads the source file at absSourcePath, and if a fresh
// on-disk cache file exists for it (mtime >= source mtime), returns its
// bytes as a compiler consume-hint alongside the source text. A missing,
// stale, or otherwise unreadable cache file is reported as hasCache=false,
// never as an error — a missing or stale cache just yields a fresh
// compile.
func (c *Cache) LoadScriptFile(absSourcePath string) (source string, cachedBytes []byte, hasCache bool, err error) {
	cacheFile, ferr := c.cacheFilePath(absSourcePath)
	if ferr != nil {
		return "", nil, false, ferr
	}

	srcBytes, err := os.ReadFile(absSourcePath)
	if err != nil {
		return "", nil, false, jsapperr.Wrap(jsapperr.NotFound, "codecache.LoadScriptFile", "reading source "+absSourcePath, err)
	}
	source = string(srcBytes)

	srcInfo, err := os.Stat(absSourcePath)
	if err != nil {
		return source, nil, false, nil
	}

	cacheInfo, err := os.Stat(cacheFile)
	if err != nil {
		return source, nil, false, nil
	}
	if cacheInfo.ModTime().Before(srcInfo.ModTime()) {
		return source, nil, false, nil
	}

	bytes, err := os.ReadFile(cacheFile)
	if err != nil {
		return source, nil, false, nil
	}

	c.mu.Lock()
	c.entries[absSourcePath] = &Entry{
		SourceString:  source,
		CompiledBytes: bytes,
		LastCompiled:  cacheInfo.ModTime(),
		SourceFile:    absSourcePath,
		CacheFile:     cacheFile,
	}
	c.mu.Unlock()

	return source, bytes, true, nil
}

// HasCodeCache reports whether an in-memory entry is present for
// absSourcePath (does not touch disk).
func (c *Cache) HasCodeCache(absSourcePath string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[absSourcePath]
	return ok
}

// SetCodeCache writes compiler-produced bytes back to disk at the .jscc
// path for absSourcePath and updates the in-memory entry. A write failure
// is reported but never fatal to the caller's compile.
func (c *Cache) SetCodeCache(absSourcePath, source string, compiled []byte) error {
	cacheFile, err := c.cacheFilePath(absSourcePath)
	if err != nil {
		return err
	}
	if mkErr := os.MkdirAll(filepath.Dir(cacheFile), 0o755); mkErr != nil {
		return nil //nolint:nilerr // disk failure here must not fail the compile
	}
	if writeErr := os.WriteFile(cacheFile, compiled, 0o644); writeErr != nil {
		return nil
	}

	c.mu.Lock()
	c.entries[absSourcePath] = &Entry{
		SourceString:  source,
		CompiledBytes: compiled,
		LastCompiled:  time.Now(),
		SourceFile:    absSourcePath,
		CacheFile:     cacheFile,
	}
	c.mu.Unlock()
	return nil
}

// stripCodeCacheDir is used by tests to assert a relative .jscc layout
// without hard-coding the app root.
func stripCodeCacheDir(root, p string) string {
	rel := strings.TrimPrefix(p, root)
	return strings.TrimPrefix(rel, string(filepath.Separator))
}
