// Package assets resolves the rooted asset hierarchy every App is built on
// (js/, modules/, resources/) and the %TOKEN% path substitutions used to
// address them. This package owns only the directory layout and token
// table; path normalization and file IO are the caller's concern.
package assets

import (
	"path/filepath"
	"strings"

	"github.com/v8app/jsapp/jsapperr"
)

const (
	JSDir        = "js"
	ModulesDir   = "modules"
	ResourcesDir = "resources"
	CodeCacheDir = ".code_cache"
)

// Roots holds the absolute paths of an App's mandatory asset subdirectories.
type Roots struct {
	AppRoot   string
	JS        string
	Modules   string
	Resources string
	CodeCache string
}

// NewRoots builds a Roots from an app root directory, normalizing it to an
// absolute, slash-clean path and deriving the four mandatory subdirectories.
func NewRoots(appRoot string) (*Roots, error) {
	if appRoot == "" {
		return nil, jsapperr.New(jsapperr.ConfigError, "assets.NewRoots", "app root must not be empty")
	}
	abs, err := filepath.Abs(appRoot)
	if err != nil {
		return nil, jsapperr.Wrap(jsapperr.ConfigError, "assets.NewRoots", "resolving app root", err)
	}
	abs = filepath.Clean(abs)
	return &Roots{
		AppRoot:   abs,
		JS:        filepath.Join(abs, JSDir),
		Modules:   filepath.Join(abs, ModulesDir),
		Resources: filepath.Join(abs, ResourcesDir),
		CodeCache: filepath.Join(abs, CodeCacheDir),
	}, nil
}

// tokens maps the recognized path tokens to the Roots field they rewrite to.
func (r *Roots) tokens() map[string]string {
	return map[string]string{
		"%APPROOT%":   r.AppRoot,
		"%JS%":        r.JS,
		"%MODULES%":   r.Modules,
		"%RESOURCES%": r.Resources,
	}
}

// SubstituteToken rewrites a leading %TOKEN% in p to its configured
// directory. If p has no recognized leading token it is returned unchanged.
func (r *Roots) SubstituteToken(p string) string {
	for tok, dir := range r.tokens() {
		if strings.HasPrefix(p, tok) {
			rest := strings.TrimPrefix(p, tok)
			return filepath.Join(dir, rest)
		}
	}
	return p
}

// ResolveAbsolute resolves specifier s, found inside module at referrerPath,
// against the App root: a leading "%" or "/" token resolves against the
// app root; otherwise it resolves against the referrer's directory.
func (r *Roots) ResolveAbsolute(s string, referrerPath string) string {
	if strings.HasPrefix(s, "%") {
		return filepath.Clean(r.SubstituteToken(s))
	}
	if strings.HasPrefix(s, "/") {
		return filepath.Clean(filepath.Join(r.AppRoot, s))
	}
	dir := filepath.Dir(referrerPath)
	return filepath.Clean(filepath.Join(dir, s))
}

// WithinRoot reports whether p lexically falls under the app root after
// normalization.
func (r *Roots) WithinRoot(p string) bool {
	rel, err := filepath.Rel(r.AppRoot, p)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Prefix classifies p (already absolute and within root) by which
// mandatory subdirectory it falls under.
type Prefix int

const (
	PrefixNone Prefix = iota
	PrefixJS
	PrefixModules
	PrefixResources
)

// ClassifyPrefix returns which of js/, modules/, resources/ the absolute
// path p falls under, or PrefixNone if it is under the app root but
// outside all three.
func (r *Roots) ClassifyPrefix(p string) Prefix {
	switch {
	case hasDirPrefix(p, r.JS):
		return PrefixJS
	case hasDirPrefix(p, r.Modules):
		return PrefixModules
	case hasDirPrefix(p, r.Resources):
		return PrefixResources
	default:
		return PrefixNone
	}
}

func hasDirPrefix(p, dir string) bool {
	rel, err := filepath.Rel(dir, p)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
