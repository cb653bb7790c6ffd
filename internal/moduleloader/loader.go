package moduleloader

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	v8 "github.com/tommie/v8go"

	"github.com/v8app/jsapp/internal/assets"
	"github.com/v8app/jsapp/internal/codecache"
	"github.com/v8app/jsapp/internal/taskrunner"
	"github.com/v8app/jsapp/jsapperr"
	"github.com/v8app/jsapp/metrics"
	"github.com/v8app/jsapp/tracing"
)

// Loader resolves, compiles, links, and evaluates the module graph for one
// Context.
type Loader struct {
	roots *assets.Roots
	cache *codecache.Cache
	fg    *taskrunner.Foreground

	mu        sync.Mutex
	modules   map[string]*Module // keyed by resolved absolute path
	nextGlobal int

	metrics *metrics.Registry
}

// allocGlobalNameLocked hands out the next unique globalThis property name
// for a module's exports record. Callers must hold l.mu.
func (l *Loader) allocGlobalNameLocked() string {
	l.nextGlobal++
	return fmt.Sprintf("__mod%d__", l.nextGlobal)
}

// SetMetrics attaches a metrics.Registry so successful loads are counted by
// module type. Nil-safe: an unset registry is a no-op.
func (l *Loader) SetMetrics(m *metrics.Registry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.metrics = m
}

// New creates a Loader rooted at roots, backed by cache for compiled
// bytecode reuse and fg for scheduling dynamic-import microtasks.
func New(roots *assets.Roots, cache *codecache.Cache, fg *taskrunner.Foreground) *Loader {
	return &Loader{roots: roots, cache: cache, fg: fg, modules: make(map[string]*Module)}
}

// Resolve implements the module path resolution algorithm: token
// substitution, app-root- or referrer-relative resolution, escape
// rejection, and per-prefix attribute validation. referrerPath is the
// absolute path of the importing module (empty for the entry point).
func (l *Loader) Resolve(specifier string, referrerPath string, attrs Attributes) (absPath string, resolvedType ModuleType, shortName string, version string, err error) {
	resolved := specifier
	if attrs.Module != "" && !strings.HasPrefix(specifier, "%") && !strings.HasPrefix(specifier, "/") {
		resolved = filepath.Join("%MODULES%", attrs.Module, specifier)
	}
	abs := l.roots.ResolveAbsolute(resolved, referrerPath)

	if !l.roots.WithinRoot(abs) {
		return "", 0, "", "", jsapperr.New(jsapperr.ModuleResolution, "moduleloader.Resolve", "specifier escapes app root: "+specifier)
	}

	switch l.roots.ClassifyPrefix(abs) {
	case assets.PrefixJS:
		if attrs.Module != "" {
			return "", 0, "", "", jsapperr.New(jsapperr.ModuleResolution, "moduleloader.Resolve", "module attribute not permitted under js/")
		}
		t, ok := typeFromExtension(abs)
		if !ok || (attrs.Type != TypeNative && t != attrs.Type) {
			return "", 0, "", "", jsapperr.New(jsapperr.ModuleResolution, "moduleloader.Resolve", "extension does not match import type for "+abs)
		}
		return abs, attrs.Type, stem(abs), "", nil

	case assets.PrefixModules:
		rel, _ := filepath.Rel(l.roots.Modules, abs)
		segs := strings.Split(rel, string(filepath.Separator))
		if len(segs) < 2 {
			return "", 0, "", "", jsapperr.New(jsapperr.ModuleResolution, "moduleloader.Resolve", "modules/ path missing package segment: "+abs)
		}
		pkg := segs[0]
		ver := ""
		if len(segs) >= 3 && isSemverLike(segs[1]) {
			ver = segs[1]
		} else {
			ver, err = l.highestVersion(pkg)
			if err != nil {
				return "", 0, "", "", err
			}
			abs = l.substituteVersion(abs, pkg, ver)
		}
		t, ok := typeFromExtension(abs)
		if !ok || (attrs.Type != TypeNative && t != attrs.Type) {
			return "", 0, "", "", jsapperr.New(jsapperr.ModuleResolution, "moduleloader.Resolve", "extension does not match import type for "+abs)
		}
		return abs, attrs.Type, stem(abs), ver, nil

	case assets.PrefixResources:
		if attrs.Module != "" {
			return "", 0, "", "", jsapperr.New(jsapperr.ModuleResolution, "moduleloader.Resolve", "module attribute not permitted under resources/")
		}
		ext := filepath.Ext(abs)
		if ext == ".js" || ext == ".mjs" {
			return "", 0, "", "", jsapperr.New(jsapperr.ModuleResolution, "moduleloader.Resolve", "js/mjs forbidden under resources/")
		}
		return abs, attrs.Type, stem(abs), "", nil

	default:
		return "", 0, "", "", jsapperr.New(jsapperr.ModuleResolution, "moduleloader.Resolve", "path outside js/, modules/, resources/: "+abs)
	}
}

func stem(p string) string {
	base := filepath.Base(p)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func typeFromExtension(p string) (ModuleType, bool) {
	switch filepath.Ext(p) {
	case ".json":
		return TypeJSON, true
	case ".js", ".mjs":
		return TypeJS, true
	default:
		return 0, false
	}
}

var semverRe = regexp.MustCompile(`^\d+(\.\d+){0,2}$`)

func isSemverLike(s string) bool { return semverRe.MatchString(s) }

// highestVersion scans <modules>/<pkg>/ for semver-looking subdirectories
// and returns the greatest one by component comparison.
func (l *Loader) highestVersion(pkg string) (string, error) {
	dir := filepath.Join(l.roots.Modules, pkg)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", jsapperr.Wrap(jsapperr.ModuleResolution, "moduleloader.highestVersion", "listing versions for "+pkg, err)
	}
	var versions []string
	for _, e := range entries {
		if e.IsDir() && isSemverLike(e.Name()) {
			versions = append(versions, e.Name())
		}
	}
	if len(versions) == 0 {
		return "", jsapperr.New(jsapperr.ModuleResolution, "moduleloader.highestVersion", "no versions available for "+pkg)
	}
	sort.Slice(versions, func(i, j int) bool { return compareSemver(versions[i], versions[j]) < 0 })
	return versions[len(versions)-1], nil
}

func compareSemver(a, b string) int {
	as, bs := strings.Split(a, "."), strings.Split(b, ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		var av, bv int
		if i < len(as) {
			fmt.Sscanf(as[i], "%d", &av)
		}
		if i < len(bs) {
			fmt.Sscanf(bs[i], "%d", &bv)
		}
		if av != bv {
			return av - bv
		}
	}
	return 0
}

func (l *Loader) substituteVersion(abs, pkg, ver string) string {
	rel, _ := filepath.Rel(l.roots.Modules, abs)
	segs := strings.SplitN(rel, string(filepath.Separator), 2)
	rest := ""
	if len(segs) == 2 {
		rest = segs[1]
	}
	return filepath.Join(l.roots.Modules, pkg, ver, rest)
}

// Load resolves and loads the module tree rooted at specifier, imported by
// referrerPath (empty for the entry point), returning the loaded Module.
// Cycles are detected by inserting a placeholder into the module map before
// recursing into the module's own static imports: a specifier that is
// already present (even mid-fill) is returned as-is without re-fetching or
// re-recursing, which is what turns a back-edge in the import graph into a
// cycle instead of unbounded recursion.
func (l *Loader) Load(specifier, referrerPath string, attrs Attributes) (*Module, error) {
	abs, typ, shortName, version, err := l.Resolve(specifier, referrerPath, attrs)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	if existing, ok := l.modules[abs]; ok {
		l.mu.Unlock()
		return existing, nil
	}
	mod := &Module{Path: abs, ShortName: shortName, Version: version, Type: typ, GlobalName: l.allocGlobalNameLocked()}
	l.modules[abs] = mod
	l.mu.Unlock()

	switch typ {
	case TypeJSON:
		err = l.fillJSON(mod)
	case TypeJS:
		err = l.fillJS(mod)
	case TypeNative:
		// nothing further to load; the native module's exports are
		// populated by the embedding Runtime at evaluation time.
	default:
		err = jsapperr.New(jsapperr.ModuleResolution, "moduleloader.Load", "unsupported module type for "+abs)
	}
	if err != nil {
		l.mu.Lock()
		delete(l.modules, abs)
		l.mu.Unlock()
		return nil, err
	}

	if typ == TypeJS {
		parsed := parseStaticImports(mod.Source)
		imports := make([]ModuleImport, 0, len(parsed))
		for _, p := range parsed {
			targetAttrs := Attributes{Type: attrsFromImport(p, TypeJS)}
			target, err := l.Load(p.Specifier, abs, targetAttrs)
			if err != nil {
				l.mu.Lock()
				delete(l.modules, abs)
				l.mu.Unlock()
				return nil, err
			}
			imports = append(imports, ModuleImport{Raw: p.Raw, Binding: p.Binding, Specifier: p.Specifier, Target: target})
		}
		mod.Imports = imports
	}

	if l.metrics != nil {
		l.metrics.ModulesLoaded.WithLabelValues(mod.Type.String()).Inc()
	}
	return mod, nil
}

func (l *Loader) fillJSON(mod *Module) error {
	data, err := os.ReadFile(mod.Path)
	if err != nil {
		return jsapperr.Wrap(jsapperr.ModuleResolution, "moduleloader.fillJSON", "reading "+mod.Path, err)
	}
	var parsed any
	if err := json.Unmarshal(data, &parsed); err != nil {
		return jsapperr.Wrap(jsapperr.Compile, "moduleloader.fillJSON", "parsing JSON module "+mod.Path, err)
	}
	mod.JSONValue = parsed
	mod.Source = string(data)
	return nil
}

func (l *Loader) fillJS(mod *Module) error {
	source, cached, hasCache, err := l.cache.LoadScriptFile(mod.Path)
	if err != nil {
		return jsapperr.Wrap(jsapperr.Compile, "moduleloader.fillJS", "loading "+mod.Path, err)
	}
	_ = cached // the consume-hint is handed to the VM's compile step in the owning Runtime
	mod.Source = source
	mod.UsedCodeCache = hasCache
	return nil
}

// Get returns a previously loaded module by its resolved absolute path.
func (l *Loader) Get(absPath string) (*Module, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.modules[absPath]
	return m, ok
}

// All returns every module currently loaded, for snapshot serialization.
func (l *Loader) All() []*Module {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Module, 0, len(l.modules))
	for _, m := range l.modules {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// DynamicImportRequest is what the VM's host-import-module-dynamically
// callback hands the loader: enough to resolve, load, link, and evaluate
// the target module and settle resolver accordingly.
type DynamicImportRequest struct {
	ReferrerPath string
	Specifier    string
	Attrs        Attributes
	Resolver     *v8.PromiseResolver
}

// EnqueueDynamicImport posts a microtask that resolves req against the
// module graph and settles req.Resolver: the microtask carries
// (context, resolver, built-module-info) and performs link+evaluate.
func (l *Loader) EnqueueDynamicImport(req DynamicImportRequest, evaluate func(*Module) (*v8.Value, error), settle func(resolver *v8.PromiseResolver, value *v8.Value, rejected bool)) {
	l.fg.PostTask(func() {
		_, span := tracing.StartLink(context.Background(), req.Specifier)
		defer span.End()
		mod, err := l.Load(req.Specifier, req.ReferrerPath, req.Attrs)
		if err != nil {
			span.RecordError(err)
			settle(req.Resolver, nil, true)
			return
		}
		result, err := evaluate(mod)
		if err != nil {
			span.RecordError(err)
			settle(req.Resolver, nil, true)
			return
		}
		settle(req.Resolver, result, false)
	})
}
