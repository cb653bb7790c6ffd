package moduleloader

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	v8 "github.com/tommie/v8go"

	"github.com/v8app/jsapp/internal/assets"
	"github.com/v8app/jsapp/internal/codecache"
	"github.com/v8app/jsapp/internal/taskrunner"
	"github.com/v8app/jsapp/jsapperr"
)

func newTestLoader(t *testing.T) (*Loader, *assets.Roots) {
	t.Helper()
	l, roots, _ := newTestLoaderWithForeground(t)
	return l, roots
}

func newTestLoaderWithForeground(t *testing.T) (*Loader, *assets.Roots, *taskrunner.Foreground) {
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
	cache := codecache.New(roots)
	fg := taskrunner.NewForeground()
	return New(roots, cache, fg), roots, fg
}

func TestResolveUnderJSRequiresMatchingExtension(t *testing.T) {
	l, roots := newTestLoader(t)
	main := filepath.Join(roots.JS, "main.js")
	if err := os.WriteFile(main, []byte("1;"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	abs, typ, short, _, err := l.Resolve("./main.js", filepath.Join(roots.JS, "entry.js"), Attributes{Type: TypeJS})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if abs != main || typ != TypeJS || short != "main" {
		t.Fatalf("abs=%q typ=%v short=%q", abs, typ, short)
	}
}

func TestResolveRejectsEscapingRoot(t *testing.T) {
	l, roots := newTestLoader(t)
	_, _, _, _, err := l.Resolve("../../etc/passwd", filepath.Join(roots.JS, "entry.js"), Attributes{Type: TypeJS})
	if !jsapperr.Is(err, jsapperr.ModuleResolution) {
		t.Fatalf("expected ModuleResolution error, got %v", err)
	}
}

func TestResolveModulesPicksHighestVersionWhenOmitted(t *testing.T) {
	l, roots := newTestLoader(t)
	pkgDir := filepath.Join(roots.Modules, "leftpad")
	for _, v := range []string{"1.0.0", "2.3.1", "2.1.0"} {
		d := filepath.Join(pkgDir, v)
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(filepath.Join(d, "index.js"), []byte("export default 1;"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	abs, typ, _, version, err := l.Resolve("%MODULES%/leftpad/index.js", "", Attributes{Type: TypeJS})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if version != "2.3.1" {
		t.Fatalf("version = %q, want 2.3.1", version)
	}
	if typ != TypeJS || filepath.Base(abs) != "index.js" {
		t.Fatalf("abs=%q typ=%v", abs, typ)
	}
}

func TestResolveResourcesForbidsJS(t *testing.T) {
	l, roots := newTestLoader(t)
	_ = roots
	_, _, _, _, err := l.Resolve("%RESOURCES%/icon.js", "", Attributes{Type: TypeJS})
	if !jsapperr.Is(err, jsapperr.ModuleResolution) {
		t.Fatalf("expected ModuleResolution for js under resources/, got %v", err)
	}
}

func TestLoadJSONSynthesizesDefaultExport(t *testing.T) {
	l, roots := newTestLoader(t)
	p := filepath.Join(roots.JS, "data.json")
	if err := os.WriteFile(p, []byte(`{"a": 1}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	mod, err := l.Load("./data.json", filepath.Join(roots.JS, "entry.js"), Attributes{Type: TypeJSON})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	m, ok := mod.JSONValue.(map[string]any)
	if !ok || m["a"] != float64(1) {
		t.Fatalf("JSONValue = %#v", mod.JSONValue)
	}
}

func TestLoadDetectsCycleWithoutRefetching(t *testing.T) {
	l, roots := newTestLoader(t)
	a := filepath.Join(roots.JS, "a.js")
	b := filepath.Join(roots.JS, "b.js")
	if err := os.WriteFile(a, []byte("import './b.js';"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(b, []byte("1;"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	first, err := l.Load("./a.js", filepath.Join(roots.JS, "entry.js"), Attributes{Type: TypeJS})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	// Overwrite the source on disk; a cached module map hit must not refetch.
	if err := os.WriteFile(a, []byte("import './c.js';"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	second, err := l.Load("./a.js", filepath.Join(roots.JS, "entry.js"), Attributes{Type: TypeJS})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if first != second {
		t.Fatalf("expected identical *Module on cycle revisit")
	}
	if second.Source != "import './b.js';" {
		t.Fatalf("expected cached source preserved, got %q", second.Source)
	}
}

func TestLoadRecursesIntoStaticImports(t *testing.T) {
	l, roots := newTestLoader(t)
	a := filepath.Join(roots.JS, "a.js")
	b := filepath.Join(roots.JS, "b.js")
	if err := os.WriteFile(a, []byte(`import def from './b.js';
import * as ns from './b.js';
1;`), 0o644); err != nil {
		t.Fatalf("write a: %v", err)
	}
	if err := os.WriteFile(b, []byte("export default 42;"), 0o644); err != nil {
		t.Fatalf("write b: %v", err)
	}

	mod, err := l.Load("./a.js", filepath.Join(roots.JS, "entry.js"), Attributes{Type: TypeJS})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(mod.Imports) != 2 {
		t.Fatalf("Imports = %d entries, want 2", len(mod.Imports))
	}
	if mod.Imports[0].Target == nil || mod.Imports[0].Target.Path != b {
		t.Fatalf("Imports[0].Target = %+v, want path %q", mod.Imports[0].Target, b)
	}
	if mod.Imports[0].Binding != "default:def" {
		t.Fatalf("Imports[0].Binding = %q, want default:def", mod.Imports[0].Binding)
	}
	if mod.Imports[1].Binding != "ns:ns" {
		t.Fatalf("Imports[1].Binding = %q, want ns:ns", mod.Imports[1].Binding)
	}
	if mod.Imports[0].Target != mod.Imports[1].Target {
		t.Fatalf("both imports of ./b.js should resolve to the same *Module")
	}
	if mod.GlobalName == "" || mod.GlobalName == mod.Imports[0].Target.GlobalName {
		t.Fatalf("importer and target must have distinct, non-empty global names")
	}
}

func TestLoadDetectsGenuineImportCycle(t *testing.T) {
	l, roots := newTestLoader(t)
	a := filepath.Join(roots.JS, "a.js")
	b := filepath.Join(roots.JS, "b.js")
	if err := os.WriteFile(a, []byte("import './b.js';"), 0o644); err != nil {
		t.Fatalf("write a: %v", err)
	}
	if err := os.WriteFile(b, []byte("import './a.js';"), 0o644); err != nil {
		t.Fatalf("write b: %v", err)
	}

	mod, err := l.Load("./a.js", filepath.Join(roots.JS, "entry.js"), Attributes{Type: TypeJS})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(mod.Imports) != 1 {
		t.Fatalf("a.js Imports = %d, want 1", len(mod.Imports))
	}
	bMod := mod.Imports[0].Target
	if len(bMod.Imports) != 1 {
		t.Fatalf("b.js Imports = %d, want 1", len(bMod.Imports))
	}
	if bMod.Imports[0].Target != mod {
		t.Fatalf("b.js's import of a.js should resolve back to the same in-flight *Module")
	}
}

func TestEnqueueDynamicImportSettlesResolvedModule(t *testing.T) {
	l, roots, fg := newTestLoaderWithForeground(t)
	p := filepath.Join(roots.JS, "dyn.js")
	if err := os.WriteFile(p, []byte("1;"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	var settledValue *v8.Value
	var rejected bool
	done := make(chan struct{})
	req := DynamicImportRequest{Specifier: "./dyn.js", ReferrerPath: filepath.Join(roots.JS, "entry.js"), Attrs: Attributes{Type: TypeJS}}
	l.EnqueueDynamicImport(req, func(mod *Module) (*v8.Value, error) {
		if mod.Path != p {
			t.Errorf("evaluate called with mod.Path = %q, want %q", mod.Path, p)
		}
		return nil, nil
	}, func(resolver *v8.PromiseResolver, value *v8.Value, rej bool) {
		settledValue = value
		rejected = rej
		close(done)
	})

	task := fg.GetNextTask()
	if task == nil {
		t.Fatal("expected a posted dynamic-import task")
	}
	task.Run()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("settle was never called")
	}
	if rejected {
		t.Fatalf("expected resolution, got rejection")
	}
	if settledValue != nil {
		t.Fatalf("expected nil settled value from the stub evaluator, got %v", settledValue)
	}
}

func TestEnqueueDynamicImportSettlesRejectedOnResolveFailure(t *testing.T) {
	l, roots, fg := newTestLoaderWithForeground(t)
	_ = roots

	var rejected bool
	req := DynamicImportRequest{Specifier: "./missing.js", ReferrerPath: filepath.Join(roots.JS, "entry.js"), Attrs: Attributes{Type: TypeJS}}
	l.EnqueueDynamicImport(req, func(mod *Module) (*v8.Value, error) {
		t.Fatal("evaluate should not be called when resolution fails")
		return nil, nil
	}, func(resolver *v8.PromiseResolver, value *v8.Value, rej bool) {
		rejected = rej
	})

	task := fg.GetNextTask()
	if task == nil {
		t.Fatal("expected a posted dynamic-import task")
	}
	task.Run()

	if !rejected {
		t.Fatalf("expected rejection for a missing module")
	}
}
