package jsapp

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	v8 "github.com/tommie/v8go"
	"go.opentelemetry.io/otel/trace"

	"github.com/v8app/jsapp/builtins"
	"github.com/v8app/jsapp/internal/codecache"
	"github.com/v8app/jsapp/internal/moduleloader"
	"github.com/v8app/jsapp/internal/native"
	"github.com/v8app/jsapp/internal/snapshot"
	"github.com/v8app/jsapp/jsapperr"
	"github.com/v8app/jsapp/tracing"
)

// Context is one JS realm: a module loader, an entry-point script, and
// the namespace/security-token identity a script runs under.
type Context struct {
	runtime        *Runtime
	name           string
	namespace      string
	entryPoint     string
	snapEntrypoint string
	method         SnapshotMethod

	securityToken string

	vmCtx  *v8.Context
	loader *moduleloader.Loader

	mu      sync.Mutex
	closed  bool
	shadows int32
}

func newContext(rt *Runtime, name, entryPoint, snapEntrypoint, namespace string, supports Snapshottability, method SnapshotMethod) (*Context, error) {
	provider := rt.app.contextProvider
	vmCtx := provider.NewContext(rt.iso)

	roots := rt.app.roots
	cache := codecache.New(roots)
	loader := moduleloader.New(roots, cache, rt.fg)
	loader.SetMetrics(rt.app.metrics)

	c := &Context{
		runtime:        rt,
		name:           name,
		namespace:      namespace,
		entryPoint:     entryPoint,
		snapEntrypoint: snapEntrypoint,
		method:         method,
		securityToken:  uuid.NewString(),
		vmCtx:          vmCtx,
		loader:         loader,
	}

	if err := builtins.InstallConsole(rt.iso, vmCtx, rt.registry(), name, func(ctxName, level, message string) {
		log.Printf("[%s] %s: %s", ctxName, level, message)
	}, rt); err != nil {
		return nil, jsapperr.Wrap(jsapperr.InvalidState, "newContext", "installing console for "+name, err)
	}
	if err := builtins.InstallTimers(rt.iso, vmCtx, rt.fg, rt.registry(), rt); err != nil {
		return nil, jsapperr.Wrap(jsapperr.InvalidState, "newContext", "installing timers for "+name, err)
	}
	if err := c.installDynamicImport(); err != nil {
		return nil, jsapperr.Wrap(jsapperr.InvalidState, "newContext", "installing dynamic import bridge for "+name, err)
	}

	if reg := rt.registry(); reg != nil {
		if err := reg.RunNamespaceSetup(vmCtx.Global(), namespace); err != nil {
			return nil, jsapperr.Wrap(jsapperr.InvalidState, "newContext", "running namespace setup for "+name, err)
		}
	}

	if rt.inSnapshotRole && method == NamespaceOnly {
		return c, nil
	}
	runEntry := entryPoint
	if rt.inSnapshotRole && snapEntrypoint != "" {
		runEntry = snapEntrypoint
	}
	if runEntry != "" {
		if _, err := c.RunModule(runEntry); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// GetName returns the context's unique name within its runtime.
func (c *Context) GetName() string { return c.name }

// GetNamespace returns the namespace the context's globals were set up
// under.
func (c *Context) GetNamespace() string { return c.namespace }

// GetEntrypoint returns the context's configured entry-point module path.
func (c *Context) GetEntrypoint() string { return c.entryPoint }

// GetSnapEntrypoint returns the module run instead of the entry point when
// this context's runtime is in its snapshotter role, or "" if it runs the
// same entry point at capture time as it does live.
func (c *Context) GetSnapEntrypoint() string { return c.snapEntrypoint }

// GetSecurityToken returns the context's security token.
func (c *Context) GetSecurityToken() string { return c.securityToken }

// GetLocalContext returns the underlying V8 context.
func (c *Context) GetLocalContext() *v8.Context { return c.vmCtx }

// GetJSModules returns every module currently loaded into this context.
func (c *Context) GetJSModules() []*moduleloader.Module { return c.loader.All() }

// RunScript evaluates an inline script string against this context.
func (c *Context) RunScript(source string) (*v8.Value, error) {
	val, err := c.vmCtx.RunScript(source, c.name+":eval.js")
	if err != nil {
		return nil, jsapperr.Wrap(jsapperr.Eval, "Context.RunScript", "evaluating inline script in "+c.name, err)
	}
	return val, nil
}

// RunModule resolves, loads, links, and evaluates the module tree rooted
// at path as this context's entry point, returning its namespace object
// (the value at globalThis.<mod.GlobalName> once evaluation completes).
func (c *Context) RunModule(path string) (*v8.Value, error) {
	_, span := tracing.StartModuleLoad(context.Background(), path)
	defer span.End()
	mod, err := c.loader.Load(path, "", moduleloader.Attributes{Type: moduleloader.TypeJS})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := c.evaluate(mod); err != nil {
		span.RecordError(err)
		return nil, err
	}
	return c.moduleNamespace(mod)
}

// moduleNamespace reads back the exports record an evaluated module
// assigned to globalThis.<mod.GlobalName>.
func (c *Context) moduleNamespace(mod *moduleloader.Module) (*v8.Value, error) {
	val, err := c.vmCtx.RunScript("globalThis."+mod.GlobalName+";", mod.Path+":namespace.js")
	if err != nil {
		return nil, jsapperr.Wrap(jsapperr.Eval, "Context.moduleNamespace", "reading namespace for "+mod.Path, err)
	}
	return val, nil
}

// evaluate runs a module's IIFE-wrapped source exactly once, recursing
// into its static imports first. It marks the module evaluated before
// recursing so a cyclic static-import graph short-circuits on the
// back-edge instead of looping forever; a module observed mid-evaluation
// by one of its own dependents simply sees its exports record as it
// stands at that point, the same TDZ-like incompleteness real ES modules
// exhibit for circular imports.
func (c *Context) evaluate(mod *moduleloader.Module) error {
	if mod.Evaluated() {
		return nil
	}
	mod.MarkEvaluated()
	_, span := tracing.StartEvaluate(context.Background(), mod.Path)
	defer span.End()
	switch mod.Type {
	case moduleloader.TypeJSON:
		return c.evaluateJSON(mod, span)
	case moduleloader.TypeNative:
		script := "globalThis." + mod.GlobalName + " = globalThis." + mod.GlobalName + " || {};"
		if _, err := c.vmCtx.RunScript(script, mod.Path); err != nil {
			werr := jsapperr.Wrap(jsapperr.Eval, "Context.evaluate", "initializing native module "+mod.Path, err)
			span.RecordError(werr)
			return werr
		}
		return nil
	case moduleloader.TypeJS:
		for _, imp := range mod.Imports {
			if imp.Target == nil {
				continue
			}
			if err := c.evaluate(imp.Target); err != nil {
				span.RecordError(err)
				return err
			}
		}
		rewritten := moduleloader.RewriteDynamicImports(mod.Source, mod.Path)
		rewritten = moduleloader.RewriteImports(rewritten, mod.Imports)
		wrapped, err := moduleloader.TransformToIIFE(rewritten, mod.GlobalName)
		if err != nil {
			span.RecordError(err)
			return err
		}
		if _, err := c.vmCtx.RunScript(wrapped, mod.Path); err != nil {
			werr := jsapperr.Wrap(jsapperr.Eval, "Context.evaluate", "evaluating "+mod.Path, err)
			span.RecordError(werr)
			return werr
		}
		return nil
	default:
		return jsapperr.New(jsapperr.TypeMismatch, "Context.evaluate", "unknown module type for "+mod.Path)
	}
}

// evaluateJSON synthesizes a JS module exposing the parsed JSON value as
// its default export, so a JSON import behaves like scenario §8.3's
// `j.default.k` access. mod.Source already holds the file's raw JSON
// text, which is valid JS object/array/literal syntax, so it is spliced in
// directly rather than re-marshaled from the parsed Go value.
func (c *Context) evaluateJSON(mod *moduleloader.Module, span trace.Span) error {
	script := "globalThis." + mod.GlobalName + " = { default: (" + mod.Source + ") };"
	if _, err := c.vmCtx.RunScript(script, mod.Path); err != nil {
		werr := jsapperr.Wrap(jsapperr.Eval, "Context.evaluateJSON", "evaluating "+mod.Path, err)
		span.RecordError(werr)
		return werr
	}
	return nil
}

// evaluateDynamicImport evaluates mod (already resolved by the loader) and
// returns its namespace, the (*Module) -> (*v8.Value, error) shape
// Loader.EnqueueDynamicImport expects for settling a dynamic import()
// promise.
func (c *Context) evaluateDynamicImport(mod *moduleloader.Module) (*v8.Value, error) {
	if err := c.evaluate(mod); err != nil {
		return nil, err
	}
	return c.moduleNamespace(mod)
}

// installDynamicImport installs globalThis.__dynamicImport(specifier,
// typeAttr, referrerPath), the native bridge RewriteDynamicImports routes
// import() expressions through. It settles a real v8.PromiseResolver via
// the loader's dynamic-import queue rather than relying on an embedder
// host-import-module-dynamically callback, which tommie/v8go does not
// expose.
func (c *Context) installDynamicImport() error {
	fn := func(specifier, typeAttr, referrerPath string) (*v8.Value, error) {
		resolver, err := v8.NewPromiseResolver(c.vmCtx)
		if err != nil {
			return nil, err
		}
		attrs := moduleloader.Attributes{Type: moduleloader.TypeJS}
		if typeAttr != "" {
			if t, ok := moduleloader.ParseType(typeAttr); ok {
				attrs.Type = t
			}
		}
		req := moduleloader.DynamicImportRequest{
			ReferrerPath: referrerPath,
			Specifier:    specifier,
			Attrs:        attrs,
			Resolver:     resolver,
		}
		c.loader.EnqueueDynamicImport(req, c.evaluateDynamicImport, func(r *v8.PromiseResolver, value *v8.Value, rejected bool) {
			if rejected {
				msg, _ := v8.NewValue(c.runtime.iso, "dynamic import failed: "+specifier)
				r.Reject(msg)
				return
			}
			r.Resolve(value)
		})
		return resolver.GetPromise().Value, nil
	}
	return native.RegisterGlobalFunction(c.runtime.registry(), c.runtime.iso, c.vmCtx, "__dynamicImport", fn, nil, native.TemplateDescriptor{})
}

// CloseHandleForSnapshot drops the global holding this context's JS
// context object so the snapshot creator can capture it.
func (c *Context) CloseHandleForSnapshot() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return jsapperr.New(jsapperr.InvalidState, "Context.CloseHandleForSnapshot", "already closed")
	}
	c.closed = true
	return nil
}

// MakeSnapshot emits this context's snapshot tuple: name, namespace,
// entry-point, and each loaded module's serializable record.
func (c *Context) MakeSnapshot() (snapshot.ContextSnapshot, error) {
	mods := c.loader.All()
	out := snapshot.ContextSnapshot{
		Name:       c.name,
		Namespace:  c.namespace,
		EntryPoint: c.entryPoint,
	}
	for _, m := range mods {
		out.Modules = append(out.Modules, snapshot.ModuleSnapshot{
			Path:      m.Path,
			ShortName: m.ShortName,
			Version:   m.Version,
			TypeName:  m.Type.String(),
		})
	}
	return out, nil
}

// CreateShadowRealm derives a child context named "<base>:shadow:<n>" and
// obtains a fresh VM context from the isolate's host-create-shadow-realm
// hook.
func (c *Context) CreateShadowRealm() (*Context, error) {
	n := atomic.AddInt32(&c.shadows, 1)
	name := fmt.Sprintf("%s:shadow:%d", c.name, n)
	rt := c.runtime
	shadow, err := rt.CreateContext(name, "", c.namespace, "", NotSnapshottable, NamespaceOnly)
	if err != nil {
		return nil, jsapperr.Wrap(jsapperr.InvalidState, "Context.CreateShadowRealm", "creating shadow realm for "+c.name, err)
	}
	return shadow, nil
}

func (c *Context) dispose() {
	c.vmCtx.Close()
}
