// Package jsapp is the public API: App, Runtime, and Context form a
// three-level embedding-host hierarchy, wired over the internal
// taskrunner/registry/native/moduleloader/codecache/snapshot packages and
// the V8 substrate via tommie/v8go.
package jsapp

import (
	"bytes"
	"context"
	"os"
	"reflect"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	v8 "github.com/tommie/v8go"

	"github.com/v8app/jsapp/config"
	"github.com/v8app/jsapp/internal/assets"
	"github.com/v8app/jsapp/internal/codecache"
	"github.com/v8app/jsapp/internal/platform"
	"github.com/v8app/jsapp/internal/registry"
	"github.com/v8app/jsapp/internal/snapshot"
	"github.com/v8app/jsapp/internal/taskrunner"
	"github.com/v8app/jsapp/jsapperr"
	"github.com/v8app/jsapp/metrics"
	"github.com/v8app/jsapp/tracing"
)

// AppState is the App lifecycle state machine.
type AppState int

const (
	Uninitialized AppState = iota
	Initialized
	Restored
	Disposed
)

// App owns every Runtime, the code cache, the app asset root, and brokers
// the four provider interfaces.
type App struct {
	name    string
	version string
	roots   *assets.Roots
	cfg     config.AppConfig

	registry        *registry.Registry
	metrics         *metrics.Registry
	runtimeProvider RuntimeProvider
	contextProvider ContextProvider
	snapshotProvider SnapshotProvider

	mu              sync.Mutex
	state           AppState
	runtimes        map[string]*Runtime
	runtimeOrder    []string
	isSnapshotter   bool
	snapshotCreator *v8.SnapshotCreator
}

// New constructs an uninitialized App. Call Initialize or RestoreInitialize
// before use.
func New(cfg config.AppConfig) (*App, error) {
	roots, err := assets.NewRoots(cfg.Root)
	if err != nil {
		return nil, err
	}
	return &App{
		name:            cfg.Name,
		version:         cfg.Version,
		roots:           roots,
		cfg:             cfg,
		registry:        registry.New(),
		metrics:         metrics.New(prometheus.NewRegistry()),
		runtimeProvider: defaultRuntimeProvider{},
		contextProvider: defaultContextProvider{},
		runtimes:        make(map[string]*Runtime),
	}, nil
}

// Metrics returns the App's metrics.Registry, backed by a registry private
// to this App instance — merge its collectors into a process-wide
// prometheus.Registerer to expose them.
func (a *App) Metrics() *metrics.Registry { return a.metrics }

// Initialize transitions Uninitialized → Initialized, installing the
// broker providers for the lifetime of the App (the snapshot creator
// excepted: it may be replaced while no snapshot is in progress).
func (a *App) Initialize(snapshotProvider SnapshotProvider, isSnapshotter bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != Uninitialized {
		return jsapperr.New(jsapperr.InvalidState, "App.Initialize", "app is not Uninitialized")
	}
	a.snapshotProvider = snapshotProvider
	a.isSnapshotter = isSnapshotter
	a.state = Initialized
	if platform.Current() == nil {
		// Best-effort: the process Platform is a singleton, so only the
		// first App in a process installs it. A later App (e.g. a
		// snapshotting clone) shares the one already running.
		_, _ = platform.Initialize(appPlatformProvider{app: a}, a.metrics)
	}
	return nil
}

// RestoreInitialize transitions Restored → Restored-usable, only valid
// immediately after constructing an App from a blob via RestoreApp. A
// restored App may not be re-initialized via Initialize.
func (a *App) RestoreInitialize(snapshotProvider SnapshotProvider) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != Restored {
		return jsapperr.New(jsapperr.InvalidState, "App.RestoreInitialize", "app is not in the Restored state")
	}
	a.snapshotProvider = snapshotProvider
	return nil
}

// CreateJSRuntime creates and registers a named, ad-hoc (index 0) Runtime.
func (a *App) CreateJSRuntime(name string, idleEnabled bool, snap Snapshottability) (*Runtime, error) {
	return a.createRuntime(name, idleEnabled, snap, nil)
}

// CreateJSRuntimeFromIndex creates a Runtime restored from the App's
// start-up blob at snapshotIndex.
func (a *App) CreateJSRuntimeFromIndex(name string, snapshotIndex int, idleEnabled bool, snap Snapshottability, startupBlob []byte) (*Runtime, error) {
	externalRefs := a.registry.ExternalReferences()
	iso := a.runtimeProvider.NewRestoredIsolate(startupBlob, externalRefs)
	return a.registerRuntime(name, iso, idleEnabled, snap)
}

// CreateJSRuntimeOrGet returns the existing runtime named name, or creates
// it via CreateJSRuntime.
func (a *App) CreateJSRuntimeOrGet(name string, idleEnabled bool, snap Snapshottability) (*Runtime, error) {
	if rt, err := a.GetRuntimeByName(name); err == nil {
		return rt, nil
	}
	return a.CreateJSRuntime(name, idleEnabled, snap)
}

func (a *App) createRuntime(name string, idleEnabled bool, snap Snapshottability, externalRefsOverride []uintptr) (*Runtime, error) {
	a.mu.Lock()
	if a.state != Initialized && a.state != Restored {
		a.mu.Unlock()
		return nil, jsapperr.New(jsapperr.InvalidState, "App.CreateJSRuntime", "app is not initialized")
	}
	if _, exists := a.runtimes[name]; exists {
		a.mu.Unlock()
		return nil, jsapperr.New(jsapperr.AlreadyExists, "App.CreateJSRuntime", "runtime already exists: "+name)
	}
	isSnapshotter := a.isSnapshotter
	a.mu.Unlock()

	var iso *v8.Isolate
	if isSnapshotter {
		refs := externalRefsOverride
		if refs == nil {
			refs = a.registry.ExternalReferences()
		}
		var creator *v8.SnapshotCreator
		iso, creator = a.runtimeProvider.NewSnapshotterIsolate(a.cfg.Isolate.MaxYoungSpaceMB, a.cfg.Isolate.MaxOldSpaceMB, refs)
		a.mu.Lock()
		a.snapshotCreator = creator
		a.mu.Unlock()
	} else {
		iso = a.runtimeProvider.NewIsolate(a.cfg.Isolate.MaxYoungSpaceMB, a.cfg.Isolate.MaxOldSpaceMB)
	}

	rt, err := a.registerRuntime(name, iso, idleEnabled, snap)
	if err != nil {
		return nil, err
	}
	rt.inSnapshotRole = isSnapshotter
	rt.creator = a.snapshotCreator
	return rt, nil
}

func (a *App) registerRuntime(name string, iso *v8.Isolate, idleEnabled bool, snap Snapshottability) (*Runtime, error) {
	rt := newRuntime(a, name, iso, idleEnabled, snap)
	rt.fg.SetMetrics(a.metrics, name)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.runtimes[name] = rt
	a.runtimeOrder = append(a.runtimeOrder, name)
	return rt, nil
}

// GetRuntimeByName returns a previously created runtime.
func (a *App) GetRuntimeByName(name string) (*Runtime, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rt, ok := a.runtimes[name]
	if !ok {
		return nil, jsapperr.New(jsapperr.NotFound, "App.GetRuntimeByName", "no runtime named "+name)
	}
	return rt, nil
}

// DisposeRuntime disposes and unregisters a runtime by name.
func (a *App) DisposeRuntime(name string) error {
	a.mu.Lock()
	rt, ok := a.runtimes[name]
	if !ok {
		a.mu.Unlock()
		return jsapperr.New(jsapperr.NotFound, "App.DisposeRuntime", "no runtime named "+name)
	}
	delete(a.runtimes, name)
	for i, n := range a.runtimeOrder {
		if n == name {
			a.runtimeOrder = append(a.runtimeOrder[:i], a.runtimeOrder[i+1:]...)
			break
		}
	}
	a.mu.Unlock()

	rt.dispose()
	return nil
}

// DisposeApp disposes every runtime and transitions to Disposed.
func (a *App) DisposeApp() error {
	a.mu.Lock()
	if a.state == Disposed {
		a.mu.Unlock()
		return nil
	}
	order := append([]string(nil), a.runtimeOrder...)
	a.state = Disposed
	a.mu.Unlock()

	for _, name := range order {
		_ = a.DisposeRuntime(name)
	}
	return nil
}

// appPlatformProvider adapts App to platform.RuntimeProvider, identifying
// isolates by their pointer value since v8go hands out one *v8.Isolate per
// runtime and never reuses the address of a live one.
type appPlatformProvider struct{ app *App }

func (p appPlatformProvider) runtimeFor(isolateID uintptr) *Runtime {
	p.app.mu.Lock()
	defer p.app.mu.Unlock()
	for _, rt := range p.app.runtimes {
		if reflect.ValueOf(rt.iso).Pointer() == isolateID {
			return rt
		}
	}
	return nil
}

func (p appPlatformProvider) ForegroundTaskRunner(isolateID uintptr) *taskrunner.Foreground {
	if rt := p.runtimeFor(isolateID); rt != nil {
		return rt.fg
	}
	return nil
}

func (p appPlatformProvider) IdleTasksEnabled(isolateID uintptr) bool {
	rt := p.runtimeFor(isolateID)
	return rt != nil && rt.idleEnabled
}

// CreateSnapshot validates preconditions and writes this App's snapshot
// blob to file.
func (a *App) CreateSnapshot(file string) (err error) {
	a.mu.Lock()
	if file == "" {
		a.mu.Unlock()
		return jsapperr.New(jsapperr.ConfigError, "App.CreateSnapshot", "file must not be empty")
	}
	if !a.isSnapshotter {
		a.mu.Unlock()
		return jsapperr.New(jsapperr.InvalidState, "App.CreateSnapshot", "app is not in the Snapshotter role")
	}
	creator := a.snapshotCreator
	order := append([]string(nil), a.runtimeOrder...)
	a.mu.Unlock()
	if creator == nil {
		return jsapperr.New(jsapperr.InvalidState, "App.CreateSnapshot", "no snapshot creator bound")
	}

	if plat := platform.Current(); plat != nil {
		plat.SetWorkersPaused(true)
		defer plat.SetWorkersPaused(false)
	}

	_, span := tracing.StartSnapshot(context.Background(), a.name)
	defer func() {
		if err != nil {
			span.RecordError(err)
		} else if a.metrics != nil {
			a.metrics.SnapshotsTaken.Inc()
		}
		span.End()
	}()

	appSnap := &snapshot.AppSnapshot{Name: a.name, Version: a.version, RuntimeIndexTable: snapshot.NewNamedIndexes(0)}

	for i, name := range order {
		rt, err := a.GetRuntimeByName(name)
		if err != nil {
			continue
		}
		if rt.snapshottability == NotSnapshottable {
			continue
		}
		if err := rt.closeForSnapshot(); err != nil {
			return err
		}
		if err := appSnap.RuntimeIndexTable.AddNamedIndex(i, name); err != nil {
			return jsapperr.Wrap(jsapperr.SnapshotIO, "App.CreateSnapshot", "indexing runtime "+name, err)
		}

		rtSnap := snapshot.RuntimeSnapshot{Name: name, IdleEnabled: rt.idleEnabled, ContextIndexTable: snapshot.NewNamedIndexes(0)}
		rtSnap.FunctionTemplates = rt.FunctionTemplateDescriptors()
		for j, cname := range rt.contextOrder {
			ctx, ok := rt.contexts[cname]
			if !ok {
				continue
			}
			cs, err := ctx.MakeSnapshot()
			if err != nil {
				return err
			}
			if err := rtSnap.ContextIndexTable.AddNamedIndex(j, cname); err != nil {
				return jsapperr.Wrap(jsapperr.SnapshotIO, "App.CreateSnapshot", "indexing context "+cname, err)
			}
			rtSnap.Contexts = append(rtSnap.Contexts, cs)
		}
		appSnap.Runtimes = append(appSnap.Runtimes, rtSnap)
	}

	blob, err := creator.CreateBlob(true)
	if err != nil {
		return jsapperr.Wrap(jsapperr.SnapshotIO, "App.CreateSnapshot", "creating VM blob", err)
	}

	var buf bytes.Buffer
	if err := snapshot.Encode(&buf, appSnap, blob); err != nil {
		return err
	}
	if err := os.WriteFile(file, buf.Bytes(), 0o644); err != nil {
		return jsapperr.Wrap(jsapperr.SnapshotIO, "App.CreateSnapshot", "writing "+file, err)
	}
	return nil
}

// RestoreApp constructs an App from a previously emitted snapshot blob,
// landing it in the Restored state.
func RestoreApp(cfg config.AppConfig, file string) (*App, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, jsapperr.Wrap(jsapperr.SnapshotIO, "RestoreApp", "reading "+file, err)
	}
	appSnap, startupBlob, err := snapshot.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if appSnap.Name != cfg.Name {
		return nil, jsapperr.New(jsapperr.IncompatibleSnapshot, "RestoreApp", "snapshot app name does not match config")
	}

	a, err := New(cfg)
	if err != nil {
		return nil, err
	}
	a.state = Restored
	_ = startupBlob // handed to CreateJSRuntimeFromIndex by the caller per restored runtime
	return a, nil
}

// CloneAppForSnapshotting constructs a sibling App sharing providers,
// root, and version, rebuilding every snapshottable runtime/context with
// identical identity.
func (a *App) CloneAppForSnapshotting() (*App, error) {
	clone, err := New(a.cfg)
	if err != nil {
		return nil, err
	}
	clone.runtimeProvider = a.runtimeProvider
	clone.contextProvider = a.contextProvider
	if err := clone.Initialize(a.snapshotProvider, true); err != nil {
		return nil, err
	}

	a.mu.Lock()
	order := append([]string(nil), a.runtimeOrder...)
	a.mu.Unlock()

	for _, name := range order {
		rt, err := a.GetRuntimeByName(name)
		if err != nil {
			continue
		}
		if rt.snapshottability == NotSnapshottable {
			continue
		}
		cloneRt, err := clone.CreateJSRuntime(name, rt.idleEnabled, rt.snapshottability)
		if err != nil {
			return nil, err
		}
		for _, cname := range rt.contextOrder {
			ctx, ok := rt.contexts[cname]
			if !ok {
				continue
			}
			if _, err := cloneRt.CreateContext(ctx.name, ctx.entryPoint, ctx.namespace, ctx.snapEntrypoint, rt.snapshottability, ctx.method); err != nil {
				return nil, err
			}
		}
	}
	return clone, nil
}

// Name returns the App's configured name.
func (a *App) Name() string { return a.name }

// Version returns the App's configured version.
func (a *App) Version() string { return a.version }

// State returns the App's current lifecycle state.
func (a *App) State() AppState { return a.state }

// Roots returns the App's asset root layout.
func (a *App) Roots() *assets.Roots { return a.roots }

// Registry returns the App's callback registry.
func (a *App) Registry() *registry.Registry { return a.registry }

// CodeCacheFor returns a fresh codecache.Cache scoped to this App's
// roots; each Context owns one independently since cache entries are
// keyed by absolute path and safe to share without a single shared
// instance.
func (a *App) CodeCacheFor() *codecache.Cache {
	return codecache.New(a.roots)
}
