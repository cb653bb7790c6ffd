package jsapp

import (
	"sort"
	"sync"
	"time"

	v8 "github.com/tommie/v8go"

	"github.com/v8app/jsapp/internal/native"
	"github.com/v8app/jsapp/internal/registry"
	"github.com/v8app/jsapp/internal/snapshot"
	"github.com/v8app/jsapp/internal/taskrunner"
	"github.com/v8app/jsapp/jsapperr"
)

// Runtime owns exactly one isolate: a context table, object/function
// template maps, an ordered handle-closer list, a per-isolate foreground
// task runner, and (only in the snapshotter role) a snapshot-creator
// reference.
type Runtime struct {
	app  *App
	name string

	iso *v8.Isolate
	fg  *taskrunner.Foreground

	idleEnabled      bool
	snapshottability Snapshottability

	mu            sync.Mutex
	contexts      map[string]*Context
	contextOrder  []string
	objectTemplates *native.TemplateCache
	funcTemplates map[string]*v8.FunctionTemplate
	funcTemplateDescs map[string]snapshot.FuncTplSnap
	nextTplIndex  int

	handleClosers []HandleCloser

	creator *v8.SnapshotCreator // non-nil only in the snapshotter role
	inSnapshotRole bool
}

// HandleCloser is registered against a Runtime so a snapshot close can
// release every open native-object handle in reverse registration order.
type HandleCloser interface {
	CloseForSnapshot() error
}

func newRuntime(app *App, name string, iso *v8.Isolate, idleEnabled bool, snap Snapshottability) *Runtime {
	return &Runtime{
		app:              app,
		name:             name,
		iso:              iso,
		fg:               taskrunner.NewForeground(),
		idleEnabled:      idleEnabled,
		snapshottability: snap,
		contexts:         make(map[string]*Context),
		objectTemplates:  native.NewTemplateCache(),
		funcTemplates:    make(map[string]*v8.FunctionTemplate),
		funcTemplateDescs: make(map[string]snapshot.FuncTplSnap),
	}
}

// Name returns the runtime's unique name within its App.
func (r *Runtime) Name() string { return r.name }

// Isolate returns the underlying V8 isolate.
func (r *Runtime) Isolate() *v8.Isolate { return r.iso }

// ForegroundTaskRunner satisfies platform.RuntimeProvider.
func (r *Runtime) ForegroundTaskRunner(uintptr) *taskrunner.Foreground { return r.fg }

// IdleTasksEnabled satisfies platform.RuntimeProvider.
func (r *Runtime) IdleTasksEnabled(uintptr) bool { return r.idleEnabled }

// CreateContext creates and registers a named Context under this Runtime.
// snapEntrypoint, when non-empty, is the bootstrap module run instead of
// entryPoint while the owning Runtime is in its snapshotter role, letting a
// context execute a different script at capture time than it does live.
func (r *Runtime) CreateContext(name, entryPoint, namespace, snapEntrypoint string, supports Snapshottability, method SnapshotMethod) (*Context, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.inSnapshotRole && r.snapshottability == NotSnapshottable {
		return nil, jsapperr.New(jsapperr.InvalidState, "Runtime.CreateContext", "runtime in snapshot role may not run user tasks")
	}
	if _, exists := r.contexts[name]; exists {
		return nil, jsapperr.New(jsapperr.AlreadyExists, "Runtime.CreateContext", "context already exists: "+name)
	}
	if namespace != "" {
		if reg := r.app.registry; reg != nil && !reg.HasNamespace(namespace) {
			return nil, jsapperr.New(jsapperr.ConfigError, "Runtime.CreateContext", "unknown namespace: "+namespace)
		}
	}

	ctx, err := newContext(r, name, entryPoint, snapEntrypoint, namespace, supports, method)
	if err != nil {
		return nil, err
	}

	r.contexts[name] = ctx
	r.contextOrder = append(r.contextOrder, name)
	return ctx, nil
}

// GetContextByName returns a previously created context.
func (r *Runtime) GetContextByName(name string) (*Context, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ctx, ok := r.contexts[name]
	if !ok {
		return nil, jsapperr.New(jsapperr.NotFound, "Runtime.GetContextByName", "no context named "+name)
	}
	return ctx, nil
}

// DisposeContext removes and closes a context by name.
func (r *Runtime) DisposeContext(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ctx, ok := r.contexts[name]
	if !ok {
		return jsapperr.New(jsapperr.NotFound, "Runtime.DisposeContext", "no context named "+name)
	}
	ctx.dispose()
	delete(r.contexts, name)
	for i, n := range r.contextOrder {
		if n == name {
			r.contextOrder = append(r.contextOrder[:i], r.contextOrder[i+1:]...)
			break
		}
	}
	return nil
}

// ProcessTasks drains the foreground runner under a fresh nesting scope
// until GetNextTask returns nil.
func (r *Runtime) ProcessTasks() int {
	scope := r.fg.EnterScope()
	defer scope.Exit()
	n := 0
	for {
		task := r.fg.GetNextTask()
		if task == nil {
			return n
		}
		task.Run()
		n++
	}
}

// ProcessIdleTasks pulls idle tasks while now() < deadline.
func (r *Runtime) ProcessIdleTasks(deadline time.Time) int {
	n := 0
	for time.Now().Before(deadline) {
		task := r.fg.GetNextIdleTask()
		if task == nil {
			return n
		}
		task.Run(deadline)
		n++
	}
	return n
}

// SetObjectTemplate caches tmpl for the native type info.
func (r *Runtime) SetObjectTemplate(info *native.TypeInfo, tmpl *v8.ObjectTemplate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.objectTemplates.GetOrCreate(info, func() *v8.ObjectTemplate { return tmpl })
}

// GetObjectTemplate returns the cached template for typeName.
func (r *Runtime) GetObjectTemplate(typeName string) (*v8.ObjectTemplate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.objectTemplates.Get(typeName)
}

// SetFunctionTemplate registers a named function template, satisfying
// native.TemplateRecorder so builtins installation can hand every function
// template it creates to its owning Runtime for snapshot descriptor
// harvesting.
func (r *Runtime) SetFunctionTemplate(desc native.TemplateDescriptor, name string, tmpl *v8.FunctionTemplate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcTemplates[name] = tmpl
	idx := r.nextTplIndex
	r.nextTplIndex++
	r.funcTemplateDescs[name] = snapshot.FuncTplSnap{
		IsolateDataIndex: uint64(idx),
		ClassName:        desc.ClassName,
		FunctionName:     name,
		Namespace:        desc.Namespace,
	}
}

// GetFunctionTemplate returns a previously registered function template.
func (r *Runtime) GetFunctionTemplate(name string) (*v8.FunctionTemplate, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tmpl, ok := r.funcTemplates[name]
	return tmpl, ok
}

// FunctionTemplateDescriptors returns every registered function template's
// snapshot descriptor, sorted by function name for deterministic encoding.
func (r *Runtime) FunctionTemplateDescriptors() []snapshot.FuncTplSnap {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]snapshot.FuncTplSnap, 0, len(r.funcTemplateDescs))
	for _, d := range r.funcTemplateDescs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FunctionName < out[j].FunctionName })
	return out
}

// RegisterSnapshotHandleCloser appends hc to the ordered handle-closer
// list.
func (r *Runtime) RegisterSnapshotHandleCloser(hc HandleCloser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handleClosers = append(r.handleClosers, hc)
}

// UnregisterSnapshotHandleCloser removes hc from the handle-closer list.
func (r *Runtime) UnregisterSnapshotHandleCloser(hc HandleCloser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, c := range r.handleClosers {
		if c == hc {
			r.handleClosers = append(r.handleClosers[:i], r.handleClosers[i+1:]...)
			return
		}
	}
}

// closeForSnapshot iterates handle closers in reverse registration order,
// then contexts.
func (r *Runtime) closeForSnapshot() error {
	r.mu.Lock()
	closers := append([]HandleCloser(nil), r.handleClosers...)
	order := append([]string(nil), r.contextOrder...)
	r.mu.Unlock()

	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].CloseForSnapshot(); err != nil {
			return jsapperr.Wrap(jsapperr.SnapshotIO, "Runtime.closeForSnapshot", "closing handle", err)
		}
	}
	for _, name := range order {
		ctx, err := r.GetContextByName(name)
		if err != nil {
			continue
		}
		if err := ctx.CloseHandleForSnapshot(); err != nil {
			return err
		}
	}
	return nil
}

// registry exposes the App's callback registry to Context creation.
func (r *Runtime) registry() *registry.Registry {
	return r.app.registry
}

// dispose releases the isolate and every context.
func (r *Runtime) dispose() {
	r.mu.Lock()
	for _, name := range r.contextOrder {
		if ctx, ok := r.contexts[name]; ok {
			ctx.dispose()
		}
	}
	r.mu.Unlock()
	r.fg.Terminate()
	r.iso.Dispose()
}
