// Package registry implements a process-wide callback registry: a lookup
// from a native thunk's stored address to its descriptor, an
// external-references vector terminated by a sentinel zero (the shape
// V8's SnapshotCreator expects), per-namespace ordered setup function
// lists, and a native type-info table for snapshot-time lookups.
//
// Registry is an explicit Go type rather than a set of process-global
// statics so tests can construct independent registries.
package registry

import (
	"sync"

	"github.com/v8app/jsapp/jsapperr"
)

// GlobalNamespace is the sentinel namespace whose setup functions are
// prepended ahead of every other namespace's when running setup.
const GlobalNamespace = "global"

// Descriptor describes one registered native callable: its human-readable
// name (for diagnostics), the callable itself, and the native type name it
// is a member method of, if any.
type Descriptor struct {
	Name       string
	Callable   any
	OwningType string
}

// ObjectInfo is the snapshot-time-lookupable descriptor of a native
// wrapper type, keyed by TypeName.
type ObjectInfo struct {
	TypeName      string
	SerializeFn   func(any) ([]byte, error)
	DeserializeFn func([]byte) (any, error)
}

// SetupFunc installs bindings onto a context's global object.
type SetupFunc func(global any) error

// Registry is the Callback Registry singleton type; construct one with New
// and share it across every Runtime in a process (or, in tests, construct
// independent instances).
type Registry struct {
	mu sync.Mutex

	byAddress map[uintptr]*Descriptor
	refs      []uintptr // external-references vector, built incrementally

	namespaceSetup map[string][]SetupFunc

	objectInfo map[string]*ObjectInfo
	infoAddr   map[string]uintptr // detects a type re-registered at a new address
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		byAddress:      make(map[uintptr]*Descriptor),
		namespaceSetup: make(map[string][]SetupFunc),
		objectInfo:     make(map[string]*ObjectInfo),
		infoAddr:       make(map[string]uintptr),
	}
}

// Register stores (address, descriptor) and appends address to the
// external-references vector exactly once; re-registering the same
// address with a new descriptor overwrites the descriptor without
// duplicating the references entry.
func (r *Registry) Register(address uintptr, name string, callable any, owningType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byAddress[address]; !exists {
		r.refs = append(r.refs, address)
	}
	r.byAddress[address] = &Descriptor{Name: name, Callable: callable, OwningType: owningType}
}

// LookupByAddress returns the descriptor registered at address, or nil.
func (r *Registry) LookupByAddress(address uintptr) *Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byAddress[address]
}

// ExternalReferences returns the references vector terminated by a
// sentinel zero, the shape the V8 SnapshotCreator constructor expects.
func (r *Registry) ExternalReferences() []uintptr {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]uintptr, len(r.refs)+1)
	copy(out, r.refs)
	out[len(r.refs)] = 0
	return out
}

// RegisterNamespaceSetup appends fn to each of namespaces' ordered setup
// list (or to GlobalNamespace alone if namespaces is empty).
func (r *Registry) RegisterNamespaceSetup(fn SetupFunc, namespaces ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(namespaces) == 0 {
		namespaces = []string{GlobalNamespace}
	}
	for _, ns := range namespaces {
		r.namespaceSetup[ns] = append(r.namespaceSetup[ns], fn)
	}
}

// HasNamespace reports whether any setup function has been registered for
// namespace.
func (r *Registry) HasNamespace(namespace string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.namespaceSetup[namespace]) > 0
}

// RunNamespaceSetup invokes the global namespace's setup functions, then
// namespace's own, in registration order, against global.
func (r *Registry) RunNamespaceSetup(global any, namespace string) error {
	r.mu.Lock()
	globalFns := append([]SetupFunc(nil), r.namespaceSetup[GlobalNamespace]...)
	var nsFns []SetupFunc
	if namespace != "" && namespace != GlobalNamespace {
		nsFns = append([]SetupFunc(nil), r.namespaceSetup[namespace]...)
	}
	r.mu.Unlock()

	for _, fn := range globalFns {
		if err := fn(global); err != nil {
			return jsapperr.Wrap(jsapperr.InvalidState, "registry.RunNamespaceSetup", "global setup failed", err)
		}
	}
	for _, fn := range nsFns {
		if err := fn(global); err != nil {
			return jsapperr.Wrap(jsapperr.InvalidState, "registry.RunNamespaceSetup", "namespace setup failed for "+namespace, err)
		}
	}
	return nil
}

// RegisterObjectInfo registers info under info.TypeName. Re-registering an
// existing type name at a different address is a fatal usage error
// (panics), matching the original registry's CHECK-fail behavior for a
// type registered twice with conflicting identity.
func (r *Registry) RegisterObjectInfo(info *ObjectInfo, address uintptr) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.infoAddr[info.TypeName]; ok && existing != address {
		panic("registry: object type " + info.TypeName + " re-registered at a different address")
	}
	r.objectInfo[info.TypeName] = info
	r.infoAddr[info.TypeName] = address
}

// LookupObjectInfoByTypeName returns the registered ObjectInfo for name, or
// nil.
func (r *Registry) LookupObjectInfoByTypeName(name string) *ObjectInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.objectInfo[name]
}
