package native

import (
	"runtime"
	"sync"
	"sync/atomic"

	v8 "github.com/tommie/v8go"

	"github.com/v8app/jsapp/jsapperr"
)

// State is a Wrapper's lifecycle stage: Live → (weak first pass) →
// Clearing → (weak second pass) → Destroyed. A snapshot close forces
// Live → Closed directly.
type State int32

const (
	Live State = iota
	Clearing
	Destroyed
	Closed
)

func (s State) String() string {
	switch s {
	case Live:
		return "live"
	case Clearing:
		return "clearing"
	case Destroyed:
		return "destroyed"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// TypeInfo is the static descriptor every native class registers once,
// naming its JS-visible type and its snapshot (de)serialize hooks.
type TypeInfo struct {
	TypeName string
	Serialize   func(instance any) ([]byte, error)
	Deserialize func(data []byte) (any, error)
}

// Wrapper is a managed native object with a JS-visible proxy, implementing
// the two-phase teardown state machine above. v8go does not expose
// first-pass/second-pass weak callbacks to Go code, so the two-phase
// teardown is reproduced with runtime.SetFinalizer: the first GC pass
// clears the stored JS handle (Live → Clearing) and re-arms the finalizer
// on a sentinel so a second GC pass completes the transition to Destroyed.
type Wrapper struct {
	info     *TypeInfo
	instance any

	mu       sync.Mutex
	state    int32 // atomic State
	jsObject *v8.Object
}

// sentinel carries the second-pass finalizer so the Wrapper itself can be
// resurrected by its own first-pass finalizer without immediately
// re-triggering collection.
type sentinel struct {
	w *Wrapper
}

// NewWrapper allocates instance on the managed heap (conceptually: it is
// now owned by w) and binds it to jsObject, registering the two-phase weak
// teardown. The caller must have already stored the wrapper's address and
// info in jsObject's internal fields via a Builder-constructed template.
func NewWrapper(info *TypeInfo, instance any, jsObject *v8.Object) *Wrapper {
	w := &Wrapper{info: info, instance: instance, jsObject: jsObject, state: int32(Live)}
	runtime.SetFinalizer(&sentinel{w: w}, firstPassFinalize)
	return w
}

func firstPassFinalize(s *sentinel) {
	w := s.w
	w.mu.Lock()
	if State(atomic.LoadInt32(&w.state)) != Live {
		w.mu.Unlock()
		return
	}
	atomic.StoreInt32(&w.state, int32(Clearing))
	w.jsObject = nil // release the stored global handle
	w.mu.Unlock()
	runtime.SetFinalizer(&sentinel{w: w}, secondPassFinalize)
}

func secondPassFinalize(s *sentinel) {
	w := s.w
	w.mu.Lock()
	defer w.mu.Unlock()
	if State(atomic.LoadInt32(&w.state)) != Clearing {
		return
	}
	atomic.StoreInt32(&w.state, int32(Destroyed))
	w.instance = nil
}

// State returns the wrapper's current lifecycle state.
func (w *Wrapper) State() State {
	return State(atomic.LoadInt32(&w.state))
}

// Instance returns the underlying native instance, or nil once the
// wrapper has reached Destroyed.
func (w *Wrapper) Instance() any {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.instance
}

// TypeInfo returns the wrapper's static type descriptor.
func (w *Wrapper) TypeInfo() *TypeInfo {
	return w.info
}

// CloseForSnapshot forces a Live wrapper directly to Closed: its global
// handle is released while the native instance stays intact.
func (w *Wrapper) CloseForSnapshot() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if State(w.state) != Live {
		return jsapperr.New(jsapperr.InvalidState, "native.Wrapper.CloseForSnapshot", "wrapper is not Live")
	}
	atomic.StoreInt32(&w.state, int32(Closed))
	w.jsObject = nil
	return nil
}

// DeserializeWrapper reconstructs a new Live wrapper bound to a freshly
// restored JS object.
func DeserializeWrapper(info *TypeInfo, data []byte, jsObject *v8.Object) (*Wrapper, error) {
	instance, err := info.Deserialize(data)
	if err != nil {
		return nil, jsapperr.Wrap(jsapperr.CorruptSnapshot, "native.DeserializeWrapper", "deserializing "+info.TypeName, err)
	}
	return NewWrapper(info, instance, jsObject), nil
}
