package jsapp

import v8 "github.com/tommie/v8go"

// SnapshotMethod selects how much of a Context a snapshotting Runtime
// captures.
type SnapshotMethod int

const (
	NamespaceOnly SnapshotMethod = iota
	NamespaceAndEntrypoint
)

// Snapshottability classifies whether and how a Runtime participates in
// App-level snapshotting.
type Snapshottability int

const (
	NotSnapshottable Snapshottability = iota
	SnapshotOnly
	SnapshotAndRestore
)

// RuntimeProvider constructs the VM-level resources a Runtime needs:
// an isolate (normal, snapshotter, or restored-from-blob) and its default
// context.
type RuntimeProvider interface {
	NewIsolate(maxYoungMB, maxOldMB int) *v8.Isolate
	NewSnapshotterIsolate(maxYoungMB, maxOldMB int, externalRefs []uintptr) (*v8.Isolate, *v8.SnapshotCreator)
	NewRestoredIsolate(startupBlob []byte, externalRefs []uintptr) *v8.Isolate
}

// ContextProvider constructs or restores a VM context for a Context.
type ContextProvider interface {
	NewContext(iso *v8.Isolate) *v8.Context
	RestoreContext(iso *v8.Isolate, snapshotIndex int) *v8.Context
}

// SnapshotProvider supplies the per-object and per-context internal-field
// (de)serialization callbacks the snapshot codec plumbs through.
type SnapshotProvider interface {
	SerializeInternalField(holder any, index int) ([]byte, error)
	DeserializeInternalField(holder any, index int, data []byte) error
	SerializeContextInternalField(holder any, index int) ([]byte, error)
	DeserializeContextInternalField(holder any, index int, data []byte) error
}

// SnapshotCreator is the narrow surface App needs from the VM's own
// snapshot-creator object: registering a context for capture at a given
// index and emitting the final blob.
type SnapshotCreator interface {
	AddContext(ctx *v8.Context) (index int, err error)
	CreateBlob(clearFunctionCode bool) ([]byte, error)
}

// defaultRuntimeProvider is the production RuntimeProvider, wiring v8go
// directly to build an isolate in any of the three Runtime roles instead
// of one fixed worker-pool isolate shape.
type defaultRuntimeProvider struct{}

func (defaultRuntimeProvider) NewIsolate(maxYoungMB, maxOldMB int) *v8.Isolate {
	if maxOldMB > 0 {
		young := uint64(maxYoungMB) * 1024 * 1024
		old := uint64(maxOldMB) * 1024 * 1024
		return v8.NewIsolate(v8.WithResourceConstraints(young, old))
	}
	return v8.NewIsolate()
}

func (defaultRuntimeProvider) NewSnapshotterIsolate(maxYoungMB, maxOldMB int, externalRefs []uintptr) (*v8.Isolate, *v8.SnapshotCreator) {
	creator := v8.NewSnapshotCreator(externalRefs...)
	iso := creator.Isolate()
	return iso, creator
}

func (defaultRuntimeProvider) NewRestoredIsolate(startupBlob []byte, externalRefs []uintptr) *v8.Isolate {
	return v8.NewIsolate(v8.WithStartupData(startupBlob), v8.WithExternalReferences(externalRefs...))
}

type defaultContextProvider struct{}

func (defaultContextProvider) NewContext(iso *v8.Isolate) *v8.Context {
	return v8.NewContext(iso)
}

func (defaultContextProvider) RestoreContext(iso *v8.Isolate, snapshotIndex int) *v8.Context {
	return v8.NewContextFromSnapshot(iso, snapshotIndex)
}
