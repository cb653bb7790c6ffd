// Package snapshot implements a snapshot codec: the NamedIndexes
// insertion-ordered int<->string table, and the length-prefixed
// byte-buffer encoding of the App → Runtimes → Contexts → Modules
// hierarchy, prefixed to the VM's own start-up blob.
//
// The top-level framing and NamedIndexes table are hand-rolled to match
// a literal wire format; the nested per-record payloads (ModuleSnapshot,
// FuncTplSnap) use fxamacker/cbor/v2 instead, since their layout is not
// pinned to specific byte offsets.
package snapshot

import (
	"github.com/v8app/jsapp/jsapperr"
)

// DefaultMaxIndexes bounds a NamedIndexes table absent an explicit limit.
const DefaultMaxIndexes = 1 << 16

// NamedIndexes is an insertion-ordered map from integer index to string
// name.
type NamedIndexes struct {
	max         int
	order       []int
	nameByIndex map[int]string
	indexByName map[string]int
}

// NewNamedIndexes creates an empty table capped at max entries (0 means
// DefaultMaxIndexes).
func NewNamedIndexes(max int) *NamedIndexes {
	if max <= 0 {
		max = DefaultMaxIndexes
	}
	return &NamedIndexes{
		max:         max,
		nameByIndex: make(map[int]string),
		indexByName: make(map[string]int),
	}
}

// AddNamedIndex assigns name to index, failing if either is already
// taken by a different pairing or the table is full.
func (n *NamedIndexes) AddNamedIndex(index int, name string) error {
	if existing, ok := n.nameByIndex[index]; ok {
		if existing == name {
			return nil
		}
		return jsapperr.New(jsapperr.AlreadyExists, "snapshot.AddNamedIndex", "index already bound to a different name")
	}
	if _, ok := n.indexByName[name]; ok {
		return jsapperr.New(jsapperr.AlreadyExists, "snapshot.AddNamedIndex", "name already bound to a different index: "+name)
	}
	if len(n.order) >= n.max {
		return jsapperr.New(jsapperr.InvalidState, "snapshot.AddNamedIndex", "named-index table is full")
	}
	n.order = append(n.order, index)
	n.nameByIndex[index] = name
	n.indexByName[name] = index
	return nil
}

// GetNameFromIndex returns the name bound to index, or false.
func (n *NamedIndexes) GetNameFromIndex(index int) (string, bool) {
	name, ok := n.nameByIndex[index]
	return name, ok
}

// GetIndexForName returns the index bound to name, or false.
func (n *NamedIndexes) GetIndexForName(name string) (int, bool) {
	idx, ok := n.indexByName[name]
	return idx, ok
}

// Len returns the number of bound entries.
func (n *NamedIndexes) Len() int { return len(n.order) }

// Entries returns (index, name) pairs in insertion order.
func (n *NamedIndexes) Entries() []struct {
	Index int
	Name  string
} {
	out := make([]struct {
		Index int
		Name  string
	}, len(n.order))
	for i, idx := range n.order {
		out[i] = struct {
			Index int
			Name  string
		}{Index: idx, Name: n.nameByIndex[idx]}
	}
	return out
}
