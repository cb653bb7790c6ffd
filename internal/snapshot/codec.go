package snapshot

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/fxamacker/cbor/v2"

	"github.com/v8app/jsapp/jsapperr"
)

// FuncTplSnap is one function-template record in a Runtime's snapshot.
type FuncTplSnap struct {
	IsolateDataIndex uint64 `cbor:"1,keyasint"`
	ClassName        string `cbor:"2,keyasint"`
	FunctionName     string `cbor:"3,keyasint"`
	Namespace        string `cbor:"4,keyasint"`
}

// ModuleSnapshot is one module record in a Context's snapshot.
// InternalFieldData carries the concatenated payload returned by the
// wrapper/context internal-field serialize callbacks.
type ModuleSnapshot struct {
	Path              string `cbor:"1,keyasint"`
	ShortName         string `cbor:"2,keyasint"`
	Version           string `cbor:"3,keyasint"`
	TypeName          string `cbor:"4,keyasint"`
	InternalFieldData []byte `cbor:"5,keyasint"`
}

// ContextSnapshot is one context record.
type ContextSnapshot struct {
	Name              string           `cbor:"1,keyasint"`
	Namespace         string           `cbor:"2,keyasint"`
	EntryPoint        string           `cbor:"3,keyasint"`
	Modules           []ModuleSnapshot `cbor:"4,keyasint"`
	InternalFieldData []byte           `cbor:"5,keyasint"`
}

// RuntimeSnapshot is one runtime record.
type RuntimeSnapshot struct {
	Name               string            `cbor:"1,keyasint"`
	IdleEnabled        bool              `cbor:"2,keyasint"`
	ContextIndexTable  *NamedIndexes     `cbor:"-"`
	Contexts           []ContextSnapshot `cbor:"4,keyasint"`
	FunctionTemplates  []FuncTplSnap     `cbor:"5,keyasint"`
}

// AppSnapshot is the root record.
type AppSnapshot struct {
	Name               string `cbor:"1,keyasint"`
	Version            string `cbor:"2,keyasint"`
	RuntimeIndexTable  *NamedIndexes `cbor:"-"`
	Runtimes           []RuntimeSnapshot `cbor:"4,keyasint"`
}

// runtimeWire and appWire are the CBOR-serializable mirrors of
// RuntimeSnapshot/AppSnapshot, since NamedIndexes manages its own
// hand-rolled framing and therefore cannot be tagged with plain cbor
// struct tags.
type runtimeWire struct {
	Name              string            `cbor:"1,keyasint"`
	IdleEnabled       bool              `cbor:"2,keyasint"`
	Contexts          []ContextSnapshot `cbor:"4,keyasint"`
	FunctionTemplates []FuncTplSnap     `cbor:"5,keyasint"`
}

// Encode writes app's snapshot record, prefixed with its own length, to w,
// followed immediately by startupBlob (the VM's own emitted bytes).
func Encode(w io.Writer, app *AppSnapshot, startupBlob []byte) error {
	var buf bytes.Buffer

	if err := writeNamedIndexes(&buf, app.RuntimeIndexTable); err != nil {
		return err
	}
	if err := writeLPString(&buf, app.Name); err != nil {
		return err
	}
	if err := writeLPString(&buf, app.Version); err != nil {
		return err
	}

	if err := binary.Write(&buf, binary.BigEndian, uint64(len(app.Runtimes))); err != nil {
		return jsapperr.Wrap(jsapperr.SnapshotIO, "snapshot.Encode", "writing runtime count", err)
	}
	for i, rt := range app.Runtimes {
		if err := encodeRuntime(&buf, rt); err != nil {
			return jsapperr.Wrap(jsapperr.SnapshotIO, "snapshot.Encode", "encoding runtime "+string(rune('0'+i)), err)
		}
	}

	if err := writeLPBytes(w, buf.Bytes()); err != nil {
		return err
	}
	if _, err := w.Write(startupBlob); err != nil {
		return jsapperr.Wrap(jsapperr.SnapshotIO, "snapshot.Encode", "writing startup blob", err)
	}
	return nil
}

func encodeRuntime(buf *bytes.Buffer, rt RuntimeSnapshot) error {
	if err := writeNamedIndexes(buf, rt.ContextIndexTable); err != nil {
		return err
	}
	wire := runtimeWire{Name: rt.Name, IdleEnabled: rt.IdleEnabled, Contexts: rt.Contexts, FunctionTemplates: rt.FunctionTemplates}
	payload, err := cbor.Marshal(wire)
	if err != nil {
		return jsapperr.Wrap(jsapperr.SnapshotIO, "snapshot.encodeRuntime", "cbor-encoding runtime record", err)
	}
	return writeLPBytes(buf, payload)
}

// Decode reads an App snapshot record from r, returning it and the
// remaining bytes as the VM start-up blob.
func Decode(r io.Reader) (*AppSnapshot, []byte, error) {
	recordBytes, err := readLPBytes(r)
	if err != nil {
		return nil, nil, err
	}
	rest, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, jsapperr.Wrap(jsapperr.SnapshotIO, "snapshot.Decode", "reading startup blob", err)
	}

	buf := bytes.NewReader(recordBytes)
	runtimeIdx, err := readNamedIndexes(buf)
	if err != nil {
		return nil, nil, err
	}
	name, err := readLPString(buf)
	if err != nil {
		return nil, nil, err
	}
	version, err := readLPString(buf)
	if err != nil {
		return nil, nil, err
	}
	var count uint64
	if err := binary.Read(buf, binary.BigEndian, &count); err != nil {
		return nil, nil, jsapperr.Wrap(jsapperr.CorruptSnapshot, "snapshot.Decode", "reading runtime count", err)
	}

	app := &AppSnapshot{Name: name, Version: version, RuntimeIndexTable: runtimeIdx}
	for i := uint64(0); i < count; i++ {
		rt, err := decodeRuntime(buf)
		if err != nil {
			return nil, nil, err
		}
		app.Runtimes = append(app.Runtimes, rt)
	}
	return app, rest, nil
}

func decodeRuntime(r io.Reader) (RuntimeSnapshot, error) {
	ctxIdx, err := readNamedIndexes(r)
	if err != nil {
		return RuntimeSnapshot{}, err
	}
	payload, err := readLPBytes(r)
	if err != nil {
		return RuntimeSnapshot{}, err
	}
	var wire runtimeWire
	if err := cbor.Unmarshal(payload, &wire); err != nil {
		return RuntimeSnapshot{}, jsapperr.Wrap(jsapperr.CorruptSnapshot, "snapshot.decodeRuntime", "cbor-decoding runtime record", err)
	}
	return RuntimeSnapshot{
		Name:              wire.Name,
		IdleEnabled:       wire.IdleEnabled,
		ContextIndexTable: ctxIdx,
		Contexts:          wire.Contexts,
		FunctionTemplates: wire.FunctionTemplates,
	}, nil
}

// writeNamedIndexes serializes as (u64 count)(u64 index)(string name)*.
func writeNamedIndexes(buf *bytes.Buffer, n *NamedIndexes) error {
	if n == nil {
		n = NewNamedIndexes(0)
	}
	entries := n.Entries()
	if err := binary.Write(buf, binary.BigEndian, uint64(len(entries))); err != nil {
		return jsapperr.Wrap(jsapperr.SnapshotIO, "snapshot.writeNamedIndexes", "writing count", err)
	}
	for _, e := range entries {
		if err := binary.Write(buf, binary.BigEndian, uint64(e.Index)); err != nil {
			return jsapperr.Wrap(jsapperr.SnapshotIO, "snapshot.writeNamedIndexes", "writing index", err)
		}
		if err := writeLPString(buf, e.Name); err != nil {
			return err
		}
	}
	return nil
}

// readNamedIndexes deserializes with duplicate detection: a duplicate
// index or duplicate name fails with CorruptSnapshot.
func readNamedIndexes(r io.Reader) (*NamedIndexes, error) {
	var count uint64
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, jsapperr.Wrap(jsapperr.CorruptSnapshot, "snapshot.readNamedIndexes", "reading count", err)
	}
	n := NewNamedIndexes(0)
	for i := uint64(0); i < count; i++ {
		var idx64 uint64
		if err := binary.Read(r, binary.BigEndian, &idx64); err != nil {
			return nil, jsapperr.Wrap(jsapperr.CorruptSnapshot, "snapshot.readNamedIndexes", "reading index", err)
		}
		name, err := readLPString(r)
		if err != nil {
			return nil, err
		}
		if err := n.AddNamedIndex(int(idx64), name); err != nil {
			return nil, jsapperr.Wrap(jsapperr.CorruptSnapshot, "snapshot.readNamedIndexes", "duplicate entry", err)
		}
	}
	return n, nil
}

func writeLPString(w io.Writer, s string) error {
	return writeLPBytes(w, []byte(s))
}

func readLPString(r io.Reader) (string, error) {
	b, err := readLPBytes(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func writeLPBytes(w io.Writer, b []byte) error {
	if err := binary.Write(w, binary.BigEndian, uint64(len(b))); err != nil {
		return jsapperr.Wrap(jsapperr.SnapshotIO, "snapshot.writeLPBytes", "writing length prefix", err)
	}
	if _, err := w.Write(b); err != nil {
		return jsapperr.Wrap(jsapperr.SnapshotIO, "snapshot.writeLPBytes", "writing bytes", err)
	}
	return nil
}

func readLPBytes(r io.Reader) ([]byte, error) {
	var n uint64
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, jsapperr.Wrap(jsapperr.CorruptSnapshot, "snapshot.readLPBytes", "reading length prefix", err)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, jsapperr.Wrap(jsapperr.CorruptSnapshot, "snapshot.readLPBytes", "reading bytes", err)
	}
	return buf, nil
}
