package snapshot

import (
	"bytes"
	"testing"

	"github.com/v8app/jsapp/jsapperr"
)

func TestNamedIndexesRoundTrip(t *testing.T) {
	n := NewNamedIndexes(0)
	if err := n.AddNamedIndex(0, "default"); err != nil {
		t.Fatalf("AddNamedIndex: %v", err)
	}
	if err := n.AddNamedIndex(1, "admin"); err != nil {
		t.Fatalf("AddNamedIndex: %v", err)
	}

	var buf bytes.Buffer
	if err := writeNamedIndexes(&buf, n); err != nil {
		t.Fatalf("writeNamedIndexes: %v", err)
	}
	got, err := readNamedIndexes(&buf)
	if err != nil {
		t.Fatalf("readNamedIndexes: %v", err)
	}
	name, ok := got.GetNameFromIndex(1)
	if !ok || name != "admin" {
		t.Fatalf("GetNameFromIndex(1) = %q, %v", name, ok)
	}
}

func TestNamedIndexesDuplicateIndexRejected(t *testing.T) {
	n := NewNamedIndexes(0)
	if err := n.AddNamedIndex(0, "default"); err != nil {
		t.Fatalf("AddNamedIndex: %v", err)
	}
	err := n.AddNamedIndex(0, "other")
	if !jsapperr.Is(err, jsapperr.AlreadyExists) {
		t.Fatalf("expected AlreadyExists, got %v", err)
	}
}

func TestNamedIndexesDuplicateNameRejected(t *testing.T) {
	n := NewNamedIndexes(0)
	if err := n.AddNamedIndex(0, "default"); err != nil {
		t.Fatalf("AddNamedIndex: %v", err)
	}
	err := n.AddNamedIndex(1, "default")
	if !jsapperr.Is(err, jsapperr.AlreadyExists) {
		t.Fatalf("expected AlreadyExists, got %v", err)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	runtimeIdx := NewNamedIndexes(0)
	_ = runtimeIdx.AddNamedIndex(0, "main")
	ctxIdx := NewNamedIndexes(0)
	_ = ctxIdx.AddNamedIndex(0, "default")

	app := &AppSnapshot{
		Name:              "myapp",
		Version:           "1.0.0",
		RuntimeIndexTable: runtimeIdx,
		Runtimes: []RuntimeSnapshot{
			{
				Name:              "main",
				IdleEnabled:       true,
				ContextIndexTable: ctxIdx,
				Contexts: []ContextSnapshot{
					{
						Name:       "default",
						Namespace:  "",
						EntryPoint: "main.js",
						Modules: []ModuleSnapshot{
							{Path: "/app/js/main.js", ShortName: "main", TypeName: "js"},
						},
					},
				},
				FunctionTemplates: []FuncTplSnap{
					{IsolateDataIndex: 3, ClassName: "Widget", FunctionName: "create", Namespace: "mylib"},
				},
			},
		},
	}

	var buf bytes.Buffer
	startup := []byte("fake-v8-startup-blob")
	if err := Encode(&buf, app, startup); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	decoded, rest, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.Name != "myapp" || decoded.Version != "1.0.0" {
		t.Fatalf("decoded app = %+v", decoded)
	}
	if len(decoded.Runtimes) != 1 || decoded.Runtimes[0].Name != "main" {
		t.Fatalf("decoded runtimes = %+v", decoded.Runtimes)
	}
	if len(decoded.Runtimes[0].Contexts) != 1 || decoded.Runtimes[0].Contexts[0].EntryPoint != "main.js" {
		t.Fatalf("decoded contexts = %+v", decoded.Runtimes[0].Contexts)
	}
	if !bytes.Equal(rest, startup) {
		t.Fatalf("startup blob = %q, want %q", rest, startup)
	}

	name, ok := decoded.RuntimeIndexTable.GetNameFromIndex(0)
	if !ok || name != "main" {
		t.Fatalf("runtime index table lost data: %q, %v", name, ok)
	}
}
