// Package moduleloader implements a module loader: path resolution,
// import-attribute validation, a module map with cycle detection, JSON
// synthetic modules, and the dynamic-import microtask protocol.
//
// The V8 bindings available to this project (tommie/v8go) do not expose a
// native ES-module compile/link API, so modules are compiled down to
// scripts instead: every module's source is wrapped into an IIFE that
// populates a per-module exports record addressable by its resolved
// absolute path, and import specifiers are rewritten to lookups against
// that record before the wrapped source is handed to the VM via
// RunScript. The resolution algorithm, attribute validation, and cache
// bookkeeping below are pure Go and VM-agnostic.
package moduleloader

import (
	"time"
)

// ModuleType is the import-attribute-selected kind of a module.
type ModuleType int

const (
	TypeJS ModuleType = iota
	TypeJSON
	TypeNative
)

func (t ModuleType) String() string {
	switch t {
	case TypeJS:
		return "js"
	case TypeJSON:
		return "json"
	case TypeNative:
		return "native"
	default:
		return "unknown"
	}
}

// Attributes are the recognized import attributes:
// {type: "js"|"json"|"native", module: "<name>"}. Unknown keys are
// ignored with a warning at the call site; an unrecognized Type value
// invalidates the import.
type Attributes struct {
	Type   ModuleType
	Module string // optional package name for a %MODULES% resolution
}

// ParseType maps a raw import-attribute type string to a ModuleType,
// reporting false for any value other than "js"/"json"/"native".
func ParseType(raw string) (ModuleType, bool) {
	switch raw {
	case "", "js":
		return TypeJS, true
	case "json":
		return TypeJSON, true
	case "native":
		return TypeNative, true
	default:
		return 0, false
	}
}

// Module is one node of the resolved module graph.
type Module struct {
	Path      string // absolute, normalized source path
	ShortName string // file stem, used for diagnostics and native lookups
	Version   string // resolved semantic version, for modules/ entries only
	Type      ModuleType

	// GlobalName is the globalThis property this module's exports object
	// (or, for a JSON module, {default: <value>}) is assigned to once
	// evaluated. Every module gets one, allocated at Load time, so an
	// importer can always reference it regardless of import order.
	GlobalName string

	// Imports is this module's static import statements, in source
	// order, each already resolved to its target Module.
	Imports []ModuleImport

	JSONValue any // parsed value, for TypeJSON modules only

	Source       string
	CompiledAt   time.Time
	UsedCodeCache bool

	evaluated bool
}

// ModuleImport is one parsed static import statement: its exact source
// text (substituted verbatim when the importing module is evaluated),
// the binding form it declared, and the module it resolved to.
type ModuleImport struct {
	Raw       string // the full matched "import ... ;" statement text
	Binding   string // "default:NAME" | "ns:NAME" | "named:{ ... }" | "" (side-effect only)
	Specifier string
	Target    *Module
}

// Evaluated reports whether the module's IIFE has already run.
func (m *Module) Evaluated() bool { return m.evaluated }

// MarkEvaluated records that the module's IIFE has run exactly once.
func (m *Module) MarkEvaluated() { m.evaluated = true }
