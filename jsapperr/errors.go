// Package jsapperr defines the error taxonomy shared across the embedding
// host: every component returns (or wraps) one of these kinds so callers
// can branch on failure class without string matching.
package jsapperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure into one of the categories the host's
// components are expected to report.
type Kind string

const (
	ConfigError           Kind = "config_error"
	NotFound              Kind = "not_found"
	AlreadyExists         Kind = "already_exists"
	InvalidState          Kind = "invalid_state"
	TypeMismatch          Kind = "type_mismatch"
	ModuleResolution      Kind = "module_resolution"
	Compile               Kind = "compile"
	Link                  Kind = "link"
	Eval                  Kind = "eval"
	SnapshotIO            Kind = "snapshot_io"
	CorruptSnapshot       Kind = "corrupt_snapshot"
	IncompatibleSnapshot  Kind = "incompatible_snapshot"
)

// Error is a typed, wrapped error carrying one of the Kind values above.
type Error struct {
	Kind    Kind
	Op      string // the operation that failed, e.g. "Runtime.CreateContext"
	Message string
	Err     error // wrapped cause, may be nil
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Op, e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error with no wrapped cause.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap builds an Error that wraps cause.
func Wrap(kind Kind, op, message string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: cause}
}

// Is reports whether err carries the given Kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
