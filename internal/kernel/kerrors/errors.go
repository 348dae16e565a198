// Package kerrors is the kernel's error taxonomy (spec C1).
//
// Every subsystem exposes a Kind-tagged *Error carrying enough context to
// localize the failure (ids, paths, operation names) and an optional
// wrapped source error. Nothing crosses a subsystem boundary as a panic;
// Display/Error always renders the full chain via errors.Is/As-compatible
// wrapping, modeled on containerd/plugin's small sentinel-error set and
// generalized to carry structured fields the way the spec requires.
package kerrors

import (
	"errors"
	"fmt"
)

// Subsystem identifies which component raised an error.
type Subsystem string

const (
	Kernel        Subsystem = "kernel"
	PluginSystem  Subsystem = "plugin-system"
	StageSystem   Subsystem = "stage-system"
	StorageSystem Subsystem = "storage-system"
	EventSystem   Subsystem = "event-system"
	UIBridge      Subsystem = "ui-bridge"
)

// Kind enumerates the taxonomy of failures within a subsystem.
type Kind string

const (
	// User-recoverable, isolation (panic), invariant (cycle, already
	// exists) and infrastructure (io, serialization) kinds alike.
	KindNotFound        Kind = "not_found"
	KindAlreadyExists   Kind = "already_exists"
	KindIncompatible    Kind = "incompatible"
	KindMissingDep      Kind = "missing_dependency"
	KindConflict        Kind = "conflict"
	KindVersionParse    Kind = "version_parse"
	KindValidation      Kind = "validation"
	KindCycle           Kind = "cycle"
	KindSkip            Kind = "skip"
	KindAlreadyRunning  Kind = "already_running"
	KindPanic           Kind = "panic"
	KindIO              Kind = "io"
	KindSerialization   Kind = "serialization"
	KindSymbolNotFound  Kind = "symbol_not_found"
	KindNilVTable       Kind = "nil_vtable"
	KindConfigNotFound  Kind = "config_not_found"
	KindUnknown         Kind = "unknown"
)

// Error is the kernel's uniform error type. It always names the subsystem
// and kind, carries an operation-specific message, and may wrap a source
// error for chaining.
type Error struct {
	Subsystem Subsystem
	Kind      Kind
	Op        string // operation name, e.g. "Registry.Register"
	Fields    map[string]any
	Err       error // wrapped source, may be nil
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Subsystem, e.Op)
	if e.Kind != "" {
		msg += fmt.Sprintf(" [%s]", e.Kind)
	}
	for k, v := range e.Fields {
		msg += fmt.Sprintf(" %s=%v", k, v)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is allows errors.Is(err, kerrors.KindX) style checks against a bare Kind
// wrapped in an *Error with no other context.
func (e *Error) Is(target error) bool {
	var k *Error
	if errors.As(target, &k) {
		return e.Subsystem == k.Subsystem && e.Kind == k.Kind
	}
	return false
}

// New constructs a tagged error with optional structured fields (passed as
// alternating key/value pairs).
func New(sub Subsystem, kind Kind, op string, err error, kv ...any) *Error {
	e := &Error{Subsystem: sub, Kind: kind, Op: op, Err: err}
	if len(kv) > 0 {
		e.Fields = make(map[string]any, len(kv)/2)
		for i := 0; i+1 < len(kv); i += 2 {
			key, _ := kv[i].(string)
			e.Fields[key] = kv[i+1]
		}
	}
	return e
}

// KindOf reports the Kind of err if it is (or wraps) a *kerrors.Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
