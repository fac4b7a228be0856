// Package atlerr defines the error taxonomy shared across the library,
// per SPEC_FULL.md §7: transient I/O, permanent I/O, state-machine
// misuse, resource exhaustion, backend failure, and persistence failure.
// Errors carry their Kind so callers (and the CLI) can decide what's
// retryable without string-matching messages.
package atlerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies an Error.
type Kind int

const (
	// Transient marks an error FileIO already retried and gave up on,
	// or that a backend reports as momentary (EINTR/EAGAIN-class).
	Transient Kind = iota
	// Permanent marks a non-retryable I/O failure (open/read/write/
	// seek/fsync/close).
	Permanent
	// StateMisuse marks an operation illegal in the handle's current
	// state.
	StateMisuse
	// ResourceExhaustion marks an allocation failure.
	ResourceExhaustion
	// BackendFailure marks a backend (worker pool, daemon, vendor
	// engine) reporting a non-success outcome for a file or handle.
	BackendFailure
	// Persistence marks a failure to write the state or transfer file.
	Persistence
)

func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	case StateMisuse:
		return "state-misuse"
	case ResourceExhaustion:
		return "resource-exhaustion"
	case BackendFailure:
		return "backend-failure"
	case Persistence:
		return "persistence"
	default:
		return "unknown"
	}
}

// Error is the library's error type. HandleID is 0 and Source is empty
// when the error isn't attributable to a specific handle or file.
type Error struct {
	Kind     Kind
	HandleID int64
	Source   string
	cause    error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.HandleID != 0 {
		msg = fmt.Sprintf("%s (handle %d)", msg, e.HandleID)
	}
	if e.Source != "" {
		msg = fmt.Sprintf("%s [%s]", msg, e.Source)
	}
	if e.cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.cause)
	}
	return msg
}

// Unwrap exposes the wrapped cause for errors.Is/As.
func (e *Error) Unwrap() error { return e.cause }

// New builds an Error of the given Kind wrapping msg.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, cause: errors.New(msg)}
}

// Wrap attaches kind to an existing error, annotating it with msg.
func Wrap(kind Kind, err error, msg string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, cause: errors.Wrap(err, msg)}
}

// WithHandle attaches a handle ID to e, returning e for chaining.
func (e *Error) WithHandle(id int64) *Error {
	e.HandleID = id
	return e
}

// WithSource attaches a source path to e, returning e for chaining.
func (e *Error) WithSource(src string) *Error {
	e.Source = src
	return e
}

// Is reports whether err is an *Error of the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}
