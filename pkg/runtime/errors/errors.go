// Package errors defines the failure taxonomy shared by every runtime
// component. Each user-facing failure carries exactly one Kind plus a
// human-readable message; transports map the kind onto their own status
// codes.
//
// This is a leaf package so that registries, stores and the control plane
// can all import it without cycles.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Kind classifies a runtime failure.
type Kind int

const (
	// GeneralFailure covers I/O errors, hook failures and anything unexpected.
	GeneralFailure Kind = iota + 1

	// IllegalArgument indicates an unknown module/service or a malformed
	// module file name.
	IllegalArgument

	// IllegalState indicates an invalid lifecycle transition, an outdated
	// module re-registration, or a process that is already started/stopped.
	IllegalState
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case GeneralFailure:
		return "GENERAL_FAILURE"
	case IllegalArgument:
		return "ILLEGAL_ARGUMENT"
	case IllegalState:
		return "ILLEGAL_STATE"
	default:
		return "UNKNOWN"
	}
}

// RuntimeError is the error type returned by every orchestrator operation.
type RuntimeError struct {
	Kind    Kind
	Message string

	// Cause is the underlying error, if any.
	Cause error

	// Suppressed holds secondary failures that happened while handling the
	// primary one (e.g. service drain errors during shutdown).
	Suppressed []error
}

// Error implements error.
func (e *RuntimeError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	if n := len(e.Suppressed); n > 0 {
		fmt.Fprintf(&b, " (%d suppressed)", n)
	}
	return b.String()
}

// Unwrap exposes the cause and suppressed errors to errors.Is / errors.As.
func (e *RuntimeError) Unwrap() []error {
	out := make([]error, 0, 1+len(e.Suppressed))
	if e.Cause != nil {
		out = append(out, e.Cause)
	}
	return append(out, e.Suppressed...)
}

// Suppress attaches secondary failures. Nil errors are ignored.
func (e *RuntimeError) Suppress(errs ...error) *RuntimeError {
	for _, err := range errs {
		if err != nil {
			e.Suppressed = append(e.Suppressed, err)
		}
	}
	return e
}

// New creates a RuntimeError of the given kind.
func New(kind Kind, format string, args ...any) *RuntimeError {
	return &RuntimeError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a RuntimeError of the given kind around cause.
func Wrap(kind Kind, cause error, format string, args ...any) *RuntimeError {
	return &RuntimeError{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func NewGeneralFailure(format string, args ...any) *RuntimeError {
	return New(GeneralFailure, format, args...)
}

func NewIllegalArgument(format string, args ...any) *RuntimeError {
	return New(IllegalArgument, format, args...)
}

func NewIllegalState(format string, args ...any) *RuntimeError {
	return New(IllegalState, format, args...)
}

// KindOf returns the kind of err. Errors that are not RuntimeErrors are
// reported as GeneralFailure; nil yields 0.
func KindOf(err error) Kind {
	if err == nil {
		return 0
	}
	var re *RuntimeError
	if stderrors.As(err, &re) {
		return re.Kind
	}
	return GeneralFailure
}

// IsIllegalArgument reports whether err carries the IllegalArgument kind.
func IsIllegalArgument(err error) bool {
	return KindOf(err) == IllegalArgument
}

// IsIllegalState reports whether err carries the IllegalState kind.
func IsIllegalState(err error) bool {
	return KindOf(err) == IllegalState
}

// IsGeneralFailure reports whether err carries the GeneralFailure kind.
func IsGeneralFailure(err error) bool {
	return KindOf(err) == GeneralFailure
}
