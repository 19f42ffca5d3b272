// Package colexecerr defines the error kinds surfaced by the execution
// plan and aggregation kernels.
package colexecerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error the way callers need to switch on it.
type Kind int

const (
	// Invalid covers plan validation failures, restart attempts, and
	// malformed node/kernel options.
	Invalid Kind = iota
	// NotImplemented covers a kernel that does not support an input type.
	NotImplemented
	// Upstream covers errors produced by source generators.
	Upstream
	// TypeError covers schema mismatches at an edge or expression
	// input/output type mismatches.
	TypeError
)

func (k Kind) String() string {
	switch k {
	case Invalid:
		return "Invalid"
	case NotImplemented:
		return "NotImplemented"
	case Upstream:
		return "Upstream"
	case TypeError:
		return "TypeError"
	default:
		return "Unknown"
	}
}

// Error wraps an underlying cause with a Kind so that callers can use
// errors.As to recover the classification after it has been wrapped by
// further fmt.Errorf("...: %w", err) calls.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error of the given kind.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf builds an *Error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a Kind to an existing error, preserving it for errors.Unwrap.
func Wrap(kind Kind, msg string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Is reports whether err (or any error it wraps) has the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
