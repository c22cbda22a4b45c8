package errors

import (
	"errors"
	"fmt"
)

// Kind represents the category of an application error
type Kind string

const (
	KindConfiguration Kind = "configuration"
	KindArgument      Kind = "argument"
	KindValidation    Kind = "validation"
	KindInvalidState  Kind = "invalid_state"
	KindConflict      Kind = "conflict"
	KindNotFound      Kind = "not_found"
	KindInternal      Kind = "internal"
)

// Error is the base error type for the payment core
type Error struct {
	Kind    Kind
	Message string
	Cause   error
	Context map[string]any
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error of the same kind with an empty or equal message,
// so errors.Is(err, &Error{Kind: KindConflict}) works as a kind check.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

// WithContext adds context information to the error
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Configuration(format string, args ...any) *Error {
	return newError(KindConfiguration, format, args...)
}

func Argument(format string, args ...any) *Error {
	return newError(KindArgument, format, args...)
}

func Validation(format string, args ...any) *Error {
	return newError(KindValidation, format, args...)
}

func InvalidState(format string, args ...any) *Error {
	return newError(KindInvalidState, format, args...)
}

func Conflict(format string, args ...any) *Error {
	return newError(KindConflict, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return newError(KindNotFound, format, args...)
}

// Wrap creates an error of the given kind around cause
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	e := newError(kind, format, args...)
	e.Cause = cause
	return e
}

// IsKind reports whether any error in err's chain is an *Error of kind
func IsKind(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Cause
	}
	return false
}

// LogicError signals a broken contract between callers and the core.
// It is raised with panic, never returned.
type LogicError struct {
	Message string
}

func (e *LogicError) Error() string {
	return "logic error: " + e.Message
}
