package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies expected, recoverable failures.
type ErrorKind string

const (
	KindNotFound          ErrorKind = "not_found"
	KindDuplicate         ErrorKind = "duplicate"
	KindCycleDetected     ErrorKind = "cycle_detected"
	KindInvalidTransition ErrorKind = "invalid_transition"
	KindClosureRefused    ErrorKind = "closure_refused"
	KindBlocked           ErrorKind = "blocked"
	KindInvalid           ErrorKind = "invalid"
	KindConflict          ErrorKind = "conflict"
)

// Error is the single error type callers branch on. Two *Error values
// match under errors.Is when their kinds are equal.
type Error struct {
	Kind    ErrorKind
	Message string
	Details map[string]any
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// With returns a copy of e carrying an extra detail.
func (e *Error) With(key string, value any) *Error {
	out := *e
	out.Details = make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		out.Details[k] = v
	}
	out.Details[key] = value
	return &out
}

var (
	ErrNotFound          = &Error{Kind: KindNotFound, Message: "not found"}
	ErrDuplicate         = &Error{Kind: KindDuplicate, Message: "already exists"}
	ErrCycleDetected     = &Error{Kind: KindCycleDetected, Message: "edge would create a cycle"}
	ErrInvalidTransition = &Error{Kind: KindInvalidTransition, Message: "invalid status transition"}
	ErrClosureRefused    = &Error{Kind: KindClosureRefused, Message: "closure refused"}
	ErrBlocked           = &Error{Kind: KindBlocked, Message: "item is blocked"}
	ErrInvalid           = &Error{Kind: KindInvalid, Message: "invalid input"}
	ErrConflict          = &Error{Kind: KindConflict, Message: "progress was modified concurrently"}
)

// Errorf builds an *Error of the given kind with a formatted message.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain, or "" when
// err is not a domain error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
