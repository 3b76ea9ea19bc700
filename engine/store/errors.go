package store

import (
	"errors"
	"fmt"
)

// Kind classifies a storage failure independently of the backend that
// produced it.
type Kind string

const (
	KindConnection       Kind = "connection error"
	KindAlreadyConnected Kind = "already connected"
	KindValidation       Kind = "validation error"
	KindDuplicate        Kind = "duplicate record"
	KindNotFound         Kind = "record not found"
	KindIO               Kind = "io error"
	KindConnectionLost   Kind = "connection lost"
	KindUnknownBackend   Kind = "unknown backend"
)

// Sentinels for errors.Is. Any *Error matches the sentinel of its Kind.
var (
	ErrConnection       = &Error{Kind: KindConnection}
	ErrAlreadyConnected = &Error{Kind: KindAlreadyConnected}
	ErrValidation       = &Error{Kind: KindValidation}
	ErrDuplicate        = &Error{Kind: KindDuplicate}
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrIO               = &Error{Kind: KindIO}
	ErrConnectionLost   = &Error{Kind: KindConnectionLost}
	ErrUnknownBackend   = &Error{Kind: KindUnknownBackend}
)

// Error is the uniform failure returned by every Store operation.
type Error struct {
	Kind    Kind
	Backend Backend
	Op      string
	Err     error
}

// NewError builds an *Error; err may be nil.
func NewError(kind Kind, backend Backend, op string, err error) *Error {
	return &Error{Kind: kind, Backend: backend, Op: op, Err: err}
}

// Errorf builds an *Error whose cause is a formatted message.
func Errorf(kind Kind, backend Backend, op string, format string, args ...any) *Error {
	return NewError(kind, backend, op, fmt.Errorf(format, args...))
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Backend != "" {
		msg = string(e.Backend) + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports a match when target is an *Error of the same Kind whose
// Backend and Op are either empty or equal.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	if t.Backend != "" && t.Backend != e.Backend {
		return false
	}
	return t.Op == "" || t.Op == e.Op
}

// KindOf returns the Kind of the first *Error in err's chain, or "" when
// err carries none.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}
