package provider

import (
	"errors"
	"fmt"
)

// ErrorKind classifies provider adapter failures
type ErrorKind int

const (
	KindCredentialsMissing ErrorKind = iota + 1
	KindCredentialsMalformed
	KindCreateFailed
	KindJoinFailed
	KindAlreadyActive
)

// String returns the string representation of an error kind
func (k ErrorKind) String() string {
	switch k {
	case KindCredentialsMissing:
		return "credentials missing"
	case KindCredentialsMalformed:
		return "credentials malformed"
	case KindCreateFailed:
		return "provider create failed"
	case KindJoinFailed:
		return "provider join failed"
	case KindAlreadyActive:
		return "session already active"
	default:
		return "unknown provider error"
	}
}

// Error is returned by every adapter operation that fails
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so the package sentinels work with errors.Is
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrCredentialsMissing   = &Error{Kind: KindCredentialsMissing}
	ErrCredentialsMalformed = &Error{Kind: KindCredentialsMalformed}
	ErrCreateFailed         = &Error{Kind: KindCreateFailed}
	ErrJoinFailed           = &Error{Kind: KindJoinFailed}
	ErrAlreadyActive        = &Error{Kind: KindAlreadyActive}
)

func newError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func errorf(kind ErrorKind, op, format string, args ...any) *Error {
	return newError(kind, op, fmt.Errorf(format, args...))
}

// Retryable reports whether the state machine may offer a retry for err.
// Only join failures qualify; everything else needs the configuration fixed.
func Retryable(err error) bool {
	return errors.Is(err, ErrJoinFailed)
}

// KindOf returns the kind of a provider error, or 0 if err is not one
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return 0
}
