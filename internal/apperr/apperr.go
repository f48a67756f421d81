// Package apperr classifies failures so transports can map them to status codes.
package apperr

import (
	"errors"
	"fmt"
)

// Kind identifies the category of an error.
type Kind string

const (
	KindAuthentication Kind = "authentication"
	KindAuthorization  Kind = "authorization"
	KindValidation     Kind = "validation"
	KindNotFound       Kind = "not_found"
	KindConflict       Kind = "conflict"
	KindDownstream     Kind = "downstream"
)

// Error carries a user-facing message plus the underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, apperr.NotFound("")) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func newError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func Authentication(message string) *Error {
	return newError(KindAuthentication, message, nil)
}

func Authorization(message string) *Error {
	return newError(KindAuthorization, message, nil)
}

func Validation(message string) *Error {
	return newError(KindValidation, message, nil)
}

func NotFound(message string) *Error {
	return newError(KindNotFound, message, nil)
}

func Conflict(message string, err error) *Error {
	return newError(KindConflict, message, err)
}

// Downstream wraps a failed call to the backing platform (database, auth, storage).
func Downstream(message string, err error) *Error {
	return newError(KindDownstream, message, err)
}

// KindOf returns the kind of err, defaulting to KindDownstream for unclassified errors.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindDownstream
}

// MessageOf returns the user-facing message, or fallback when err is unclassified.
func MessageOf(err error, fallback string) string {
	var appErr *Error
	if errors.As(err, &appErr) && appErr.Message != "" {
		return appErr.Message
	}
	return fallback
}
