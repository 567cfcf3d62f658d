// Package apperr classifies failures into the kinds the API reports to callers
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the caller-facing failure category
type Kind string

const (
	KindInternal    Kind = "internal"
	KindInput       Kind = "invalid_input"
	KindTransient   Kind = "transient"
	KindConflict    Kind = "conflict"
	KindDegraded    Kind = "degraded"
	KindConfig      Kind = "configuration"
	KindNotFound    Kind = "not_found"
	KindRateLimited Kind = "rate_limited"
)

// HTTPStatus maps a kind to a response status
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInput:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindTransient, KindDegraded:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error carries a kind, a user-facing message and the wrapped cause
type Error struct {
	Kind    Kind
	Message string
	Field   string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an error of kind k
func New(k Kind, msg string) error { return &Error{Kind: k, Message: msg} }

// Wrap returns an error of kind k wrapping cause
func Wrap(cause error, k Kind, msg string) error { return &Error{Kind: k, Message: msg, Err: cause} }

// Invalid returns an input error attributed to field
func Invalid(field, msg string) error { return &Error{Kind: KindInput, Message: msg, Field: field} }

// As returns the *Error in err's chain
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err, KindInternal for foreign errors
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err has kind k
func Is(err error, k Kind) bool { return err != nil && KindOf(err) == k }

// Message returns a message that is safe to show a caller
func Message(err error) string {
	if e, ok := As(err); ok && e.Message != "" {
		return e.Message
	}
	return "Something went wrong on our side. Please try again or contact us directly."
}
