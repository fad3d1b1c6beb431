// Package apierr defines the typed error taxonomy mapped to HTTP status
// codes at the handler boundary (validation, authorization, not-found,
// conflict, transient, fatal).
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an APIError for HTTP status mapping and logging.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindAuthorization Kind = "authorization"
	KindNotFound      Kind = "not_found"
	KindGone          Kind = "gone"
	KindConflict      Kind = "conflict"
	KindTransient     Kind = "transient"
	KindFatal         Kind = "fatal"
)

var statusByKind = map[Kind]int{
	KindValidation:    http.StatusBadRequest,
	KindAuthorization: http.StatusUnauthorized,
	KindNotFound:      http.StatusNotFound,
	KindGone:          http.StatusGone,
	KindConflict:      http.StatusConflict,
	KindTransient:     http.StatusServiceUnavailable,
	KindFatal:         http.StatusInternalServerError,
}

// APIError is a typed, wrapped error carrying the information the outermost
// HTTP layer needs to respond correctly without re-deriving it.
type APIError struct {
	Kind    Kind
	Message string
	Fields  map[string]string
	Err     error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

// Status returns the HTTP status code for this error's kind.
func (e *APIError) Status() int {
	if s, ok := statusByKind[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

func build(kind Kind, message string, err error) *APIError {
	return &APIError{Kind: kind, Message: message, Err: err}
}

func Validation(message string) *APIError { return build(KindValidation, message, nil) }

func ValidationField(field, reason string) *APIError {
	return &APIError{Kind: KindValidation, Message: reason, Fields: map[string]string{field: reason}}
}

func Unauthorized(message string) *APIError { return build(KindAuthorization, message, nil) }

func NotFound(resource, id string) *APIError {
	return build(KindNotFound, fmt.Sprintf("%s %q not found", resource, id), nil)
}

func Gone(message string) *APIError                 { return build(KindGone, message, nil) }
func Conflict(message string) *APIError              { return build(KindConflict, message, nil) }
func Transient(message string, err error) *APIError  { return build(KindTransient, message, err) }
func Fatal(message string, err error) *APIError      { return build(KindFatal, message, err) }

// As extracts an *APIError from the error chain, if present.
func As(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// StatusFor returns the HTTP status an arbitrary error should be reported
// with: the wrapped APIError's status if present, else 500.
func StatusFor(err error) int {
	if apiErr, ok := As(err); ok {
		return apiErr.Status()
	}
	return http.StatusInternalServerError
}
