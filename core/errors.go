package core

import (
	"errors"
	"net/http"

	"github.com/goccy/go-json"
)

// Kind identifies one member of the closed error set.
type Kind string

// all error kinds
const (
	KindInvalidInput      Kind = "INVALID_INPUT"
	KindUnauthorized      Kind = "UNAUTHORIZED"
	KindPodForbidden      Kind = "POD_FORBIDDEN"
	KindPodMismatch       Kind = "POD_MISMATCH"
	KindForbidden         Kind = "FORBIDDEN"
	KindPodNotFound       Kind = "POD_NOT_FOUND"
	KindStreamNotFound    Kind = "STREAM_NOT_FOUND"
	KindRecordNotFound    Kind = "RECORD_NOT_FOUND"
	KindNotFound          Kind = "NOT_FOUND"
	KindPodExists         Kind = "POD_EXISTS"
	KindNameConflict      Kind = "NAME_CONFLICT"
	KindValidationError   Kind = "VALIDATION_ERROR"
	KindRateLimitExceeded Kind = "RATE_LIMIT_EXCEEDED"
	KindDatabaseError     Kind = "DATABASE_ERROR"
	KindStorageError      Kind = "STORAGE_ERROR"
	KindInternalError     Kind = "INTERNAL_ERROR"
)

var kindStatus = map[Kind]int{
	KindInvalidInput:      http.StatusBadRequest,
	KindUnauthorized:      http.StatusUnauthorized,
	KindPodForbidden:      http.StatusForbidden,
	KindPodMismatch:       http.StatusForbidden,
	KindForbidden:         http.StatusForbidden,
	KindPodNotFound:       http.StatusNotFound,
	KindStreamNotFound:    http.StatusNotFound,
	KindRecordNotFound:    http.StatusNotFound,
	KindNotFound:          http.StatusNotFound,
	KindPodExists:         http.StatusConflict,
	KindNameConflict:      http.StatusConflict,
	KindValidationError:   http.StatusUnprocessableEntity,
	KindRateLimitExceeded: http.StatusTooManyRequests,
	KindDatabaseError:     http.StatusInternalServerError,
	KindStorageError:      http.StatusInternalServerError,
	KindInternalError:     http.StatusInternalServerError,
}

// Error is a typed backend error. It carries the error kind, a message
// suitable for the client and optional structured details, for example
// schema validation failures.
type Error struct {
	Kind    Kind        `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
	cause   error
}

// NewError creates an error of the given kind.
func NewError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WithDetails attaches structured details to the error.
func (e *Error) WithDetails(details interface{}) *Error {
	e.Details = details
	return e
}

// WithCause attaches an underlying cause, available through Unwrap.
func (e *Error) WithCause(cause error) *Error {
	e.cause = cause
	return e
}

func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Message
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// Status returns the HTTP status code for the error's kind.
func (e *Error) Status() int {
	if status, ok := kindStatus[e.Kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// AsError converts any error into an *Error. Unknown errors become
// INTERNAL_ERROR with the original error as cause.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return NewError(KindInternalError, "internal error").WithCause(err)
}

// WriteError writes the error as a JSON response body with the kind's
// HTTP status.
func WriteError(w http.ResponseWriter, err error) {
	e := AsError(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status())
	body, _ := json.Marshal(struct {
		Error *Error `json:"error"`
	}{e})
	w.Write(body)
}
