// Package status defines the closed error-code taxonomy shared by every
// component and the HTTP boundary. Domain errors are *Error values carrying
// one of the codes below; anything else surfaces as INTERNAL.
package status

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies an error class. The set is closed.
type Code string

const (
	CodeOK                 Code = "OK"
	CodeInvalidArgument    Code = "INVALID_ARGUMENT"
	CodeInvalidURI         Code = "INVALID_URI"
	CodeUnauthenticated    Code = "UNAUTHENTICATED"
	CodePermissionDenied   Code = "PERMISSION_DENIED"
	CodeNotFound           Code = "NOT_FOUND"
	CodeAlreadyExists      Code = "ALREADY_EXISTS"
	CodeAborted            Code = "ABORTED"
	CodeSessionExpired     Code = "SESSION_EXPIRED"
	CodeFailedPrecondition Code = "FAILED_PRECONDITION"
	CodeResourceExhausted  Code = "RESOURCE_EXHAUSTED"
	CodeInternal           Code = "INTERNAL"
	CodeNotInitialized     Code = "NOT_INITIALIZED"
	CodeProcessingError    Code = "PROCESSING_ERROR"
	CodeEmbeddingFailed    Code = "EMBEDDING_FAILED"
	CodeVLMFailed          Code = "VLM_FAILED"
	CodeUnimplemented      Code = "UNIMPLEMENTED"
	CodeUnavailable        Code = "UNAVAILABLE"
	CodeDeadlineExceeded   Code = "DEADLINE_EXCEEDED"
)

// httpStatusByCode maps every code to its HTTP response status.
var httpStatusByCode = map[Code]int{
	CodeOK:                 http.StatusOK,
	CodeInvalidArgument:    http.StatusBadRequest,
	CodeInvalidURI:         http.StatusBadRequest,
	CodeUnauthenticated:    http.StatusUnauthorized,
	CodePermissionDenied:   http.StatusForbidden,
	CodeNotFound:           http.StatusNotFound,
	CodeAlreadyExists:      http.StatusConflict,
	CodeAborted:            http.StatusConflict,
	CodeSessionExpired:     http.StatusGone,
	CodeFailedPrecondition: http.StatusPreconditionFailed,
	CodeResourceExhausted:  http.StatusTooManyRequests,
	CodeInternal:           http.StatusInternalServerError,
	CodeNotInitialized:     http.StatusInternalServerError,
	CodeProcessingError:    http.StatusInternalServerError,
	CodeEmbeddingFailed:    http.StatusInternalServerError,
	CodeVLMFailed:          http.StatusInternalServerError,
	CodeUnimplemented:      http.StatusNotImplemented,
	CodeUnavailable:        http.StatusServiceUnavailable,
	CodeDeadlineExceeded:   http.StatusGatewayTimeout,
}

// HTTPStatus returns the HTTP status for a code. Unknown codes map to 500.
func HTTPStatus(code Code) int {
	if s, ok := httpStatusByCode[code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Error is the domain error type.
type Error struct {
	Code    Code           `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// WithDetail attaches a key/value pair to the error details.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause attaches an underlying cause, also recorded in details.cause so
// it survives serialization across the HTTP boundary.
func (e *Error) WithCause(err error) *Error {
	e.cause = err
	if err != nil {
		e.WithDetail("cause", err.Error())
	}
	return e
}

// New creates an Error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Errorf(code Code, format string, args ...any) *Error {
	return New(code, format, args...)
}

func InvalidArgument(format string, args ...any) *Error {
	return New(CodeInvalidArgument, format, args...)
}

func InvalidURI(format string, args ...any) *Error {
	return New(CodeInvalidURI, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return New(CodeNotFound, format, args...)
}

func AlreadyExists(format string, args ...any) *Error {
	return New(CodeAlreadyExists, format, args...)
}

func FailedPrecondition(format string, args ...any) *Error {
	return New(CodeFailedPrecondition, format, args...)
}

func ResourceExhausted(format string, args ...any) *Error {
	return New(CodeResourceExhausted, format, args...)
}

func Unavailable(format string, args ...any) *Error {
	return New(CodeUnavailable, format, args...)
}

func DeadlineExceeded(format string, args ...any) *Error {
	return New(CodeDeadlineExceeded, format, args...)
}

func Internal(format string, args ...any) *Error {
	return New(CodeInternal, format, args...)
}

func Unauthenticated(format string, args ...any) *Error {
	return New(CodeUnauthenticated, format, args...)
}

func NotInitialized(component string) *Error {
	return New(CodeNotInitialized, "%s is not initialized", component)
}

// FromError extracts the *Error from err's chain, or wraps err as INTERNAL.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return se
	}
	return Internal("%s", err.Error())
}

// CodeOf returns the code in err's chain, or INTERNAL for foreign errors.
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return CodeInternal
}

// IsNotFound reports whether err carries NOT_FOUND.
func IsNotFound(err error) bool { return CodeOf(err) == CodeNotFound }

// IsAlreadyExists reports whether err carries ALREADY_EXISTS.
func IsAlreadyExists(err error) bool { return CodeOf(err) == CodeAlreadyExists }
