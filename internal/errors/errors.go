package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Code identifies a failure class shared across the orchestrator, the
// provider adapters, and the HTTP surface. Every code carries a fixed
// retryability so callers never have to parse messages.
type Code string

const (
	CodeValidation        Code = "VALIDATION_ERROR"
	CodeUnauthenticated   Code = "UNAUTHENTICATED"
	CodeForbidden         Code = "FORBIDDEN"
	CodeNotFound          Code = "NOT_FOUND"
	CodeBlockedByPrefs    Code = "BLOCKED_BY_PREFERENCES"
	CodeSuppressedAddress Code = "SUPPRESSED_ADDRESS"
	CodeNoTargets         Code = "NO_TARGETS"
	CodeTimeout           Code = "TIMEOUT"
	CodeDeadlineExceeded  Code = "DEADLINE_EXCEEDED"
	CodeRateLimited       Code = "RATE_LIMITED"
	CodeServiceUnavail    Code = "SERVICE_UNAVAILABLE"
	CodeQuotaExhausted    Code = "QUOTA_EXHAUSTED"
	CodeCircuitOpen       Code = "CIRCUIT_OPEN"
	CodeLowQuality        Code = "LOW_QUALITY"
	CodeAllServicesFailed Code = "ALL_SERVICES_FAILED"
	CodeConflict          Code = "CONFLICT"
	CodeInternal          Code = "INTERNAL"
)

// Retryable reports whether an operation that failed with this code may be
// attempted again (possibly against a different provider). Terminal user
// decisions (blocked, suppressed, no targets) and malformed input are never
// retried.
func (c Code) Retryable() bool {
	switch c {
	case CodeTimeout, CodeDeadlineExceeded, CodeRateLimited, CodeServiceUnavail, CodeCircuitOpen, CodeLowQuality:
		return true
	default:
		return false
	}
}

// AppError is the structured error carried between components and rendered
// on the API surface.
type AppError struct {
	Code          Code                   `json:"code"`
	Message       string                 `json:"message"`
	Details       string                 `json:"details,omitempty"`
	Retryable     bool                   `json:"retryable"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	Cause         error                  `json:"-"`
	HTTPStatus    int                    `json:"-"`
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s - %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As chains.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// ToJSON renders the error for API responses.
func (e *AppError) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// New creates an AppError with the defaults derived from its code.
func New(code Code, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		Retryable:  code.Retryable(),
		Timestamp:  time.Now().UTC(),
		HTTPStatus: defaultHTTPStatus(code),
	}
}

// Wrap creates an AppError that records cause as its origin.
func Wrap(code Code, message string, cause error) *AppError {
	err := New(code, message)
	err.Cause = cause
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// WithCorrelationID stamps the request correlation ID onto the error.
func (e *AppError) WithCorrelationID(correlationID string) *AppError {
	e.CorrelationID = correlationID
	return e
}

// WithDetails adds human-readable detail.
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// WithMetadata attaches a key/value pair for structured logging.
func (e *AppError) WithMetadata(key string, value interface{}) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// WithHTTPStatus overrides the status derived from the code.
func (e *AppError) WithHTTPStatus(status int) *AppError {
	e.HTTPStatus = status
	return e
}

func defaultHTTPStatus(code Code) int {
	switch code {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeRateLimited, CodeQuotaExhausted:
		return http.StatusTooManyRequests
	case CodeTimeout, CodeDeadlineExceeded:
		return http.StatusGatewayTimeout
	case CodeServiceUnavail, CodeCircuitOpen:
		return http.StatusServiceUnavailable
	case CodeAllServicesFailed:
		return http.StatusBadGateway
	case CodeBlockedByPrefs, CodeSuppressedAddress, CodeNoTargets, CodeLowQuality:
		// Terminal delivery outcomes surface inside a 2xx result envelope;
		// the status here only applies when one escapes as an API error.
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// Validation creates a VALIDATION_ERROR.
func Validation(message string) *AppError {
	return New(CodeValidation, message)
}

// Validationf creates a VALIDATION_ERROR with a formatted message.
func Validationf(format string, args ...interface{}) *AppError {
	return New(CodeValidation, fmt.Sprintf(format, args...))
}

// NotFound creates a NOT_FOUND error for the named resource.
func NotFound(resource string) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", resource))
}

// Unauthenticated creates an UNAUTHENTICATED error.
func Unauthenticated(message string) *AppError {
	return New(CodeUnauthenticated, message)
}

// Forbidden creates a FORBIDDEN error.
func Forbidden(message string) *AppError {
	return New(CodeForbidden, message)
}

// Internal wraps an unexpected failure.
func Internal(message string, cause error) *AppError {
	return Wrap(CodeInternal, message, cause)
}

// CodeOf extracts the code from err when it is (or wraps) an AppError;
// unknown errors classify as INTERNAL.
func CodeOf(err error) Code {
	var app *AppError
	if errors.As(err, &app) {
		return app.Code
	}
	return CodeInternal
}

// IsRetryable reports whether err may be retried per its code.
func IsRetryable(err error) bool {
	return CodeOf(err).Retryable()
}
