package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	CategoryClient   ErrorCategory = "client"
	CategoryServer   ErrorCategory = "server"
	CategoryExternal ErrorCategory = "external"
)

// Error codes returned to clients. These are part of the API surface and must
// stay stable: client interceptors branch on them.
const (
	CodeValidationError    = "validation_error"
	CodeUnauthorized       = "unauthorized"
	CodeTokenExpired       = "token_expired"
	CodeForbidden          = "forbidden"
	CodeRateLimitExceeded  = "rate_limit_exceeded"
	CodeInternalError      = "internal_error"
	CodeServiceUnavailable = "service_unavailable"
)

// AppError represents a structured application error
type AppError struct {
	Code       string        `json:"error"`
	Message    string        `json:"message"`
	Field      string        `json:"field,omitempty"`
	Category   ErrorCategory `json:"-"`
	HTTPStatus int           `json:"-"`
	Cause      error         `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithField tags the error with the request field that failed validation.
func (e *AppError) WithField(field string) *AppError {
	e.Field = field
	return e
}

// WithCause sets the underlying cause of the error
func (e *AppError) WithCause(err error) *AppError {
	e.Cause = err
	return e
}

// New creates a new AppError
func New(code string, message string, category ErrorCategory, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		Category:   category,
		HTTPStatus: httpStatus,
	}
}

// Client error constructors

func ValidationError(message string) *AppError {
	return New(CodeValidationError, message, CategoryClient, http.StatusBadRequest)
}

// Unauthorized is the deliberately generic credential/token failure. Login and
// refresh always return this one, never anything more specific.
func Unauthorized(message string) *AppError {
	return New(CodeUnauthorized, message, CategoryClient, http.StatusUnauthorized)
}

// TokenExpired is only returned by the Bearer middleware on protected routes,
// where the client needs to distinguish "refresh and retry" from "re-login".
func TokenExpired() *AppError {
	return New(CodeTokenExpired, "access token has expired", CategoryClient, http.StatusUnauthorized)
}

func Forbidden(message string) *AppError {
	return New(CodeForbidden, message, CategoryClient, http.StatusForbidden)
}

func RateLimitExceeded() *AppError {
	return New(CodeRateLimitExceeded, "too many attempts, try again later", CategoryClient, http.StatusTooManyRequests)
}

// Server error constructors

func InternalError(message string) *AppError {
	return New(CodeInternalError, message, CategoryServer, http.StatusInternalServerError)
}

// ServiceUnavailable covers store/dependency failures, including timeouts.
// Retryable by the client after a delay.
func ServiceUnavailable() *AppError {
	return New(CodeServiceUnavailable, "service temporarily unavailable", CategoryExternal, http.StatusServiceUnavailable)
}

// WriteError writes an error response to the HTTP response writer. The body
// shape is flat: {"error": code, "message": text, "field"?: name}.
func WriteError(w http.ResponseWriter, requestID string, err error) {
	var appErr *AppError

	switch e := err.(type) {
	case *AppError:
		appErr = e
	default:
		appErr = InternalError("an unexpected error occurred").WithCause(err)
	}

	w.Header().Set("Content-Type", "application/json")
	if requestID != "" {
		w.Header().Set(RequestIDHeader, requestID)
	}
	w.WriteHeader(appErr.HTTPStatus)
	json.NewEncoder(w).Encode(appErr)
}

// WriteJSON writes a JSON response with the request ID header
func WriteJSON(w http.ResponseWriter, requestID string, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	if requestID != "" {
		w.Header().Set(RequestIDHeader, requestID)
	}
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// IsClientError returns true if the error is a client error
func IsClientError(err error) bool {
	appErr, ok := err.(*AppError)
	if !ok {
		return false
	}
	return appErr.Category == CategoryClient
}

// IsServerError returns true if the error is a server error
func IsServerError(err error) bool {
	appErr, ok := err.(*AppError)
	if !ok {
		return false
	}
	return appErr.Category == CategoryServer
}
