package types

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unified error code across the relay.
type ErrorCode string

// Request and transport error codes
const (
	ErrInvalidRequest     ErrorCode = "INVALID_REQUEST"
	ErrAuthentication     ErrorCode = "AUTHENTICATION"
	ErrNotFound           ErrorCode = "NOT_FOUND"
	ErrRateLimited        ErrorCode = "RATE_LIMITED"
	ErrUpstreamTimeout    ErrorCode = "UPSTREAM_TIMEOUT"
	ErrUpstreamError      ErrorCode = "UPSTREAM_ERROR"
	ErrInternalError      ErrorCode = "INTERNAL_ERROR"
	ErrServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	ErrCancelled          ErrorCode = "CANCELLED"
)

// Agent and session error codes
const (
	ErrAgentNotFound      ErrorCode = "AGENT_NOT_FOUND"
	ErrAgentNotConfigured ErrorCode = "AGENT_NOT_CONFIGURED"
	ErrSessionBusy        ErrorCode = "SESSION_BUSY"
	ErrSessionNotFound    ErrorCode = "SESSION_NOT_FOUND"
	ErrInvalidTransition  ErrorCode = "INVALID_TRANSITION"
	ErrStoreError         ErrorCode = "STORE_ERROR"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Agent      string    `json:"agent,omitempty"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithAgent sets the upstream agent the error originated from.
func (e *Error) WithAgent(agentID string) *Error {
	e.Agent = agentID
	return e
}

// AsError unwraps err into *Error when possible.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// IsErrorCode reports whether err carries the given code.
func IsErrorCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}

// FromHTTPStatus maps an upstream HTTP status to a structured error.
// 4xx client errors are not retryable except 408 and 429.
func FromHTTPStatus(status int, message string) *Error {
	var e *Error
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e = NewError(ErrAuthentication, message)
	case status == http.StatusNotFound:
		e = NewError(ErrNotFound, message)
	case status == http.StatusTooManyRequests:
		e = NewError(ErrRateLimited, message).WithRetryable(true)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		e = NewError(ErrUpstreamTimeout, message).WithRetryable(true)
	case status == http.StatusServiceUnavailable:
		e = NewError(ErrServiceUnavailable, message).WithRetryable(true)
	case status >= 500:
		e = NewError(ErrUpstreamError, message).WithRetryable(true)
	default:
		e = NewError(ErrInvalidRequest, message)
	}
	return e.WithHTTPStatus(status)
}
