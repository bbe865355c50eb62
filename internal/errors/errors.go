package errors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorCode represents a specific error type for better error handling
type ErrorCode string

const (
	ErrCodeConfigLoad         ErrorCode = "CONFIG_LOAD_FAILED"
	ErrCodeBackendUnavailable ErrorCode = "BACKEND_UNAVAILABLE"
	ErrCodeBackendTimeout     ErrorCode = "BACKEND_TIMEOUT"
	ErrCodeNoBackends         ErrorCode = "NO_BACKENDS_AVAILABLE"
	ErrCodeDuplicateBackend   ErrorCode = "DUPLICATE_BACKEND"
	ErrCodeRateLimitExceeded  ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternalError      ErrorCode = "INTERNAL_ERROR"
)

// LoadBalancerError represents a structured error with context
type LoadBalancerError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Component string                 `json:"component,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Cause     error                  `json:"-"`
}

// Error implements the error interface
func (e *LoadBalancerError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s: %s", e.Code, e.Component, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Component, e.Message)
}

// Unwrap returns the underlying error
func (e *LoadBalancerError) Unwrap() error {
	return e.Cause
}

// Is matches any LoadBalancerError carrying the same code
func (e *LoadBalancerError) Is(target error) bool {
	if t, ok := target.(*LoadBalancerError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithMetadata adds metadata to the error
func (e *LoadBalancerError) WithMetadata(key string, value interface{}) *LoadBalancerError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// HTTPStatusCode returns the status the proxy answers with for this error
func (e *LoadBalancerError) HTTPStatusCode() int {
	switch e.Code {
	case ErrCodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case ErrCodeNoBackends:
		return http.StatusServiceUnavailable
	default:
		// forward failures are surfaced as 500, not 502/504
		return http.StatusInternalServerError
	}
}

// NewError creates a new LoadBalancerError
func NewError(code ErrorCode, component, message string) *LoadBalancerError {
	return &LoadBalancerError{
		Code:      code,
		Component: component,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// WrapError wraps an existing error with LoadBalancerError structure
func WrapError(err error, code ErrorCode, component, message string) *LoadBalancerError {
	if err == nil {
		return nil
	}

	return &LoadBalancerError{
		Code:      code,
		Component: component,
		Message:   message,
		Timestamp: time.Now(),
		Cause:     err,
		Details:   err.Error(),
	}
}

// ErrNoBackends matches any error from an exhausted pool via errors.Is
var ErrNoBackends = NewError(ErrCodeNoBackends, "pool", "no backend servers available")

// NewBackendUnavailableError creates an error for a failed forward
func NewBackendUnavailableError(address string, cause error) *LoadBalancerError {
	return WrapError(cause, ErrCodeBackendUnavailable, "proxy",
		fmt.Sprintf("failed to connect to backend %s", address)).
		WithMetadata("backend", address)
}

// NewBackendTimeoutError creates an error for a forward that hit the deadline
func NewBackendTimeoutError(address string, cause error) *LoadBalancerError {
	return WrapError(cause, ErrCodeBackendTimeout, "proxy",
		fmt.Sprintf("backend %s did not respond in time", address)).
		WithMetadata("backend", address)
}

// NewNoBackendsError creates an error when no backends are enabled
func NewNoBackendsError(poolSize int) *LoadBalancerError {
	return NewError(ErrCodeNoBackends, "pool", "no backend servers available").
		WithMetadata("pool_size", poolSize)
}

// NewRateLimitError creates an error for rate limiting
func NewRateLimitError(client string, limit int) *LoadBalancerError {
	return NewError(
		ErrCodeRateLimitExceeded,
		"rate_limiter",
		fmt.Sprintf("rate limit exceeded for client %s (limit: %d)", client, limit),
	).WithMetadata("client", client).WithMetadata("limit", limit)
}

// GetErrorCode extracts the error code from an error
func GetErrorCode(err error) ErrorCode {
	var lbErr *LoadBalancerError
	if errors.As(err, &lbErr) {
		return lbErr.Code
	}
	return ErrCodeInternalError
}

// GetHTTPStatusCode gets the appropriate HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	var lbErr *LoadBalancerError
	if errors.As(err, &lbErr) {
		return lbErr.HTTPStatusCode()
	}
	return http.StatusInternalServerError
}
