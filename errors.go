package quotacache

import (
	"fmt"
	"net/http"
)

// ConfigError reports an invalid client configuration, e.g. missing
// credentials. It is raised at construction time and never retried.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("quotacache: invalid configuration: %s: %s", e.Field, e.Reason)
}

// ValidationError reports a malformed consume request. It is raised before
// any network attempt is made.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("quotacache: invalid request: %s", e.Reason)
}

// APIError is a non-success response from the quota service, discriminated by
// status code so callers can branch without string matching.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("quotacache: api error %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("quotacache: api error %d", e.StatusCode)
}

// Unauthorized reports an authentication failure (HTTP 401).
func (e *APIError) Unauthorized() bool { return e.StatusCode == http.StatusUnauthorized }

// Forbidden reports an authorization failure (HTTP 403).
func (e *APIError) Forbidden() bool { return e.StatusCode == http.StatusForbidden }

// NotFound reports an unknown resource (HTTP 404).
func (e *APIError) NotFound() bool { return e.StatusCode == http.StatusNotFound }

// RateLimited reports that the quota service itself throttled the call
// (HTTP 429).
func (e *APIError) RateLimited() bool { return e.StatusCode == http.StatusTooManyRequests }

// ServerError reports a 5xx response.
func (e *APIError) ServerError() bool { return e.StatusCode >= 500 }

// TransportError wraps a failure to reach the quota service at all, such as a
// timeout or connection error. Transport failures are the only errors the
// client retries.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("quotacache: transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
