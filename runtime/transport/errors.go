package transport

import (
	"errors"
	"fmt"
	"net/http"
)

type (
	// ConnectionError is returned when the transport exhausts its retry budget
	// against the agent server. It carries the server URL and the last observed
	// HTTP status and body so upstream logging can diagnose the failure.
	ConnectionError struct {
		// URL is the request URL of the failing operation.
		URL string
		// Attempts is the number of attempts made.
		Attempts int
		// LastStatus is the HTTP status of the last attempt, 0 when the
		// failure happened below the HTTP layer.
		LastStatus int
		// Body is the response body of the last failed attempt, if any.
		Body string
		// Err is the error from the last attempt.
		Err error
	}

	// StatusError reports a non-retryable HTTP status (4xx other than 408/429).
	// The response body is preserved for upstream logging.
	StatusError struct {
		// Status is the HTTP status code.
		Status int
		// URL is the request URL.
		URL string
		// Body is the response body, if any.
		Body string
	}
)

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	if e.LastStatus > 0 {
		return fmt.Sprintf("server %s unreachable after %d attempts: status %d: %s", e.URL, e.Attempts, e.LastStatus, e.Body)
	}
	return fmt.Sprintf("server %s unreachable after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

// Unwrap returns the error from the last attempt.
func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned %d for %s: %s", e.Status, e.URL, e.Body)
}

// IsStatus reports whether err carries the given HTTP status code.
func IsStatus(err error, status int) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status == status
	}
	var ce *ConnectionError
	if errors.As(err, &ce) {
		return ce.LastStatus == status
	}
	return false
}

// IsConflict reports whether err is an HTTP 409 duplicate/conflict response.
func IsConflict(err error) bool {
	return IsStatus(err, http.StatusConflict)
}
