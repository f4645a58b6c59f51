package client

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")
)

// APIError is a failed API call. It carries the request path and, for
// client errors, the decoded error body returned by the API.
type APIError struct {
	StatusCode int
	ErrorClass ErrorClass
	Status     string
	Path       string
	Body       any
	Err        error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.ErrorClass == ErrorClassNetwork {
		return fmt.Sprintf("network error for path: %s: %v", e.Path, e.Err)
	}

	msg := fmt.Sprintf("%d %s error: %s for path: %s",
		e.StatusCode, e.ErrorClass.label(), e.Status, e.Path)
	if e.Body != nil {
		if raw, err := json.Marshal(e.Body); err == nil {
			msg += ": " + string(raw)
		}
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the error class is worth retrying.
func (e *APIError) Retryable() bool {
	return shouldRetry(e.ErrorClass)
}

// ClassOf returns the ErrorClass of the first APIError in err's chain, or ""
// when there is none.
func ClassOf(err error) ErrorClass {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorClass
	}
	return ""
}

// shouldRetry determines if an error should be retried based on its classification.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassClient:
		// 4xx usually means a bad credential or parameter; retrying won't help
		return false
	case ErrorClassServer, ErrorClassRateLimit, ErrorClassNetwork:
		return true
	default:
		return false
	}
}
