package client

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		name       string
		errorClass ErrorClass
		expected   bool
	}{
		{
			name:       "client error should not retry",
			errorClass: ErrorClassClient,
			expected:   false,
		},
		{
			name:       "server error should retry",
			errorClass: ErrorClassServer,
			expected:   true,
		},
		{
			name:       "rate limit should retry",
			errorClass: ErrorClassRateLimit,
			expected:   true,
		},
		{
			name:       "network error should retry",
			errorClass: ErrorClassNetwork,
			expected:   true,
		},
		{
			name:       "empty error class should not retry",
			errorClass: "",
			expected:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := shouldRetry(tt.errorClass)
			if result != tt.expected {
				t.Errorf("shouldRetry(%q) = %v, want %v", tt.errorClass, result, tt.expected)
			}
		})
	}
}

func TestAPIError_Error(t *testing.T) {
	tests := []struct {
		name     string
		apiError *APIError
		expected string
	}{
		{
			name: "client error with body",
			apiError: &APIError{
				StatusCode: 401,
				ErrorClass: ErrorClassClient,
				Status:     "Unauthorized",
				Path:       "/v1/conversations",
				Body:       map[string]any{"errors": []any{map[string]any{"code": float64(2)}}},
			},
			expected: `401 Client error: Unauthorized for path: /v1/conversations: {"errors":[{"code":2}]}`,
		},
		{
			name: "server error without body",
			apiError: &APIError{
				StatusCode: 503,
				ErrorClass: ErrorClassServer,
				Status:     "Service Unavailable",
				Path:       "/messages",
			},
			expected: "503 Server error: Service Unavailable for path: /messages",
		},
		{
			name: "network error",
			apiError: &APIError{
				ErrorClass: ErrorClassNetwork,
				Path:       "/messages",
				Err:        errors.New("connection refused"),
			},
			expected: "network error for path: /messages: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.apiError.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestAPIError_Unwrap(t *testing.T) {
	inner := errors.New("boom")
	err := &APIError{ErrorClass: ErrorClassNetwork, Err: inner}

	if !errors.Is(err, inner) {
		t.Error("errors.Is should find the wrapped error")
	}
}

func TestClassOf(t *testing.T) {
	server := &APIError{StatusCode: 500, ErrorClass: ErrorClassServer}
	wrapped := fmt.Errorf("%w after 3 attempts: %w", ErrRetryExhausted, server)

	if got := ClassOf(wrapped); got != ErrorClassServer {
		t.Errorf("ClassOf() = %q, want %q", got, ErrorClassServer)
	}
	if !errors.Is(wrapped, ErrRetryExhausted) {
		t.Error("wrapped error should match ErrRetryExhausted")
	}
	if got := ClassOf(errors.New("plain")); got != "" {
		t.Errorf("ClassOf(plain) = %q, want empty", got)
	}
	if !server.Retryable() {
		t.Error("server errors should be retryable")
	}
}

func TestAPIError_NeverContainsCredentials(t *testing.T) {
	err := &APIError{
		StatusCode: 401,
		ErrorClass: ErrorClassClient,
		Status:     "Unauthorized",
		Path:       "/v1/conversations",
		Body:       "request not allowed",
	}
	if strings.Contains(err.Error(), "AccessKey") {
		t.Errorf("error string leaks auth header: %q", err.Error())
	}
}
