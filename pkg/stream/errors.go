package stream

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrDriverConsumed is yielded when a driver's sequence is iterated twice.
var ErrDriverConsumed = errors.New("stream driver already consumed")

// Error wraps a failure with the request it happened on.
type Error struct {
	Stream string
	Path   string
	Params url.Values
	Page   int
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("stream %s: page %d %s?%s: %v", e.Stream, e.Page, e.Path, redact(e.Params).Encode(), e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

var sensitiveParams = []string{"key", "token", "secret", "password", "auth", "signature"}

// redact returns a copy of params with credential-looking values masked.
func redact(params url.Values) url.Values {
	out := make(url.Values, len(params))
	for k, vals := range params {
		if isSensitive(k) {
			out[k] = []string{"REDACTED"}
			continue
		}
		out[k] = vals
	}
	return out
}

func isSensitive(name string) bool {
	lower := strings.ToLower(name)
	for _, s := range sensitiveParams {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}
