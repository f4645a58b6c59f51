// Package ratelimit throttles outgoing MessageBird API requests.
// It combines a token bucket (steady request rate) with a penalty box that
// is armed by 429 responses carrying a Retry-After header.
package ratelimit

import (
	"net/http"
	"strconv"
	"time"
)

// State is a point-in-time snapshot of a Limiter.
type State struct {
	// Limit is the steady request rate in requests per second.
	Limit float64 `json:"limit"`

	// Burst is the token bucket size.
	Burst int `json:"burst"`

	// BlockedUntil is set while a Retry-After penalty is active.
	BlockedUntil time.Time `json:"blocked_until"`

	// Penalties counts Retry-After penalties applied since creation.
	Penalties int `json:"penalties"`
}

// IsBlocked returns true if a penalty is active at the given instant.
func (s State) IsBlocked(now time.Time) bool {
	return now.Before(s.BlockedUntil)
}

// TimeUntilUnblocked returns how long requests stay blocked.
// Returns 0 if no penalty is active.
func (s State) TimeUntilUnblocked(now time.Time) time.Duration {
	d := s.BlockedUntil.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// ParseRetryAfter reads a Retry-After header in either delta-seconds or
// HTTP-date form. The second return value is false when the header is absent
// or malformed.
func ParseRetryAfter(h http.Header, now time.Time) (time.Duration, bool) {
	v := h.Get("Retry-After")
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	at, err := http.ParseTime(v)
	if err != nil {
		return 0, false
	}
	d := at.Sub(now)
	if d < 0 {
		d = 0
	}
	return d, true
}
