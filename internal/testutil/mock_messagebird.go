// Package testutil provides a mock MessageBird API for tests.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// MockResponse defines a canned response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockMessageBird serves the conversation and message listings with the
// same pagination metadata as the real APIs.
type MockMessageBird struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]http.HandlerFunc
	failures map[string]failure

	requests          []*url.URL
	LastRequestHeader http.Header
}

type failure struct {
	after  int
	status int
	served int
}

// NewMockMessageBird starts the mock server.
func NewMockMessageBird() *MockMessageBird {
	mock := &MockMessageBird{
		handlers: make(map[string]http.HandlerFunc),
		failures: make(map[string]failure),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		u := *r.URL
		mock.requests = append(mock.requests, &u)
		mock.LastRequestHeader = r.Header.Clone()

		if f, ok := mock.failures[r.URL.Path]; ok {
			if f.served >= f.after {
				mock.mu.Unlock()
				writeJSON(w, f.status, map[string]any{
					"errors": []any{map[string]any{"code": 1, "description": "mock failure"}},
				})
				return
			}
			f.served++
			mock.failures[r.URL.Path] = f
		}
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if !exists {
			writeJSON(w, http.StatusNotFound, map[string]any{
				"errors": []any{map[string]any{"code": 20, "description": "not found"}},
			})
			return
		}
		handler(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockMessageBird) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockMessageBird) Close() {
	m.server.Close()
}

// SetHandler sets a custom handler for a specific path.
func (m *MockMessageBird) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a fixed response for a path.
func (m *MockMessageBird) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// FailAfter makes path answer with status once n requests have succeeded.
func (m *MockMessageBird) FailAfter(path string, n, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[path] = failure{after: n, status: status}
}

// SetOffsetListing serves items at path with offset/limit pagination, the
// way the Conversations API does.
func (m *MockMessageBird) SetOffsetListing(path string, items []map[string]any) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		offset, limit := pageWindow(r.URL.Query(), 20)
		page := window(items, offset, limit)
		writeJSON(w, http.StatusOK, map[string]any{
			"offset":     offset,
			"limit":      limit,
			"count":      len(page),
			"totalCount": len(items),
			"items":      page,
		})
	})
}

// SetLinkListing serves items at path with HATEOAS links, the way the REST
// messages API does. Query parameters other than offset are carried into
// the next link.
func (m *MockMessageBird) SetLinkListing(path string, items []map[string]any) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		offset, limit := pageWindow(query, 20)
		page := window(items, offset, limit)

		links := map[string]any{"next": nil}
		if offset+len(page) < len(items) {
			next := url.Values{}
			for k, v := range query {
				next[k] = v
			}
			next.Set("offset", strconv.Itoa(offset+limit))
			next.Set("limit", strconv.Itoa(limit))
			links["next"] = m.server.URL + path + "?" + next.Encode()
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"offset":     offset,
			"limit":      limit,
			"count":      len(page),
			"totalCount": len(items),
			"links":      links,
			"items":      page,
		})
	})
}

// Requests returns the URLs requested so far.
func (m *MockMessageBird) Requests() []*url.URL {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*url.URL(nil), m.requests...)
}

// RequestCount returns the number of requests to path, or all requests
// when path is empty.
func (m *MockMessageBird) RequestCount(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if path == "" {
		return len(m.requests)
	}
	n := 0
	for _, u := range m.requests {
		if u.Path == path {
			n++
		}
	}
	return n
}

func pageWindow(q url.Values, defaultLimit int) (offset, limit int) {
	offset, _ = strconv.Atoi(q.Get("offset"))
	limit, err := strconv.Atoi(q.Get("limit"))
	if err != nil || limit <= 0 {
		limit = defaultLimit
	}
	return max(offset, 0), limit
}

func window(items []map[string]any, offset, limit int) []map[string]any {
	if offset >= len(items) {
		return []map[string]any{}
	}
	return items[offset:min(offset+limit, len(items))]
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
