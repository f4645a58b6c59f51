// Package client is the MessageBird page fetcher: it executes one GET against
// an API endpoint with throttling, retries and error classification, and
// returns the decoded JSON body.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/tap-messagebird/pkg/ratelimit"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for API client operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tap_requests_total",
		Help: "Total API requests by stream and status",
	}, []string{"stream", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tap_request_duration_seconds",
		Help:    "API request duration in seconds by stream",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"stream"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tap_errors_total",
		Help: "Total API errors by class",
	}, []string{"class"})
)

// ErrorClass represents a classification of request failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors (except 429).
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 Too Many Requests.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"
)

func (c ErrorClass) label() string {
	switch c {
	case ErrorClassClient:
		return "Client"
	case ErrorClassServer:
		return "Server"
	case ErrorClassRateLimit:
		return "Rate limit"
	case ErrorClassNetwork:
		return "Network"
	default:
		return "Unknown"
	}
}

// maxErrorBody bounds how much of an error response is read and attached to errors.
const maxErrorBody = 64 << 10

// Client executes MessageBird API requests.
type Client struct {
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	retry      RetryPolicy
	config     Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// APIKey is sent as "Authorization: AccessKey <key>". Never logged.
	APIKey string

	// UserAgent header, optional.
	UserAgent string

	// Timeout per HTTP attempt.
	Timeout time.Duration

	// RateLimit is the steady request rate (requests per second, 0 = unlimited).
	RateLimit float64
	Burst     int

	// Retry overrides. Zero values keep the per-class defaults.
	MaxAttempts    int
	InitialBackoff time.Duration
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(apiKey string) Config {
	return Config{
		APIKey:    apiKey,
		UserAgent: "tap-messagebird/0.1.0",
		Timeout:   30 * time.Second,
		RateLimit: 10,
		Burst:     10,
	}
}

// New creates a new API client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}

	if cfg.RateLimit < 0 {
		return nil, fmt.Errorf("rate_limit must be >= 0 (got %g)", cfg.RateLimit)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	logger := log.With().Str("component", "api-client").Logger()

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: ratelimit.NewLimiter(cfg.RateLimit, cfg.Burst, logger),
		retry:   cfg.retryPolicy(),
		config:  cfg,
		logger:  logger,
	}, nil
}

func (cfg Config) retryPolicy() RetryPolicy {
	return func(class ErrorClass) RetryConfig {
		rc := RetryConfigForErrorClass(class)
		if cfg.MaxAttempts > 0 {
			rc.MaxAttempts = cfg.MaxAttempts
		}
		if cfg.InitialBackoff > 0 {
			rc.InitialBackoff = cfg.InitialBackoff
			if rc.MaxBackoff < rc.InitialBackoff {
				rc.MaxBackoff = rc.InitialBackoff
			}
		}
		return rc
	}
}

// PageRequest identifies one page of one stream.
type PageRequest struct {
	// Stream is the owning stream name, used for metrics and logs.
	Stream string

	BaseURL string
	Path    string
	Params  url.Values
}

// URL returns the absolute request URL.
func (r PageRequest) URL() (string, error) {
	base, err := url.Parse(strings.TrimSuffix(r.BaseURL, "/") + r.Path)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if len(r.Params) > 0 {
		base.RawQuery = r.Params.Encode()
	}
	return base.String(), nil
}

// Response is a decoded API response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       map[string]any
}

// FetchPage performs one GET and decodes the JSON object body.
func (c *Client) FetchPage(ctx context.Context, preq PageRequest) (*Response, error) {
	target, err := preq.URL()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.Do(req, preq.Stream)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	body := map[string]any{}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, fmt.Errorf("decode response body for path %s: %w", req.URL.Path, err)
		}
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

// Do performs an HTTP request with throttling, authentication, retries and
// error classification. Any status >= 400 is returned as an *APIError; the
// caller owns the body of a successful response.
func (c *Client) Do(req *http.Request, stream string) (*http.Response, error) {
	ctx := req.Context()
	path := req.URL.Path

	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(stream).Observe(time.Since(startTime).Seconds())
	}()

	req.Header.Set("Authorization", "AccessKey "+c.config.APIKey)
	req.Header.Set("Accept", "application/json")
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	c.logger.Debug().
		Str("stream", stream).
		Str("endpoint", path).
		Str("method", req.Method).
		Msg("Executing API request")

	var resp *http.Response

	retryErr := retryWithBackoff(ctx, c.retry, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		var reqErr error
		resp, reqErr = c.httpClient.Do(req)
		if reqErr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error().Err(reqErr).Str("endpoint", path).Msg("HTTP request failed")
			errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			requestsTotal.WithLabelValues(stream, "network_error").Inc()
			return &APIError{ErrorClass: ErrorClassNetwork, Path: path, Err: reqErr}
		}

		requestsTotal.WithLabelValues(stream, strconv.Itoa(resp.StatusCode)).Inc()

		if resp.StatusCode < 400 {
			return nil
		}

		errClass := c.classifyError(resp, nil)
		errorsTotal.WithLabelValues(string(errClass)).Inc()
		if errClass == ErrorClassRateLimit {
			if d, ok := ratelimit.ParseRetryAfter(resp.Header, time.Now()); ok {
				c.limiter.Penalize(d)
			}
		}

		c.logger.Warn().
			Str("stream", stream).
			Str("endpoint", path).
			Int("status", resp.StatusCode).
			Str("error_class", string(errClass)).
			Msg("API request error")

		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			ErrorClass: errClass,
			Status:     statusText(resp),
			Path:       path,
		}
		if errClass == ErrorClassClient {
			apiErr.Body = readErrorBody(resp.Body)
		}
		resp.Body.Close()
		resp = nil
		return apiErr
	}, func(err error) ErrorClass {
		return ClassOf(err)
	})

	if retryErr != nil {
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		return nil, retryErr
	}

	return resp, nil
}

// classifyError categorizes an error for observability and handling.
func (c *Client) classifyError(resp *http.Response, err error) ErrorClass {
	if err != nil {
		return ErrorClassNetwork
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return ErrorClassClient
	case resp.StatusCode >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}

// Limiter returns the shared request throttle.
func (c *Client) Limiter() *ratelimit.Limiter {
	return c.limiter
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

func statusText(resp *http.Response) string {
	if text := http.StatusText(resp.StatusCode); text != "" {
		return text
	}
	return resp.Status
}

// readErrorBody decodes a JSON error body, falling back to the raw text.
func readErrorBody(r io.Reader) any {
	raw, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return string(raw)
	}
	return decoded
}
