// Package metrics documents the tap's Prometheus metrics and exposes them.
// Metrics are defined with promauto in the packages that update them
// (client, ratelimit, stream, state, tap) so this package imports none of
// them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer promauto uses.
var Registry = prometheus.DefaultRegisterer

// Handler serves every registered metric in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - tap_requests_total{stream, status} (Counter): API requests by stream and HTTP status
//   - tap_request_duration_seconds{stream} (Histogram): request latency
//   - tap_errors_total{class} (Counter): failures by class (client, server, rate_limit, network)
//
// Retry Metrics (pkg/client):
//   - tap_retries_total{error_class} (Counter): retry attempts
//   - tap_retry_backoff_seconds{error_class} (Histogram): backoff waits
//   - tap_retry_exhausted_total{error_class} (Counter): requests that ran out of attempts
//
// Throttle Metrics (pkg/ratelimit):
//   - tap_throttle_wait_seconds (Histogram): time spent waiting for a request slot
//   - tap_rate_limit_penalties_total (Counter): Retry-After penalties applied
//
// Stream Metrics (pkg/stream):
//   - tap_pages_total{stream} (Counter): pages processed
//   - tap_records_total{stream} (Counter): records yielded
//   - tap_early_stops_total{stream} (Counter): runs ended by the bookmark early-stop
//
// State Metrics (pkg/state):
//   - tap_bookmark_commits_total{stream} (Counter): bookmarks moved forward
//   - tap_bookmark_timestamp_seconds{stream} (Gauge): committed bookmark (unix seconds)
//
// Run Metrics (pkg/tap):
//   - tap_sync_runs_total{status} (Counter): sync runs by outcome (success, failure)
//
// Example Prometheus Queries:
//
//   # Replication lag per stream
//   time() - tap_bookmark_timestamp_seconds
//
//   # Error rate by class
//   sum by (class) (rate(tap_errors_total[5m]))
//
//   # P95 request latency
//   histogram_quantile(0.95, rate(tap_request_duration_seconds_bucket[5m]))
//
//   # Share of runs cut short by the bookmark
//   rate(tap_early_stops_total[1h]) / rate(tap_sync_runs_total[1h])
