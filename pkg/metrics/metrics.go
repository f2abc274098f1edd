// Package metrics provides centralized Prometheus metrics registry for pagefetch.
// All metrics are defined in their respective packages (client, budget,
// pagination, fetch) to maintain modularity and avoid circular dependencies.
//
// This package provides documentation for all available metrics and the
// HTTP handler that exposes them.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by pagefetch.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Path is where the metrics handler is mounted.
const Path = "/metrics"

// Handler returns the HTTP handler serving all registered metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// NewServer returns an HTTP server exposing Handler at Path on addr.
func NewServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(Path, Handler())

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - pagefetch_requests_total{resource, status} (Counter): Page requests by resource and HTTP status
//   - pagefetch_request_duration_seconds{resource} (Histogram): Request duration by resource
//   - pagefetch_errors_total{class} (Counter): Errors by class (network, client, rate_limit, server, decode)
//
// Retry Metrics (pkg/client):
//   - pagefetch_retries_total{error_class} (Counter): Retry attempts by error class
//   - pagefetch_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - pagefetch_retry_exhausted_total{error_class} (Counter): Pages that exhausted max attempts
//
// Failure Budget Metrics (pkg/budget):
//   - pagefetch_failure_budget_remaining{resource} (Gauge): Consecutive page failures still tolerated
//   - pagefetch_failure_budget_exhausted_total{resource} (Counter): Resources abandoned
//
// Pagination Metrics (pkg/pagination):
//   - pagefetch_pages_total{resource, result} (Counter): Pages by result (success, empty, terminal_failure)
//   - pagefetch_items_total{resource} (Counter): Valid items collected
//   - pagefetch_items_dropped_total{resource} (Counter): Records dropped by the item decoder
//
// Fetch Metrics (pkg/fetch):
//   - pagefetch_resource_outcomes_total{resource, terminated_by} (Counter): Resource outcomes
//   - pagefetch_fetch_duration_seconds (Histogram): Duration of a complete fetch
//   - pagefetch_resources_in_flight (Gauge): Resource fetches currently running
//
// Example Prometheus Queries:
//
//   # Page Failure Rate
//   sum(rate(pagefetch_pages_total{result="terminal_failure"}[5m])) /
//   sum(rate(pagefetch_pages_total[5m]))
//
//   # Resources Close To Abandonment
//   pagefetch_failure_budget_remaining < 3
//
//   # Request Error Rate
//   rate(pagefetch_errors_total[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(pagefetch_request_duration_seconds_bucket[5m]))
//
//   # Dropped Item Ratio
//   rate(pagefetch_items_dropped_total[5m]) / rate(pagefetch_items_total[5m])
