// Package client provides the page request executor: one HTTP GET per page
// of a paginated JSON API, wrapped in an explicit retry policy.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/Sternrassler/pagefetch/pkg/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for page requests.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagefetch_requests_total",
		Help: "Total page requests by resource and status",
	}, []string{"resource", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pagefetch_request_duration_seconds",
		Help:    "Page request duration in seconds by resource",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10},
	}, []string{"resource"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagefetch_errors_total",
		Help: "Total page request errors by class",
	}, []string{"class"})
)

// maxDrainBytes bounds how much of an error response body is read before
// the connection is released.
const maxDrainBytes = 64 << 10

// Config holds the client configuration.
type Config struct {
	// UserAgent is sent with every request.
	UserAgent string

	// Timeout bounds a single attempt, including reading the body.
	Timeout time.Duration

	// Retry is applied around every page request.
	Retry RetryPolicy

	// HTTPClient overrides the default transport. It must be safe for
	// concurrent use; all resource fetches share it.
	HTTPClient *http.Client
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig() Config {
	return Config{
		UserAgent: "pagefetch/0.1.0",
		Timeout:   30 * time.Second,
		Retry:     DefaultRetryPolicy(),
	}
}

// Client executes page requests.
type Client struct {
	httpClient *http.Client
	config     Config
	logger     zerolog.Logger
}

// New creates a new page client.
func New(cfg Config) (*Client, error) {
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}
	if cfg.Timeout < 0 {
		return nil, fmt.Errorf("timeout must not be negative (got %s)", cfg.Timeout)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retry.MaxAttempts < 0 {
		return nil, fmt.Errorf("max_attempts must not be negative (got %d)", cfg.Retry.MaxAttempts)
	}
	cfg.Retry = cfg.Retry.withDefaults()

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: cfg.Timeout,
		}
	}

	return &Client{
		httpClient: httpClient,
		config:     cfg,
		logger:     logging.NewLogger(logging.ComponentClient),
	}, nil
}

// Execute fetches one page, retrying per the configured policy. The result
// is Success, Empty or TerminalFailure.
func (c *Client) Execute(ctx context.Context, req PageRequest) PageResult {
	var last PageResult

	pageLogger := c.logger.With().
		Str("resource", string(req.Resource)).
		Int("page", req.PageNumber).
		Logger()

	attempts, err := c.config.Retry.do(ctx, pageLogger, func(attempt int) error {
		last = c.Attempt(ctx, req)
		if last.Failed() {
			pageLogger.Debug().
				Int("attempt", attempt).
				Err(last.Err).
				Msg("Page attempt failed")
			return last.Err
		}
		return nil
	})
	if err != nil {
		pageLogger.Warn().
			Err(err).
			Int("attempts", attempts).
			Msg("Page request failed")
		return PageResult{
			Kind:       ResultTerminalFailure,
			Err:        err,
			Attempts:   attempts,
			StatusCode: last.StatusCode,
		}
	}

	last.Attempts = attempts
	return last
}

// Attempt performs a single GET for the page without retrying. Failures are
// reported as TransientFailure.
func (c *Client) Attempt(ctx context.Context, req PageRequest) PageResult {
	records, status, err := c.get(ctx, req)
	if err != nil {
		return PageResult{
			Kind:       ResultTransientFailure,
			Err:        err,
			Attempts:   1,
			StatusCode: status,
		}
	}

	if len(records) == 0 {
		return PageResult{Kind: ResultEmpty, Attempts: 1, StatusCode: status}
	}

	return PageResult{
		Kind:       ResultSuccess,
		Records:    records,
		Attempts:   1,
		StatusCode: status,
	}
}

// get sends the request and parses the body as a JSON array.
func (c *Client) get(ctx context.Context, req PageRequest) ([]json.RawMessage, int, error) {
	pageURL := req.URL()
	resource := string(req.Resource)

	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(resource).Observe(time.Since(startTime).Seconds())
	}()

	attemptCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, 0, &PageError{
			Class:   ErrorClassClient,
			URL:     pageURL,
			Message: "create request",
			Err:     err,
		}
	}
	httpReq.Header.Set("User-Agent", c.config.UserAgent)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		requestsTotal.WithLabelValues(resource, "network_error").Inc()
		return nil, 0, &PageError{
			Class:   ErrorClassNetwork,
			URL:     pageURL,
			Message: "request failed",
			Err:     err,
		}
	}
	defer resp.Body.Close()

	requestsTotal.WithLabelValues(resource, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))
		errClass := classifyStatus(resp.StatusCode)
		errorsTotal.WithLabelValues(string(errClass)).Inc()
		return nil, resp.StatusCode, &PageError{
			Class:      errClass,
			StatusCode: resp.StatusCode,
			URL:        pageURL,
			Message:    resp.Status,
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		return nil, resp.StatusCode, &PageError{
			Class:      ErrorClassNetwork,
			StatusCode: resp.StatusCode,
			URL:        pageURL,
			Message:    "read response body",
			Err:        err,
		}
	}

	records, err := decodeArray(body)
	if err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassDecode)).Inc()
		return nil, resp.StatusCode, &PageError{
			Class:      ErrorClassDecode,
			StatusCode: resp.StatusCode,
			URL:        pageURL,
			Message:    "decode response body",
			Err:        err,
		}
	}

	return records, resp.StatusCode, nil
}

// decodeArray parses body as a JSON array of raw records.
func decodeArray(body []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, fmt.Errorf("expected JSON array")
	}

	var records []json.RawMessage
	if err := json.Unmarshal(trimmed, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// Close releases idle connections held by the transport.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// RetryPolicy returns the effective retry policy.
func (c *Client) RetryPolicy() RetryPolicy {
	return c.config.Retry
}
