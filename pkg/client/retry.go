package client

import (
	"context"
	"fmt"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/Sternrassler/pagefetch/pkg/logging"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagefetch_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pagefetch_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagefetch_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// DefaultMaxAttempts is the number of attempts per page when none is configured.
const DefaultMaxAttempts = 5

// RetryPolicy decides how often and how fast a failed page attempt is repeated.
type RetryPolicy struct {
	// MaxAttempts is the maximum number of attempts (including the initial request).
	MaxAttempts int

	// InitialBackoff is the wait before the second attempt. Zero retries immediately.
	InitialBackoff time.Duration

	// MaxBackoff caps the exponential growth of the wait.
	MaxBackoff time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff.
	BackoffMultiplier float64

	// Retryable lists the error classes worth another attempt.
	// A nil slice retries every class; an empty slice retries none.
	Retryable []ErrorClass
}

// DefaultRetryPolicy returns the default retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       DefaultMaxAttempts,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        2 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// ImmediateRetryPolicy retries up to maxAttempts times without waiting.
func ImmediateRetryPolicy(maxAttempts int) RetryPolicy {
	return RetryPolicy{MaxAttempts: maxAttempts}
}

// ShouldRetry reports whether a failure of the given class is retried.
func (p RetryPolicy) ShouldRetry(class ErrorClass) bool {
	if p.Retryable == nil {
		return slices.Contains(AllErrorClasses(), class)
	}
	return slices.Contains(p.Retryable, class)
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.InitialBackoff < 0 {
		p.InitialBackoff = 0
	}
	if p.MaxBackoff < p.InitialBackoff {
		p.MaxBackoff = p.InitialBackoff
	}
	if p.BackoffMultiplier < 1 {
		p.BackoffMultiplier = 2.0
	}
	return p
}

// Do runs fn until it succeeds, fails with a non-retryable class, the
// attempts run out or ctx is done. It returns the number of attempts made.
//
// Backoff is exponential with ±20% jitter. Cancellation is observed before
// every attempt and during every wait.
func (p RetryPolicy) Do(ctx context.Context, fn func(attempt int) error) (int, error) {
	return p.do(ctx, logging.NewLogger(logging.ComponentClient), fn)
}

// do is Do with the caller's logger, so retry events carry its fields.
func (p RetryPolicy) do(ctx context.Context, logger zerolog.Logger, fn func(attempt int) error) (int, error) {
	p = p.withDefaults()

	var lastErr error
	backoff := p.InitialBackoff

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return attempt - 1, fmt.Errorf("%w: %w", ErrContextCancelled, ctxErr)
		}

		err := fn(attempt)
		if err == nil {
			if attempt > 1 {
				logger.Info().
					Int("attempt", attempt).
					Msg("Request succeeded after retry")
			}
			return attempt, nil
		}

		lastErr = err

		// A failure caused by our own cancellation is not worth another attempt.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return attempt, fmt.Errorf("%w: %w", ErrContextCancelled, ctxErr)
		}

		errorClass := classOf(err)
		if !p.ShouldRetry(errorClass) {
			return attempt, lastErr
		}

		if attempt >= p.MaxAttempts {
			break
		}

		retriesTotal.WithLabelValues(string(errorClass)).Inc()

		wait := jitter(backoff)
		retryBackoffSeconds.WithLabelValues(string(errorClass)).Observe(wait.Seconds())

		logger.Debug().
			Str("error_class", string(errorClass)).
			Int("attempt", attempt).
			Dur("backoff", wait).
			Msg("Retrying request after backoff")

		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				logger.Warn().
					Str("error_class", string(errorClass)).
					Int("attempt", attempt).
					Msg("Context cancelled during retry backoff")
				return attempt, fmt.Errorf("%w: %w", ErrContextCancelled, ctx.Err())
			case <-timer.C:
			}
		}

		backoff = time.Duration(float64(backoff) * p.BackoffMultiplier)
		if backoff > p.MaxBackoff {
			backoff = p.MaxBackoff
		}
	}

	errorClass := classOf(lastErr)
	retryExhaustedTotal.WithLabelValues(string(errorClass)).Inc()
	logger.Warn().
		Str("error_class", string(errorClass)).
		Int("max_attempts", p.MaxAttempts).
		Msg("Retry attempts exhausted")

	return p.MaxAttempts, fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, p.MaxAttempts, lastErr)
}

// jitter spreads d by ±20% so concurrent retries do not line up.
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return time.Duration(float64(d) * (0.8 + rand.Float64()*0.4))
}
