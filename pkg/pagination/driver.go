package pagination

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/pagefetch/pkg/budget"
	"github.com/Sternrassler/pagefetch/pkg/client"
	"github.com/Sternrassler/pagefetch/pkg/item"
	"github.com/Sternrassler/pagefetch/pkg/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for pagination.
var (
	pagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagefetch_pages_total",
		Help: "Total pages processed by resource and result",
	}, []string{"resource", "result"})

	itemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagefetch_items_total",
		Help: "Total valid items collected by resource",
	}, []string{"resource"})

	itemsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagefetch_items_dropped_total",
		Help: "Total records dropped by the item decoder by resource",
	}, []string{"resource"})
)

// ErrResourceFailed is wrapped by the outcome error of a resource whose
// failure budget ran out.
var ErrResourceFailed = errors.New("resource failed")

// progressEvery is the page interval of progress logs.
const progressEvery = 50

// Termination is why a resource fetch stopped.
type Termination string

const (
	// TerminatedExhausted means an empty page ended pagination.
	TerminatedExhausted Termination = "exhausted"

	// TerminatedError means the failure budget ran out or the fetch was cancelled.
	TerminatedError Termination = "error"
)

// Config holds pagination driver configuration.
type Config struct {
	// BaseURL is the API root every page request is built from.
	BaseURL string

	// FailureBudget is the number of consecutive failed pages tolerated.
	FailureBudget int
}

// DefaultConfig returns the default configuration for baseURL.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:       baseURL,
		FailureBudget: budget.DefaultLimit,
	}
}

// PageExecutor fetches a single page, retries included.
// *client.Client implements it.
type PageExecutor interface {
	Execute(ctx context.Context, req client.PageRequest) client.PageResult
}

// Outcome is the accumulated result of fetching one resource.
type Outcome struct {
	Resource client.Resource
	Items    []item.Item

	// PagesFetched counts pages answered with a valid response, the final
	// empty page included.
	PagesFetched int

	// FailedPages counts pages charged to the failure budget.
	FailedPages int

	// DroppedItems counts records rejected by the item decoder.
	DroppedItems int

	// Attempts counts HTTP attempts across all pages.
	Attempts int

	TerminatedBy Termination
	Err          error
	Duration     time.Duration
}

// Exhausted reports whether the resource was read to its empty page.
func (o Outcome) Exhausted() bool {
	return o.TerminatedBy == TerminatedExhausted
}

// Cancelled reports whether the fetch stopped because its context ended.
func (o Outcome) Cancelled() bool {
	return errors.Is(o.Err, client.ErrContextCancelled)
}

// Driver walks the pages of one resource in order until an empty page or
// until the failure budget is exhausted.
type Driver struct {
	executor PageExecutor
	config   Config
	logger   zerolog.Logger
}

// NewDriver creates a new pagination driver.
func NewDriver(executor PageExecutor, config Config) *Driver {
	if executor == nil {
		panic("page executor cannot be nil")
	}
	if config.FailureBudget <= 0 {
		config.FailureBudget = budget.DefaultLimit
	}

	return &Driver{
		executor: executor,
		config:   config,
		logger:   logging.NewLogger(logging.ComponentPagination),
	}
}

// Config returns the effective driver configuration.
func (d *Driver) Config() Config {
	return d.config
}

// Fetch retrieves every page of resource, starting at page 1. Valid items
// are appended to the outcome and, if emit is non-nil, passed to emit in
// order as each page arrives.
//
// Fetch never fails as a whole: errors end up in Outcome.Err. Items
// collected before a failure or cancellation are kept.
func (d *Driver) Fetch(ctx context.Context, resource client.Resource, emit func(item.Item)) Outcome {
	start := time.Now()
	outcome := Outcome{Resource: resource}
	tracker := budget.NewTracker(string(resource), d.config.FailureBudget, d.logger)

	d.logger.Info().
		Str("resource", string(resource)).
		Str("base_url", d.config.BaseURL).
		Int("failure_budget", d.config.FailureBudget).
		Msg("Starting paginated fetch")

	finish := func(reason Termination, err error) Outcome {
		outcome.TerminatedBy = reason
		outcome.Err = err
		outcome.Duration = time.Since(start)

		event := d.logger.Info()
		if reason == TerminatedError {
			event = d.logger.Error().Err(err)
		}
		event.
			Str("resource", string(resource)).
			Str("terminated_by", string(reason)).
			Int("pages", outcome.PagesFetched).
			Int("failed_pages", outcome.FailedPages).
			Int("items", len(outcome.Items)).
			Int("dropped", outcome.DroppedItems).
			Dur("duration", outcome.Duration).
			Msg("Fetch complete")

		return outcome
	}

	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return finish(TerminatedError, fmt.Errorf("%w: %w", client.ErrContextCancelled, err))
		}

		result := d.executor.Execute(ctx, client.PageRequest{
			Resource:   resource,
			PageNumber: page,
			BaseURL:    d.config.BaseURL,
		})
		outcome.Attempts += result.Attempts
		pagesTotal.WithLabelValues(string(resource), result.Kind.String()).Inc()

		switch result.Kind {
		case client.ResultEmpty:
			outcome.PagesFetched++
			return finish(TerminatedExhausted, nil)

		case client.ResultSuccess:
			outcome.PagesFetched++
			tracker.RecordSuccess()
			d.collect(&outcome, page, result.Records, emit)

			if outcome.PagesFetched%progressEvery == 0 {
				d.logger.Info().
					Str("resource", string(resource)).
					Int("pages", outcome.PagesFetched).
					Int("items", len(outcome.Items)).
					Msg("Fetch progress")
			}

		default:
			if ctxErr := ctx.Err(); ctxErr != nil || errors.Is(result.Err, client.ErrContextCancelled) {
				err := result.Err
				if !errors.Is(err, client.ErrContextCancelled) {
					err = fmt.Errorf("%w: %w", client.ErrContextCancelled, ctxErr)
				}
				return finish(TerminatedError, err)
			}

			outcome.FailedPages++
			if tracker.RecordFailure(page, result.Err) {
				return finish(TerminatedError, fmt.Errorf("%w: %s after %d consecutive failed pages: %w",
					ErrResourceFailed, resource, tracker.State().Consecutive, result.Err))
			}
		}
	}
}

// collect decodes one page and appends its valid items.
func (d *Driver) collect(outcome *Outcome, page int, records []json.RawMessage, emit func(item.Item)) {
	resource := string(outcome.Resource)
	valid := 0

	for _, decoded := range item.Decode(records) {
		if !decoded.OK() {
			outcome.DroppedItems++
			itemsDroppedTotal.WithLabelValues(resource).Inc()
			d.logger.Debug().
				Err(decoded.Err).
				Str("resource", resource).
				Int("page", page).
				Msg("Dropping malformed item")
			continue
		}

		valid++
		outcome.Items = append(outcome.Items, decoded.Item)
		if emit != nil {
			emit(decoded.Item)
		}
	}

	itemsTotal.WithLabelValues(resource).Add(float64(valid))

	d.logger.Debug().
		Str("resource", resource).
		Int("page", page).
		Int("items", valid).
		Int("records", len(records)).
		Msg("Page collected")
}
