// Package fetch runs the pagination driver for several resources
// concurrently and gathers their outcomes.
package fetch

import (
	"context"
	"fmt"
	"time"

	"github.com/Sternrassler/pagefetch/pkg/budget"
	"github.com/Sternrassler/pagefetch/pkg/client"
	"github.com/Sternrassler/pagefetch/pkg/item"
	"github.com/Sternrassler/pagefetch/pkg/logging"
	"github.com/Sternrassler/pagefetch/pkg/pagination"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Prometheus metrics for orchestrated fetches.
var (
	resourceOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagefetch_resource_outcomes_total",
		Help: "Total resource fetches by resource and termination reason",
	}, []string{"resource", "terminated_by"})

	fetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pagefetch_fetch_duration_seconds",
		Help:    "Duration of a complete multi-resource fetch in seconds",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
	})

	resourcesInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pagefetch_resources_in_flight",
		Help: "Number of resource fetches currently running",
	})
)

// Config holds orchestrator configuration.
type Config struct {
	// BaseURL is the API root shared by all resources.
	BaseURL string

	// Resources are fetched when Run is called without arguments.
	Resources []client.Resource

	// FailureBudget is the consecutive failed pages tolerated per resource.
	FailureBudget int

	// MaxConcurrency limits concurrently fetched resources. 0 runs one
	// goroutine per resource.
	MaxConcurrency int

	// OnItem, if set, receives every valid item as soon as it is decoded.
	// It is called from several goroutines and must be safe for concurrent use.
	OnItem func(resource client.Resource, it item.Item)
}

// DefaultConfig returns the default configuration for baseURL.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:       baseURL,
		Resources:     client.DefaultResources(),
		FailureBudget: budget.DefaultLimit,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base url is required")
	}
	if c.FailureBudget < 0 {
		return fmt.Errorf("failure budget must not be negative (got %d)", c.FailureBudget)
	}
	if c.MaxConcurrency < 0 {
		return fmt.Errorf("max concurrency must not be negative (got %d)", c.MaxConcurrency)
	}
	for _, r := range c.Resources {
		if !r.Valid() {
			return fmt.Errorf("%w: %q", client.ErrUnknownResource, r)
		}
	}
	return nil
}

// Orchestrator fetches multiple resources concurrently. A resource that
// fails never cancels its siblings.
type Orchestrator struct {
	config Config
	driver *pagination.Driver
	logger zerolog.Logger
}

// New creates an orchestrator that fetches pages through exec.
func New(cfg Config, exec pagination.PageExecutor) (*Orchestrator, error) {
	if exec == nil {
		return nil, fmt.Errorf("page executor is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if len(cfg.Resources) == 0 {
		cfg.Resources = client.DefaultResources()
	}

	driver := pagination.NewDriver(exec, pagination.Config{
		BaseURL:       cfg.BaseURL,
		FailureBudget: cfg.FailureBudget,
	})

	return &Orchestrator{
		config: cfg,
		driver: driver,
		logger: logging.NewLogger(logging.ComponentOrchestrator),
	}, nil
}

// Run fetches the given resources, or the configured ones if none are
// given, and waits for all of them. Cancelling ctx stops every resource;
// outcomes then hold the items gathered so far.
func (o *Orchestrator) Run(ctx context.Context, resources ...client.Resource) *Results {
	if len(resources) == 0 {
		resources = o.config.Resources
	}
	resources = o.dedupe(resources)

	start := time.Now()
	outcomes := make([]pagination.Outcome, len(resources))

	o.logger.Info().
		Int("resources", len(resources)).
		Int("max_concurrency", o.config.MaxConcurrency).
		Str("base_url", o.config.BaseURL).
		Msg("Starting fetch")

	g, gCtx := errgroup.WithContext(ctx)
	if o.config.MaxConcurrency > 0 {
		g.SetLimit(o.config.MaxConcurrency)
	}

	for i, resource := range resources {
		g.Go(func() error {
			resourcesInFlight.Inc()
			defer resourcesInFlight.Dec()

			outcomes[i] = o.fetchOne(gCtx, resource)
			resourceOutcomesTotal.WithLabelValues(string(resource), string(outcomes[i].TerminatedBy)).Inc()
			return nil
		})
	}
	_ = g.Wait()

	results := newResults(outcomes)
	elapsed := time.Since(start)
	fetchDuration.Observe(elapsed.Seconds())

	event := o.logger.Info()
	if failed := results.Failed(); len(failed) > 0 {
		event = o.logger.Warn().Int("failed", len(failed))
	}
	event.
		Int("resources", results.Len()).
		Int("items", results.TotalItems()).
		Dur("duration", elapsed).
		Msg("Fetch finished")

	return results
}

func (o *Orchestrator) fetchOne(ctx context.Context, resource client.Resource) pagination.Outcome {
	if !resource.Valid() {
		o.logger.Error().
			Str("resource", string(resource)).
			Msg("Unknown resource - skipping")
		return pagination.Outcome{
			Resource:     resource,
			TerminatedBy: pagination.TerminatedError,
			Err:          fmt.Errorf("%w: %q", client.ErrUnknownResource, resource),
		}
	}

	var emit func(item.Item)
	if o.config.OnItem != nil {
		emit = func(it item.Item) {
			o.config.OnItem(resource, it)
		}
	}

	return o.driver.Fetch(ctx, resource, emit)
}

// dedupe drops repeated resources, keeping the first occurrence.
func (o *Orchestrator) dedupe(resources []client.Resource) []client.Resource {
	seen := make(map[client.Resource]bool, len(resources))
	unique := make([]client.Resource, 0, len(resources))

	for _, r := range resources {
		if seen[r] {
			o.logger.Warn().
				Str("resource", string(r)).
				Msg("Duplicate resource ignored")
			continue
		}
		seen[r] = true
		unique = append(unique, r)
	}

	return unique
}

// Config returns the effective orchestrator configuration.
func (o *Orchestrator) Config() Config {
	return o.config
}

// FetchAll fetches resources from baseURL with the default client and
// orchestrator settings. An empty resources list fetches the default
// resources. The error is non-nil only for invalid input; per-resource
// failures are reported in the results.
func FetchAll(ctx context.Context, baseURL string, resources []client.Resource) (*Results, error) {
	c, err := client.New(client.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}
	defer c.Close()

	cfg := DefaultConfig(baseURL)
	if len(resources) > 0 {
		cfg.Resources = resources
	}

	o, err := New(cfg, c)
	if err != nil {
		return nil, err
	}

	return o.Run(ctx), nil
}
