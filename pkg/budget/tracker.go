package budget

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for failure budgets.
var (
	budgetRemaining = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pagefetch_failure_budget_remaining",
		Help: "Consecutive page failures still tolerated by resource",
	}, []string{"resource"})

	budgetExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagefetch_failure_budget_exhausted_total",
		Help: "Total number of resource fetches abandoned after exhausting the failure budget",
	}, []string{"resource"})
)

// Tracker records page failures for one resource fetch. It is owned by a
// single pagination driver and is not safe for concurrent use.
type Tracker struct {
	resource string
	state    State
	logger   zerolog.Logger
}

// NewTracker creates a tracker with the given limit. A limit <= 0 uses DefaultLimit.
func NewTracker(resource string, limit int, logger zerolog.Logger) *Tracker {
	if limit <= 0 {
		limit = DefaultLimit
	}

	budgetRemaining.WithLabelValues(resource).Set(float64(limit))

	return &Tracker{
		resource: resource,
		state:    State{Limit: limit},
		logger:   logger,
	}
}

// RecordFailure charges one failed page and reports whether the budget is
// now exhausted.
func (t *Tracker) RecordFailure(page int, cause error) bool {
	t.state.Consecutive++
	t.state.TotalFailures++
	t.state.LastFailure = time.Now()

	budgetRemaining.WithLabelValues(t.resource).Set(float64(t.state.Remaining()))

	switch {
	case t.state.Exhausted():
		budgetExhaustedTotal.WithLabelValues(t.resource).Inc()
		t.logger.Error().
			Err(cause).
			Str("resource", t.resource).
			Int("page", page).
			Int("consecutive_failures", t.state.Consecutive).
			Msg("Failure budget exhausted - abandoning resource")
	case t.state.Degraded():
		t.logger.Warn().
			Err(cause).
			Str("resource", t.resource).
			Int("page", page).
			Int("budget_remaining", t.state.Remaining()).
			Msg("Failure budget degraded - skipping page")
	default:
		t.logger.Warn().
			Err(cause).
			Str("resource", t.resource).
			Int("page", page).
			Int("budget_remaining", t.state.Remaining()).
			Msg("Page failed - skipping page")
	}

	return t.state.Exhausted()
}

// RecordSuccess ends the current run of failures.
func (t *Tracker) RecordSuccess() {
	if t.state.Consecutive == 0 {
		return
	}

	t.logger.Info().
		Str("resource", t.resource).
		Int("recovered_after", t.state.Consecutive).
		Msg("Page fetch recovered - failure budget restored")

	t.state.Consecutive = 0
	budgetRemaining.WithLabelValues(t.resource).Set(float64(t.state.Limit))
}

// State returns a snapshot of the budget.
func (t *Tracker) State() State {
	return t.state
}
