// Package budget tracks the page failure budget of one resource fetch.
//
// The budget counts consecutive page-level terminal failures. A page that
// is answered successfully restores the full budget; once the count reaches
// the limit the resource is abandoned.
package budget

import (
	"time"
)

// DefaultLimit is the number of consecutive failed pages tolerated per resource.
const DefaultLimit = 10

// WarningRatio marks the budget as degraded once this share of the limit is consumed.
const WarningRatio = 0.5

// State is a snapshot of a failure budget.
type State struct {
	// Limit is the number of consecutive failures tolerated.
	Limit int `json:"limit"`

	// Consecutive is the current run of failed pages.
	Consecutive int `json:"consecutive"`

	// TotalFailures counts every failed page, including recovered runs.
	TotalFailures int `json:"total_failures"`

	// LastFailure is when the most recent failure was recorded.
	LastFailure time.Time `json:"last_failure"`
}

// Remaining returns how many more consecutive failures are tolerated.
func (s State) Remaining() int {
	remaining := s.Limit - s.Consecutive
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Exhausted returns true once the consecutive failures reach the limit.
func (s State) Exhausted() bool {
	return s.Consecutive >= s.Limit
}

// Degraded returns true while at least WarningRatio of the budget is used
// but it is not yet exhausted.
func (s State) Degraded() bool {
	return !s.Exhausted() && float64(s.Consecutive) >= float64(s.Limit)*WarningRatio
}

// SinceLastFailure returns the time elapsed since the last failure.
// Returns 0 if no failure was recorded.
func (s State) SinceLastFailure() time.Duration {
	if s.LastFailure.IsZero() {
		return 0
	}
	return time.Since(s.LastFailure)
}
