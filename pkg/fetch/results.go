package fetch

import (
	"errors"
	"fmt"

	"github.com/Sternrassler/pagefetch/pkg/client"
	"github.com/Sternrassler/pagefetch/pkg/pagination"
)

// Results maps each fetched resource to its outcome. Iteration order is
// the order in which resources were launched.
type Results struct {
	order    []client.Resource
	outcomes map[client.Resource]pagination.Outcome
}

func newResults(outcomes []pagination.Outcome) *Results {
	r := &Results{
		order:    make([]client.Resource, 0, len(outcomes)),
		outcomes: make(map[client.Resource]pagination.Outcome, len(outcomes)),
	}
	for _, o := range outcomes {
		r.order = append(r.order, o.Resource)
		r.outcomes[o.Resource] = o
	}
	return r
}

// Get returns the outcome of a resource.
func (r *Results) Get(resource client.Resource) (pagination.Outcome, bool) {
	o, ok := r.outcomes[resource]
	return o, ok
}

// Resources returns the fetched resources in launch order.
func (r *Results) Resources() []client.Resource {
	return append([]client.Resource(nil), r.order...)
}

// Outcomes returns all outcomes in launch order.
func (r *Results) Outcomes() []pagination.Outcome {
	out := make([]pagination.Outcome, 0, len(r.order))
	for _, res := range r.order {
		out = append(out, r.outcomes[res])
	}
	return out
}

// Len returns the number of resources.
func (r *Results) Len() int {
	return len(r.order)
}

// TotalItems returns the number of items across all resources.
func (r *Results) TotalItems() int {
	total := 0
	for _, o := range r.outcomes {
		total += len(o.Items)
	}
	return total
}

// Failed returns the resources that terminated with an error, in launch order.
func (r *Results) Failed() []client.Resource {
	var failed []client.Resource
	for _, res := range r.order {
		if r.outcomes[res].TerminatedBy == pagination.TerminatedError {
			failed = append(failed, res)
		}
	}
	return failed
}

// Err joins the errors of all failed resources. It is nil when every
// resource was exhausted.
func (r *Results) Err() error {
	var errs []error
	for _, res := range r.order {
		o := r.outcomes[res]
		if o.TerminatedBy != pagination.TerminatedError {
			continue
		}
		err := o.Err
		if err == nil {
			err = pagination.ErrResourceFailed
		}
		errs = append(errs, fmt.Errorf("%s: %w", res, err))
	}
	return errors.Join(errs...)
}
