package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/Sternrassler/pagefetch/internal/config"
	"github.com/Sternrassler/pagefetch/pkg/client"
	"github.com/Sternrassler/pagefetch/pkg/fetch"
	"github.com/Sternrassler/pagefetch/pkg/item"
	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"
)

// outcomeView is the serialised form of a resource outcome.
type outcomeView struct {
	Resource     string      `json:"resource" yaml:"resource"`
	TerminatedBy string      `json:"terminated_by" yaml:"terminated_by"`
	PagesFetched int         `json:"pages_fetched" yaml:"pages_fetched"`
	FailedPages  int         `json:"failed_pages" yaml:"failed_pages"`
	DroppedItems int         `json:"dropped_items" yaml:"dropped_items"`
	Attempts     int         `json:"attempts" yaml:"attempts"`
	Duration     string      `json:"duration" yaml:"duration"`
	Error        string      `json:"error,omitempty" yaml:"error,omitempty"`
	Items        []item.Item `json:"items" yaml:"items"`
}

func newOutcomeViews(results *fetch.Results) []outcomeView {
	views := make([]outcomeView, 0, results.Len())
	for _, o := range results.Outcomes() {
		view := outcomeView{
			Resource:     string(o.Resource),
			TerminatedBy: string(o.TerminatedBy),
			PagesFetched: o.PagesFetched,
			FailedPages:  o.FailedPages,
			DroppedItems: o.DroppedItems,
			Attempts:     o.Attempts,
			Duration:     o.Duration.String(),
			Items:        o.Items,
		}
		if view.Items == nil {
			view.Items = []item.Item{}
		}
		if o.Err != nil {
			view.Error = o.Err.Error()
		}
		views = append(views, view)
	}
	return views
}

// newItemPrinter writes each item on its own line as it arrives. Lines of
// different resources interleave.
func newItemPrinter(w io.Writer) func(client.Resource, item.Item) {
	var mu sync.Mutex
	return func(resource client.Resource, it item.Item) {
		mu.Lock()
		defer mu.Unlock()
		_, _ = fmt.Fprintf(w, "%s\t%s\n", resource, it)
	}
}

// render writes results in the requested format. Text output has already
// streamed its items, so only a summary goes to stderr.
func render(stdout, stderr io.Writer, format string, results *fetch.Results) error {
	switch format {
	case config.OutputJSON:
		return renderJSON(stdout, results)
	case config.OutputYAML:
		return renderYAML(stdout, results)
	case config.OutputTable:
		return renderTable(stdout, results)
	default:
		return renderSummary(stderr, results)
	}
}

func renderJSON(w io.Writer, results *fetch.Results) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(newOutcomeViews(results))
}

func renderYAML(w io.Writer, results *fetch.Results) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(newOutcomeViews(results)); err != nil {
		return err
	}
	return encoder.Close()
}

func renderTable(w io.Writer, results *fetch.Results) error {
	table := tablewriter.NewWriter(w)
	table.Header("Resource", "Status", "Items", "Pages", "Failed Pages", "Dropped", "Duration", "Error")

	for _, view := range newOutcomeViews(results) {
		_ = table.Append(
			view.Resource,
			view.TerminatedBy,
			strconv.Itoa(len(view.Items)),
			strconv.Itoa(view.PagesFetched),
			strconv.Itoa(view.FailedPages),
			strconv.Itoa(view.DroppedItems),
			view.Duration,
			view.Error,
		)
	}

	return table.Render()
}

func renderSummary(w io.Writer, results *fetch.Results) error {
	for _, view := range newOutcomeViews(results) {
		line := fmt.Sprintf("%s: %s, %d items, %d pages, %d failed pages, %d dropped",
			view.Resource, view.TerminatedBy, len(view.Items), view.PagesFetched, view.FailedPages, view.DroppedItems)
		if view.Error != "" {
			line += ": " + view.Error
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}
