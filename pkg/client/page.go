package client

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// PageRequest identifies one page of one resource.
type PageRequest struct {
	Resource   Resource
	PageNumber int
	BaseURL    string
}

// URL builds {base_url}/{resource}?_page={page_number}.
func (r PageRequest) URL() string {
	base := strings.TrimRight(r.BaseURL, "/")
	query := url.Values{"_page": []string{strconv.Itoa(r.PageNumber)}}
	return fmt.Sprintf("%s/%s?%s", base, r.Resource, query.Encode())
}

// ResultKind is the outcome category of a page request.
type ResultKind int

const (
	// ResultSuccess means the page held at least one record.
	ResultSuccess ResultKind = iota

	// ResultEmpty means a valid, empty page: the end of pagination.
	ResultEmpty

	// ResultTransientFailure is a failed single attempt that may be retried.
	ResultTransientFailure

	// ResultTerminalFailure means the page could not be fetched despite retries.
	ResultTerminalFailure
)

// String returns the label used in logs and metrics.
func (k ResultKind) String() string {
	switch k {
	case ResultSuccess:
		return "success"
	case ResultEmpty:
		return "empty"
	case ResultTransientFailure:
		return "transient_failure"
	case ResultTerminalFailure:
		return "terminal_failure"
	default:
		return "unknown"
	}
}

// PageResult is the outcome of one page request.
type PageResult struct {
	Kind ResultKind

	// Records holds the raw JSON objects of a successful page.
	Records []json.RawMessage

	// Err is the cause of a failure.
	Err error

	// Attempts is the number of HTTP attempts made.
	Attempts int

	// StatusCode is the last HTTP status seen (0 if no response arrived).
	StatusCode int
}

// Failed reports whether the result is a transient or terminal failure.
func (r PageResult) Failed() bool {
	return r.Kind == ResultTransientFailure || r.Kind == ResultTerminalFailure
}
