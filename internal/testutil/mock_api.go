// Package testutil provides testing utilities for pagefetch.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path"
	"strconv"
	"sync"
	"time"
)

// MockResponse defines a fixed response for every page of a resource.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// PageHandler serves one page. attempt counts requests for the same
// resource and page, starting at 1.
type PageHandler func(w http.ResponseWriter, r *http.Request, page, attempt int)

// MockItem is a record served by the mock API.
type MockItem struct {
	ID   any `json:"id,omitempty"`
	Body any `json:"body,omitempty"`
}

// MockAPI is a configurable paginated JSON API for testing.
//
// Each resource is served at /{resource}?_page={n}. Pages beyond the ones
// configured answer with an empty array.
type MockAPI struct {
	server   *httptest.Server
	mu       sync.RWMutex
	pages    map[string][]string
	handlers map[string]PageHandler
	attempts map[string]map[int]int
	order    map[string][]int

	// Tracking
	RequestCount      int
	LastRequestHeader http.Header
}

// NewMockAPI creates a new mock API server.
func NewMockAPI() *MockAPI {
	mock := &MockAPI{
		pages:    make(map[string][]string),
		handlers: make(map[string]PageHandler),
		attempts: make(map[string]map[int]int),
		order:    make(map[string][]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(mock.serve))

	return mock
}

func (m *MockAPI) serve(w http.ResponseWriter, r *http.Request) {
	resource := path.Base(r.URL.Path)
	page, err := strconv.Atoi(r.URL.Query().Get("_page"))
	if err != nil || page < 1 {
		http.Error(w, `{"error": "invalid _page"}`, http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	m.RequestCount++
	m.LastRequestHeader = r.Header.Clone()
	if m.attempts[resource] == nil {
		m.attempts[resource] = make(map[int]int)
	}
	m.attempts[resource][page]++
	attempt := m.attempts[resource][page]
	m.order[resource] = append(m.order[resource], page)
	handler, hasHandler := m.handlers[resource]
	pages := m.pages[resource]
	m.mu.Unlock()

	if hasHandler {
		handler(w, r, page, attempt)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if page <= len(pages) {
		w.Write([]byte(pages[page-1]))
		return
	}
	w.Write([]byte("[]"))
}

// URL returns the mock server URL.
func (m *MockAPI) URL() string {
	return m.server.URL
}

// Client returns an HTTP client wired to the mock server.
func (m *MockAPI) Client() *http.Client {
	return m.server.Client()
}

// Close shuts down the mock server.
func (m *MockAPI) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockAPI) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.LastRequestHeader = nil
	m.attempts = make(map[string]map[int]int)
	m.order = make(map[string][]int)
}

// SetPages configures the page bodies of a resource; page n is pages[n-1].
func (m *MockAPI) SetPages(resource string, pages ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pages[resource] = pages
}

// SetHandler sets a custom page handler for a resource.
func (m *MockAPI) SetHandler(resource string, handler PageHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[resource] = handler
}

// SetResponse answers every page of a resource with resp.
func (m *MockAPI) SetResponse(resource string, resp MockResponse) {
	m.SetHandler(resource, func(w http.ResponseWriter, r *http.Request, page, attempt int) {
		if resp.Delay > 0 {
			select {
			case <-time.After(resp.Delay):
			case <-r.Context().Done():
				return
			}
		}

		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}

		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockAPI) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// ResourceRequestCount returns the number of requests for one resource.
func (m *MockAPI) ResourceRequestCount(resource string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.order[resource])
}

// PageAttempts returns how often a page of a resource was requested.
func (m *MockAPI) PageAttempts(resource string, page int) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.attempts[resource][page]
}

// RequestedPages returns the page numbers of a resource in request order.
func (m *MockAPI) RequestedPages(resource string) []int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]int(nil), m.order[resource]...)
}

// NewItemsPage renders items as a JSON array page body.
func NewItemsPage(items ...MockItem) string {
	if len(items) == 0 {
		return "[]"
	}
	data, err := json.Marshal(items)
	if err != nil {
		panic(fmt.Sprintf("marshal mock items: %v", err))
	}
	return string(data)
}

// NewSequentialPages builds pageCount pages of perPage items with
// consecutive IDs starting at 1 and bodies "item-{id}".
func NewSequentialPages(pageCount, perPage int) []string {
	pages := make([]string, 0, pageCount)
	id := 1
	for p := 0; p < pageCount; p++ {
		items := make([]MockItem, 0, perPage)
		for i := 0; i < perPage; i++ {
			items = append(items, MockItem{ID: id, Body: fmt.Sprintf("item-%d", id)})
			id++
		}
		pages = append(pages, NewItemsPage(items...))
	}
	return pages
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "Internal server error"}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error": "Rate limit exceeded"}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
			"Retry-After":  "1",
		},
	}
}

// NewMalformedResponse creates a 200 OK response whose body is not a JSON array.
func NewMalformedResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       `{"not": "an array"`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewFlakyHandler fails the first failures attempts of every page with a
// 503 and then serves pages like SetPages does.
func NewFlakyHandler(failures int, pages ...string) PageHandler {
	return func(w http.ResponseWriter, r *http.Request, page, attempt int) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		if attempt <= failures {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error": "temporarily unavailable"}`))
			return
		}

		w.WriteHeader(http.StatusOK)
		if page <= len(pages) {
			w.Write([]byte(pages[page-1]))
			return
		}
		w.Write([]byte("[]"))
	}
}

// NewFailingPageHandler answers the listed pages with status and serves
// the remaining pages from pages.
func NewFailingPageHandler(status int, failing []int, pages ...string) PageHandler {
	failingSet := make(map[int]bool, len(failing))
	for _, p := range failing {
		failingSet[p] = true
	}
	return func(w http.ResponseWriter, r *http.Request, page, attempt int) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		if failingSet[page] {
			w.WriteHeader(status)
			return
		}

		w.WriteHeader(http.StatusOK)
		if page <= len(pages) {
			w.Write([]byte(pages[page-1]))
			return
		}
		w.Write([]byte("[]"))
	}
}
