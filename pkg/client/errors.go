package client

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when all retry attempts for a page are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during a request or backoff.
	ErrContextCancelled = errors.New("context cancelled")

	// ErrUnknownResource is returned by ParseResource for names outside the enumerated set.
	ErrUnknownResource = errors.New("unknown resource")
)

// ErrorClass represents a classification of page request failures.
type ErrorClass string

const (
	// ErrorClassNetwork represents transport errors and timeouts.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassClient represents 4xx responses other than 429.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassRateLimit represents 429 Too Many Requests.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassServer represents 5xx and any other non-2xx response.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassDecode represents a response body that is not a JSON array.
	ErrorClassDecode ErrorClass = "decode"
)

// AllErrorClasses lists every class a PageError can carry.
func AllErrorClasses() []ErrorClass {
	return []ErrorClass{
		ErrorClassNetwork,
		ErrorClassClient,
		ErrorClassRateLimit,
		ErrorClassServer,
		ErrorClassDecode,
	}
}

// ParseErrorClass converts a class name such as "rate_limit" into an ErrorClass.
func ParseErrorClass(name string) (ErrorClass, error) {
	class := ErrorClass(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range AllErrorClasses() {
		if class == known {
			return class, nil
		}
	}
	return "", fmt.Errorf("unknown error class %q", name)
}

// PageError describes one failed page attempt.
type PageError struct {
	Class      ErrorClass
	StatusCode int
	URL        string
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *PageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("page %s error (status %d) for %s: %s: %v",
			e.Class, e.StatusCode, e.URL, e.Message, e.Err)
	}
	return fmt.Sprintf("page %s error (status %d) for %s: %s",
		e.Class, e.StatusCode, e.URL, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *PageError) Unwrap() error {
	return e.Err
}

// classifyStatus maps a non-2xx status code to its error class.
func classifyStatus(statusCode int) ErrorClass {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case statusCode >= 400 && statusCode < 500:
		return ErrorClassClient
	default:
		return ErrorClassServer
	}
}

// classOf extracts the error class from err. Errors that are not a
// *PageError are treated as network failures.
func classOf(err error) ErrorClass {
	var pageErr *PageError
	if errors.As(err, &pageErr) {
		return pageErr.Class
	}
	return ErrorClassNetwork
}
