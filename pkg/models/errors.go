package models

import (
	"fmt"
	"strings"
	"time"
)

// InvalidRequestError reports a malformed Request. It is never retried.
type InvalidRequestError struct {
	Reason string
}

func (e *InvalidRequestError) Error() string {
	return "invalid request: " + e.Reason
}

// BackendTimeoutError reports a backend attempt that exceeded its timeout.
type BackendTimeoutError struct {
	Backend string
	Timeout time.Duration
	Cause   error
}

func (e *BackendTimeoutError) Error() string {
	return fmt.Sprintf("backend %s: timed out after %s", e.Backend, e.Timeout)
}

func (e *BackendTimeoutError) Unwrap() error {
	return e.Cause
}

// BackendCallError reports a non-timeout backend failure such as a
// connection error, an error status or a malformed payload.
type BackendCallError struct {
	Backend    string
	StatusCode int
	Message    string
	Cause      error
}

func (e *BackendCallError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "backend %s: %s", e.Backend, e.Message)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *BackendCallError) Unwrap() error {
	return e.Cause
}

// AllBackendsExhaustedError is the terminal failure of a route: every
// backend in the chain failed every attempt. LastErr is the final attempt's
// error and is kept for diagnostics only.
type AllBackendsExhaustedError struct {
	Category Category
	Tried    []string
	Attempts int
	LastErr  error
}

func (e *AllBackendsExhaustedError) Error() string {
	return fmt.Sprintf("all backends exhausted for %s after %d attempts [%s]",
		e.Category, e.Attempts, strings.Join(e.Tried, ", "))
}

func (e *AllBackendsExhaustedError) Unwrap() error {
	return e.LastErr
}

// ConfigurationError reports an invalid startup configuration.
type ConfigurationError struct {
	Problems []string
}

func (e *ConfigurationError) Error() string {
	if len(e.Problems) == 1 {
		return "configuration error: " + e.Problems[0]
	}
	return fmt.Sprintf("configuration error: %d problems: %s", len(e.Problems), strings.Join(e.Problems, "; "))
}
