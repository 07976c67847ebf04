package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ValidationError marks a request that no provider can fix. Never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// TransportError covers network, auth and server-side failures of a provider
type TransportError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: transport error (HTTP %d): %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: transport error: %v", e.Provider, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RateLimitError is returned when a backend (or our own limiter) refuses the call
type RateLimitError struct {
	Provider   string
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	msg := fmt.Sprintf("%s: rate limited", e.Provider)
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(" (retry after %s)", e.RetryAfter)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// ResponseFormatError means the backend answered but not in the canonical shape
type ResponseFormatError struct {
	Provider string
	Raw      string
	Err      error
}

func (e *ResponseFormatError) Error() string {
	return fmt.Sprintf("%s: unusable response: %v", e.Provider, e.Err)
}

func (e *ResponseFormatError) Unwrap() error { return e.Err }

// TimeoutError is a per-candidate timeout. It triggers fallback.
type TimeoutError struct {
	Provider string
	After    time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: timed out after %s", e.Provider, e.After)
}

// CancelledError is a caller-initiated abort. It is not a provider fault.
type CancelledError struct {
	Cause error
}

func (e *CancelledError) Error() string {
	if e.Cause == nil {
		return "analysis cancelled"
	}
	return "analysis cancelled: " + e.Cause.Error()
}

func (e *CancelledError) Unwrap() error { return e.Cause }

// NoProviderAvailableError is returned when the registry yields no candidates
type NoProviderAvailableError struct{}

func (e *NoProviderAvailableError) Error() string {
	return "no analysis provider is enabled and available"
}

// Attempt records one candidate's failure during a scan
type Attempt struct {
	Provider string        `json:"provider"`
	Class    ErrorClass    `json:"class"`
	Err      error         `json:"-"`
	Reason   string        `json:"reason"`
	Elapsed  time.Duration `json:"elapsed"`
}

// ExhaustedError is returned when every candidate failed with a retryable class.
// Attempts are in the order they were tried.
type ExhaustedError struct {
	Attempts []Attempt
}

func (e *ExhaustedError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s (%s): %s", a.Provider, a.Class, a.Reason))
	}
	return fmt.Sprintf("all %d providers failed: %s", len(e.Attempts), strings.Join(parts, "; "))
}

// StoreError wraps a persistence failure
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// NoTextAvailableError is returned by a text source with nothing to offer
type NoTextAvailableError struct {
	Source string
}

func (e *NoTextAvailableError) Error() string {
	return fmt.Sprintf("no text available from %s", e.Source)
}

// ErrorClass is the orchestration-level category of a provider error
type ErrorClass string

const (
	ClassValidation ErrorClass = "validation"
	ClassTransport  ErrorClass = "transport"
	ClassRateLimit  ErrorClass = "rate_limit"
	ClassFormat     ErrorClass = "format"
	ClassTimeout    ErrorClass = "timeout"
	ClassCancelled  ErrorClass = "cancelled"
)

// Classify maps a provider error to its class. Unrecognised errors count as transport.
func Classify(err error) ErrorClass {
	var (
		validation *ValidationError
		rateLimit  *RateLimitError
		format     *ResponseFormatError
		timeout    *TimeoutError
		cancelled  *CancelledError
	)
	switch {
	case errors.As(err, &cancelled):
		return ClassCancelled
	case errors.As(err, &validation):
		return ClassValidation
	case errors.As(err, &rateLimit):
		return ClassRateLimit
	case errors.As(err, &format):
		return ClassFormat
	case errors.As(err, &timeout), errors.Is(err, context.DeadlineExceeded):
		return ClassTimeout
	case errors.Is(err, context.Canceled):
		return ClassCancelled
	}
	return ClassTransport
}

// Retryable reports whether the class permits falling back to the next candidate
func (c ErrorClass) Retryable() bool {
	switch c {
	case ClassTransport, ClassRateLimit, ClassFormat, ClassTimeout:
		return true
	}
	return false
}
