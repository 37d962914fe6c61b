// Package errdefs defines the error taxonomy shared by the turn pipeline.
//
// The network client and the stream decoder only ever surface these
// sentinels (wrapped with context). The search, classify, and fetch layers
// swallow their own failures and degrade instead of returning errors, so
// the orchestrator is the single place where an error becomes user-visible
// text via UserMessage.
package errdefs

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors, checked with errors.Is.
var (
	// ErrAborted indicates host or user cancellation. Never retried.
	ErrAborted = errors.New("aborted")

	// ErrTransient indicates a connection-level failure that survived
	// every retry attempt.
	ErrTransient = errors.New("transient network failure")

	// ErrAuth indicates a credential problem (HTTP 401/403).
	ErrAuth = errors.New("authentication failed")

	// ErrRateLimited indicates HTTP 429 that survived every retry.
	ErrRateLimited = errors.New("rate limited")

	// ErrUnavailable indicates a 5xx response that survived every retry.
	ErrUnavailable = errors.New("service unavailable")

	// ErrBadRequest indicates a non-retryable 4xx response.
	ErrBadRequest = errors.New("bad request")
)

// StatusError tags a taxonomy sentinel with the HTTP status that produced
// it, when one is available. Unwrap yields the sentinel so errors.Is keeps
// working.
type StatusError struct {
	Kind   error
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%v (HTTP %d)", e.Kind, e.Status)
}

func (e *StatusError) Unwrap() error { return e.Kind }

// WithStatus wraps kind with the HTTP status code.
func WithStatus(kind error, status int) error {
	return &StatusError{Kind: kind, Status: status}
}

// Aborted reports whether err is a cancellation, either our sentinel or a
// raw context error that escaped before classification.
func Aborted(err error) bool {
	return errors.Is(err, ErrAborted) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// UserMessage maps a terminal turn error to a short user-facing string.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case Aborted(err):
		return "Cancelled."
	case errors.Is(err, ErrAuth):
		return "Invalid or missing API credentials. Check the provider configuration."
	case errors.Is(err, ErrRateLimited):
		return "The provider is rate-limiting requests. Try again in a moment."
	case errors.Is(err, ErrUnavailable):
		return "The provider is temporarily unavailable. Try again shortly."
	case errors.Is(err, ErrBadRequest):
		return "The provider rejected the request."
	case errors.Is(err, ErrTransient):
		return "Connection problem. Check the network and the provider address."
	default:
		return "Something went wrong. Try again."
	}
}
