package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/poiesic/attrcat/core"
)

// ErrorKind separates retryable provider failures from final ones.
type ErrorKind int

const (
	// Transient failures may succeed on retry: rate limits, timeouts, outages.
	Transient ErrorKind = iota + 1
	// Permanent failures never succeed on retry: malformed input, auth failures.
	Permanent
)

func (k ErrorKind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	}
	return "unknown"
}

// ProviderError is an embedding call failure.
type ProviderError struct {
	Kind ErrorKind
	Err  error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider error: %v", e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() []error {
	return []error{core.ErrProvider, e.Err}
}

// NewTransientError wraps err as a retryable provider error.
func NewTransientError(err error) error {
	return &ProviderError{Kind: Transient, Err: err}
}

// NewPermanentError wraps err as a non-retryable provider error.
func NewPermanentError(err error) error {
	return &ProviderError{Kind: Permanent, Err: err}
}

// Classify returns err as a *ProviderError. Errors that already carry a kind
// keep it. A deadline is transient, a cancellation permanent, and anything
// else unrecognised is treated as transient so that retries stay bounded by
// the caller's attempt limit. Classify returns nil for a nil error.
func Classify(err error) *ProviderError {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &ProviderError{Kind: Transient, Err: err}
	case errors.Is(err, context.Canceled):
		return &ProviderError{Kind: Permanent, Err: err}
	}
	return &ProviderError{Kind: Transient, Err: err}
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	pe := Classify(err)
	return pe != nil && pe.Kind == Transient
}
