// Package providers defines the shared error contract for external provider
// adapters. Adapters never panic and never retry on their own; they classify
// each failure so the pipeline can decide whether re-running the stage is
// worth anything.
package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrTimeout marks a provider call that exceeded its deadline. Wrapped into
// Error so callers can distinguish a slow provider from a broken one.
var ErrTimeout = errors.New("provider call timed out")

// Error is a typed failure from one provider call.
type Error struct {
	Provider  string
	Op        string
	Status    int
	Message   string
	Transient bool
	Err       error
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: %s failed with status %d: %s", e.Provider, e.Op, e.Status, e.Message)
	}

	if e.Err != nil {
		return fmt.Sprintf("%s: %s failed: %v", e.Provider, e.Op, e.Err)
	}

	return fmt.Sprintf("%s: %s failed: %s", e.Provider, e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError classifies an HTTP outcome. Server-side statuses and status 429
// are transient; everything else is treated as permanent.
func NewError(provider, op string, status int, message string) *Error {
	return &Error{
		Provider:  provider,
		Op:        op,
		Status:    status,
		Message:   message,
		Transient: status >= http.StatusInternalServerError || status == http.StatusTooManyRequests,
	}
}

// NewTransportError wraps a network-level failure, which is always worth
// retrying. Deadline errors additionally carry ErrTimeout.
func NewTransportError(provider, op string, err error) *Error {
	wrapped := err
	if errors.Is(err, context.DeadlineExceeded) {
		wrapped = fmt.Errorf("%w: %w", ErrTimeout, err)
	}

	return &Error{
		Provider:  provider,
		Op:        op,
		Transient: true,
		Err:       wrapped,
	}
}

// IsTimeout reports whether the failure was a provider deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// IsTransient reports whether retrying the call could plausibly succeed.
func IsTransient(err error) bool {
	var providerErr *Error
	if errors.As(err, &providerErr) {
		return providerErr.Transient
	}

	return false
}

// Name extracts the provider name from a typed failure, or "" when the error
// came from somewhere else.
func Name(err error) string {
	var providerErr *Error
	if errors.As(err, &providerErr) {
		return providerErr.Provider
	}

	return ""
}
