// Package trip provides the failure type shared by every dolly operation.
//
// The package keeps the stumbling metaphor: an operation that cannot finish
// "trips", and the trip records what was expected, where, and for how long
// the caller waited. Driver errors are sorted into a small set of kinds so the
// retry loop can branch on a value instead of on concrete error types.
package trip

import (
	"context"
	"errors"
)

// Kind classifies a failure by how the retry loop must react to it.
type Kind int

const (
	// Fatal failures cannot be fixed by waiting: malformed locators, a dead
	// driver connection, programming errors. They abort the loop at once.
	Fatal Kind = iota

	// Transient failures are expected to clear up on their own: the element
	// is not rendered yet, was re-rendered, or is covered by something.
	Transient

	// Timeout means the condition never held before the deadline.
	Timeout

	// Cancelled means the caller's context stopped the wait early.
	Cancelled
)

func (k Kind) String() string {
	switch k {
	case Fatal:
		return "fatal"
	case Transient:
		return "transient"
	case Timeout:
		return "timeout"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Retryable reports whether another attempt may succeed.
func (k Kind) Retryable() bool {
	return k == Transient
}

// Driver-facing sentinels. Drivers wrap these (fmt.Errorf("...: %w", ErrStale))
// so the core never needs to know a driver's own error types.
var (
	ErrNotFound        = errors.New("element not found")
	ErrStale           = errors.New("stale element reference")
	ErrNotInteractable = errors.New("element not interactable")

	ErrInvalidLocator = errors.New("invalid locator")
	ErrDriver         = errors.New("driver failure")
)

// Kind sentinels matched by (*Trip).Is, so callers can write
// errors.Is(err, trip.ErrTimeout) without a type assertion.
var (
	ErrTimeout   = errors.New("timed out")
	ErrCancelled = errors.New("cancelled")
)

type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// MarkTransient tags err as retryable without changing its message or chain.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// Classify maps an error to its Kind. A nil error has no meaningful kind and
// is reported as Fatal; callers only classify failures.
func Classify(err error) Kind {
	if err == nil {
		return Fatal
	}

	var t *Trip
	if errors.As(err, &t) {
		return t.Kind
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Cancelled
	}

	var marked *transientError
	if errors.As(err, &marked) {
		return Transient
	}

	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrStale),
		errors.Is(err, ErrNotInteractable):
		return Transient
	}

	return Fatal
}
