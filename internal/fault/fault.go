// Package fault defines the error taxonomy shared by the generation
// pipeline. Provider adapters classify upstream failures as transient or
// permanent; the retry executor, circuit breakers, and orchestrator attach
// the remaining kinds. Callers branch on Kind, never on error strings.
package fault

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a generation failure.
type Kind int

const (
	// KindTransient marks retry-eligible failures: timeouts, network
	// errors, and 5xx-class upstream responses.
	KindTransient Kind = iota

	// KindPermanent marks failures that retrying cannot fix: 4xx-class
	// responses and malformed payloads.
	KindPermanent

	// KindCircuitOpen marks fast-fail rejections while a provider is
	// presumed degraded. No network attempt was made.
	KindCircuitOpen

	// KindLockTimeout marks a failed owner-lock acquisition: the owner
	// already has an in-flight batch, or contention exceeded the wait.
	KindLockTimeout

	// KindBatchTimeout marks requests still pending when the batch
	// deadline fired.
	KindBatchTimeout
)

// String returns a stable machine-readable kind name.
func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	case KindCircuitOpen:
		return "circuit_open"
	case KindLockTimeout:
		return "lock_timeout"
	case KindBatchTimeout:
		return "batch_timeout"
	default:
		return "unknown"
	}
}

// Error is a classified generation failure.
type Error struct {
	Kind   Kind
	Detail string
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Cause }

// New creates a classified error without an underlying cause.
func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// Wrap creates a classified error around an underlying cause.
func Wrap(kind Kind, detail string, cause error) *Error {
	return &Error{Kind: kind, Detail: detail, Cause: cause}
}

// Transient creates a retry-eligible error.
func Transient(detail string, cause error) *Error {
	return &Error{Kind: KindTransient, Detail: detail, Cause: cause}
}

// Permanent creates a non-retryable error.
func Permanent(detail string, cause error) *Error {
	return &Error{Kind: KindPermanent, Detail: detail, Cause: cause}
}

// KindOf extracts the Kind from err. Bare context errors are timeouts or
// cancellations, so they stay retry-eligible. Any other unclassified error
// is an unexpected failure mode and is not retried.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTransient
	}
	return KindPermanent
}

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	return KindOf(err) == KindTransient
}
