// Package circuitbreaker provides per-endpoint circuit breakers that stop
// the generation pipeline from hammering a degraded provider. Each breaker
// counts consecutive failures, fails fast while open, and lets a single
// trial call probe for recovery.
package circuitbreaker

import (
	"log/slog"
	"sync"
	"time"

	"github.com/salephoto/genflow-core/internal/metrics"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // Normal operation; calls pass through.
	StateOpen                  // Failing; calls are rejected immediately.
	StateHalfOpen              // Probing; one trial call allowed to test recovery.
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds the failure policy for one endpoint's breaker.
type Config struct {
	// FailureThreshold is the number of consecutive failures that trips
	// the breaker open.
	FailureThreshold int

	// Cooldown is how long the breaker stays open before the next call
	// is allowed through as a recovery trial.
	Cooldown time.Duration
}

// DefaultConfig is the fallback policy for endpoints without an explicit
// circuit config. Mirrors the config package's provider defaults.
var DefaultConfig = Config{
	FailureThreshold: 5,
	Cooldown:         60 * time.Second,
}

// Breaker is a consecutive-failure circuit breaker for one endpoint.
// All state lives behind a single mutex so Allow and outcome reporting
// are atomic: two callers can never both win the half-open trial slot.
type Breaker struct {
	mu sync.Mutex

	state    State
	endpoint string
	logger   *slog.Logger

	consecutiveFailures int
	failureThreshold    int
	cooldown            time.Duration
	openedAt            time.Time

	// trialInFlight guards the single half-open probe. Set when a caller
	// is admitted as the trial, cleared on any transition out of half-open.
	trialInFlight bool
}

// New creates a breaker for the given endpoint, starting closed.
func New(endpoint string, cfg Config, logger *slog.Logger) *Breaker {
	metrics.CircuitState.WithLabelValues(endpoint).Set(float64(StateClosed))
	return &Breaker{
		state:            StateClosed,
		endpoint:         endpoint,
		logger:           logger,
		failureThreshold: cfg.FailureThreshold,
		cooldown:         cfg.Cooldown,
	}
}

// Allow reports whether a call may proceed. While open, the first caller
// after the cooldown elapses is admitted as the half-open trial; everyone
// else is rejected until the trial reports an outcome.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(b.openedAt) >= b.cooldown {
			b.transitionTo(StateHalfOpen)
			b.trialInFlight = true
			return true
		}
		metrics.CircuitRejections.WithLabelValues(b.endpoint).Inc()
		return false
	case StateHalfOpen:
		if b.trialInFlight {
			metrics.CircuitRejections.WithLabelValues(b.endpoint).Inc()
			return false
		}
		b.trialInFlight = true
		return true
	default:
		return true
	}
}

// RecordSuccess records a successful call attempt. A success while closed
// resets the failure count; a successful half-open trial closes the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.consecutiveFailures = 0
	case StateHalfOpen:
		b.transitionTo(StateClosed)
	}
}

// RecordFailure records a failed call attempt. Reaching the threshold while
// closed trips the breaker open; a failed half-open trial reopens it with a
// fresh cooldown window.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.failureThreshold {
			b.transitionTo(StateOpen)
		}
	case StateHalfOpen:
		b.transitionTo(StateOpen)
	}
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the current consecutive-failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutiveFailures
}

// Reset forces the breaker back to closed state.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionTo(StateClosed)
}

// transitionTo changes the breaker state, emitting metrics and logging.
// Must be called with b.mu held.
func (b *Breaker) transitionTo(newState State) {
	if b.state == newState {
		return
	}

	from := b.state
	b.state = newState
	b.trialInFlight = false

	metrics.CircuitTransitions.WithLabelValues(b.endpoint, from.String(), newState.String()).Inc()
	metrics.CircuitState.WithLabelValues(b.endpoint).Set(float64(newState))

	b.logger.Info("circuit breaker state change",
		"endpoint", b.endpoint,
		"from", from.String(),
		"to", newState.String(),
		"consecutive_failures", b.consecutiveFailures,
	)

	switch newState {
	case StateClosed:
		b.consecutiveFailures = 0
	case StateOpen:
		b.openedAt = time.Now()
	}
}
