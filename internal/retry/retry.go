// Package retry wraps single provider calls with a per-attempt timeout,
// exponential backoff, and a bounded retry budget. Every attempt's outcome
// is reported to the endpoint's circuit breaker exactly once, synchronously,
// so breaker state always reflects what actually went over the wire.
package retry

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/salephoto/genflow-core/internal/fault"
	"github.com/salephoto/genflow-core/internal/metrics"
)

// Policy holds the retry budget for one call class. Immutable; prompt
// generation and image generation carry distinct policies.
type Policy struct {
	MaxAttempts       int
	BaseDelay         time.Duration
	BackoffMultiplier float64
	PerAttemptTimeout time.Duration
}

// Call is a single provider attempt. It must honor ctx cancellation and
// return errors classified via the fault package.
type Call func(ctx context.Context) ([]byte, error)

// Reporter receives per-attempt outcomes. Satisfied by *circuitbreaker.Breaker.
type Reporter interface {
	RecordSuccess()
	RecordFailure()
}

// Executor runs calls under a retry policy.
type Executor struct {
	logger *slog.Logger
}

// NewExecutor creates an Executor.
func NewExecutor(logger *slog.Logger) *Executor {
	return &Executor{logger: logger}
}

// Execute runs call under policy, retrying transient failures with
// exponential backoff. It returns the first successful value, the number of
// attempts made, and the last observed error when the budget is exhausted.
// Permanent failures abort immediately without consuming remaining retries.
func (e *Executor) Execute(ctx context.Context, endpoint string, rep Reporter, call Call, policy Policy) ([]byte, int, error) {
	if policy.MaxAttempts < 1 {
		return nil, 0, fault.Permanent("retry policy for "+endpoint+" has no attempt budget", nil)
	}

	var lastErr error

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, policy.PerAttemptTimeout)
		start := time.Now()
		value, err := call(attemptCtx)
		cancel()
		metrics.ProviderDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())

		if err == nil {
			rep.RecordSuccess()
			metrics.AttemptsTotal.WithLabelValues(endpoint, "success").Inc()
			return value, attempt, nil
		}

		kind := fault.KindOf(err)
		rep.RecordFailure()
		metrics.AttemptsTotal.WithLabelValues(endpoint, kind.String()).Inc()
		lastErr = err

		if kind != fault.KindTransient {
			e.logger.Warn("permanent provider failure, not retrying",
				"endpoint", endpoint,
				"attempt", attempt,
				"error", err,
			)
			return nil, attempt, err
		}

		if attempt == policy.MaxAttempts {
			break
		}

		// Stop early when the batch deadline has already fired; the
		// orchestrator marks this request as timed out.
		if ctx.Err() != nil {
			return nil, attempt, fault.Transient("batch cancelled during retry", ctx.Err())
		}

		delay := backoff(policy, attempt)
		e.logger.Info("transient provider failure, retrying",
			"endpoint", endpoint,
			"attempt", attempt,
			"max_attempts", policy.MaxAttempts,
			"backoff", delay,
			"error", err,
		)
		metrics.RetriesTotal.WithLabelValues(endpoint).Inc()

		if !sleep(ctx, delay) {
			return nil, attempt, fault.Transient("batch cancelled during backoff", ctx.Err())
		}
	}

	e.logger.Error("retry budget exhausted",
		"endpoint", endpoint,
		"attempts", policy.MaxAttempts,
		"error", lastErr,
	)
	return nil, policy.MaxAttempts, lastErr
}

// backoff returns baseDelay * multiplier^(attempt-1). Non-decreasing for
// any multiplier >= 1.
func backoff(policy Policy, attempt int) time.Duration {
	mult := policy.BackoffMultiplier
	if mult < 1 {
		mult = 1
	}
	return time.Duration(float64(policy.BaseDelay) * math.Pow(mult, float64(attempt-1)))
}

// sleep waits for d or until ctx is cancelled. Returns false on cancellation.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
