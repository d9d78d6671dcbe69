package retry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/salephoto/genflow-core/internal/fault"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeReporter counts outcome reports.
type fakeReporter struct {
	successes int
	failures  int
}

func (r *fakeReporter) RecordSuccess() { r.successes++ }
func (r *fakeReporter) RecordFailure() { r.failures++ }

func fastPolicy(attempts int) Policy {
	return Policy{
		MaxAttempts:       attempts,
		BaseDelay:         time.Millisecond,
		BackoffMultiplier: 2.0,
		PerAttemptTimeout: time.Second,
	}
}

func TestExecute_SuccessFirstAttempt(t *testing.T) {
	exec := NewExecutor(testLogger())
	rep := &fakeReporter{}

	value, attempts, err := exec.Execute(context.Background(), "prompt", rep, func(ctx context.Context) ([]byte, error) {
		return []byte("ok"), nil
	}, fastPolicy(3))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if string(value) != "ok" {
		t.Errorf("value = %q, want %q", value, "ok")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
	if rep.successes != 1 || rep.failures != 0 {
		t.Errorf("reported %d successes, %d failures; want 1, 0", rep.successes, rep.failures)
	}
}

func TestExecute_EmptyAttemptBudgetIsPermanent(t *testing.T) {
	exec := NewExecutor(testLogger())
	rep := &fakeReporter{}

	calls := 0
	value, attempts, err := exec.Execute(context.Background(), "prompt", rep, func(ctx context.Context) ([]byte, error) {
		calls++
		return []byte("ok"), nil
	}, Policy{})
	if err == nil {
		t.Fatalf("expected error for zero-attempt policy, got value %q", value)
	}
	if fault.KindOf(err) != fault.KindPermanent {
		t.Errorf("kind = %v, want permanent", fault.KindOf(err))
	}
	if attempts != 0 || calls != 0 {
		t.Errorf("attempts = %d, calls = %d; want 0, 0", attempts, calls)
	}
	if rep.successes != 0 || rep.failures != 0 {
		t.Errorf("reported %d successes, %d failures; want none", rep.successes, rep.failures)
	}
}

func TestExecute_RetriesTransientThenSucceeds(t *testing.T) {
	exec := NewExecutor(testLogger())
	rep := &fakeReporter{}

	calls := 0
	value, attempts, err := exec.Execute(context.Background(), "prompt", rep, func(ctx context.Context) ([]byte, error) {
		calls++
		if calls < 3 {
			return nil, fault.Transient("flaky", nil)
		}
		return []byte("ok"), nil
	}, fastPolicy(3))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if string(value) != "ok" {
		t.Errorf("value = %q, want %q", value, "ok")
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	if rep.successes != 1 || rep.failures != 2 {
		t.Errorf("reported %d successes, %d failures; want 1, 2", rep.successes, rep.failures)
	}
}

func TestExecute_ExhaustsBudget(t *testing.T) {
	exec := NewExecutor(testLogger())
	rep := &fakeReporter{}

	_, attempts, err := exec.Execute(context.Background(), "prompt", rep, func(ctx context.Context) ([]byte, error) {
		return nil, fault.Transient("always down", nil)
	}, fastPolicy(3))
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	if fault.KindOf(err) != fault.KindTransient {
		t.Errorf("expected last transient error to surface, got %v", err)
	}
	if rep.failures != 3 {
		t.Errorf("reported %d failures, want 3", rep.failures)
	}
}

func TestExecute_PermanentAbortsImmediately(t *testing.T) {
	exec := NewExecutor(testLogger())
	rep := &fakeReporter{}

	calls := 0
	_, attempts, err := exec.Execute(context.Background(), "prompt", rep, func(ctx context.Context) ([]byte, error) {
		calls++
		return nil, fault.Permanent("bad request", nil)
	}, fastPolicy(5))
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 || attempts != 1 {
		t.Errorf("calls = %d, attempts = %d; want 1, 1", calls, attempts)
	}
	if fault.KindOf(err) != fault.KindPermanent {
		t.Errorf("expected permanent error, got %v", err)
	}
	if rep.failures != 1 {
		t.Errorf("reported %d failures, want 1", rep.failures)
	}
}

func TestExecute_PerAttemptTimeout(t *testing.T) {
	exec := NewExecutor(testLogger())
	rep := &fakeReporter{}

	policy := fastPolicy(2)
	policy.PerAttemptTimeout = 20 * time.Millisecond

	_, attempts, err := exec.Execute(context.Background(), "image", rep, func(ctx context.Context) ([]byte, error) {
		<-ctx.Done()
		return nil, fault.Transient("attempt timed out", ctx.Err())
	}, policy)
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline error in chain, got %v", err)
	}
}

func TestExecute_ParentCancellationStopsRetries(t *testing.T) {
	exec := NewExecutor(testLogger())
	rep := &fakeReporter{}

	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	_, _, err := exec.Execute(ctx, "prompt", rep, func(callCtx context.Context) ([]byte, error) {
		calls++
		cancel()
		return nil, fault.Transient("flaky", nil)
	}, fastPolicy(5))
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected no further attempts after cancellation, got %d calls", calls)
	}
	if fault.KindOf(err) != fault.KindTransient {
		t.Errorf("expected transient classification, got %v", err)
	}
}

func TestBackoff_NonDecreasing(t *testing.T) {
	policy := Policy{BaseDelay: 2 * time.Second, BackoffMultiplier: 2.0}

	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}
	for i, expected := range want {
		if got := backoff(policy, i+1); got != expected {
			t.Errorf("backoff(attempt %d) = %v, want %v", i+1, got, expected)
		}
	}
}

func TestBackoff_MultiplierClampedToOne(t *testing.T) {
	policy := Policy{BaseDelay: time.Second, BackoffMultiplier: 0.5}

	if got := backoff(policy, 3); got != time.Second {
		t.Errorf("backoff = %v, want constant 1s for sub-1 multiplier", got)
	}
}
