package fault

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestKindString(t *testing.T) {
	cases := []struct {
		kind Kind
		want string
	}{
		{KindTransient, "transient"},
		{KindPermanent, "permanent"},
		{KindCircuitOpen, "circuit_open"},
		{KindLockTimeout, "lock_timeout"},
		{KindBatchTimeout, "batch_timeout"},
		{Kind(99), "unknown"},
	}
	for _, c := range cases {
		if got := c.kind.String(); got != c.want {
			t.Errorf("Kind(%d).String() = %q, want %q", c.kind, got, c.want)
		}
	}
}

func TestErrorMessage(t *testing.T) {
	e := New(KindPermanent, "bad payload")
	if got := e.Error(); got != "permanent: bad payload" {
		t.Errorf("Error() = %q", got)
	}

	cause := errors.New("connection refused")
	e = Transient("provider call failed", cause)
	if got := e.Error(); got != "transient: provider call failed: connection refused" {
		t.Errorf("Error() = %q", got)
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("boom")
	e := Wrap(KindTransient, "wrapped", cause)
	if !errors.Is(e, cause) {
		t.Error("expected errors.Is to find the cause")
	}
}

func TestKindOf(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"classified transient", Transient("x", nil), KindTransient},
		{"classified permanent", Permanent("x", nil), KindPermanent},
		{"wrapped classified", fmt.Errorf("outer: %w", New(KindCircuitOpen, "open")), KindCircuitOpen},
		{"deadline exceeded", context.DeadlineExceeded, KindTransient},
		{"canceled", context.Canceled, KindTransient},
		{"unclassified", errors.New("mystery"), KindPermanent},
	}
	for _, c := range cases {
		if got := KindOf(c.err); got != c.want {
			t.Errorf("%s: KindOf = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(Transient("x", nil)) {
		t.Error("transient errors should be retryable")
	}
	if IsRetryable(Permanent("x", nil)) {
		t.Error("permanent errors should not be retryable")
	}
	if IsRetryable(New(KindCircuitOpen, "open")) {
		t.Error("circuit-open errors should not be retryable")
	}
}
