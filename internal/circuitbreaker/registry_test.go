package circuitbreaker

import (
	"testing"
	"time"
)

func TestRegistry_ReturnsSameInstance(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 5, Cooldown: time.Minute}, nil, testLogger())

	a := r.For("prompt")
	b := r.For("prompt")
	if a != b {
		t.Fatal("expected the same breaker instance for the same endpoint")
	}

	c := r.For("image")
	if a == c {
		t.Fatal("expected distinct breakers per endpoint")
	}
}

func TestRegistry_PerEndpointConfig(t *testing.T) {
	configs := map[string]Config{
		"image": {FailureThreshold: 1, Cooldown: time.Minute},
	}
	r := NewRegistry(Config{FailureThreshold: 5, Cooldown: time.Minute}, configs, testLogger())

	img := r.For("image")
	img.RecordFailure()
	if got := img.State(); got != StateOpen {
		t.Fatalf("expected image breaker tripped at threshold 1, got %v", got)
	}

	def := r.For("other")
	def.RecordFailure()
	if got := def.State(); got != StateClosed {
		t.Fatalf("expected default breaker still closed, got %v", got)
	}
}

func TestRegistry_DefaultConfigSurvivesFailures(t *testing.T) {
	// An endpoint with no explicit circuit config must not get a breaker
	// that trips on its first failure.
	r := NewRegistry(DefaultConfig, nil, testLogger())

	b := r.For("unconfigured")
	b.RecordFailure()
	if got := b.State(); got != StateClosed {
		t.Fatalf("expected breaker closed after one failure, got %v", got)
	}

	if DefaultConfig.FailureThreshold < 2 {
		t.Errorf("DefaultConfig.FailureThreshold = %d, must tolerate more than one failure", DefaultConfig.FailureThreshold)
	}
	if DefaultConfig.Cooldown <= 0 {
		t.Errorf("DefaultConfig.Cooldown = %v, must be positive", DefaultConfig.Cooldown)
	}
}

func TestRegistry_Snapshot(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 2, Cooldown: time.Minute}, nil, testLogger())

	r.For("prompt").RecordFailure()
	r.For("image")

	snap := r.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(snap))
	}
	// Sorted by endpoint name.
	if snap[0].Endpoint != "image" || snap[1].Endpoint != "prompt" {
		t.Fatalf("unexpected order: %q, %q", snap[0].Endpoint, snap[1].Endpoint)
	}
	if snap[1].Failures != 1 {
		t.Errorf("expected 1 failure recorded for prompt, got %d", snap[1].Failures)
	}
}
