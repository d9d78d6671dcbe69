// Package metrics provides Prometheus instrumentation for the generation
// service. All metric collectors are registered via the Init function and
// exposed through the Handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// AttemptsTotal counts individual provider call attempts by endpoint
	// and outcome (success, transient, permanent).
	AttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genflow_attempts_total",
			Help: "Total provider call attempts",
		},
		[]string{"endpoint", "outcome"},
	)

	// RetriesTotal counts backoff retries by endpoint. One retry is one
	// sleep-then-reattempt after a transient failure.
	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genflow_retries_total",
			Help: "Total retry attempts after transient failures",
		},
		[]string{"endpoint"},
	)

	// ProviderDuration observes provider call latency in seconds by endpoint.
	ProviderDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "genflow_provider_duration_seconds",
			Help:    "Provider call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	// CircuitState reports the current breaker state per endpoint
	// (0=closed, 1=open, 2=half-open).
	CircuitState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "genflow_circuit_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"endpoint"},
	)

	// CircuitTransitions counts breaker state changes by endpoint and edge.
	CircuitTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genflow_circuit_transitions_total",
			Help: "Total circuit breaker state transitions",
		},
		[]string{"endpoint", "from", "to"},
	)

	// CircuitRejections counts fast-fail rejections while a circuit is open.
	CircuitRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genflow_circuit_rejections_total",
			Help: "Total requests rejected by an open circuit",
		},
		[]string{"endpoint"},
	)

	// BatchesTotal counts completed batches by outcome
	// (success, partial, failure, lock_timeout).
	BatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genflow_batches_total",
			Help: "Total generation batches by outcome",
		},
		[]string{"outcome"},
	)

	// BatchDuration observes end-to-end batch latency in seconds.
	BatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "genflow_batch_duration_seconds",
			Help:    "End-to-end batch latency in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 180, 300},
		},
	)

	// ActiveBatches tracks the number of in-flight batches.
	ActiveBatches = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "genflow_active_batches",
			Help: "Number of batches currently running",
		},
	)

	// LockEntries tracks the size of the owner-lock map.
	LockEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "genflow_lock_entries",
			Help: "Number of entries in the owner lock map",
		},
	)

	// LockTimeouts counts failed owner-lock acquisitions.
	LockTimeouts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "genflow_lock_timeouts_total",
			Help: "Total owner-lock acquisition timeouts",
		},
	)

	// LockSweepRemoved counts idle lock entries reclaimed by the sweep.
	LockSweepRemoved = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "genflow_lock_sweep_removed_total",
			Help: "Total idle lock entries removed by the background sweep",
		},
	)

	// AuthFailures counts authentication failures by reason.
	AuthFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genflow_auth_failures_total",
			Help: "Total authentication failures",
		},
		[]string{"reason"},
	)
)

// Init registers all metric collectors with the default Prometheus registry.
// Must be called once at startup before handling requests.
func Init() {
	prometheus.MustRegister(
		AttemptsTotal,
		RetriesTotal,
		ProviderDuration,
		CircuitState,
		CircuitTransitions,
		CircuitRejections,
		BatchesTotal,
		BatchDuration,
		ActiveBatches,
		LockEntries,
		LockTimeouts,
		LockSweepRemoved,
		AuthFailures,
	)
}

// Handler returns an http.Handler that serves the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
