// Package orchestrator coordinates one generation batch: it serializes work
// per owner, fans requests out through the per-endpoint circuit breakers and
// the retry executor, and fans results back in as an order-preserving
// partial-success outcome. Individual request failures never abort sibling
// requests; the only global abort is the batch deadline.
package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/salephoto/genflow-core/internal/circuitbreaker"
	"github.com/salephoto/genflow-core/internal/fault"
	"github.com/salephoto/genflow-core/internal/keylock"
	"github.com/salephoto/genflow-core/internal/metrics"
	"github.com/salephoto/genflow-core/internal/provider"
	"github.com/salephoto/genflow-core/internal/retry"
)

// Request is one generation call to perform. Immutable, supplied by the caller.
type Request struct {
	ID       string
	Endpoint string
	Payload  []byte
}

// Result is the terminal outcome of one request.
type Result struct {
	RequestID string
	Success   bool
	Value     []byte
	Kind      fault.Kind // meaningful only when Success is false
	Err       error      // nil when Success is true
	Attempts  int
}

// BatchResult is the reconciled outcome of one batch. Results preserve the
// input request order regardless of completion order. Immutable after return.
type BatchResult struct {
	OwnerKey       string
	Results        []Result
	SuccessCount   int
	OverallSuccess bool
	Elapsed        time.Duration
}

// Sink receives every completed batch outcome for persistence or
// notification. Partial successes are delivered as such, never upgraded
// or downgraded.
type Sink interface {
	Deliver(ctx context.Context, batch BatchResult)
}

// LogSink is the default Sink: it records batch outcomes in the service log.
type LogSink struct {
	Logger *slog.Logger
}

// Deliver implements Sink.
func (s *LogSink) Deliver(_ context.Context, batch BatchResult) {
	s.Logger.Info("batch completed",
		"owner", batch.OwnerKey,
		"requests", len(batch.Results),
		"succeeded", batch.SuccessCount,
		"overall_success", batch.OverallSuccess,
		"elapsed", batch.Elapsed,
	)
}

// InvokerSource resolves endpoint names to provider Invokers. Satisfied by
// *provider.Registry.
type InvokerSource interface {
	Get(name string) (provider.Invoker, bool)
}

// Orchestrator runs generation batches.
type Orchestrator struct {
	locks     *keylock.Manager
	breakers  *circuitbreaker.Registry
	exec      *retry.Executor
	providers InvokerSource
	policies  map[string]retry.Policy
	sink      Sink

	defaultTimeout time.Duration
	logger         *slog.Logger
}

// New creates an Orchestrator. policies maps endpoint names to their retry
// policies; defaultTimeout bounds batches whose callers pass no deadline.
func New(
	locks *keylock.Manager,
	breakers *circuitbreaker.Registry,
	exec *retry.Executor,
	providers InvokerSource,
	policies map[string]retry.Policy,
	sink Sink,
	defaultTimeout time.Duration,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		locks:          locks,
		breakers:       breakers,
		exec:           exec,
		providers:      providers,
		policies:       policies,
		sink:           sink,
		defaultTimeout: defaultTimeout,
		logger:         logger,
	}
}

type indexedResult struct {
	idx int
	res Result
}

// Run executes requests for ownerKey and returns the reconciled batch
// outcome. A second Run for the same owner while one is in flight fails
// fast with a lock-timeout error; that is the only error Run returns —
// every per-request failure is a Result inside the BatchResult.
func (o *Orchestrator) Run(ctx context.Context, ownerKey string, requests []Request, overallTimeout time.Duration) (BatchResult, error) {
	guard, err := o.locks.Acquire(ctx, ownerKey)
	if err != nil {
		metrics.BatchesTotal.WithLabelValues("lock_timeout").Inc()
		o.logger.Warn("batch rejected, owner busy", "owner", ownerKey, "error", err)
		return BatchResult{}, err
	}
	defer guard.Release()

	if overallTimeout <= 0 {
		overallTimeout = o.defaultTimeout
	}
	bctx, cancel := context.WithTimeout(ctx, overallTimeout)
	defer cancel()

	metrics.ActiveBatches.Inc()
	defer metrics.ActiveBatches.Dec()
	start := time.Now()

	o.logger.Info("batch started",
		"owner", ownerKey,
		"requests", len(requests),
		"timeout", overallTimeout,
	)

	// Fan out. Workers send into a buffered channel so late finishers
	// after a batch timeout never block or leak.
	ch := make(chan indexedResult, len(requests))
	for i, req := range requests {
		go o.executeOne(bctx, i, req, ch)
	}

	// Fan in, writing each result into its input-order slot.
	results := make([]Result, len(requests))
	filled := make([]bool, len(requests))
	pending := len(requests)
collect:
	for pending > 0 {
		select {
		case ir := <-ch:
			results[ir.idx] = ir.res
			filled[ir.idx] = true
			pending--
		case <-bctx.Done():
			break collect
		}
	}

	// Requests still running at the deadline are cancelled via bctx;
	// their slots are marked with the timeout kind. The in-flight
	// provider call may keep consuming upstream resources briefly —
	// cancellation on the provider side is best-effort.
	for i := range results {
		if !filled[i] {
			results[i] = Result{
				RequestID: requests[i].ID,
				Kind:      fault.KindBatchTimeout,
				Err:       fault.Wrap(fault.KindBatchTimeout, "batch deadline exceeded", bctx.Err()),
			}
		}
	}

	successCount := 0
	for _, r := range results {
		if r.Success {
			successCount++
		}
	}

	batch := BatchResult{
		OwnerKey:       ownerKey,
		Results:        results,
		SuccessCount:   successCount,
		OverallSuccess: successCount > 0,
		Elapsed:        time.Since(start),
	}

	switch {
	case successCount == len(requests):
		metrics.BatchesTotal.WithLabelValues("success").Inc()
	case successCount > 0:
		metrics.BatchesTotal.WithLabelValues("partial").Inc()
	default:
		metrics.BatchesTotal.WithLabelValues("failure").Inc()
	}
	metrics.BatchDuration.Observe(batch.Elapsed.Seconds())

	// Release before delivering so the owner can submit again while the
	// sink persists or notifies.
	guard.Release()
	o.sink.Deliver(ctx, batch)

	return batch, nil
}

// executeOne runs a single request: circuit gate, then the retry executor.
func (o *Orchestrator) executeOne(ctx context.Context, idx int, req Request, ch chan<- indexedResult) {
	inv, ok := o.providers.Get(req.Endpoint)
	if !ok {
		ch <- indexedResult{idx, Result{
			RequestID: req.ID,
			Kind:      fault.KindPermanent,
			Err:       fault.New(fault.KindPermanent, "unknown endpoint "+req.Endpoint),
		}}
		return
	}

	breaker := o.breakers.For(req.Endpoint)
	if !breaker.Allow() {
		ch <- indexedResult{idx, Result{
			RequestID: req.ID,
			Kind:      fault.KindCircuitOpen,
			Err:       fault.New(fault.KindCircuitOpen, "circuit open for endpoint "+req.Endpoint),
		}}
		return
	}

	policy := o.policies[req.Endpoint]
	value, attempts, err := o.exec.Execute(ctx, req.Endpoint, breaker, func(c context.Context) ([]byte, error) {
		return inv.Invoke(c, req.Payload)
	}, policy)

	if err != nil {
		ch <- indexedResult{idx, Result{
			RequestID: req.ID,
			Kind:      fault.KindOf(err),
			Err:       err,
			Attempts:  attempts,
		}}
		return
	}

	ch <- indexedResult{idx, Result{
		RequestID: req.ID,
		Success:   true,
		Value:     value,
		Attempts:  attempts,
	}}
}
