// Package provider contains the adapters for the external generation
// endpoints. Each adapter turns one opaque payload into one HTTP call,
// classifies failures as transient or permanent, and rate-limits outbound
// requests so a fanned-out batch cannot amplify load on a degraded upstream.
package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"github.com/salephoto/genflow-core/internal/config"
	"github.com/salephoto/genflow-core/internal/fault"
)

// Invoker performs one generation call attempt. Errors are classified via
// the fault package: 5xx, 429, timeouts, and network errors are transient;
// other 4xx responses are permanent.
type Invoker interface {
	Name() string
	Invoke(ctx context.Context, payload []byte) ([]byte, error)
}

// maxResponseBytes bounds how much of an upstream response is read.
// Generated images arrive base64-encoded inside JSON, so this is generous.
const maxResponseBytes = 64 << 20 // 64 MB

// Client is an HTTP Invoker for one configured endpoint.
type Client struct {
	name       string
	url        string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewClient creates a Client for the given provider configuration.
// Per-attempt deadlines come from the caller's context, so the underlying
// http.Client carries no timeout of its own.
func NewClient(cfg config.ProviderConfig, logger *slog.Logger) *Client {
	return &Client{
		name:       cfg.Name,
		url:        cfg.URL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		logger:     logger,
	}
}

// Name returns the endpoint name this client serves.
func (c *Client) Name() string { return c.name }

// Invoke posts payload to the endpoint and returns the raw response body.
func (c *Client) Invoke(ctx context.Context, payload []byte) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fault.Transient("rate limiter wait aborted", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fault.Permanent("building provider request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fault.Transient("provider call timed out", err)
		}
		return nil, fault.Transient("provider unreachable", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fault.Transient("reading provider response", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		c.logger.Warn("provider returned retryable status",
			"endpoint", c.name,
			"status", resp.StatusCode,
		)
		return nil, fault.Transient(fmt.Sprintf("provider returned %d", resp.StatusCode), nil)
	default:
		c.logger.Warn("provider rejected request",
			"endpoint", c.name,
			"status", resp.StatusCode,
			"body", truncate(body, 200),
		)
		return nil, fault.Permanent(fmt.Sprintf("provider returned %d", resp.StatusCode), nil)
	}
}

// SetRate hot-reloads the outbound rate limit.
func (c *Client) SetRate(rps float64, burst int) {
	c.limiter.SetLimit(rate.Limit(rps))
	c.limiter.SetBurst(burst)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// Registry maps endpoint names to their Invokers.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

// NewRegistry builds a Registry from the configured providers.
func NewRegistry(cfgs []config.ProviderConfig, logger *slog.Logger) *Registry {
	clients := make(map[string]*Client, len(cfgs))
	for _, cfg := range cfgs {
		clients[cfg.Name] = NewClient(cfg, logger)
	}
	return &Registry{clients: clients}
}

// Get returns the Invoker for the given endpoint name.
func (r *Registry) Get(name string) (Invoker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[name]
	return c, ok
}

// Has reports whether an endpoint with the given name is configured.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.clients[name]
	return ok
}

// UpdateRates applies hot-reloaded rate limits to existing clients.
// Providers added or removed by a reload require a restart; only limits
// change live.
func (r *Registry) UpdateRates(cfgs []config.ProviderConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cfg := range cfgs {
		if c, ok := r.clients[cfg.Name]; ok {
			c.SetRate(cfg.RequestsPerSecond, cfg.Burst)
		}
	}
}
