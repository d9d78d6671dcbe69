package circuitbreaker

import (
	"log/slog"
	"sort"
	"sync"
)

// Registry holds one breaker per logical endpoint. Breakers are created
// lazily on first use so configuration stays the single source of endpoint
// names, and the same instance is always returned for a given endpoint.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	defaults Config
	configs  map[string]Config
	logger   *slog.Logger
}

// NewRegistry creates a Registry. configs carries per-endpoint overrides;
// endpoints without an entry use defaults.
func NewRegistry(defaults Config, configs map[string]Config, logger *slog.Logger) *Registry {
	return &Registry{
		breakers: make(map[string]*Breaker),
		defaults: defaults,
		configs:  configs,
		logger:   logger,
	}
}

// For returns the breaker for the given endpoint, creating it if needed.
func (r *Registry) For(endpoint string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[endpoint]; ok {
		return b
	}

	cfg := r.defaults
	if c, ok := r.configs[endpoint]; ok {
		cfg = c
	}
	b := New(endpoint, cfg, r.logger)
	r.breakers[endpoint] = b
	return b
}

// Snapshot returns the current state of every known breaker, sorted by
// endpoint name. Used by the health and admin endpoints.
func (r *Registry) Snapshot() []EndpointState {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]EndpointState, 0, len(r.breakers))
	for name, b := range r.breakers {
		out = append(out, EndpointState{
			Endpoint: name,
			State:    b.State(),
			Failures: b.Failures(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Endpoint < out[j].Endpoint })
	return out
}

// EndpointState is a point-in-time view of one endpoint's breaker.
type EndpointState struct {
	Endpoint string `json:"endpoint"`
	State    State  `json:"-"`
	Failures int    `json:"consecutive_failures"`
}
