// Package health provides health check and readiness probe HTTP handlers.
package health

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/salephoto/genflow-core/internal/circuitbreaker"
	"github.com/salephoto/genflow-core/internal/config"
)

// Pre-serialized liveness response avoids json.Encoder allocation.
var livenessBody = []byte(`{"status":"ok"}` + "\n")

// Handler provides /health and /ready endpoints.
type Handler struct {
	providers []config.ProviderConfig
	breakers  *circuitbreaker.Registry
	logger    *slog.Logger
}

// New creates a health check Handler backed by the breaker registry:
// breaker state is the service's view of provider availability, so
// readiness needs no probe traffic of its own.
func New(providers []config.ProviderConfig, breakers *circuitbreaker.Registry, logger *slog.Logger) *Handler {
	return &Handler{providers: providers, breakers: breakers, logger: logger}
}

// RegisterRoutes adds health check routes to the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.liveness)
	mux.HandleFunc("/ready", h.readiness)
}

func (h *Handler) liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(livenessBody)
}

// readiness reports per-endpoint breaker state. The service is not ready
// only when every configured provider's circuit is open — with one healthy
// provider it can still do useful partial work.
func (h *Handler) readiness(w http.ResponseWriter, r *http.Request) {
	type endpointStatus struct {
		Endpoint string `json:"endpoint"`
		Status   string `json:"status"`
	}

	endpoints := make([]endpointStatus, 0, len(h.providers))
	openCount := 0
	for _, p := range h.providers {
		st := h.breakers.For(p.Name).State()
		status := "ok"
		switch st {
		case circuitbreaker.StateOpen:
			status = "circuit-open"
			openCount++
		case circuitbreaker.StateHalfOpen:
			status = "circuit-half-open"
		}
		endpoints = append(endpoints, endpointStatus{Endpoint: p.Name, Status: status})
	}

	ready := openCount < len(h.providers)
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
		h.logger.Warn("readiness check failed, all provider circuits open")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
		"ready":     ready,
		"endpoints": endpoints,
	})
}
