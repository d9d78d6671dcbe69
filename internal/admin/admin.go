// Package admin provides admin API endpoints for runtime inspection of
// service state: circuit breaker states, the owner-lock map, and the active
// configuration. All endpoints are protected by IP allowlist. Breaker reset
// is the one mutating operation, for operators confirming a provider has
// recovered before the cooldown elapses.
package admin

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"

	"github.com/salephoto/genflow-core/internal/circuitbreaker"
	"github.com/salephoto/genflow-core/internal/config"
	"github.com/salephoto/genflow-core/internal/keylock"
)

// Handler provides admin API endpoints.
type Handler struct {
	reloader    ConfigProvider
	breakers    *circuitbreaker.Registry
	locks       *keylock.Manager
	allowedNets []*net.IPNet
	logger      *slog.Logger
}

// ConfigProvider abstracts config access for testability.
type ConfigProvider interface {
	Current() *config.Config
}

// New creates a new admin Handler. The allowlist CIDRs must be pre-validated
// (config validation ensures this).
func New(
	reloader ConfigProvider,
	breakers *circuitbreaker.Registry,
	locks *keylock.Manager,
	allowlist []string,
	logger *slog.Logger,
) *Handler {
	nets := make([]*net.IPNet, 0, len(allowlist))
	for _, cidr := range allowlist {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			continue // already validated by config
		}
		nets = append(nets, ipNet)
	}
	return &Handler{
		reloader:    reloader,
		breakers:    breakers,
		locks:       locks,
		allowedNets: nets,
		logger:      logger,
	}
}

// RegisterRoutes adds admin routes to the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/admin/breakers", h.guard(http.MethodGet, h.breakersHandler))
	mux.HandleFunc("/admin/breakers/reset", h.guard(http.MethodPost, h.resetHandler))
	mux.HandleFunc("/admin/locks", h.guard(http.MethodGet, h.locksHandler))
	mux.HandleFunc("/admin/config", h.guard(http.MethodGet, h.configHandler))
}

// guard wraps a handler with method and IP allowlist checking.
func (h *Handler) guard(method string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			writeJSON(w, http.StatusMethodNotAllowed, map[string]string{
				"error": "Method Not Allowed",
			})
			return
		}

		ip := extractIP(r.RemoteAddr)
		if !h.isAllowed(ip) {
			h.logger.Warn("admin access denied", "client_ip", ip, "path", r.URL.Path)
			writeJSON(w, http.StatusForbidden, map[string]string{
				"error": "Forbidden",
			})
			return
		}
		next(w, r)
	}
}

func (h *Handler) isAllowed(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, n := range h.allowedNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func (h *Handler) breakersHandler(w http.ResponseWriter, r *http.Request) {
	type breakerView struct {
		Endpoint string `json:"endpoint"`
		State    string `json:"state"`
		Failures int    `json:"consecutive_failures"`
	}

	snapshot := h.breakers.Snapshot()
	views := make([]breakerView, len(snapshot))
	for i, s := range snapshot {
		views[i] = breakerView{Endpoint: s.Endpoint, State: s.State.String(), Failures: s.Failures}
	}
	writeJSON(w, http.StatusOK, map[string]any{"breakers": views})
}

func (h *Handler) resetHandler(w http.ResponseWriter, r *http.Request) {
	endpoint := r.URL.Query().Get("endpoint")
	if endpoint == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "endpoint query parameter is required",
		})
		return
	}

	cfg := h.reloader.Current()
	if _, ok := cfg.Provider(endpoint); !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "unknown endpoint: " + endpoint,
		})
		return
	}

	h.breakers.For(endpoint).Reset()
	h.logger.Info("circuit breaker reset via admin API",
		"endpoint", endpoint,
		"client_ip", extractIP(r.RemoteAddr),
	)
	writeJSON(w, http.StatusOK, map[string]string{
		"endpoint": endpoint,
		"state":    circuitbreaker.StateClosed.String(),
	})
}

func (h *Handler) locksHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"entries": h.locks.Len()})
}

// configHandler returns the active config with secrets redacted.
func (h *Handler) configHandler(w http.ResponseWriter, r *http.Request) {
	cfg := *h.reloader.Current()

	if cfg.Auth.JWTSecret != "" {
		cfg.Auth.JWTSecret = "[redacted]"
	}
	providers := make([]config.ProviderConfig, len(cfg.Providers))
	copy(providers, cfg.Providers)
	for i := range providers {
		if providers[i].APIKey != "" {
			providers[i].APIKey = "[redacted]"
		}
	}
	cfg.Providers = providers

	writeJSON(w, http.StatusOK, cfg)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func extractIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
