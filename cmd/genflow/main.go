// Package main is the entry point for the genflow service. It loads
// configuration, assembles the resilience pipeline and middleware stack,
// starts the HTTP server, and handles graceful shutdown on SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/salephoto/genflow-core/internal/admin"
	"github.com/salephoto/genflow-core/internal/api"
	"github.com/salephoto/genflow-core/internal/auth"
	"github.com/salephoto/genflow-core/internal/circuitbreaker"
	"github.com/salephoto/genflow-core/internal/config"
	"github.com/salephoto/genflow-core/internal/health"
	"github.com/salephoto/genflow-core/internal/keylock"
	"github.com/salephoto/genflow-core/internal/logging"
	"github.com/salephoto/genflow-core/internal/metrics"
	"github.com/salephoto/genflow-core/internal/middleware"
	"github.com/salephoto/genflow-core/internal/orchestrator"
	"github.com/salephoto/genflow-core/internal/photoshoot"
	"github.com/salephoto/genflow-core/internal/provider"
	"github.com/salephoto/genflow-core/internal/retry"
)

func main() {
	configPath := flag.String("config", "configs/genflow.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser, err := logging.Setup(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	if logCloser != nil {
		defer logCloser.Close()
	}

	for _, w := range cfg.Warnings {
		logger.Warn("config warning", "message", w)
	}

	logger.Info("configuration loaded",
		"port", cfg.Server.Port,
		"providers", len(cfg.Providers),
		"auth_enabled", cfg.Auth.Enabled,
		"metrics_enabled", cfg.Metrics.IsEnabled(),
		"batch_max_requests", cfg.Batch.MaxRequests,
		"max_body_bytes", cfg.Server.MaxBodyBytes,
	)

	if cfg.Metrics.IsEnabled() {
		metrics.Init()
	}

	// Per-owner locks with background idle sweep.
	locks := keylock.New(keylock.Config{
		AcquireTimeout: cfg.Locks.AcquireTimeout,
		IdleTTL:        cfg.Locks.IdleTTL,
		SweepInterval:  cfg.Locks.SweepInterval,
	}, logger)
	defer locks.Stop()

	// One breaker and one retry policy per configured provider endpoint.
	breakerConfigs := make(map[string]circuitbreaker.Config, len(cfg.Providers))
	policies := make(map[string]retry.Policy, len(cfg.Providers))
	for _, p := range cfg.Providers {
		breakerConfigs[p.Name] = circuitbreaker.Config{
			FailureThreshold: p.Circuit.FailureThreshold,
			Cooldown:         p.Circuit.Cooldown,
		}
		policies[p.Name] = retry.Policy{
			MaxAttempts:       p.Retry.MaxAttempts,
			BaseDelay:         p.Retry.BaseDelay,
			BackoffMultiplier: p.Retry.BackoffMultiplier,
			PerAttemptTimeout: p.Retry.PerAttemptTimeout,
		}
	}
	breakers := circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig, breakerConfigs, logger)

	providers := provider.NewRegistry(cfg.Providers, logger)
	exec := retry.NewExecutor(logger)

	orch := orchestrator.New(locks, breakers, exec, providers,
		policies, &orchestrator.LogSink{Logger: logger}, cfg.Batch.OverallTimeout, logger)

	// The photoshoot pipeline needs a "prompt" and an "image" provider;
	// without them only the raw batch API is served.
	var shoots *photoshoot.Service
	promptCfg, hasPrompt := cfg.Provider("prompt")
	imageCfg, hasImage := cfg.Provider("image")
	if hasPrompt && hasImage {
		shoots = photoshoot.New(orch, promptCfg, imageCfg, cfg.Batch.OverallTimeout, logger)
	} else {
		logger.Warn("photoshoot pipeline disabled: requires providers named \"prompt\" and \"image\"")
	}

	apiHandler := api.New(orch, shoots, providers, cfg.Batch, logger)
	apiMux := http.NewServeMux()
	apiHandler.RegisterRoutes(apiMux)

	requiresAuth := func(path string) bool {
		return strings.HasPrefix(path, "/v1/")
	}

	// Assemble middleware stack:
	// Recovery → RequestID → Logging → BodyLimit → Auth → API
	var handler http.Handler = apiMux
	handler = auth.Middleware(cfg.Auth, requiresAuth, logger)(handler)
	handler = middleware.BodyLimit(cfg.Server.MaxBodyBytes)(handler)
	handler = middleware.Logging(logger, nil)(handler)
	handler = middleware.RequestID(handler)
	handler = middleware.Recovery(logger)(handler)

	// Health, metrics, and admin endpoints bypass the middleware stack.
	mux := http.NewServeMux()
	healthHandler := health.New(cfg.Providers, breakers, logger)
	healthHandler.RegisterRoutes(mux)

	metricsPath := cfg.Metrics.Path
	if cfg.Metrics.IsEnabled() {
		mux.Handle(metricsPath, metrics.Handler())
		logger.Info("metrics endpoint registered", "path", metricsPath)
	}

	reloader := config.NewReloader(*configPath, cfg, logger)
	reloader.Start()
	defer reloader.Stop()

	// Hot reload applies provider rate-limit changes; everything else
	// requires a restart.
	reloader.OnReload(func(newCfg *config.Config) {
		providers.UpdateRates(newCfg.Providers)
	})

	if cfg.Admin.Enabled {
		adminHandler := admin.New(reloader, breakers, locks, cfg.Admin.IPAllowlist, logger)
		adminHandler.RegisterRoutes(mux)
		logger.Info("admin endpoints registered", "allowlist", cfg.Admin.IPAllowlist)
	}

	combined := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/health") ||
			strings.HasPrefix(r.URL.Path, "/ready") ||
			strings.HasPrefix(r.URL.Path, "/admin/") ||
			(cfg.Metrics.IsEnabled() && r.URL.Path == metricsPath) {
			mux.ServeHTTP(w, r)
			return
		}
		handler.ServeHTTP(w, r)
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      combined,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("starting genflow", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info("shutdown signal received", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	logger.Info("draining in-flight batches", "timeout", cfg.Server.ShutdownTimeout)
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("forced shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("genflow stopped gracefully")
}
