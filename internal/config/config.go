// Package config provides YAML configuration loading with validation and
// environment variable substitution for the generation service.
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level service configuration.
type Config struct {
	Server    ServerConfig     `yaml:"server" json:"server"`
	Metrics   MetricsConfig    `yaml:"metrics" json:"metrics"`
	Logging   LoggingConfig    `yaml:"logging" json:"logging"`
	Auth      AuthConfig       `yaml:"auth" json:"auth"`
	Admin     AdminConfig      `yaml:"admin" json:"admin"`
	Locks     LockConfig       `yaml:"locks" json:"locks"`
	Batch     BatchConfig      `yaml:"batch" json:"batch"`
	Providers []ProviderConfig `yaml:"providers" json:"providers"`

	// Warnings holds non-fatal config issues detected during loading.
	// Stored on the Config itself (not a package-level var) so it is
	// safe to call Load concurrently from the hot-reload goroutine.
	Warnings []string `yaml:"-" json:"-"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port" json:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes" json:"max_body_bytes"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
// Enabled defaults to true; set to false to disable metrics.
type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

// IsEnabled returns whether metrics are enabled (defaults to true).
func (m MetricsConfig) IsEnabled() bool {
	if m.Enabled == nil {
		return true
	}
	return *m.Enabled
}

// LoggingConfig holds log output and rotation settings.
type LoggingConfig struct {
	Output     string `yaml:"output" json:"output"`           // "stdout", "stderr", or file path; default: "stdout"
	Level      string `yaml:"level" json:"level"`             // "debug", "info", "warn", "error"; default: "info"
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"` // max log file size before rotation; default: 100
	MaxBackups int    `yaml:"max_backups" json:"max_backups"` // number of rotated files to keep; default: 3
	MaxAgeDays int    `yaml:"max_age_days" json:"max_age_days"` // max days to retain rotated files; default: 30
}

// AuthConfig holds JWT authentication settings for the batch API.
type AuthConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	JWTSecret string `yaml:"jwt_secret" json:"jwt_secret"`
	Issuer    string `yaml:"issuer" json:"issuer"`
	Audience  string `yaml:"audience" json:"audience"`
}

// AdminConfig holds admin API settings.
type AdminConfig struct {
	Enabled     bool     `yaml:"enabled" json:"enabled"`           // default: false
	IPAllowlist []string `yaml:"ip_allowlist" json:"ip_allowlist"` // CIDR notation
}

// LockConfig holds the owner-lock policy.
type LockConfig struct {
	AcquireTimeout time.Duration `yaml:"acquire_timeout" json:"acquire_timeout"`
	IdleTTL        time.Duration `yaml:"idle_ttl" json:"idle_ttl"`
	SweepInterval  time.Duration `yaml:"sweep_interval" json:"sweep_interval"`
}

// BatchConfig holds batch execution limits.
type BatchConfig struct {
	OverallTimeout time.Duration `yaml:"overall_timeout" json:"overall_timeout"`
	MaxRequests    int           `yaml:"max_requests" json:"max_requests"`
}

// RetryConfig holds the retry policy for one provider.
type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts" json:"max_attempts"`
	BaseDelay         time.Duration `yaml:"base_delay" json:"base_delay"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier" json:"backoff_multiplier"`
	PerAttemptTimeout time.Duration `yaml:"per_attempt_timeout" json:"per_attempt_timeout"`
}

// CircuitConfig holds the circuit breaker policy for one provider.
type CircuitConfig struct {
	FailureThreshold int           `yaml:"failure_threshold" json:"failure_threshold"`
	Cooldown         time.Duration `yaml:"cooldown" json:"cooldown"`
}

// ProviderConfig defines one external generation endpoint.
type ProviderConfig struct {
	Name              string        `yaml:"name" json:"name"`
	URL               string        `yaml:"url" json:"url"`
	APIKey            string        `yaml:"api_key" json:"api_key"`
	Model             string        `yaml:"model" json:"model"`
	RequestsPerSecond float64       `yaml:"requests_per_second" json:"requests_per_second"`
	Burst             int           `yaml:"burst" json:"burst"`
	Retry             RetryConfig   `yaml:"retry" json:"retry"`
	Circuit           CircuitConfig `yaml:"circuit" json:"circuit"`
}

var envVarRe = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns in s with the corresponding
// environment variable value.
func expandEnvVars(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		key := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(key); ok {
			return val
		}
		return match
	})
}

// Load reads and parses a YAML configuration file, applies environment
// variable substitution, sets defaults, and validates the result.
// Warnings are stored on cfg.Warnings (goroutine-safe, no package-level state).
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes parses configuration from raw YAML bytes. Useful for testing.
func LoadFromBytes(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	cfg.Warnings = collectWarnings(&cfg)

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		// Batch submission is synchronous; the write timeout must outlive
		// the longest batch, not a typical request.
		cfg.Server.WriteTimeout = 5 * time.Minute
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = 20971520 // 20 MB; reference images travel in request bodies
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	// Logging defaults
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.MaxSizeMB == 0 {
		cfg.Logging.MaxSizeMB = 100
	}
	if cfg.Logging.MaxBackups == 0 {
		cfg.Logging.MaxBackups = 3
	}
	if cfg.Logging.MaxAgeDays == 0 {
		cfg.Logging.MaxAgeDays = 30
	}

	// Lock defaults
	if cfg.Locks.AcquireTimeout == 0 {
		cfg.Locks.AcquireTimeout = 5 * time.Second
	}
	if cfg.Locks.IdleTTL == 0 {
		cfg.Locks.IdleTTL = 10 * time.Minute
	}
	if cfg.Locks.SweepInterval == 0 {
		cfg.Locks.SweepInterval = 2 * time.Minute
	}

	// Batch defaults
	if cfg.Batch.OverallTimeout == 0 {
		cfg.Batch.OverallTimeout = 3 * time.Minute
	}
	if cfg.Batch.MaxRequests == 0 {
		cfg.Batch.MaxRequests = 8
	}

	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		if p.RequestsPerSecond == 0 {
			p.RequestsPerSecond = 5
		}
		if p.Burst == 0 {
			p.Burst = 5
		}
		if p.Retry.MaxAttempts == 0 {
			p.Retry.MaxAttempts = 3
		}
		if p.Retry.BaseDelay == 0 {
			p.Retry.BaseDelay = 2 * time.Second
		}
		if p.Retry.BackoffMultiplier == 0 {
			p.Retry.BackoffMultiplier = 2.0
		}
		if p.Retry.PerAttemptTimeout == 0 {
			p.Retry.PerAttemptTimeout = 15 * time.Second
		}
		if p.Circuit.FailureThreshold == 0 {
			p.Circuit.FailureThreshold = 5
		}
		if p.Circuit.Cooldown == 0 {
			p.Circuit.Cooldown = 60 * time.Second
		}
	}
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port)
	}
	if cfg.Server.MaxBodyBytes < 0 {
		return fmt.Errorf("server.max_body_bytes must be positive")
	}

	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error; got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Output != "stdout" && cfg.Logging.Output != "stderr" {
		if cfg.Logging.MaxSizeMB < 1 {
			return fmt.Errorf("logging.max_size_mb must be positive when output is a file path")
		}
	}

	if cfg.Auth.Enabled {
		if cfg.Auth.JWTSecret == "" {
			return fmt.Errorf("auth.jwt_secret is required when auth is enabled")
		}
		if cfg.Auth.Issuer == "" {
			return fmt.Errorf("auth.issuer is required when auth is enabled")
		}
		if cfg.Auth.Audience == "" {
			return fmt.Errorf("auth.audience is required when auth is enabled")
		}
	}

	if cfg.Admin.Enabled && len(cfg.Admin.IPAllowlist) == 0 {
		return fmt.Errorf("admin.ip_allowlist is required when admin is enabled")
	}
	for _, cidr := range cfg.Admin.IPAllowlist {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			return fmt.Errorf("admin.ip_allowlist: invalid CIDR %q", cidr)
		}
	}

	if cfg.Locks.AcquireTimeout <= 0 {
		return fmt.Errorf("locks.acquire_timeout must be positive")
	}
	if cfg.Locks.IdleTTL <= 0 {
		return fmt.Errorf("locks.idle_ttl must be positive")
	}
	if cfg.Locks.SweepInterval <= 0 {
		return fmt.Errorf("locks.sweep_interval must be positive")
	}

	if cfg.Batch.OverallTimeout <= 0 {
		return fmt.Errorf("batch.overall_timeout must be positive")
	}
	if cfg.Batch.MaxRequests < 1 {
		return fmt.Errorf("batch.max_requests must be positive")
	}

	if len(cfg.Providers) == 0 {
		return fmt.Errorf("at least one provider must be configured")
	}

	seen := make(map[string]bool)
	for i, p := range cfg.Providers {
		if p.Name == "" {
			return fmt.Errorf("providers[%d].name is required", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate provider name: %s", p.Name)
		}
		seen[p.Name] = true

		if p.URL == "" {
			return fmt.Errorf("providers[%d].url is required", i)
		}
		u, err := url.Parse(p.URL)
		if err != nil {
			return fmt.Errorf("providers[%d].url: invalid URL: %w", i, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("providers[%d].url: scheme must be http or https, got %q", i, u.Scheme)
		}
		if u.Host == "" {
			return fmt.Errorf("providers[%d].url: host is required", i)
		}

		if p.RequestsPerSecond <= 0 {
			return fmt.Errorf("providers[%d].requests_per_second must be positive", i)
		}
		if p.Burst < 1 {
			return fmt.Errorf("providers[%d].burst must be positive", i)
		}
		if p.Retry.MaxAttempts < 1 {
			return fmt.Errorf("providers[%d].retry.max_attempts must be at least 1", i)
		}
		if p.Retry.BaseDelay < 0 {
			return fmt.Errorf("providers[%d].retry.base_delay must be non-negative", i)
		}
		if p.Retry.BackoffMultiplier < 1 {
			return fmt.Errorf("providers[%d].retry.backoff_multiplier must be at least 1", i)
		}
		if p.Retry.PerAttemptTimeout <= 0 {
			return fmt.Errorf("providers[%d].retry.per_attempt_timeout must be positive", i)
		}
		if p.Circuit.FailureThreshold < 1 {
			return fmt.Errorf("providers[%d].circuit.failure_threshold must be at least 1", i)
		}
		if p.Circuit.Cooldown <= 0 {
			return fmt.Errorf("providers[%d].circuit.cooldown must be positive", i)
		}
	}

	return nil
}

func collectWarnings(cfg *Config) []string {
	var warnings []string
	if cfg.Auth.Enabled && strings.Contains(cfg.Auth.JWTSecret, "${") {
		warnings = append(warnings, "auth.jwt_secret contains unresolved environment variable")
	}
	for _, p := range cfg.Providers {
		if strings.Contains(p.APIKey, "${") {
			warnings = append(warnings, fmt.Sprintf("providers[%s].api_key contains unresolved environment variable", p.Name))
		}
	}
	return warnings
}

// Provider returns the provider config with the given name, or false when
// no such provider is configured.
func (c *Config) Provider(name string) (ProviderConfig, bool) {
	for _, p := range c.Providers {
		if p.Name == name {
			return p, true
		}
	}
	return ProviderConfig{}, false
}
