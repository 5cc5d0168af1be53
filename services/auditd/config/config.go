package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	telemetry "lendledger/observability/otel"
	"lendledger/storage/backend"
)

// Config captures the runtime settings for the audit daemon.
type Config struct {
	ListenAddress     string            `yaml:"listen"`
	ShutdownTimeout   time.Duration     `yaml:"shutdown_timeout"`
	Storage           backend.Config    `yaml:"storage"`
	Auth              AuthConfig        `yaml:"auth"`
	RateLimit         RateLimitConfig   `yaml:"rate_limit"`
	Participants      map[string]string `yaml:"participants"`
	Log               LogConfig         `yaml:"log"`
	Telemetry         telemetry.Config  `yaml:"telemetry"`
	// TrustProxyHeaders keys clients on X-Forwarded-For or X-Real-IP. Only
	// set it behind a proxy that overwrites those headers.
	TrustProxyHeaders bool `yaml:"trust_proxy_headers"`
}

// AuthConfig configures admin bearer token verification.
type AuthConfig struct {
	Disabled   bool          `yaml:"disabled"`
	HMACSecret string        `yaml:"hmac_secret"`
	SecretEnv  string        `yaml:"secret_env"`
	Issuer     string        `yaml:"issuer"`
	Audience   string        `yaml:"audience"`
	RoleClaim  string        `yaml:"role_claim"`
	AdminRole  string        `yaml:"admin_role"`
	ClockSkew  time.Duration `yaml:"clock_skew"`
}

// RateLimitConfig bounds how often one client may run a full validation.
type RateLimitConfig struct {
	ValidatePerMinute float64 `yaml:"validate_per_minute"`
	Burst             int     `yaml:"burst"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Load reads the YAML configuration from disk and validates the result.
func Load(path string) (Config, error) {
	if strings.TrimSpace(path) == "" {
		return Config{}, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns a configuration suitable for local development.
func Default() Config {
	cfg := Config{}
	cfg.normalize()
	return cfg
}

func (cfg *Config) normalize() {
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":8090"
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	cfg.Storage.Normalize()
	cfg.Auth.normalize()
	if cfg.RateLimit.ValidatePerMinute <= 0 {
		cfg.RateLimit.ValidatePerMinute = 6
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 2
	}
	participants := make(map[string]string, len(cfg.Participants))
	for id, name := range cfg.Participants {
		if id = strings.TrimSpace(id); id != "" {
			participants[id] = strings.TrimSpace(name)
		}
	}
	cfg.Participants = participants
}

func (a *AuthConfig) normalize() {
	if env := strings.TrimSpace(a.SecretEnv); env != "" && strings.TrimSpace(a.HMACSecret) == "" {
		a.HMACSecret = os.Getenv(env)
	}
	a.HMACSecret = strings.TrimSpace(a.HMACSecret)
	if a.RoleClaim == "" {
		a.RoleClaim = "role"
	}
	if a.AdminRole == "" {
		a.AdminRole = "admin"
	}
	if a.ClockSkew <= 0 {
		a.ClockSkew = time.Minute
	}
}

func (cfg Config) validate() error {
	if err := cfg.Storage.Validate(); err != nil {
		return err
	}
	if !cfg.Auth.Disabled && cfg.Auth.HMACSecret == "" {
		return fmt.Errorf("auth: hmac_secret or secret_env must be set unless auth is disabled")
	}
	if !cfg.Auth.Disabled && len(cfg.Auth.HMACSecret) < 32 {
		return fmt.Errorf("auth: hmac secret must be at least 32 bytes")
	}
	return nil
}
