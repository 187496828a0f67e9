package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// EnvBackendURL overrides Backend.URL when set.
const EnvBackendURL = "MINICHAT_BACKEND_URL"

// MaxRetriesLimit bounds request.max_retries; the backoff doubles per retry.
const MaxRetriesLimit = 10

// Config represents the global ~/.minichat/config.toml.
type Config struct {
	DefaultSession string        `toml:"default_session"`
	LogLevel       string        `toml:"log_level"`
	SentryDSN      string        `toml:"sentry_dsn"`
	Backend        BackendConfig `toml:"backend"`
	Proxy          ProxyConfig   `toml:"proxy"`
	Request        RequestConfig `toml:"request"`
}

// BackendConfig locates the completion backend the proxy forwards to.
type BackendConfig struct {
	URL string `toml:"url"`
}

// ProxyConfig configures the local HTTP proxy.
type ProxyConfig struct {
	Addr           string  `toml:"addr"`
	RateLimitRPS   float64 `toml:"rate_limit_rps"`
	RateLimitBurst int     `toml:"rate_limit_burst"`
}

// RequestConfig tunes request timing. All values are milliseconds.
type RequestConfig struct {
	AttemptTimeoutMs int `toml:"attempt_timeout_ms"`
	MaxRetries       int `toml:"max_retries"`
	BaseBackoffMs    int `toml:"base_backoff_ms"`
	SuccessRevertMs  int `toml:"success_revert_ms"`
	FailureRevertMs  int `toml:"failure_revert_ms"`
}

func (r RequestConfig) AttemptTimeout() time.Duration {
	return time.Duration(r.AttemptTimeoutMs) * time.Millisecond
}

func (r RequestConfig) BaseBackoff() time.Duration {
	return time.Duration(r.BaseBackoffMs) * time.Millisecond
}

func (r RequestConfig) SuccessRevert() time.Duration {
	return time.Duration(r.SuccessRevertMs) * time.Millisecond
}

func (r RequestConfig) FailureRevert() time.Duration {
	return time.Duration(r.FailureRevertMs) * time.Millisecond
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		DefaultSession: "main",
		LogLevel:       "info",
		Backend:        BackendConfig{URL: "http://localhost:8080"},
		Proxy: ProxyConfig{
			Addr:           "127.0.0.1:3000",
			RateLimitRPS:   5,
			RateLimitBurst: 10,
		},
		Request: RequestConfig{
			AttemptTimeoutMs: 12000,
			MaxRetries:       3,
			BaseBackoffMs:    1000,
			SuccessRevertMs:  100,
			FailureRevertMs:  5000,
		},
	}
}

// Load reads config from path on top of the defaults. Returns an error if
// the file is missing or malformed.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault is Load, except a missing file yields the defaults. The
// environment override is applied in both cases.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err = Default(), nil
	}
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// ApplyEnv applies environment overrides.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvBackendURL); v != "" {
		c.Backend.URL = v
	}
}

// Validate rejects values no component can run with.
func (c *Config) Validate() error {
	switch {
	case c.Backend.URL == "":
		return errors.New("backend.url must be set")
	case c.Proxy.Addr == "":
		return errors.New("proxy.addr must be set")
	case c.Request.AttemptTimeoutMs <= 0:
		return errors.New("request.attempt_timeout_ms must be positive")
	case c.Request.MaxRetries < 0:
		return errors.New("request.max_retries must not be negative")
	case c.Request.MaxRetries > MaxRetriesLimit:
		return fmt.Errorf("request.max_retries must be at most %d", MaxRetriesLimit)
	case c.Request.BaseBackoffMs <= 0:
		return errors.New("request.base_backoff_ms must be positive")
	}
	return nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
