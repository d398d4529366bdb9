package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// KeyLimits holds the per-dimension ceilings for one API key, each
// measured over the same sliding window (WindowSeconds).
type KeyLimits struct {
	InputTokensPerWindow  int64 `yaml:"input_tokens_per_window"`
	OutputTokensPerWindow int64 `yaml:"output_tokens_per_window"`
	RequestsPerWindow     int64 `yaml:"requests_per_window"`
}

// keysFile is the on-disk shape of GATEWAY_KEYS_FILE.
type keysFile struct {
	Keys map[string]KeyLimits `yaml:"keys"`
}

// Config holds all gateway configuration values.
type Config struct {
	// Server
	Addr            string
	Env             string
	GracefulTimeout time.Duration

	// Redis coordination store
	RedisURL     string
	StoreTimeout time.Duration

	// Authentication
	APIKeyHeader string
	Keys         map[string]KeyLimits

	// Sliding window tuning (quota engine)
	SegmentSeconds          int64
	WindowSeconds           int64
	SweepInterval           time.Duration
	SweepDeadline           time.Duration
	DefaultMaxTokensReserve int64
	FailOpenOnStoreError    bool

	// Upstream
	UpstreamBaseURL string
	UpstreamAPIKey  string
	UpstreamTimeout time.Duration

	// Body limits
	MaxBodyBytes int64

	// Logging
	LogLevel string

	// Metrics
	MetricsEnabled bool
}

// Load reads configuration from environment variables, an optional
// .env file, and an optional YAML keys file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	gracefulSec := getEnvInt("GATEWAY_GRACEFUL_TIMEOUT_SEC", 15)
	storeTimeoutMs := getEnvInt("STORE_TIMEOUT_MS", 200)
	sweepIntervalSec := getEnvInt("SWEEP_INTERVAL_SECONDS", 10)
	sweepDeadlineSec := getEnvInt("SWEEP_DEADLINE_SECONDS", 60)
	upstreamTimeoutSec := getEnvInt("UPSTREAM_TIMEOUT_SECONDS", 120)

	cfg := &Config{
		Addr:                    getEnv("GATEWAY_ADDR", ":8080"),
		Env:                     getEnv("ENV", "development"),
		GracefulTimeout:         time.Duration(gracefulSec) * time.Second,
		RedisURL:                getEnv("REDIS_URL", "redis://redis:6379"),
		StoreTimeout:            time.Duration(storeTimeoutMs) * time.Millisecond,
		APIKeyHeader:            getEnv("API_KEY_HEADER", "Authorization"),
		SegmentSeconds:          int64(getEnvInt("SEGMENT_SECONDS", 1)),
		WindowSeconds:           int64(getEnvInt("WINDOW_SECONDS", 60)),
		SweepInterval:           time.Duration(sweepIntervalSec) * time.Second,
		SweepDeadline:           time.Duration(sweepDeadlineSec) * time.Second,
		DefaultMaxTokensReserve: int64(getEnvInt("DEFAULT_MAX_TOKENS_RESERVE", 1024)),
		FailOpenOnStoreError:    getEnvBool("FAIL_OPEN_ON_STORE_ERROR", false),
		UpstreamBaseURL:         getEnv("UPSTREAM_BASE_URL", ""),
		UpstreamAPIKey:          getEnv("UPSTREAM_API_KEY", ""),
		UpstreamTimeout:         time.Duration(upstreamTimeoutSec) * time.Second,
		MaxBodyBytes:            int64(getEnvInt("GATEWAY_MAX_BODY_BYTES", 1*1024*1024)),
		LogLevel:                getEnv("LOG_LEVEL", "info"),
		MetricsEnabled:          getEnvBool("METRICS_ENABLED", true),
	}

	keys, err := loadKeys(getEnv("GATEWAY_KEYS_FILE", ""))
	if err != nil {
		return nil, err
	}
	cfg.Keys = keys

	return cfg, nil
}

func loadKeys(path string) (map[string]KeyLimits, error) {
	if path == "" {
		return map[string]KeyLimits{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keys file: %w", err)
	}
	var kf keysFile
	if err := yaml.Unmarshal(raw, &kf); err != nil {
		return nil, fmt.Errorf("parse keys file: %w", err)
	}
	if kf.Keys == nil {
		kf.Keys = map[string]KeyLimits{}
	}
	return kf.Keys, nil
}

// LimitsFor returns the configured limits for an API key and whether the
// key is known.
func (c *Config) LimitsFor(key string) (KeyLimits, bool) {
	l, ok := c.Keys[key]
	return l, ok
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
