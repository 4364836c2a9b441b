package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const defaultBackendURL = "https://business-card-scanner-backend.onrender.com"

// RateLimitConfig indicates how many requests are allowed within a given interval.
type RateLimitConfig struct {
	Requests int
	Interval time.Duration
}

// BackendConfig holds everything needed to reach the remote card store.
type BackendConfig struct {
	BaseURL       string
	ListTimeout   time.Duration
	WriteTimeout  time.Duration
	UploadTimeout time.Duration
	MaxRetries    int
	UseIDToken    bool
}

// Config aggregates application-wide configuration values.
type Config struct {
	Port            string
	DatabaseURL     string
	LogLevel        string
	PhoneRegion     string
	SaveConcurrency int
	Backend         BackendConfig
	RateLimitUpload RateLimitConfig
}

// Load reads configuration from environment variables and applies sane defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		LogLevel:    strings.ToLower(getEnv("LOG_LEVEL", "info")),
		PhoneRegion: strings.ToUpper(getEnv("PHONE_REGION", "IN")),
		Backend: BackendConfig{
			BaseURL:       strings.TrimRight(getEnv("BACKEND_URL", defaultBackendURL), "/"),
			ListTimeout:   parseDuration(getEnv("BACKEND_LIST_TIMEOUT", "20s"), 20*time.Second),
			WriteTimeout:  parseDuration(getEnv("BACKEND_WRITE_TIMEOUT", "30s"), 30*time.Second),
			UploadTimeout: parseDuration(getEnv("BACKEND_UPLOAD_TIMEOUT", "120s"), 120*time.Second),
			UseIDToken:    parseBool(getEnv("BACKEND_ID_TOKEN", "false")),
		},
	}

	retries, err := parseNonNegative(getEnv("BACKEND_MAX_RETRIES", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid BACKEND_MAX_RETRIES value: %w", err)
	}
	cfg.Backend.MaxRetries = retries

	concurrency, err := parseNonNegative(getEnv("SAVE_CONCURRENCY", "1"))
	if err != nil {
		return nil, fmt.Errorf("invalid SAVE_CONCURRENCY value: %w", err)
	}
	if concurrency == 0 {
		concurrency = 1
	}
	cfg.SaveConcurrency = concurrency

	rl, err := parseRateLimit(getEnv("RATE_LIMIT_UPLOAD", "10/min"))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_UPLOAD value: %w", err)
	}
	cfg.RateLimitUpload = rl

	return cfg, nil
}

func parseRateLimit(value string) (RateLimitConfig, error) {
	parts := strings.Split(value, "/")
	if len(parts) != 2 {
		return RateLimitConfig{}, fmt.Errorf("expected format <requests>/<interval>, got %q", value)
	}

	requests, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || requests <= 0 {
		return RateLimitConfig{}, fmt.Errorf("invalid request count: %v", parts[0])
	}

	unit := strings.ToLower(strings.TrimSpace(parts[1]))
	var interval time.Duration
	switch unit {
	case "s", "sec", "second", "seconds":
		interval = time.Second
	case "m", "min", "minute", "minutes":
		interval = time.Minute
	case "h", "hr", "hour", "hours":
		interval = time.Hour
	default:
		return RateLimitConfig{}, fmt.Errorf("unsupported interval unit: %s", unit)
	}

	return RateLimitConfig{Requests: requests, Interval: interval}, nil
}

func parseNonNegative(value string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", value)
	}
	if n < 0 {
		return 0, fmt.Errorf("must not be negative: %d", n)
	}
	return n, nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

// parseDuration falls back when the input is malformed or not positive; every
// backend call must carry a finite timeout.
func parseDuration(input string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(input)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func parseBool(input string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(input))
	return err == nil && b
}
