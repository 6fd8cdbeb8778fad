package ratelimit

import (
	"os"
	"strconv"
	"time"
)

// EndpointConfig holds rate limiting parameters for one endpoint. Path
// matching supports prefix matching for patterns ending in "/".
type EndpointConfig struct {
	Path   string
	Method string
	Limit  int           // Requests per window; 0 means unlimited
	Window time.Duration // Refill window
	Burst  int           // Burst capacity, defaults to Limit
}

// Config holds rate limiting configuration.
type Config struct {
	Enabled         bool
	DefaultLimit    int
	DefaultWindow   time.Duration
	CleanupInterval time.Duration
	EndpointConfigs []EndpointConfig
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		Enabled:         true,
		DefaultLimit:    300,
		DefaultWindow:   time.Minute,
		CleanupInterval: 5 * time.Minute,
		EndpointConfigs: DefaultEndpointConfigs(),
	}
}

// LoadConfig loads rate limiting configuration from environment variables.
func LoadConfig() *Config {
	if !getEnvBool("RATE_LIMIT_ENABLED", true) {
		return &Config{Enabled: false}
	}

	return &Config{
		Enabled:         true,
		DefaultLimit:    getEnvInt("RATE_LIMIT_DEFAULT_LIMIT", 300),
		DefaultWindow:   getEnvDuration("RATE_LIMIT_DEFAULT_WINDOW", time.Minute),
		CleanupInterval: getEnvDuration("RATE_LIMIT_CLEANUP_INTERVAL", 5*time.Minute),
		EndpointConfigs: DefaultEndpointConfigs(),
	}
}

// DefaultEndpointConfigs returns the per-endpoint limits. Run starts spawn
// browser workers and are limited much harder than reads.
func DefaultEndpointConfigs() []EndpointConfig {
	return []EndpointConfig{
		{Path: "/api/automation/job-apply", Method: "POST", Limit: 30, Window: time.Hour, Burst: 5},
		{Path: "/api/automation/job-apply/schedule", Method: "POST", Limit: 30, Window: time.Hour, Burst: 5},
		{Path: "/api/automation/email-response", Method: "POST", Limit: 60, Window: time.Hour, Burst: 10},
		{Path: "/api/automation/runs", Method: "GET", Limit: 120, Window: time.Minute, Burst: 30},
		{Path: "/api/automation/runs/", Method: "GET", Limit: 120, Window: time.Minute, Burst: 30},
		{Path: "/api/automation/screenshots/", Method: "GET", Limit: 240, Window: time.Minute, Burst: 60},
	}
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
