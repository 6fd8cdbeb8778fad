// Package config provides configuration loading and validation for the
// automation service.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Config represents the service configuration. Values can come from a JSON
// file, environment variables, or CLI flags; later sources win.
type Config struct {
	// Server
	Port        int    `json:"port,omitempty"`         // HTTP listen port
	DatabaseURL string `json:"database_url,omitempty"` // PostgreSQL connection URL

	// Automation worker
	ScriptDir     string `json:"script_dir,omitempty"`     // Directory holding worker scripts
	ScreenshotDir string `json:"screenshot_dir,omitempty"` // Root for managed screenshot artifacts
	PythonBin     string `json:"python_bin,omitempty"`     // Worker interpreter (default python3)

	// AI
	APIKey string `json:"api_key,omitempty"` // Gemini API key; empty disables AI features

	// Auth
	JWTSecret string `json:"jwt_secret,omitempty"` // HMAC secret; empty disables bearer auth
}

// LoadConfig loads configuration from a JSON file.
// Returns an error if the file cannot be read or parsed.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return &cfg, nil
}

// FromEnv builds a Config from environment variables. Unset variables leave
// zero values for MergeWithDefaults to fill.
func FromEnv() Config {
	cfg := Config{
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		ScriptDir:     os.Getenv("AUTOMATION_SCRIPT_DIR"),
		ScreenshotDir: os.Getenv("AUTOMATION_SCREENSHOT_DIR"),
		PythonBin:     os.Getenv("AUTOMATION_PYTHON_BIN"),
		APIKey:        os.Getenv("GEMINI_API_KEY"),
		JWTSecret:     os.Getenv("AUTH_JWT_SECRET"),
	}
	if port := os.Getenv("PORT"); port != "" {
		if value, err := strconv.Atoi(port); err == nil {
			cfg.Port = value
		}
	}
	return cfg
}

// Validate checks that the configuration has valid values.
// Required fields are enforced after merging, not here.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("config error: 'port' must be between 0 and 65535")
	}

	if c.ScriptDir != "" {
		if _, err := os.Stat(c.ScriptDir); os.IsNotExist(err) {
			return fmt.Errorf("config error: script directory not found: %s", c.ScriptDir)
		}
	}

	return nil
}

// MergeWithDefaults returns a new Config with empty fields filled from
// defaults. Used to layer config file values under environment and flags.
func (c *Config) MergeWithDefaults(defaults Config) Config {
	result := *c

	if result.DatabaseURL == "" {
		result.DatabaseURL = defaults.DatabaseURL
	}
	if result.ScriptDir == "" {
		result.ScriptDir = defaults.ScriptDir
	}
	if result.ScreenshotDir == "" {
		result.ScreenshotDir = defaults.ScreenshotDir
	}
	if result.PythonBin == "" {
		result.PythonBin = defaults.PythonBin
	}
	if result.APIKey == "" {
		result.APIKey = defaults.APIKey
	}
	if result.JWTSecret == "" {
		result.JWTSecret = defaults.JWTSecret
	}

	if result.Port == 0 {
		if defaults.Port != 0 {
			result.Port = defaults.Port
		} else {
			result.Port = 8080
		}
	}
	if result.ScreenshotDir == "" {
		result.ScreenshotDir = "screenshots"
	}

	return result
}
