package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DatabasePath      string
	QuotesBaseURL     string
	Watchlist         []string
	PollIntervalMS    int
	ScanIntervalMS    int
	ResolveIntervalMS int
	SecretKey         string
	LogLevel          string
	Port              int
	DevMode           bool
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnvAsInt("PORT", 8001),
		DevMode:           getEnvAsBool("DEV_MODE", false),
		DatabasePath:      getEnv("DATABASE_PATH", "./data/signals.db"),
		QuotesBaseURL:     getEnv("QUOTES_BASE_URL", "http://localhost:9100"),
		Watchlist:         getEnvAsList("WATCHLIST", nil),
		PollIntervalMS:    getEnvAsInt("POLL_INTERVAL_MS", 60000),
		ScanIntervalMS:    getEnvAsInt("SCAN_INTERVAL_MS", 300000),
		ResolveIntervalMS: getEnvAsInt("RESOLVE_INTERVAL_MS", 300000),
		SecretKey:         getEnv("SECRET_KEY", ""),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("DATABASE_PATH is required")
	}

	if c.PollIntervalMS < 1000 {
		return fmt.Errorf("POLL_INTERVAL_MS must be at least 1000, got %d", c.PollIntervalMS)
	}

	// Note: SECRET_KEY is optional; without it webhook URLs are stored in plaintext

	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.ToUpper(strings.TrimSpace(p)); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
