// Package config loads service configuration from environment variables.
package config

import (
	"log/slog"
	"os"
)

// Config holds the fleetd service configuration.
type Config struct {
	HTTPAddr  string
	StoreKind string
	PGHost    string
	PGPort    string
	PGUser    string
	PGPass    string
	PGDB      string
	NATSURL   string
	LogLevel  string
}

// Load reads configuration from environment variables with defaults.
// FLEETD_STORE=memory runs the service without PostgreSQL for local
// development; FLEETD_NATS_URL="" disables event publishing.
func Load() *Config {
	return &Config{
		HTTPAddr:  getEnv("FLEETD_HTTP_ADDR", ":8080"),
		StoreKind: getEnv("FLEETD_STORE", "postgres"),
		PGHost:    getEnv("PG_HOST", "localhost"),
		PGPort:    getEnv("PG_PORT", "5432"),
		PGUser:    getEnv("PG_USER", "postgres"),
		PGPass:    getEnv("PG_PASS", "password"),
		PGDB:      getEnv("PG_DB", "fleet"),
		NATSURL:   getEnv("FLEETD_NATS_URL", "nats://localhost:4222"),
		LogLevel:  getEnv("LOG_LEVEL", "INFO"),
	}
}

// getEnv gets an environment variable with a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// ParseLevel maps a LOG_LEVEL value (DEBUG, INFO, WARN, ERROR, any case) to
// its slog level, falling back to info on anything unrecognized.
func ParseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}
