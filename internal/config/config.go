// Package config loads process configuration from the environment, per
// spec: ADMIN_USER and ADMIN_PASS are required, DATABASE_URL and
// LOG_LEVEL have defaults. The upstream relay URL is deliberately not
// part of this struct: it is read from the repository, not the
// environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
)

// Config is the full set of environment-derived settings this process
// needs to start.
type Config struct {
	AdminUser   string
	AdminPass   string
	DatabaseURL string
	LogLevel    slog.Level
}

// Load reads and validates the environment. It never touches disk;
// callers that also want the optional TOML seed file should call
// LoadSeed separately once the database is open.
func Load() (Config, error) {
	cfg := Config{
		DatabaseURL: getEnv("DATABASE_URL", "sqlite:data/app.sqlite"),
	}

	cfg.AdminUser = os.Getenv("ADMIN_USER")
	if cfg.AdminUser == "" {
		return Config{}, errors.New("ADMIN_USER is required")
	}
	cfg.AdminPass = os.Getenv("ADMIN_PASS")
	if cfg.AdminPass == "" {
		return Config{}, errors.New("ADMIN_PASS is required")
	}

	level, err := parseLogLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		return Config{}, err
	}
	cfg.LogLevel = level

	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseLogLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid LOG_LEVEL: %q (must be debug, info, warn, error)", s)
	}
}
