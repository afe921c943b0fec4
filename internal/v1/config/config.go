// Package config validates the process's environment configuration once at
// startup, failing fast with a complete list of problems rather than
// letting a missing variable surface later as a confusing runtime error.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"os"

	"go.uber.org/zap"

	"github.com/watchroom/sync-server/internal/v1/logging"
)

// Config holds validated environment configuration.
type Config struct {
	Port string

	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string

	GoEnv    string
	LogLevel string

	AllowedOrigins []string
	CookieName     string

	PingInterval time.Duration
	CleanupGrace time.Duration

	RateLimitUpgrade string // ulule/limiter format, e.g. "20-M"
}

// ValidateEnv reads and validates all environment variables, returning a
// single combined error if any required value is missing or malformed.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errs []string

	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		errs = append(errs, "PORT is required")
	} else if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got %q)", cfg.Port))
	}

	cfg.RedisEnabled = os.Getenv("REDIS_ENABLED") == "true"
	if cfg.RedisEnabled {
		cfg.RedisAddr = os.Getenv("REDIS_ADDR")
		if cfg.RedisAddr == "" {
			cfg.RedisAddr = "localhost:6379"
			logging.Warn(nil, "REDIS_ADDR not set, using default", zap.String("addr", cfg.RedisAddr))
		} else if !isValidHostPort(cfg.RedisAddr) {
			errs = append(errs, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got %q)", cfg.RedisAddr))
		}
		cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	}

	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.CookieName = getEnvOrDefault("COOKIE_NAME", "watchroom_id")

	origins := getEnvOrDefault("ALLOWED_ORIGINS", "http://localhost:3000")
	for _, o := range strings.Split(origins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
		}
	}

	pingMs := getEnvOrDefault("PING_INTERVAL_MS", "5000")
	ms, err := strconv.Atoi(pingMs)
	if err != nil || ms <= 0 {
		errs = append(errs, fmt.Sprintf("PING_INTERVAL_MS must be a positive integer (got %q)", pingMs))
	} else {
		cfg.PingInterval = time.Duration(ms) * time.Millisecond
	}

	cleanupSec := getEnvOrDefault("ROOM_CLEANUP_GRACE_SECONDS", "30")
	sec, err := strconv.Atoi(cleanupSec)
	if err != nil || sec < 0 {
		errs = append(errs, fmt.Sprintf("ROOM_CLEANUP_GRACE_SECONDS must be a non-negative integer (got %q)", cleanupSec))
	} else {
		cfg.CleanupGrace = time.Duration(sec) * time.Second
	}

	cfg.RateLimitUpgrade = getEnvOrDefault("RATE_LIMIT_WS_UPGRADE", "20-M")

	if len(errs) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	logValidatedConfig(cfg)
	return cfg, nil
}

func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 || parts[0] == "" {
		return false
	}
	port, err := strconv.Atoi(parts[1])
	return err == nil && port >= 1 && port <= 65535
}

func logValidatedConfig(cfg *Config) {
	logging.Info(nil, "environment configuration validated",
		zap.String("port", cfg.Port),
		zap.Bool("redis_enabled", cfg.RedisEnabled),
		zap.String("go_env", cfg.GoEnv),
		zap.String("log_level", cfg.LogLevel),
		zap.Duration("ping_interval", cfg.PingInterval),
		zap.Duration("cleanup_grace", cfg.CleanupGrace),
		zap.Strings("allowed_origins", cfg.AllowedOrigins),
	)
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
