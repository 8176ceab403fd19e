// README: Config loader with env defaults for the order store client, polling, sessions and the dev store.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
)

type StoreConfig struct {
	BaseURL string
	Timeout time.Duration
}

type PollConfig struct {
	Interval time.Duration
}

type SessionConfig struct {
	Backend     string // memory | redis
	RedisAddr   string
	RedisPrefix string
}

type Config struct {
	Store   StoreConfig
	Poll    PollConfig
	Session SessionConfig
	Pricing struct {
		RatePerKm float64
	}
	Maps struct {
		APIKey string
	}
	Log struct {
		Level string
	}
	HTTP struct {
		Addr string
	}
	DB struct {
		DSN        string
		Migrations string
	}
	Auth struct {
		JWTSecret string
	}
	Metrics struct {
		Addr string
	}
}

// Load reads RIDESYNC_* variables, after loading a .env file when one is
// present. Malformed numbers and durations are reported together.
func Load() (Config, error) {
	_ = godotenv.Load(".env")

	var cfg Config
	var errs []error

	cfg.Store.BaseURL = strings.TrimRight(envOrDefault("RIDESYNC_STORE_URL", "http://localhost:3000/api"), "/")
	cfg.Store.Timeout = envOrDefaultDuration("RIDESYNC_HTTP_TIMEOUT", 10*time.Second, &errs)
	cfg.Poll.Interval = envOrDefaultDuration("RIDESYNC_POLL_INTERVAL", time.Second, &errs)

	cfg.Session.Backend = strings.ToLower(envOrDefault("RIDESYNC_SESSION_BACKEND", "memory"))
	cfg.Session.RedisAddr = envOrDefault("RIDESYNC_REDIS_ADDR", "localhost:6379")
	cfg.Session.RedisPrefix = envOrDefault("RIDESYNC_REDIS_PREFIX", "ridesync:session:")

	cfg.Pricing.RatePerKm = envOrDefaultFloat("RIDESYNC_PRICE_PER_KM", 1.5, &errs)
	cfg.Maps.APIKey = os.Getenv("RIDESYNC_MAPS_API_KEY")
	cfg.Log.Level = envOrDefault("RIDESYNC_LOG_LEVEL", "info")

	cfg.HTTP.Addr = envOrDefault("RIDESYNC_HTTP_ADDR", ":3000")
	cfg.DB.DSN = os.Getenv("RIDESYNC_DB_DSN")
	cfg.DB.Migrations = envOrDefault("RIDESYNC_MIGRATIONS", "migrations")
	cfg.Auth.JWTSecret = envOrDefault("RIDESYNC_JWT_SECRET", "dev-secret-change-me")
	cfg.Metrics.Addr = os.Getenv("RIDESYNC_METRICS_ADDR")

	if cfg.Poll.Interval <= 0 {
		errs = append(errs, fmt.Errorf("RIDESYNC_POLL_INTERVAL must be > 0"))
	}
	if cfg.Pricing.RatePerKm <= 0 {
		errs = append(errs, fmt.Errorf("RIDESYNC_PRICE_PER_KM must be > 0"))
	}
	switch cfg.Session.Backend {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("unknown RIDESYNC_SESSION_BACKEND %q", cfg.Session.Backend))
	}

	return cfg, errors.Join(errs...)
}

func envOrDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration, errs *[]error) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := cast.ToDurationE(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return d
}

func envOrDefaultFloat(key string, def float64, errs *[]error) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return f
}
