package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds process-level settings read from the environment. The
// reporter's own settings live in the database, not here.
type Config struct {
	DBDriver      string
	DBPath        string
	PostgresURL   string
	Port          string
	QuoteBaseURL  string
	QuoteTimeout  time.Duration
	QuoteCacheTTL time.Duration
}

func Load() (Config, error) {
	cfg := Config{
		DBDriver:      envDefault("DB_DRIVER", "sqlite3"),
		DBPath:        envDefault("DB_PATH", "portfolio.sqlite"),
		PostgresURL:   os.Getenv("POSTGRES_URL"),
		Port:          envDefault("PORT", "8080"),
		QuoteBaseURL:  os.Getenv("QUOTE_BASE_URL"),
		QuoteTimeout:  envSeconds("QUOTE_TIMEOUT_SECONDS", 8*time.Second),
		QuoteCacheTTL: envSeconds("QUOTE_CACHE_TTL_SECONDS", 60*time.Second),
	}

	switch cfg.DBDriver {
	case "sqlite3":
		if strings.TrimSpace(cfg.DBPath) == "" {
			return cfg, errors.New("DB_PATH is required when DB_DRIVER is sqlite3")
		}
	case "postgres":
		if strings.TrimSpace(cfg.PostgresURL) == "" {
			return cfg, errors.New("POSTGRES_URL is required when DB_DRIVER is postgres")
		}
	default:
		return cfg, fmt.Errorf("unsupported DB_DRIVER %q (use sqlite3 or postgres)", cfg.DBDriver)
	}

	return cfg, nil
}

// DSN returns the sqlx driver name and data source for the configured
// engine.
func (c Config) DSN() (string, string) {
	if c.DBDriver == "postgres" {
		return "postgres", c.PostgresURL
	}
	return "sqlite3", c.DBPath
}

func envDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envSeconds(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return time.Duration(n) * time.Second
}
