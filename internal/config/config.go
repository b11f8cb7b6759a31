// Package config handles application configuration and environment loading.
package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Supported fact data drivers.
const (
	DriverDuckDB = "duckdb"
	DriverSQLite = "sqlite3"
)

// Config holds the configuration of the cube engine and its metastore.
type Config struct {
	MetaDBPath string // path to SQLite metastore file (cube schema registry)
	DataDBPath string // fact database path; empty means an in-memory database
	DataDriver string // fact database driver: duckdb (default) or sqlite3
	DataSource string // data source strategy: native (default) or relational
	LogLevel   string // log level: debug, info, warn, error (default "info")
	Env        string // environment: "development" (default) or "production"

	// Result cache
	CacheTTL          time.Duration // entry lifetime (default 1h)
	CacheMaxKeyLength int           // longest cached query text (default 4096)
	CacheMaxBytes     int64         // serialized size bound (default 256 MiB)

	// PrefetchLimit caps the explicit member list of one prefetch query
	// before the whole level is fetched instead (default 500).
	PrefetchLimit int

	// NullMemberCompat drops the null member from relational member lists
	// that hold other members of the same level.
	NullMemberCompat bool

	// Warnings collects non-fatal warnings generated during config loading.
	// These are logged by the caller after the logger is initialised.
	Warnings []string
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// IsProduction returns true when running in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		MetaDBPath:       os.Getenv("CUBE_META_DB_PATH"),
		DataDBPath:       os.Getenv("CUBE_DATA_DB_PATH"),
		DataDriver:       strings.ToLower(strings.TrimSpace(os.Getenv("CUBE_DATA_DRIVER"))),
		DataSource:       strings.ToLower(strings.TrimSpace(os.Getenv("CUBE_DATA_SOURCE"))),
		LogLevel:         os.Getenv("LOG_LEVEL"),
		Env:              os.Getenv("ENV"),
		NullMemberCompat: parseBoolEnvDefault("CUBE_NULL_MEMBER_COMPAT", false),
	}

	if v := os.Getenv("CUBE_CACHE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("ignoring invalid CUBE_CACHE_TTL %q", v))
		} else {
			cfg.CacheTTL = d
		}
	}
	cfg.CacheMaxKeyLength = parseIntEnv(cfg, "CUBE_CACHE_MAX_KEY_LENGTH")
	cfg.PrefetchLimit = parseIntEnv(cfg, "CUBE_PREFETCH_LIMIT")
	if v := os.Getenv("CUBE_CACHE_MAX_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.CacheMaxBytes = n
		} else {
			cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("ignoring invalid CUBE_CACHE_MAX_BYTES %q", v))
		}
	}

	// Defaults
	if cfg.MetaDBPath == "" {
		cfg.MetaDBPath = "cube_meta.sqlite"
	}
	if cfg.DataDriver == "" {
		cfg.DataDriver = DriverDuckDB
	}
	if cfg.DataSource == "" {
		cfg.DataSource = "native"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = time.Hour
	}
	if cfg.CacheMaxKeyLength == 0 {
		cfg.CacheMaxKeyLength = 4096
	}
	if cfg.CacheMaxBytes == 0 {
		cfg.CacheMaxBytes = 256 << 20
	}
	if cfg.PrefetchLimit == 0 {
		cfg.PrefetchLimit = 500
	}

	if cfg.DataDriver != DriverDuckDB && cfg.DataDriver != DriverSQLite {
		return nil, fmt.Errorf("CUBE_DATA_DRIVER must be %q or %q, got %q", DriverDuckDB, DriverSQLite, cfg.DataDriver)
	}
	if cfg.DataDBPath == "" {
		cfg.Warnings = append(cfg.Warnings, "CUBE_DATA_DB_PATH not set: fact data lives in an in-memory database")
	}
	if cfg.NullMemberCompat && cfg.DataSource != "relational" {
		cfg.Warnings = append(cfg.Warnings, "CUBE_NULL_MEMBER_COMPAT only affects the relational data source")
	}

	// Production mode: an in-memory fact database is a fatal error.
	if cfg.IsProduction() && cfg.DataDBPath == "" {
		return nil, fmt.Errorf("CUBE_DATA_DB_PATH must be set in production (ENV=production)")
	}

	return cfg, nil
}

func parseIntEnv(cfg *Config, key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("ignoring invalid %s %q", key, v))
		return 0
	}
	return n
}

func parseBoolEnvDefault(key string, defaultVal bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if v == "" {
		return defaultVal
	}
	if v == "0" || v == "false" || v == "no" || v == "off" {
		return false
	}
	if v == "1" || v == "true" || v == "yes" || v == "on" {
		return true
	}
	return defaultVal
}

// LoadDotEnv reads a .env file and sets any variables not already in the environment.
// Lines must be in KEY=VALUE format. Comments (#) and blank lines are skipped.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil // .env not found is not an error
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = stripQuotes(strings.TrimSpace(value))
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("setenv %s: %w", key, err)
			}
		}
	}
	return scanner.Err()
}

// stripQuotes removes surrounding double or single quotes from a value.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
