package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// Server
	Port            string        `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Database
	DatabaseDriver    string        `yaml:"database_driver"`
	DatabaseURL       string        `yaml:"database_url"`
	DBMaxOpenConns    int           `yaml:"db_max_open_conns"`
	DBMaxIdleConns    int           `yaml:"db_max_idle_conns"`
	DBConnMaxLifetime time.Duration `yaml:"db_conn_max_lifetime"`

	// Resolution
	ResolveTimeout     time.Duration `yaml:"resolve_timeout"`
	ResolveMaxAttempts int           `yaml:"resolve_max_attempts"`

	// Logging
	LogLevel string `yaml:"log_level"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	return &Config{
		Port:            "8080",
		ShutdownTimeout: 10 * time.Second,

		DatabaseDriver:    "sqlite3",
		DatabaseURL:       "./contactlink.db",
		DBMaxOpenConns:    10,
		DBMaxIdleConns:    5,
		DBConnMaxLifetime: 30 * time.Minute,

		ResolveTimeout:     5 * time.Second,
		ResolveMaxAttempts: 3,

		LogLevel: "info",
	}
}

// Load builds the configuration from defaults, the YAML file named by
// CONFIG_FILE if any, and environment variables, in increasing priority.
// Malformed numbers and durations are errors.
func Load() (*Config, error) {
	cfg := Defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	var errs []error
	setInt := func(dst *int, key string) {
		if err := getInt(key, dst); err != nil {
			errs = append(errs, err)
		}
	}
	setDuration := func(dst *time.Duration, key string) {
		if err := getDuration(key, dst); err != nil {
			errs = append(errs, err)
		}
	}

	cfg.Port = getEnv("PORT", cfg.Port)
	setDuration(&cfg.ShutdownTimeout, "SHUTDOWN_TIMEOUT")

	cfg.DatabaseDriver = getEnv("DATABASE_DRIVER", cfg.DatabaseDriver)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	setInt(&cfg.DBMaxOpenConns, "DB_MAX_OPEN_CONNS")
	setInt(&cfg.DBMaxIdleConns, "DB_MAX_IDLE_CONNS")
	setDuration(&cfg.DBConnMaxLifetime, "DB_CONN_MAX_LIFETIME")

	setDuration(&cfg.ResolveTimeout, "RESOLVE_TIMEOUT")
	setInt(&cfg.ResolveMaxAttempts, "RESOLVE_MAX_ATTEMPTS")

	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	switch c.DatabaseDriver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("unsupported DATABASE_DRIVER %q", c.DatabaseDriver)
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.ResolveTimeout <= 0 {
		return fmt.Errorf("RESOLVE_TIMEOUT must be positive")
	}
	if c.ResolveMaxAttempts < 1 {
		return fmt.Errorf("RESOLVE_MAX_ATTEMPTS must be at least 1")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("SHUTDOWN_TIMEOUT must be positive")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported LOG_LEVEL %q", c.LogLevel)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

// getInt overwrites dst when key is set.
func getInt(key string, dst *int) error {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return fmt.Errorf("invalid %s %q: not an integer", key, val)
	}
	*dst = n
	return nil
}

// getDuration overwrites dst when key is set.
func getDuration(key string, dst *time.Duration) error {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, val, err)
	}
	*dst = d
	return nil
}
