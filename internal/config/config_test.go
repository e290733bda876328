package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, Defaults(), cfg)
}

func TestLoadEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DATABASE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost/contacts?sslmode=disable")
	t.Setenv("RESOLVE_TIMEOUT", "2s")
	t.Setenv("RESOLVE_MAX_ATTEMPTS", "5")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "postgres", cfg.DatabaseDriver)
	assert.Equal(t, 2*time.Second, cfg.ResolveTimeout)
	assert.Equal(t, 5, cfg.ResolveMaxAttempts)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("RESOLVE_MAX_ATTEMPTS", "abc")
	t.Setenv("RESOLVE_TIMEOUT", "5")

	cfg, err := Load()

	assert.Nil(t, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RESOLVE_MAX_ATTEMPTS")
	assert.Contains(t, err.Error(), "RESOLVE_TIMEOUT")
}

func TestLoadFileThenEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "7070"
database_url: /var/lib/contactlink/contacts.db
resolve_timeout: 3s
resolve_max_attempts: 4
log_level: warn
`), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "6060")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "6060", cfg.Port)
	assert.Equal(t, "/var/lib/contactlink/contacts.db", cfg.DatabaseURL)
	assert.Equal(t, 3*time.Second, cfg.ResolveTimeout)
	assert.Equal(t, 4, cfg.ResolveMaxAttempts)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "sqlite3", cfg.DatabaseDriver)
}

func TestLoadFileErrors(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := Load()
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: [1, 2"), 0o600))
	t.Setenv("CONFIG_FILE", path)
	_, err = Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"driver", func(c *Config) { c.DatabaseDriver = "mysql" }},
		{"url", func(c *Config) { c.DatabaseURL = "" }},
		{"timeout", func(c *Config) { c.ResolveTimeout = 0 }},
		{"attempts", func(c *Config) { c.ResolveMaxAttempts = 0 }},
		{"shutdown", func(c *Config) { c.ShutdownTimeout = -time.Second }},
		{"log level", func(c *Config) { c.LogLevel = "trace" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	assert.NoError(t, Defaults().Validate())
}
