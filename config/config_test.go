package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, ":8080", cfg.Server.Addr())
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "./data/leave.db", cfg.Database.Path)
	assert.False(t, cfg.Database.InMemory())
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 5, cfg.Ledger.MaxCASAttempts)
	assert.Equal(t, 4, cfg.Ledger.InitConcurrency)
	assert.False(t, cfg.Workflow.AllowOnBehalf)
}

func TestLoad_EnvOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("DATABASE_PATH", "memory")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("WORKFLOW_ALLOW_ON_BEHALF", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.True(t, cfg.Database.InMemory())
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Workflow.AllowOnBehalf)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "leave.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 7070
  allowed_origins: ["https://hr.example.com"]
ledger:
  init_concurrency: 8
workflow:
  elevated_may_waive_notice: true
`), 0o600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, []string{"https://hr.example.com"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 8, cfg.Ledger.InitConcurrency)
	assert.True(t, cfg.Workflow.ElevatedMayWaiveNotice)
	assert.Equal(t, 5, cfg.Ledger.MaxCASAttempts)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Server: ServerConfig{Port: 8080, ShutdownTimeout: time.Second},
			Log:    LogConfig{Level: "info", Format: "json"},
			Ledger: LedgerConfig{MaxCASAttempts: 5, InitConcurrency: 4},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"port zero", func(c *Config) { c.Server.Port = 0 }, true},
		{"port too large", func(c *Config) { c.Server.Port = 70000 }, true},
		{"no shutdown timeout", func(c *Config) { c.Server.ShutdownTimeout = 0 }, true},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, true},
		{"no cas attempts", func(c *Config) { c.Ledger.MaxCASAttempts = 0 }, true},
		{"no init concurrency", func(c *Config) { c.Ledger.InitConcurrency = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// chdir changes the working directory for the duration of the test,
// mirroring testing.T.Chdir (Go 1.24+) for older toolchains.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
