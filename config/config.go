// Package config loads server configuration.
//
// Configuration is loaded from, in increasing precedence:
//  1. Default values
//  2. config.yaml (optional; ".", "./config", "/etc/leave-engine")
//  3. Environment variables (SERVER_PORT, DATABASE_PATH, LOG_LEVEL, ...)
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration structure.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Workflow WorkflowConfig `mapstructure:"workflow"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	// Demo mounts the scenario and reset endpoints.
	Demo bool `mapstructure:"demo"`
}

// Addr is the listen address for http.Server.
func (c ServerConfig) Addr() string { return fmt.Sprintf(":%d", c.Port) }

// DatabaseConfig selects the store. An empty path or "memory" uses the
// in-memory store.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// InMemory reports whether the in-memory store is selected.
func (c DatabaseConfig) InMemory() bool {
	return c.Path == "" || c.Path == "memory"
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

// LedgerConfig tunes the balance ledger.
type LedgerConfig struct {
	MaxCASAttempts  int `mapstructure:"max_cas_attempts"`
	InitConcurrency int `mapstructure:"init_concurrency"`
}

// WorkflowConfig holds the workflow policy switches.
type WorkflowConfig struct {
	ElevatedMayWaiveNotice bool `mapstructure:"elevated_may_waive_notice"`
	AllowOnBehalf          bool `mapstructure:"allow_on_behalf"`
}

// Load reads configuration from the default search paths.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile reads configuration from path, or from the default search paths
// when path is empty.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/leave-engine")
	}

	// database.path -> DATABASE_PATH
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// Validate checks for configuration errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1..65535, got %d", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be positive")
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console, got %q", c.Log.Format)
	}
	if c.Ledger.MaxCASAttempts < 1 {
		return fmt.Errorf("ledger.max_cas_attempts must be >= 1, got %d", c.Ledger.MaxCASAttempts)
	}
	if c.Ledger.InitConcurrency < 1 {
		return fmt.Errorf("ledger.init_concurrency must be >= 1, got %d", c.Ledger.InitConcurrency)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.demo", false)

	// Database
	v.SetDefault("database.path", "./data/leave.db")

	// Log
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Ledger
	v.SetDefault("ledger.max_cas_attempts", 5)
	v.SetDefault("ledger.init_concurrency", 4)

	// Workflow
	v.SetDefault("workflow.elevated_may_waive_notice", false)
	v.SetDefault("workflow.allow_on_behalf", false)
}
