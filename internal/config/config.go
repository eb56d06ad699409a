// Package config loads runtime configuration from file and environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// TICKETTRANSFER_DATABASE_DSN.
const EnvPrefix = "TICKETTRANSFER"

// Config is the root configuration tree.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Server   ServerConfig   `mapstructure:"server"`
	Transfer TransferConfig `mapstructure:"transfer"`
	Runner   RunnerConfig   `mapstructure:"runner"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Log      LogConfig      `mapstructure:"log"`
}

type DatabaseConfig struct {
	Driver             string        `mapstructure:"driver"`
	DSN                string        `mapstructure:"dsn"`
	MaxOpenConns       int           `mapstructure:"max_open_conns"`
	MaxIdleConns       int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime    time.Duration `mapstructure:"conn_max_lifetime"`
	SlowQueryThreshold time.Duration `mapstructure:"slow_query_threshold"`
	MaxRetries         int           `mapstructure:"max_retries"`
	RetryBackoff       time.Duration `mapstructure:"retry_backoff"`
	AutoMigrate        bool          `mapstructure:"auto_migrate"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
	// APIKeys maps a client name to its key. Empty disables authentication.
	APIKeys map[string]string `mapstructure:"api_keys"`
	// TransferRateLimit caps transfer requests per client and hour; 0 disables it.
	TransferRateLimit int `mapstructure:"transfer_rate_limit"`
}

// TransferConfig tunes remote calls made during a transfer run.
type TransferConfig struct {
	AuthTimeout    time.Duration `mapstructure:"auth_timeout"`
	CallTimeout    time.Duration `mapstructure:"call_timeout"`
	ReuseSession   bool          `mapstructure:"reuse_session"`
	PhaseThreshold time.Duration `mapstructure:"phase_threshold"`
}

type RunnerConfig struct {
	TimeoutLogCleanup TimeoutLogCleanupConfig `mapstructure:"timeout_log_cleanup"`
}

type TimeoutLogCleanupConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Schedule      string `mapstructure:"schedule"`
	RetentionDays int    `mapstructure:"retention_days"`
}

// RedisConfig is optional; an empty Addr disables redis-backed runner status.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

var (
	current *Config
	mu      sync.RWMutex
)

// Get returns the loaded configuration, or nil before Load/Set has run.
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// Set replaces the global configuration. Tests use it to inject values.
func Set(cfg *Config) {
	mu.Lock()
	defer mu.Unlock()
	current = cfg
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.dsn", "file:tickettransfer.db?_foreign_keys=on")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("database.slow_query_threshold", time.Second)
	v.SetDefault("database.max_retries", 2)
	v.SetDefault("database.retry_backoff", 200*time.Millisecond)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.transfer_rate_limit", 120)

	v.SetDefault("transfer.auth_timeout", 10*time.Second)
	v.SetDefault("transfer.call_timeout", 30*time.Second)
	v.SetDefault("transfer.reuse_session", false)
	v.SetDefault("transfer.phase_threshold", 60*time.Second)

	v.SetDefault("runner.timeout_log_cleanup.enabled", true)
	v.SetDefault("runner.timeout_log_cleanup.schedule", "0 30 3 * * *")
	v.SetDefault("runner.timeout_log_cleanup.retention_days", 30)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads the optional config file at path, applies environment overrides
// and stores the result globally.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	Set(cfg)
	return cfg, nil
}

// Validate checks values that would otherwise fail late at runtime.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Database.Driver) {
	case "mysql", "mariadb", "postgres", "sqlite3":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.New("database.dsn is required")
	}
	if c.Transfer.AuthTimeout <= 0 || c.Transfer.CallTimeout <= 0 {
		return errors.New("transfer timeouts must be positive")
	}
	if c.Runner.TimeoutLogCleanup.RetentionDays < 1 {
		return errors.New("runner.timeout_log_cleanup.retention_days must be at least 1")
	}
	return nil
}
