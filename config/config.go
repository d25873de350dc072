// Package config loads runtime configuration from LEDGER_* environment variables.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds runtime configuration for the server and the repair tool.
type Config struct {
	Addr         string        `envconfig:"ADDR" default:":8080"`
	ReadTimeout  time.Duration `envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"15s"`
	CORSOrigins  []string      `envconfig:"CORS_ORIGINS" default:"http://localhost:3000,http://localhost:5173"`

	DBPath string `envconfig:"DB_PATH" default:"ledger.db"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"console"`

	// RedisAddr switches subject locks to Redis; empty means in-process locks.
	RedisAddr string        `envconfig:"REDIS_ADDR"`
	LockTTL   time.Duration `envconfig:"LOCK_TTL" default:"30s"`

	AllowPlaceholderItems bool `envconfig:"ALLOW_PLACEHOLDER_ITEMS" default:"true"`
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("LEDGER", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DBPath) == "" {
		return errors.New("config: LEDGER_DB_PATH must not be empty")
	}
	if c.LockTTL <= 0 {
		return errors.New("config: LEDGER_LOCK_TTL must be positive")
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return errors.New("config: LEDGER_LOG_FORMAT must be json or console")
	}
	return nil
}

// UseRedisLocks reports whether subject locks should be shared through Redis.
func (c *Config) UseRedisLocks() bool {
	return c != nil && c.RedisAddr != ""
}
