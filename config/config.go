/*
Package config loads engine configuration via viper.

Sources, in precedence order: environment variables (prefix AFFILIATE_,
dots replaced by underscores, e.g. AFFILIATE_COMMISSION_MAX_LEVELS), an
optional yaml file, then the defaults below. Every knob has a safe
default so the binary runs with no config at all.
*/
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Commission CommissionConfig `mapstructure:"commission"`
	Downline   DownlineConfig   `mapstructure:"downline"`
	Log        LogConfig        `mapstructure:"log"`
}

type ServerConfig struct {
	Port            int `mapstructure:"port"`
	ReadTimeoutSec  int `mapstructure:"read_timeout_sec"`
	WriteTimeoutSec int `mapstructure:"write_timeout_sec"`
	IdleTimeoutSec  int `mapstructure:"idle_timeout_sec"`
}

type DatabaseConfig struct {
	// Path is the SQLite database path; ":memory:" for in-memory.
	Path string `mapstructure:"path"`
}

type CommissionConfig struct {
	// MaxLevels caps the upward sponsor-chain walk. This cap is the only
	// defense against a cyclic sponsor graph and must stay positive.
	MaxLevels int `mapstructure:"max_levels"`
}

type DownlineConfig struct {
	// MaxDepth caps tree rendering depth; per-request depths are clamped.
	MaxDepth int `mapstructure:"max_depth"`

	// NodeBudget is the default node-visit budget per render (0 = none).
	NodeBudget int `mapstructure:"node_budget"`

	// Workers bounds concurrent subtree expansion per render.
	Workers int `mapstructure:"workers"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Load reads configuration from the optional file at path ("" skips the
// file) plus AFFILIATE_* environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout_sec", 15)
	v.SetDefault("server.write_timeout_sec", 15)
	v.SetDefault("server.idle_timeout_sec", 60)
	v.SetDefault("database.path", "affiliate.db")
	v.SetDefault("commission.max_levels", 5)
	v.SetDefault("downline.max_depth", 5)
	v.SetDefault("downline.node_budget", 10000)
	v.SetDefault("downline.workers", 4)
	v.SetDefault("log.level", "info")

	v.SetEnvPrefix("AFFILIATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.Commission.MaxLevels < 1 {
		return nil, fmt.Errorf("commission.max_levels must be >= 1, got %d", cfg.Commission.MaxLevels)
	}
	if cfg.Downline.MaxDepth < 1 {
		return nil, fmt.Errorf("downline.max_depth must be >= 1, got %d", cfg.Downline.MaxDepth)
	}
	return &cfg, nil
}
