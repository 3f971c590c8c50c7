// Package config loads server configuration from file, environment,
// and defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Engine selects the workflow engine driving deployments.
const (
	EngineSync    = "sync"
	EngineDurable = "durable"
)

// Config is the resolved server configuration.
type Config struct {
	// DataDir holds the instance database, workspaces, and the durable
	// workflow store.
	DataDir string `mapstructure:"data_dir"`

	// Engine is "sync" (in-process) or "durable" (go-workflows).
	Engine string `mapstructure:"engine"`

	LogLevel string `mapstructure:"log_level"`
}

// DatabasePath returns the instance database location.
func (c Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "polyhost.db")
}

// WorkflowStorePath returns the durable workflow store location.
func (c Config) WorkflowStorePath() string {
	return filepath.Join(c.DataDir, "workflows.db")
}

// WorkspaceDir returns the root of per-instance workspaces.
func (c Config) WorkspaceDir() string {
	return filepath.Join(c.DataDir, "workspaces")
}

// Load reads configuration from polyhost.yaml (current directory or
// /etc/polyhost), then POLYHOST_* environment variables, then defaults.
func Load() (Config, error) {
	v := viper.New()
	v.SetConfigName("polyhost")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/polyhost")

	v.SetDefault("data_dir", defaultDataDir())
	v.SetDefault("engine", EngineSync)
	v.SetDefault("log_level", "info")

	v.SetEnvPrefix("POLYHOST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.Engine != EngineSync && cfg.Engine != EngineDurable {
		return Config{}, fmt.Errorf("unknown engine %q", cfg.Engine)
	}
	return cfg, nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".polyhost"
	}
	return filepath.Join(home, ".polyhost")
}
