// Package config loads the engine's configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/agentforge/plugindb/store"
)

// MigrationConfig tunes the migration executor.
type MigrationConfig struct {
	// LockTimeout bounds the wait for a plugin's migration lock
	// (e.g. "30s"). Empty uses the executor default.
	LockTimeout string `json:"lock_timeout,omitempty" yaml:"lock_timeout,omitempty"`
}

// Config is the engine configuration.
type Config struct {
	Database  store.PGConfig  `json:"database" yaml:"database"`
	Migration MigrationConfig `json:"migration,omitempty" yaml:"migration,omitempty"`
}

// LoadFromFile loads configuration from a YAML file. DATABASE_URL, when
// set, overrides the database URL so deployments can keep credentials out
// of the file.
func LoadFromFile(filepath string) (*Config, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.Database.URL = url
	}

	return &cfg, nil
}

// LockTimeoutDuration parses the configured lock timeout. Zero means unset.
func (c MigrationConfig) LockTimeoutDuration() (time.Duration, error) {
	if c.LockTimeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.LockTimeout)
	if err != nil {
		return 0, fmt.Errorf("parse lock_timeout: %w", err)
	}
	return d, nil
}
