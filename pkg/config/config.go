// Package config loads, defaults, and persists the recall configuration.
//
// Configuration comes from a config.toml file, RECALL_-prefixed environment
// variables, and the bare DATABASE_URL / DATABASE_AUTH_TOKEN / LOG_LEVEL
// variables consumed by deployment tooling. Environment variables take
// precedence over file values; when both a RECALL_-prefixed variable and
// its bare counterpart are set, the prefixed one wins. Defaults live in
// NewDefaultConfig().
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

const configFile = "config.toml"

// Load reads the configuration for the given directory. An empty dir means
// no config file: defaults plus environment only.
func Load(configDir string) (*Config, error) {
	v, err := InitViper(configDir)
	if err != nil {
		return nil, err
	}
	return FromViper(v), nil
}

// ParseTOML decodes a raw TOML document into a Config, filling omitted
// fields with defaults.
func ParseTOML(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyDefaults(cfg)
	return cfg, nil
}

// Save persists cfg to config.toml inside dir, creating the directory if
// needed.
func Save(cfg *Config, dir string) error {
	if cfg == nil {
		return errors.New("cannot save nil config")
	}
	if dir == "" {
		return errors.New("cannot save to empty directory")
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	var buf bytes.Buffer
	encoder := toml.NewEncoder(&buf)
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	path := filepath.Join(dir, configFile)
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	return nil
}
