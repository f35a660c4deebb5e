package config

import "time"

const (
	// v0 is the alpha version of the config
	v0 = 0

	// CurrentV is the currently supported version, points to v0
	CurrentV = v0
)

// NewDefaultConfig returns a fully-populated Config with sane defaults.
// This is the single source of truth for default values; viper defaults are
// registered from it.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		Database: DatabaseConfig{
			URL:             "file:recall.db",
			MaxConnections:  10,
			IdleTimeout:     30 * time.Second,
			CheckoutTimeout: 10 * time.Second,
		},
		Cache: CacheConfig{
			MaxSize:        1000,
			TTL:            5 * time.Minute,
			UpdateAgeOnGet: true,
		},
		Vector: VectorConfig{
			Dimensions: 1536,
		},
		Log: LogConfig{
			Level: "info",
		},
		Events: EventsConfig{
			Provider: "nop",
			Topic:    "recall.mutations",
		},
	}
}

// applyDefaults fills zero-value fields in cfg with values from
// NewDefaultConfig().
func applyDefaults(cfg *Config) {
	defaults := NewDefaultConfig()

	if cfg.Database.URL == "" {
		cfg.Database.URL = defaults.Database.URL
	}
	if cfg.Database.MaxConnections == 0 {
		cfg.Database.MaxConnections = defaults.Database.MaxConnections
	}
	if cfg.Database.IdleTimeout == 0 {
		cfg.Database.IdleTimeout = defaults.Database.IdleTimeout
	}
	if cfg.Database.CheckoutTimeout == 0 {
		cfg.Database.CheckoutTimeout = defaults.Database.CheckoutTimeout
	}

	if cfg.Cache.MaxSize == 0 {
		cfg.Cache.MaxSize = defaults.Cache.MaxSize
	}
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = defaults.Cache.TTL
	}

	if cfg.Vector.Dimensions == 0 {
		cfg.Vector.Dimensions = defaults.Vector.Dimensions
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = defaults.Log.Level
	}

	if cfg.Events.Provider == "" {
		cfg.Events.Provider = defaults.Events.Provider
	}
	if cfg.Events.Topic == "" {
		cfg.Events.Topic = defaults.Events.Topic
	}
}
