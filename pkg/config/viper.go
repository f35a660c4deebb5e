package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// InitViper creates and returns a configured *viper.Viper.
// It sets defaults from NewDefaultConfig(), reads the config.toml file from
// configDir (if non-empty), and binds environment variables.
//
// Config precedence (highest to lowest):
//  1. Environment variables (RECALL_DATABASE_URL, DATABASE_URL, etc.)
//  2. config.toml file values
//  3. Defaults from NewDefaultConfig()
func InitViper(configDir string) (*viper.Viper, error) {
	v := viper.New()

	// 1. Register all defaults from NewDefaultConfig().
	setViperDefaults(v)

	// 2. Config file discovery.
	v.SetConfigName("config")
	v.SetConfigType("toml")

	if configDir != "" {
		v.AddConfigPath(configDir)
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file not found errors are fine, defaults will apply.
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	// 3. Environment variables: RECALL_DATABASE_URL, RECALL_CACHE_MAX_SIZE, etc.
	v.SetEnvPrefix("RECALL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Bootstrap environment variables used by deployment tooling take the
	// bare names the original system consumed.
	bindBootstrapEnv(v)

	return v, nil
}

// bindBootstrapEnv binds the unprefixed environment variables recognized by
// the bootstrap entry points onto their config keys.
func bindBootstrapEnv(v *viper.Viper) {
	_ = v.BindEnv("database.url", "RECALL_DATABASE_URL", "DATABASE_URL")
	_ = v.BindEnv("database.auth_token", "RECALL_DATABASE_AUTH_TOKEN", "DATABASE_AUTH_TOKEN")
	_ = v.BindEnv("log.level", "RECALL_LOG_LEVEL", "LOG_LEVEL")
}

// setViperDefaults registers defaults from NewDefaultConfig() into viper
// using dotted-key notation. This keeps defaults.go as the single source of truth.
func setViperDefaults(v *viper.Viper) {
	d := NewDefaultConfig()

	v.SetDefault("version", d.Version)

	// Database
	v.SetDefault("database.url", d.Database.URL)
	v.SetDefault("database.auth_token", d.Database.AuthToken)
	v.SetDefault("database.sync_url", d.Database.SyncURL)
	v.SetDefault("database.encryption_key", d.Database.EncryptionKey)
	v.SetDefault("database.max_connections", d.Database.MaxConnections)
	v.SetDefault("database.idle_timeout", d.Database.IdleTimeout)
	v.SetDefault("database.checkout_timeout", d.Database.CheckoutTimeout)

	// Cache
	v.SetDefault("cache.max_size", d.Cache.MaxSize)
	v.SetDefault("cache.ttl", d.Cache.TTL)
	v.SetDefault("cache.update_age_on_get", d.Cache.UpdateAgeOnGet)

	// Vector
	v.SetDefault("vector.dimensions", d.Vector.Dimensions)

	// Log
	v.SetDefault("log.level", d.Log.Level)

	// Events
	v.SetDefault("events.provider", d.Events.Provider)
	v.SetDefault("events.brokers", d.Events.Brokers)
	v.SetDefault("events.topic", d.Events.Topic)
}

// FromViper materializes a Config from a configured viper instance.
func FromViper(v *viper.Viper) *Config {
	cfg := &Config{
		Version: v.GetInt("version"),
		Database: DatabaseConfig{
			URL:             v.GetString("database.url"),
			AuthToken:       v.GetString("database.auth_token"),
			SyncURL:         v.GetString("database.sync_url"),
			EncryptionKey:   v.GetString("database.encryption_key"),
			MaxConnections:  v.GetInt("database.max_connections"),
			IdleTimeout:     v.GetDuration("database.idle_timeout"),
			CheckoutTimeout: v.GetDuration("database.checkout_timeout"),
		},
		Cache: CacheConfig{
			MaxSize:        v.GetInt("cache.max_size"),
			TTL:            v.GetDuration("cache.ttl"),
			UpdateAgeOnGet: v.GetBool("cache.update_age_on_get"),
		},
		Vector: VectorConfig{
			Dimensions: v.GetInt("vector.dimensions"),
		},
		Log: LogConfig{
			Level: v.GetString("log.level"),
		},
		Events: EventsConfig{
			Provider: v.GetString("events.provider"),
			Brokers:  v.GetStringSlice("events.brokers"),
			Topic:    v.GetString("events.topic"),
		},
	}

	applyDefaults(cfg)
	return cfg
}

// Watch re-reads the config file on change and invokes fn with the fresh
// Config. The callback also receives the raw fsnotify event for callers
// that care about the kind of change.
func Watch(v *viper.Viper, fn func(*Config, fsnotify.Event)) {
	v.OnConfigChange(func(e fsnotify.Event) {
		fn(FromViper(v), e)
	})
	v.WatchConfig()
}
