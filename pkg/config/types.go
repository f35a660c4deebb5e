package config

import "time"

// Config is the full configuration surface for the recall system.
type Config struct {
	Version  int            `toml:"version"`
	Database DatabaseConfig `toml:"database"`
	Cache    CacheConfig    `toml:"cache"`
	Vector   VectorConfig   `toml:"vector"`
	Log      LogConfig      `toml:"log"`
	Events   EventsConfig   `toml:"events"`
}

// DatabaseConfig configures the SQL endpoint and the connection pool.
type DatabaseConfig struct {
	// URL is the database endpoint. "file:recall.db" opens a local file,
	// ":memory:" an in-memory database, "libsql://..." a remote Turso/libSQL
	// endpoint.
	URL string `toml:"url"`

	// AuthToken authenticates against a remote libSQL endpoint.
	AuthToken string `toml:"auth_token"`

	// SyncURL, when set together with a file URL, opens an embedded replica
	// that syncs against the given remote primary.
	SyncURL string `toml:"sync_url"`

	// EncryptionKey encrypts the local replica file at rest.
	EncryptionKey string `toml:"encryption_key"`

	// MaxConnections bounds the pool size.
	MaxConnections int `toml:"max_connections"`

	// IdleTimeout is how long a connection may sit idle before the reaper
	// may close it.
	IdleTimeout time.Duration `toml:"idle_timeout"`

	// CheckoutTimeout bounds how long a caller waits for a pooled
	// connection.
	CheckoutTimeout time.Duration `toml:"checkout_timeout"`
}

// CacheConfig configures the identity and search caches.
type CacheConfig struct {
	MaxSize        int           `toml:"max_size"`
	TTL            time.Duration `toml:"ttl"`
	UpdateAgeOnGet bool          `toml:"update_age_on_get"`
}

// VectorConfig configures embedding handling.
type VectorConfig struct {
	// Dimensions is the fixed embedding dimension across the store.
	Dimensions int `toml:"dimensions"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is one of trace, debug, info, warn, error, fatal.
	Level string `toml:"level"`
}

// EventsConfig configures the optional mutation event stream.
type EventsConfig struct {
	// Provider selects the publisher backend: "nop" (default) or "kafka".
	Provider string `toml:"provider"`

	// Brokers is the kafka broker list, host:port.
	Brokers []string `toml:"brokers"`

	// Topic is the kafka topic mutation events are published to.
	Topic string `toml:"topic"`
}
