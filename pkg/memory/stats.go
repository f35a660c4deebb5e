package memory

import (
	"context"

	"github.com/papercomputeco/recall/pkg/cache"
	"github.com/papercomputeco/recall/pkg/storage"
)

// CacheStats groups the per-namespace cache snapshots.
type CacheStats struct {
	Rules    cache.Stats `json:"rules"`
	Docs     cache.Stats `json:"project_docs"`
	Refs     cache.Stats `json:"refs"`
	RefNames cache.Stats `json:"ref_names"`
	Searches cache.Stats `json:"searches"`
}

// Stats is the aggregate service snapshot.
type Stats struct {
	Pool  storage.PoolStats   `json:"pool"`
	Cache CacheStats          `json:"cache"`
	Index *storage.IndexStats `json:"index"`
}

// GetStats aggregates pool, cache, and vector-index statistics.
func (s *Service) GetStats(ctx context.Context) (*Stats, error) {
	if err := s.ensureInitialized(); err != nil {
		return nil, err
	}

	stats := &Stats{
		Pool: s.pool.Stats(),
		Cache: CacheStats{
			Rules:    s.rules.GetStats(),
			Docs:     s.docs.GetStats(),
			Refs:     s.refs.GetStats(),
			RefNames: s.refNames.GetStats(),
			Searches: s.searches.GetStats(),
		},
	}

	err := s.pool.WithConnection(ctx, func(c *storage.Conn) error {
		var err error
		stats.Index, err = storage.NewIndex(c.DB(), s.dimensions, s.logger).Stats(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	return stats, nil
}

// Health reports the outcome of a health probe.
type Health struct {
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// HealthCheck probes the database through the pool.
func (s *Service) HealthCheck(ctx context.Context) Health {
	if err := s.ensureInitialized(); err != nil {
		return Health{Healthy: false, Error: err.Error()}
	}

	err := s.pool.WithConnection(ctx, func(c *storage.Conn) error {
		var one int
		return c.DB().QueryRowContext(ctx, "SELECT 1").Scan(&one)
	})
	if err != nil {
		return Health{Healthy: false, Error: err.Error()}
	}

	return Health{Healthy: true}
}
