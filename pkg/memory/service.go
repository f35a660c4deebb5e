// Package memory provides the operational facade of the recall system.
//
// The Service composes the connection pool, the per-kind row stores, the
// vector index, and the identity/search caches, and is the only component
// that touches the cache and the pool together. Every public operation
// checks out one pooled connection for its duration; multi-step writes
// (row plus embedding) share one transaction on that connection.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/papercomputeco/recall/pkg/cache"
	"github.com/papercomputeco/recall/pkg/config"
	"github.com/papercomputeco/recall/pkg/eventstream"
	"github.com/papercomputeco/recall/pkg/eventstream/nop"
	"github.com/papercomputeco/recall/pkg/storage"
)

// Options configures a Service.
type Options struct {
	// Database configures the endpoint and the pool.
	Database config.DatabaseConfig

	// Cache configures the identity and search caches.
	Cache config.CacheConfig

	// Dimensions is the fixed embedding dimension. Defaults to 1536.
	Dimensions int

	// Publisher receives mutation events. Defaults to the nop publisher.
	Publisher eventstream.Publisher

	// Logger is the structured logger. Required.
	Logger *zap.Logger
}

// Service is the memory store facade.
type Service struct {
	opts       Options
	logger     *zap.Logger
	dimensions int
	publisher  eventstream.Publisher

	mu          sync.Mutex
	initialized bool
	pool        *storage.Pool

	rules    *cache.Cache[storage.Rule]
	docs     *cache.Cache[storage.ProjectDoc]
	refs     *cache.Cache[storage.Ref]
	refNames *cache.Cache[storage.Ref]
	searches *cache.Cache[[]storage.SearchResult]
}

// NewService creates a Service. Call Initialize before use.
func NewService(opts Options) *Service {
	if opts.Dimensions <= 0 {
		opts.Dimensions = 1536
	}
	if opts.Publisher == nil {
		opts.Publisher = nop.NewPublisher()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Service{
		opts:       opts,
		logger:     opts.Logger.Named("memory"),
		dimensions: opts.Dimensions,
		publisher:  opts.Publisher,
		rules: cache.New(cache.Config[storage.Rule]{
			MaxSize:        opts.Cache.MaxSize,
			TTL:            opts.Cache.TTL,
			UpdateAgeOnGet: opts.Cache.UpdateAgeOnGet,
		}),
		docs: cache.New(cache.Config[storage.ProjectDoc]{
			MaxSize:        opts.Cache.MaxSize,
			TTL:            opts.Cache.TTL,
			UpdateAgeOnGet: opts.Cache.UpdateAgeOnGet,
		}),
		refs: cache.New(cache.Config[storage.Ref]{
			MaxSize:        opts.Cache.MaxSize,
			TTL:            opts.Cache.TTL,
			UpdateAgeOnGet: opts.Cache.UpdateAgeOnGet,
		}),
		refNames: cache.New(cache.Config[storage.Ref]{
			MaxSize:        opts.Cache.MaxSize,
			TTL:            opts.Cache.TTL,
			UpdateAgeOnGet: opts.Cache.UpdateAgeOnGet,
		}),
		searches: cache.New(cache.Config[[]storage.SearchResult]{
			MaxSize:        opts.Cache.MaxSize,
			TTL:            opts.Cache.TTL,
			UpdateAgeOnGet: opts.Cache.UpdateAgeOnGet,
		}),
	}
}

// Initialize starts the pool and brings the schema to the current version.
// A second call logs a warning and returns nil.
func (s *Service) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		s.logger.Warn("service already initialized")
		return nil
	}

	pool := storage.NewPool(s.opts.Database, s.logger)

	err := pool.WithConnection(ctx, func(c *storage.Conn) error {
		return storage.NewMigrator(c, s.logger).InitializeSchema(ctx)
	})
	if err != nil {
		shutdownErr := pool.Shutdown(ctx)
		if shutdownErr != nil {
			s.logger.Warn("pool shutdown after failed initialize", zap.Error(shutdownErr))
		}
		return err
	}

	s.pool = pool
	s.initialized = true
	s.logger.Info("memory service initialized",
		zap.String("url", s.opts.Database.URL),
		zap.Int("dimensions", s.dimensions),
	)
	return nil
}

// Shutdown closes the pool and the event publisher. Subsequent operations
// fail with ErrNotInitialized. Shutdown is idempotent.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return nil
	}
	s.initialized = false

	err := s.pool.Shutdown(ctx)
	if closeErr := s.publisher.Close(); closeErr != nil {
		s.logger.Warn("closing event publisher", zap.Error(closeErr))
	}

	s.logger.Info("memory service shut down")
	return err
}

// IsReady reports whether the service has been initialized and not shut
// down.
func (s *Service) IsReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

// ensureInitialized gates every public operation.
func (s *Service) ensureInitialized() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return ErrNotInitialized
	}
	return nil
}

// ClearCache drops every cached entry across all namespaces.
func (s *Service) ClearCache() {
	s.rules.Clear()
	s.docs.Clear()
	s.refs.Clear()
	s.refNames.Clear()
	s.searches.Clear()
	s.logger.Debug("caches cleared")
}

// emit publishes a mutation event. Publishing is best-effort; failures are
// logged and swallowed.
func (s *Service) emit(ctx context.Context, eventType, entityType, entityID string, count int) {
	event := &eventstream.MutationEvent{
		SchemaVersion: eventstream.SchemaVersionV1,
		EventType:     eventType,
		EventID:       uuid.NewString(),
		EmittedAt:     time.Now().UTC(),
		EntityType:    entityType,
		EntityID:      entityID,
		Count:         count,
	}

	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("event publish failed",
			zap.String("event_type", eventType),
			zap.String("entity_id", entityID),
			zap.Error(err),
		)
	}
}
