package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/papercomputeco/recall/pkg/eventstream"
	"github.com/papercomputeco/recall/pkg/storage"
	"github.com/papercomputeco/recall/pkg/vector"
)

// SemanticSearch runs the thresholded top-K cosine scan across the corpus.
// Results are cached under a fingerprint of the full query vector and the
// options; cached entries live until their TTL expires.
func (s *Service) SemanticSearch(ctx context.Context, q []float32, opts storage.SearchOptions) ([]storage.SearchResult, error) {
	if err := s.ensureInitialized(); err != nil {
		return nil, err
	}
	if err := vector.Validate(q, s.dimensions); err != nil {
		return nil, err
	}

	key := searchFingerprint(q, opts)
	if cached, ok := s.searches.Get(key); ok {
		s.logger.Debug("search cache hit", zap.String("fingerprint", key[:12]))
		return cached, nil
	}

	var results []storage.SearchResult
	err := s.pool.WithConnection(ctx, func(c *storage.Conn) error {
		var err error
		results, err = storage.NewIndex(c.DB(), s.dimensions, s.logger).SemanticSearch(ctx, q, opts)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.searches.Set(key, results)
	return results, nil
}

// SearchInTable scans a single entity table with SemanticSearch semantics.
func (s *Service) SearchInTable(ctx context.Context, table string, q []float32, opts storage.SearchOptions) ([]storage.SearchResult, error) {
	if err := s.ensureInitialized(); err != nil {
		return nil, err
	}

	var results []storage.SearchResult
	err := s.pool.WithConnection(ctx, func(c *storage.Conn) error {
		var err error
		results, err = storage.NewIndex(c.DB(), s.dimensions, s.logger).SearchInTable(ctx, table, q, opts)
		return err
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// FindSimilar searches the corpus with the given row's own embedding,
// excluding the row itself from the results.
func (s *Service) FindSimilar(ctx context.Context, table, id string, opts storage.SearchOptions) ([]storage.SearchResult, error) {
	if err := s.ensureInitialized(); err != nil {
		return nil, err
	}

	var results []storage.SearchResult
	err := s.pool.WithConnection(ctx, func(c *storage.Conn) error {
		var err error
		results, err = storage.NewIndex(c.DB(), s.dimensions, s.logger).FindSimilar(ctx, table, id, opts)
		return err
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// StoreEmbedding writes one embedding onto an existing row and evicts the
// row's cached entry.
func (s *Service) StoreEmbedding(ctx context.Context, table, id string, v []float32) error {
	if err := s.ensureInitialized(); err != nil {
		return err
	}

	err := s.pool.WithConnection(ctx, func(c *storage.Conn) error {
		return storage.NewIndex(c.DB(), s.dimensions, s.logger).StoreEmbedding(ctx, table, id, v)
	})
	if err != nil {
		return err
	}

	s.evictIDEntry(table, id)
	return nil
}

// BatchStoreEmbeddings writes every item inside a single transaction and
// evicts the cached entry for each touched row.
func (s *Service) BatchStoreEmbeddings(ctx context.Context, items []storage.EmbeddingItem) error {
	if err := s.ensureInitialized(); err != nil {
		return err
	}

	err := s.pool.WithConnection(ctx, func(c *storage.Conn) error {
		return storage.BatchStoreEmbeddings(ctx, c, s.dimensions, s.logger, items)
	})
	if err != nil {
		return err
	}

	for _, item := range items {
		s.evictIDEntry(item.Table, item.ID)
	}
	s.emit(ctx, eventstream.EventTypeEmbeddingsStored, "", "", len(items))
	return nil
}

// ClearEmbeddings nulls the embedding column in one table, or everywhere
// when table is empty.
func (s *Service) ClearEmbeddings(ctx context.Context, table string) error {
	if err := s.ensureInitialized(); err != nil {
		return err
	}

	return s.pool.WithConnection(ctx, func(c *storage.Conn) error {
		return storage.NewIndex(c.DB(), s.dimensions, s.logger).ClearEmbeddings(ctx, table)
	})
}

// evictIDEntry drops the id-keyed cache entry for a row whose stored state
// changed outside the typed write paths.
func (s *Service) evictIDEntry(table, id string) {
	switch table {
	case storage.TableRules:
		s.rules.Delete(id)
	case storage.TableProjectDocs:
		s.docs.Delete(id)
	case storage.TableRefs:
		s.refs.Delete(id)
	}
}

// searchFingerprint derives a stable cache key from the full query vector
// and the canonicalized options. Hashing the whole vector avoids the
// collisions a truncated fingerprint would invite.
func searchFingerprint(q []float32, opts storage.SearchOptions) string {
	h := sha256.New()
	h.Write(vector.Serialize(q))

	fmt.Fprintf(h, "|%d|%g|%t|%s|%s|%d|%s",
		opts.Limit,
		opts.Threshold,
		opts.IncludeMetadata,
		opts.ProjectID,
		opts.ChannelID,
		opts.Tier,
		strings.Join(opts.Tags, ","),
	)

	return hex.EncodeToString(h.Sum(nil))
}
