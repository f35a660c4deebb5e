package memory

import (
	"context"
	"database/sql"

	"github.com/papercomputeco/recall/pkg/eventstream"
	"github.com/papercomputeco/recall/pkg/storage"
	"github.com/papercomputeco/recall/pkg/vector"
)

// CreateRule persists a rule. When an embedding is supplied the row insert
// and the embedding write share one transaction, so a crash can never leave
// the row without its requested embedding.
func (s *Service) CreateRule(ctx context.Context, r storage.Rule) (*storage.Rule, error) {
	if err := s.ensureInitialized(); err != nil {
		return nil, err
	}
	if r.Embedding != nil {
		if err := vector.Validate(r.Embedding, s.dimensions); err != nil {
			return nil, err
		}
	}

	var created *storage.Rule
	err := s.pool.WithConnection(ctx, func(c *storage.Conn) error {
		return c.WithTransaction(ctx, func(tx *sql.Tx) error {
			out, err := storage.NewRuleStore(tx, s.logger).Create(ctx, r)
			if err != nil {
				return err
			}
			if r.Embedding != nil {
				ix := storage.NewIndex(tx, s.dimensions, s.logger)
				if err := ix.StoreEmbedding(ctx, storage.TableRules, out.ID, r.Embedding); err != nil {
					return err
				}
			}
			created = out
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.rules.Set(created.ID, *created)
	s.emit(ctx, eventstream.EventTypeCreated, string(storage.TypeRule), created.ID, 0)
	return created, nil
}

// GetRule returns the rule, or nil when it does not exist. Reads are
// cache-aside with positive-only caching: misses are not cached.
func (s *Service) GetRule(ctx context.Context, id string) (*storage.Rule, error) {
	if err := s.ensureInitialized(); err != nil {
		return nil, err
	}

	if cached, ok := s.rules.Get(id); ok {
		return &cached, nil
	}

	var found *storage.Rule
	err := s.pool.WithConnection(ctx, func(c *storage.Conn) error {
		var err error
		found, err = storage.NewRuleStore(c.DB(), s.logger).FindByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	if found != nil {
		s.rules.Set(found.ID, *found)
	}
	return found, nil
}

// UpdateRule applies a partial update, returning the merged record or nil
// when the rule does not exist. On success the cached entry is overwritten.
func (s *Service) UpdateRule(ctx context.Context, id string, upd storage.RuleUpdate) (*storage.Rule, error) {
	if err := s.ensureInitialized(); err != nil {
		return nil, err
	}

	var updated *storage.Rule
	err := s.pool.WithConnection(ctx, func(c *storage.Conn) error {
		var err error
		updated, err = storage.NewRuleStore(c.DB(), s.logger).Update(ctx, id, upd)
		return err
	})
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, nil
	}

	s.rules.Set(updated.ID, *updated)
	s.emit(ctx, eventstream.EventTypeUpdated, string(storage.TypeRule), id, 0)
	return updated, nil
}

// DeleteRule removes the rule, reporting whether a row was removed. On
// success the cached entry is evicted.
func (s *Service) DeleteRule(ctx context.Context, id string) (bool, error) {
	if err := s.ensureInitialized(); err != nil {
		return false, err
	}

	var removed bool
	err := s.pool.WithConnection(ctx, func(c *storage.Conn) error {
		var err error
		removed, err = storage.NewRuleStore(c.DB(), s.logger).Delete(ctx, id)
		return err
	})
	if err != nil {
		return false, err
	}

	if removed {
		s.rules.Delete(id)
		s.emit(ctx, eventstream.EventTypeDeleted, string(storage.TypeRule), id, 0)
	}
	return removed, nil
}

// ListRulesOptions scopes a rule listing.
type ListRulesOptions struct {
	// Tier restricts the listing to one tier when non-nil.
	Tier *int

	// Tags restricts the listing to rules carrying any of the given tags.
	Tags []string

	Limit  int
	Offset int
}

// ListRules returns rules ordered by updated_at descending, optionally
// scoped by tier or tags.
func (s *Service) ListRules(ctx context.Context, opts ListRulesOptions) ([]storage.Rule, error) {
	if err := s.ensureInitialized(); err != nil {
		return nil, err
	}

	var rules []storage.Rule
	err := s.pool.WithConnection(ctx, func(c *storage.Conn) error {
		store := storage.NewRuleStore(c.DB(), s.logger)
		listOpts := storage.ListOptions{Limit: opts.Limit, Offset: opts.Offset}

		var err error
		switch {
		case opts.Tier != nil:
			rules, err = store.FindByTier(ctx, *opts.Tier, listOpts)
		case len(opts.Tags) > 0:
			rules, err = store.FindByTags(ctx, opts.Tags, listOpts)
		default:
			rules, err = store.List(ctx, listOpts)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return rules, nil
}
