package memory

import (
	"context"
	"database/sql"

	"github.com/papercomputeco/recall/pkg/eventstream"
	"github.com/papercomputeco/recall/pkg/storage"
	"github.com/papercomputeco/recall/pkg/vector"
)

// CreateRef persists a ref, caching it under both its id and its name. Row
// insert and embedding write share one transaction when an embedding is
// supplied.
func (s *Service) CreateRef(ctx context.Context, r storage.Ref) (*storage.Ref, error) {
	if err := s.ensureInitialized(); err != nil {
		return nil, err
	}
	if r.Embedding != nil {
		if err := vector.Validate(r.Embedding, s.dimensions); err != nil {
			return nil, err
		}
	}

	var created *storage.Ref
	err := s.pool.WithConnection(ctx, func(c *storage.Conn) error {
		return c.WithTransaction(ctx, func(tx *sql.Tx) error {
			out, err := storage.NewRefStore(tx, s.logger).Create(ctx, r)
			if err != nil {
				return err
			}
			if r.Embedding != nil {
				ix := storage.NewIndex(tx, s.dimensions, s.logger)
				if err := ix.StoreEmbedding(ctx, storage.TableRefs, out.ID, r.Embedding); err != nil {
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

	s.refs.Set(created.ID, *created)
	s.refNames.Set(created.Name, *created)
	s.emit(ctx, eventstream.EventTypeCreated, string(storage.TypeRef), created.ID, 0)
	return created, nil
}

// GetRef returns the ref, or nil when it does not exist.
func (s *Service) GetRef(ctx context.Context, id string) (*storage.Ref, error) {
	if err := s.ensureInitialized(); err != nil {
		return nil, err
	}

	if cached, ok := s.refs.Get(id); ok {
		return &cached, nil
	}

	var found *storage.Ref
	err := s.pool.WithConnection(ctx, func(c *storage.Conn) error {
		var err error
		found, err = storage.NewRefStore(c.DB(), s.logger).FindByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	if found != nil {
		s.refs.Set(found.ID, *found)
	}
	return found, nil
}

// GetRefByName returns the most recently updated ref with the given name,
// or nil when none exists. The name cache is checked first; a database hit
// populates both the id and the name entries.
func (s *Service) GetRefByName(ctx context.Context, name string) (*storage.Ref, error) {
	if err := s.ensureInitialized(); err != nil {
		return nil, err
	}

	if cached, ok := s.refNames.Get(name); ok {
		return &cached, nil
	}

	var found *storage.Ref
	err := s.pool.WithConnection(ctx, func(c *storage.Conn) error {
		var err error
		found, err = storage.NewRefStore(c.DB(), s.logger).FindByName(ctx, name)
		return err
	})
	if err != nil {
		return nil, err
	}

	if found != nil {
		s.refs.Set(found.ID, *found)
		s.refNames.Set(found.Name, *found)
	}
	return found, nil
}

// UpdateRef applies a partial update, returning the merged record or nil
// when the ref does not exist. Both the id and the name entries are
// refreshed; a rename evicts the stale name entry.
func (s *Service) UpdateRef(ctx context.Context, id string, upd storage.RefUpdate) (*storage.Ref, error) {
	if err := s.ensureInitialized(); err != nil {
		return nil, err
	}

	prior, _ := s.refs.Peek(id)

	var updated *storage.Ref
	err := s.pool.WithConnection(ctx, func(c *storage.Conn) error {
		var err error
		updated, err = storage.NewRefStore(c.DB(), s.logger).Update(ctx, id, upd)
		return err
	})
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, nil
	}

	if prior.Name != "" && prior.Name != updated.Name {
		s.refNames.Delete(prior.Name)
	}
	s.refs.Set(updated.ID, *updated)
	s.refNames.Set(updated.Name, *updated)
	s.emit(ctx, eventstream.EventTypeUpdated, string(storage.TypeRef), id, 0)
	return updated, nil
}

// DeleteRef removes the ref, reporting whether a row was removed. Both the
// id and the name entries are evicted.
func (s *Service) DeleteRef(ctx context.Context, id string) (bool, error) {
	if err := s.ensureInitialized(); err != nil {
		return false, err
	}

	var (
		removed bool
		name    string
	)
	err := s.pool.WithConnection(ctx, func(c *storage.Conn) error {
		store := storage.NewRefStore(c.DB(), s.logger)

		// The name is needed to evict the name-keyed cache entry.
		existing, err := store.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if existing != nil {
			name = existing.Name
		}

		removed, err = store.Delete(ctx, id)
		return err
	})
	if err != nil {
		return false, err
	}

	if removed {
		s.refs.Delete(id)
		if name != "" {
			s.refNames.Delete(name)
		}
		s.emit(ctx, eventstream.EventTypeDeleted, string(storage.TypeRef), id, 0)
	}
	return removed, nil
}

// ListRefsOptions scopes a ref listing.
type ListRefsOptions struct {
	// ChannelID restricts the listing to one channel when non-empty.
	ChannelID string

	Limit  int
	Offset int
}

// ListRefs returns refs ordered by updated_at descending, optionally scoped
// to one channel.
func (s *Service) ListRefs(ctx context.Context, opts ListRefsOptions) ([]storage.Ref, error) {
	if err := s.ensureInitialized(); err != nil {
		return nil, err
	}

	var refs []storage.Ref
	err := s.pool.WithConnection(ctx, func(c *storage.Conn) error {
		store := storage.NewRefStore(c.DB(), s.logger)
		listOpts := storage.ListOptions{Limit: opts.Limit, Offset: opts.Offset}

		var err error
		if opts.ChannelID != "" {
			refs, err = store.FindByChannelID(ctx, opts.ChannelID, listOpts)
		} else {
			refs, err = store.List(ctx, listOpts)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return refs, nil
}
