package memory

import (
	"context"
	"database/sql"

	"github.com/papercomputeco/recall/pkg/eventstream"
	"github.com/papercomputeco/recall/pkg/storage"
	"github.com/papercomputeco/recall/pkg/vector"
)

// CreateProjectDoc persists a project doc. Row insert and embedding write
// share one transaction when an embedding is supplied.
func (s *Service) CreateProjectDoc(ctx context.Context, d storage.ProjectDoc) (*storage.ProjectDoc, error) {
	if err := s.ensureInitialized(); err != nil {
		return nil, err
	}
	if d.Embedding != nil {
		if err := vector.Validate(d.Embedding, s.dimensions); err != nil {
			return nil, err
		}
	}

	var created *storage.ProjectDoc
	err := s.pool.WithConnection(ctx, func(c *storage.Conn) error {
		return c.WithTransaction(ctx, func(tx *sql.Tx) error {
			out, err := storage.NewProjectDocStore(tx, s.logger).Create(ctx, d)
			if err != nil {
				return err
			}
			if d.Embedding != nil {
				ix := storage.NewIndex(tx, s.dimensions, s.logger)
				if err := ix.StoreEmbedding(ctx, storage.TableProjectDocs, out.ID, d.Embedding); err != nil {
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

	s.docs.Set(created.ID, *created)
	s.emit(ctx, eventstream.EventTypeCreated, string(storage.TypeProjectDoc), created.ID, 0)
	return created, nil
}

// GetProjectDoc returns the doc, or nil when it does not exist.
func (s *Service) GetProjectDoc(ctx context.Context, id string) (*storage.ProjectDoc, error) {
	if err := s.ensureInitialized(); err != nil {
		return nil, err
	}

	if cached, ok := s.docs.Get(id); ok {
		return &cached, nil
	}

	var found *storage.ProjectDoc
	err := s.pool.WithConnection(ctx, func(c *storage.Conn) error {
		var err error
		found, err = storage.NewProjectDocStore(c.DB(), s.logger).FindByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	if found != nil {
		s.docs.Set(found.ID, *found)
	}
	return found, nil
}

// UpdateProjectDoc applies a partial update, returning the merged record or
// nil when the doc does not exist.
func (s *Service) UpdateProjectDoc(ctx context.Context, id string, upd storage.ProjectDocUpdate) (*storage.ProjectDoc, error) {
	if err := s.ensureInitialized(); err != nil {
		return nil, err
	}

	var updated *storage.ProjectDoc
	err := s.pool.WithConnection(ctx, func(c *storage.Conn) error {
		var err error
		updated, err = storage.NewProjectDocStore(c.DB(), s.logger).Update(ctx, id, upd)
		return err
	})
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, nil
	}

	s.docs.Set(updated.ID, *updated)
	s.emit(ctx, eventstream.EventTypeUpdated, string(storage.TypeProjectDoc), id, 0)
	return updated, nil
}

// DeleteProjectDoc removes the doc, reporting whether a row was removed.
func (s *Service) DeleteProjectDoc(ctx context.Context, id string) (bool, error) {
	if err := s.ensureInitialized(); err != nil {
		return false, err
	}

	var removed bool
	err := s.pool.WithConnection(ctx, func(c *storage.Conn) error {
		var err error
		removed, err = storage.NewProjectDocStore(c.DB(), s.logger).Delete(ctx, id)
		return err
	})
	if err != nil {
		return false, err
	}

	if removed {
		s.docs.Delete(id)
		s.emit(ctx, eventstream.EventTypeDeleted, string(storage.TypeProjectDoc), id, 0)
	}
	return removed, nil
}

// ListProjectDocsOptions scopes a doc listing.
type ListProjectDocsOptions struct {
	// ProjectID restricts the listing to one project when non-empty.
	ProjectID string

	Limit  int
	Offset int
}

// ListProjectDocs returns docs ordered by updated_at descending, optionally
// scoped to one project.
func (s *Service) ListProjectDocs(ctx context.Context, opts ListProjectDocsOptions) ([]storage.ProjectDoc, error) {
	if err := s.ensureInitialized(); err != nil {
		return nil, err
	}

	var docs []storage.ProjectDoc
	err := s.pool.WithConnection(ctx, func(c *storage.Conn) error {
		store := storage.NewProjectDocStore(c.DB(), s.logger)
		listOpts := storage.ListOptions{Limit: opts.Limit, Offset: opts.Offset}

		var err error
		if opts.ProjectID != "" {
			docs, err = store.FindByProjectID(ctx, opts.ProjectID, listOpts)
		} else {
			docs, err = store.List(ctx, listOpts)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}
