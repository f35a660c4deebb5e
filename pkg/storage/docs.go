package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/papercomputeco/recall/pkg/vector"
)

// ProjectDocStore persists project documents.
type ProjectDocStore struct {
	q      Querier
	logger *zap.Logger
}

// NewProjectDocStore creates a project doc store over q.
func NewProjectDocStore(q Querier, logger *zap.Logger) *ProjectDocStore {
	return &ProjectDocStore{q: q, logger: logger}
}

const docColumns = `id, project_id, title, content, file_path, embedding, tags, metadata, created_at, updated_at`

// Create inserts a project doc. A missing id is generated; both timestamps
// are set to the same instant.
func (s *ProjectDocStore) Create(ctx context.Context, d ProjectDoc) (*ProjectDoc, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}

	tags, err := encodeTags(d.Tags)
	if err != nil {
		return nil, err
	}
	md, err := encodeMetadata(d.Metadata)
	if err != nil {
		return nil, err
	}

	var filePath sql.NullString
	if d.FilePath != "" {
		filePath = sql.NullString{String: d.FilePath, Valid: true}
	}

	now := time.Now().UTC()
	d.CreatedAt = now
	d.UpdatedAt = now
	if d.Tags == nil {
		d.Tags = []string{}
	}

	// Embeddings are written by the vector index, not here.
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO project_docs (id, project_id, title, content, file_path, tags, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, d.ID, d.ProjectID, d.Title, d.Content, filePath, tags, md, now, now)
	if err != nil {
		return nil, fmt.Errorf("inserting project doc: %w", err)
	}

	s.logger.Debug("project doc created",
		zap.String("id", d.ID),
		zap.String("project_id", d.ProjectID),
	)
	return &d, nil
}

// FindByID returns the doc, or nil when no row exists.
func (s *ProjectDocStore) FindByID(ctx context.Context, id string) (*ProjectDoc, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+docColumns+` FROM project_docs WHERE id = ?`, id)

	d, err := scanProjectDoc(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding project doc %s: %w", id, err)
	}
	return d, nil
}

// ProjectDocUpdate carries the mutable doc fields. Nil fields are left
// unchanged.
type ProjectDocUpdate struct {
	ProjectID *string
	Title     *string
	Content   *string
	FilePath  *string
	Tags      []string
	Metadata  Metadata
}

// Update merges the partial update into the stored doc and writes all
// mutable columns back in one statement. Returns nil when no row exists.
func (s *ProjectDocStore) Update(ctx context.Context, id string, upd ProjectDocUpdate) (*ProjectDoc, error) {
	d, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, nil
	}

	if upd.ProjectID != nil {
		d.ProjectID = *upd.ProjectID
	}
	if upd.Title != nil {
		d.Title = *upd.Title
	}
	if upd.Content != nil {
		d.Content = *upd.Content
	}
	if upd.FilePath != nil {
		d.FilePath = *upd.FilePath
	}
	if upd.Tags != nil {
		d.Tags = upd.Tags
	}
	if upd.Metadata != nil {
		d.Metadata = upd.Metadata
	}

	tags, err := encodeTags(d.Tags)
	if err != nil {
		return nil, err
	}
	md, err := encodeMetadata(d.Metadata)
	if err != nil {
		return nil, err
	}

	var filePath sql.NullString
	if d.FilePath != "" {
		filePath = sql.NullString{String: d.FilePath, Valid: true}
	}

	d.UpdatedAt = time.Now().UTC()

	_, err = s.q.ExecContext(ctx, `
		UPDATE project_docs SET project_id = ?, title = ?, content = ?, file_path = ?, tags = ?, metadata = ?, updated_at = ?
		WHERE id = ?
	`, d.ProjectID, d.Title, d.Content, filePath, tags, md, d.UpdatedAt, id)
	if err != nil {
		return nil, fmt.Errorf("updating project doc %s: %w", id, err)
	}

	s.logger.Debug("project doc updated", zap.String("id", id))
	return d, nil
}

// Delete removes the doc, reporting whether a row was removed.
func (s *ProjectDocStore) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.q.ExecContext(ctx, `DELETE FROM project_docs WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("deleting project doc %s: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("deleting project doc %s: %w", id, err)
	}
	return n > 0, nil
}

// List returns docs ordered by updated_at descending.
func (s *ProjectDocStore) List(ctx context.Context, opts ListOptions) ([]ProjectDoc, error) {
	opts = opts.normalize()

	rows, err := s.q.QueryContext(ctx, `
		SELECT `+docColumns+` FROM project_docs
		ORDER BY updated_at DESC LIMIT ? OFFSET ?
	`, opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("listing project docs: %w", err)
	}
	defer rows.Close()

	return collectProjectDocs(rows)
}

// Count returns the total number of docs.
func (s *ProjectDocStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM project_docs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting project docs: %w", err)
	}
	return n, nil
}

// FindByProjectID returns the docs grouped under a project, newest update
// first.
func (s *ProjectDocStore) FindByProjectID(ctx context.Context, projectID string, opts ListOptions) ([]ProjectDoc, error) {
	opts = opts.normalize()

	rows, err := s.q.QueryContext(ctx, `
		SELECT `+docColumns+` FROM project_docs WHERE project_id = ?
		ORDER BY updated_at DESC LIMIT ? OFFSET ?
	`, projectID, opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("finding project docs by project: %w", err)
	}
	defer rows.Close()

	return collectProjectDocs(rows)
}

func scanProjectDoc(row rowScanner) (*ProjectDoc, error) {
	var (
		d         ProjectDoc
		filePath  sql.NullString
		embedding []byte
		tags      string
		md        sql.NullString
	)

	if err := row.Scan(&d.ID, &d.ProjectID, &d.Title, &d.Content, &filePath, &embedding, &tags, &md, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}

	if filePath.Valid {
		d.FilePath = filePath.String
	}

	var err error
	if d.Tags, err = decodeTags(tags); err != nil {
		return nil, err
	}
	if d.Metadata, err = decodeMetadata(md); err != nil {
		return nil, err
	}
	if len(embedding) > 0 {
		if d.Embedding, err = vector.Deserialize(embedding); err != nil {
			return nil, err
		}
	}

	return &d, nil
}

func collectProjectDocs(rows *sql.Rows) ([]ProjectDoc, error) {
	out := []ProjectDoc{}
	for rows.Next() {
		d, err := scanProjectDoc(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating project docs: %w", err)
	}
	return out, nil
}
