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

// RefStore persists named references.
type RefStore struct {
	q      Querier
	logger *zap.Logger
}

// NewRefStore creates a ref store over q.
func NewRefStore(q Querier, logger *zap.Logger) *RefStore {
	return &RefStore{q: q, logger: logger}
}

const refColumns = `id, name, content, embedding, channel_id, metadata, created_at, updated_at`

// Create inserts a ref. A missing id is generated; both timestamps are set
// to the same instant.
func (s *RefStore) Create(ctx context.Context, r Ref) (*Ref, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}

	md, err := encodeMetadata(r.Metadata)
	if err != nil {
		return nil, err
	}

	var channelID sql.NullString
	if r.ChannelID != "" {
		channelID = sql.NullString{String: r.ChannelID, Valid: true}
	}

	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now

	// Embeddings are written by the vector index, not here.
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO refs (id, name, content, channel_id, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.Name, r.Content, channelID, md, now, now)
	if err != nil {
		return nil, fmt.Errorf("inserting ref: %w", err)
	}

	s.logger.Debug("ref created", zap.String("id", r.ID), zap.String("name", r.Name))
	return &r, nil
}

// FindByID returns the ref, or nil when no row exists.
func (s *RefStore) FindByID(ctx context.Context, id string) (*Ref, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+refColumns+` FROM refs WHERE id = ?`, id)

	r, err := scanRef(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding ref %s: %w", id, err)
	}
	return r, nil
}

// FindByName returns the most recently updated ref with the given name, or
// nil when none exists. The schema does not enforce name uniqueness; caller
// discipline does.
func (s *RefStore) FindByName(ctx context.Context, name string) (*Ref, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+refColumns+` FROM refs WHERE name = ?
		ORDER BY updated_at DESC LIMIT 1
	`, name)

	r, err := scanRef(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding ref by name %s: %w", name, err)
	}
	return r, nil
}

// RefUpdate carries the mutable ref fields. Nil fields are left unchanged.
type RefUpdate struct {
	Name      *string
	Content   *string
	ChannelID *string
	Metadata  Metadata
}

// Update merges the partial update into the stored ref and writes all
// mutable columns back in one statement. Returns nil when no row exists.
func (s *RefStore) Update(ctx context.Context, id string, upd RefUpdate) (*Ref, error) {
	r, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, nil
	}

	if upd.Name != nil {
		r.Name = *upd.Name
	}
	if upd.Content != nil {
		r.Content = *upd.Content
	}
	if upd.ChannelID != nil {
		r.ChannelID = *upd.ChannelID
	}
	if upd.Metadata != nil {
		r.Metadata = upd.Metadata
	}

	md, err := encodeMetadata(r.Metadata)
	if err != nil {
		return nil, err
	}

	var channelID sql.NullString
	if r.ChannelID != "" {
		channelID = sql.NullString{String: r.ChannelID, Valid: true}
	}

	r.UpdatedAt = time.Now().UTC()

	_, err = s.q.ExecContext(ctx, `
		UPDATE refs SET name = ?, content = ?, channel_id = ?, metadata = ?, updated_at = ?
		WHERE id = ?
	`, r.Name, r.Content, channelID, md, r.UpdatedAt, id)
	if err != nil {
		return nil, fmt.Errorf("updating ref %s: %w", id, err)
	}

	s.logger.Debug("ref updated", zap.String("id", id))
	return r, nil
}

// Delete removes the ref, reporting whether a row was removed.
func (s *RefStore) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.q.ExecContext(ctx, `DELETE FROM refs WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("deleting ref %s: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("deleting ref %s: %w", id, err)
	}
	return n > 0, nil
}

// List returns refs ordered by updated_at descending.
func (s *RefStore) List(ctx context.Context, opts ListOptions) ([]Ref, error) {
	opts = opts.normalize()

	rows, err := s.q.QueryContext(ctx, `
		SELECT `+refColumns+` FROM refs
		ORDER BY updated_at DESC LIMIT ? OFFSET ?
	`, opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("listing refs: %w", err)
	}
	defer rows.Close()

	return collectRefs(rows)
}

// Count returns the total number of refs.
func (s *RefStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM refs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting refs: %w", err)
	}
	return n, nil
}

// FindByChannelID returns the refs scoped to a channel, newest update
// first.
func (s *RefStore) FindByChannelID(ctx context.Context, channelID string, opts ListOptions) ([]Ref, error) {
	opts = opts.normalize()

	rows, err := s.q.QueryContext(ctx, `
		SELECT `+refColumns+` FROM refs WHERE channel_id = ?
		ORDER BY updated_at DESC LIMIT ? OFFSET ?
	`, channelID, opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("finding refs by channel: %w", err)
	}
	defer rows.Close()

	return collectRefs(rows)
}

func scanRef(row rowScanner) (*Ref, error) {
	var (
		r         Ref
		embedding []byte
		channelID sql.NullString
		md        sql.NullString
	)

	if err := row.Scan(&r.ID, &r.Name, &r.Content, &embedding, &channelID, &md, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}

	if channelID.Valid {
		r.ChannelID = channelID.String
	}

	var err error
	if r.Metadata, err = decodeMetadata(md); err != nil {
		return nil, err
	}
	if len(embedding) > 0 {
		if r.Embedding, err = vector.Deserialize(embedding); err != nil {
			return nil, err
		}
	}

	return &r, nil
}

func collectRefs(rows *sql.Rows) ([]Ref, error) {
	out := []Ref{}
	for rows.Next() {
		r, err := scanRef(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating refs: %w", err)
	}
	return out, nil
}
