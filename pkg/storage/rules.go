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

// RuleStore persists rules. It binds to a checked-out connection (or a
// transaction on it) and does not outlive the call that created it.
type RuleStore struct {
	q      Querier
	logger *zap.Logger
}

// NewRuleStore creates a rule store over q.
func NewRuleStore(q Querier, logger *zap.Logger) *RuleStore {
	return &RuleStore{q: q, logger: logger}
}

const ruleColumns = `id, content, embedding, tags, tier, metadata, created_at, updated_at`

// Create inserts a rule. A missing id is generated; both timestamps are set
// to the same instant. The stored record is returned.
func (s *RuleStore) Create(ctx context.Context, r Rule) (*Rule, error) {
	if r.Tier < 1 || r.Tier > 5 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidTier, r.Tier)
	}

	if r.ID == "" {
		r.ID = uuid.NewString()
	}

	tags, err := encodeTags(r.Tags)
	if err != nil {
		return nil, err
	}
	md, err := encodeMetadata(r.Metadata)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now
	if r.Tags == nil {
		r.Tags = []string{}
	}

	// Embeddings are written by the vector index, not here.
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO rules (id, content, tags, tier, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.Content, tags, r.Tier, md, now, now)
	if err != nil {
		return nil, fmt.Errorf("inserting rule: %w", err)
	}

	s.logger.Debug("rule created", zap.String("id", r.ID), zap.Int("tier", r.Tier))
	return &r, nil
}

// FindByID returns the rule, or nil when no row exists.
func (s *RuleStore) FindByID(ctx context.Context, id string) (*Rule, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+ruleColumns+` FROM rules WHERE id = ?`, id)

	r, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding rule %s: %w", id, err)
	}
	return r, nil
}

// RuleUpdate carries the mutable rule fields. Nil fields are left
// unchanged.
type RuleUpdate struct {
	Content  *string
	Tags     []string
	Tier     *int
	Metadata Metadata
}

// Update merges the partial update into the stored rule and writes all
// mutable columns back in one statement. Returns nil when no row exists.
func (s *RuleStore) Update(ctx context.Context, id string, upd RuleUpdate) (*Rule, error) {
	r, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, nil
	}

	if upd.Content != nil {
		r.Content = *upd.Content
	}
	if upd.Tags != nil {
		r.Tags = upd.Tags
	}
	if upd.Tier != nil {
		if *upd.Tier < 1 || *upd.Tier > 5 {
			return nil, fmt.Errorf("%w: got %d", ErrInvalidTier, *upd.Tier)
		}
		r.Tier = *upd.Tier
	}
	if upd.Metadata != nil {
		r.Metadata = upd.Metadata
	}

	tags, err := encodeTags(r.Tags)
	if err != nil {
		return nil, err
	}
	md, err := encodeMetadata(r.Metadata)
	if err != nil {
		return nil, err
	}

	r.UpdatedAt = time.Now().UTC()

	_, err = s.q.ExecContext(ctx, `
		UPDATE rules SET content = ?, tags = ?, tier = ?, metadata = ?, updated_at = ?
		WHERE id = ?
	`, r.Content, tags, r.Tier, md, r.UpdatedAt, id)
	if err != nil {
		return nil, fmt.Errorf("updating rule %s: %w", id, err)
	}

	s.logger.Debug("rule updated", zap.String("id", id))
	return r, nil
}

// Delete removes the rule, reporting whether a row was removed.
func (s *RuleStore) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.q.ExecContext(ctx, `DELETE FROM rules WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("deleting rule %s: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("deleting rule %s: %w", id, err)
	}
	return n > 0, nil
}

// List returns rules ordered by updated_at descending.
func (s *RuleStore) List(ctx context.Context, opts ListOptions) ([]Rule, error) {
	opts = opts.normalize()

	rows, err := s.q.QueryContext(ctx, `
		SELECT `+ruleColumns+` FROM rules
		ORDER BY updated_at DESC LIMIT ? OFFSET ?
	`, opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("listing rules: %w", err)
	}
	defer rows.Close()

	return collectRules(rows)
}

// Count returns the total number of rules.
func (s *RuleStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM rules`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting rules: %w", err)
	}
	return n, nil
}

// FindByTier returns rules of the given tier, newest update first.
func (s *RuleStore) FindByTier(ctx context.Context, tier int, opts ListOptions) ([]Rule, error) {
	opts = opts.normalize()

	rows, err := s.q.QueryContext(ctx, `
		SELECT `+ruleColumns+` FROM rules WHERE tier = ?
		ORDER BY updated_at DESC LIMIT ? OFFSET ?
	`, tier, opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("finding rules by tier: %w", err)
	}
	defer rows.Close()

	return collectRules(rows)
}

// FindByTags returns rules carrying any of the given tags. The match is a
// substring test on the JSON-encoded form, a deliberately coarse OR filter.
func (s *RuleStore) FindByTags(ctx context.Context, tags []string, opts ListOptions) ([]Rule, error) {
	if len(tags) == 0 {
		return []Rule{}, nil
	}
	opts = opts.normalize()

	filter, args := tagFilter("tags", tags)
	args = append(args, opts.Limit, opts.Offset)

	rows, err := s.q.QueryContext(ctx, `
		SELECT `+ruleColumns+` FROM rules WHERE `+filter+`
		ORDER BY updated_at DESC LIMIT ? OFFSET ?
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("finding rules by tags: %w", err)
	}
	defer rows.Close()

	return collectRules(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*Rule, error) {
	var (
		r         Rule
		embedding []byte
		tags      string
		md        sql.NullString
	)

	if err := row.Scan(&r.ID, &r.Content, &embedding, &tags, &r.Tier, &md, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}

	var err error
	if r.Tags, err = decodeTags(tags); err != nil {
		return nil, err
	}
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

func collectRules(rows *sql.Rows) ([]Rule, error) {
	out := []Rule{}
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rules: %w", err)
	}
	return out, nil
}
