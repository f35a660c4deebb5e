package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/papercomputeco/recall/pkg/vector"
)

// Index persists embeddings on entity rows and runs the brute-force
// cosine-similarity scan. Like the row stores it binds to a checked-out
// connection or a transaction and is ephemeral per call.
//
// Search is an exact linear scan: O(N * d) for N embedded rows of dimension
// d. No index build, predictable latency, zero staleness.
type Index struct {
	q          Querier
	dimensions int
	logger     *zap.Logger
}

// NewIndex creates an index over q with the configured embedding dimension.
func NewIndex(q Querier, dimensions int, logger *zap.Logger) *Index {
	return &Index{q: q, dimensions: dimensions, logger: logger}
}

// SearchOptions tunes a semantic search.
type SearchOptions struct {
	// Limit caps the number of results. Zero or negative means 10.
	Limit int

	// Threshold is the minimum similarity for a row to qualify.
	Threshold float64

	// IncludeMetadata attaches JSON-decoded metadata to results.
	IncludeMetadata bool

	// ProjectID restricts the scan to project docs of one project.
	ProjectID string

	// ChannelID restricts the scan to refs of one channel.
	ChannelID string

	// Tier restricts the scan to rules of one tier. Zero means unset.
	Tier int

	// Tags restricts rules and project docs to rows carrying any of the
	// given tags.
	Tags []string
}

// DefaultSearchOptions returns the documented defaults: limit 10,
// threshold 0.7, metadata included.
func DefaultSearchOptions() SearchOptions {
	return SearchOptions{
		Limit:           10,
		Threshold:       0.7,
		IncludeMetadata: true,
	}
}

func (o SearchOptions) normalize() SearchOptions {
	if o.Limit <= 0 {
		o.Limit = 10
	}
	return o
}

// TableStats counts total and embedded rows for one table.
type TableStats struct {
	Total    int `json:"total"`
	Embedded int `json:"embedded"`
}

// IndexStats aggregates per-table counts and grand totals.
type IndexStats struct {
	Tables        map[string]TableStats `json:"tables"`
	TotalRows     int                   `json:"total_rows"`
	TotalEmbedded int                   `json:"total_embedded"`
}

// StoreEmbedding validates and writes an embedding onto a row. The table
// must be one of the allowlisted entity tables.
func (ix *Index) StoreEmbedding(ctx context.Context, table, id string, v []float32) error {
	if !knownTable(table) {
		return fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}
	if err := vector.Validate(v, ix.dimensions); err != nil {
		return err
	}

	_, err := ix.q.ExecContext(ctx,
		`UPDATE `+table+` SET embedding = ? WHERE id = ?`,
		vector.Serialize(v), id,
	)
	if err != nil {
		return fmt.Errorf("storing embedding for %s/%s: %w", table, id, err)
	}

	ix.logger.Debug("embedding stored",
		zap.String("table", table),
		zap.String("id", id),
		zap.Int("dimensions", len(v)),
	)
	return nil
}

// GetEmbedding returns the row's embedding, or nil if the row is missing or
// has no embedding.
func (ix *Index) GetEmbedding(ctx context.Context, table, id string) ([]float32, error) {
	if !knownTable(table) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}

	var blob []byte
	err := ix.q.QueryRowContext(ctx,
		`SELECT embedding FROM `+table+` WHERE id = ?`, id,
	).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading embedding for %s/%s: %w", table, id, err)
	}

	if len(blob) == 0 {
		return nil, nil
	}
	return vector.Deserialize(blob)
}

// ClearEmbeddings nulls the embedding column in one table, or in all three
// when table is empty. Other columns are untouched.
func (ix *Index) ClearEmbeddings(ctx context.Context, table string) error {
	tables := []string{table}
	if table == "" {
		tables = []string{TableRules, TableProjectDocs, TableRefs}
	}

	for _, t := range tables {
		if !knownTable(t) {
			return fmt.Errorf("%w: %q", ErrUnknownTable, t)
		}
		if _, err := ix.q.ExecContext(ctx, `UPDATE `+t+` SET embedding = NULL`); err != nil {
			return fmt.Errorf("clearing embeddings in %s: %w", t, err)
		}
	}

	ix.logger.Info("embeddings cleared", zap.Strings("tables", tables))
	return nil
}

// Stats returns per-table row and embedding counts plus grand totals.
func (ix *Index) Stats(ctx context.Context) (*IndexStats, error) {
	stats := &IndexStats{Tables: make(map[string]TableStats, len(tableOrder))}

	for _, t := range tableOrder {
		var ts TableStats
		err := ix.q.QueryRowContext(ctx,
			`SELECT COUNT(*), COUNT(embedding) FROM `+t.Name,
		).Scan(&ts.Total, &ts.Embedded)
		if err != nil {
			return nil, fmt.Errorf("counting %s: %w", t.Name, err)
		}

		stats.Tables[t.Name] = ts
		stats.TotalRows += ts.Total
		stats.TotalEmbedded += ts.Embedded
	}

	return stats, nil
}

// SemanticSearch scans the embedded rows of every entity table (or the one
// table a scope field selects), ranks candidates meeting the threshold by
// cosine similarity descending, and returns the top results. Ties keep
// table order (rules, project_docs, refs) then row order.
func (ix *Index) SemanticSearch(ctx context.Context, q []float32, opts SearchOptions) ([]SearchResult, error) {
	if err := vector.Validate(q, ix.dimensions); err != nil {
		return nil, err
	}
	opts = opts.normalize()

	var candidates []SearchResult
	for _, t := range ix.scanTables(opts) {
		rows, err := ix.scanTable(ctx, t.Name, t.Type, q, opts)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, rows...)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Similarity > candidates[j].Similarity
	})

	if len(candidates) > opts.Limit {
		candidates = candidates[:opts.Limit]
	}

	ix.logger.Debug("semantic search complete",
		zap.Int("results", len(candidates)),
		zap.Float64("threshold", opts.Threshold),
	)
	return candidates, nil
}

// SearchInTable scans a single table with the same semantics as
// SemanticSearch.
func (ix *Index) SearchInTable(ctx context.Context, table string, q []float32, opts SearchOptions) ([]SearchResult, error) {
	if !knownTable(table) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}
	if err := vector.Validate(q, ix.dimensions); err != nil {
		return nil, err
	}
	opts = opts.normalize()

	var typ EntityType
	for _, t := range tableOrder {
		if t.Name == table {
			typ = t.Type
		}
	}

	results, err := ix.scanTable(ctx, table, typ, q, opts)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})

	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// FindSimilar looks up the given row's embedding, searches the whole corpus
// with it, and filters the row itself from the results.
func (ix *Index) FindSimilar(ctx context.Context, table, id string, opts SearchOptions) ([]SearchResult, error) {
	emb, err := ix.GetEmbedding(ctx, table, id)
	if err != nil {
		return nil, err
	}
	if emb == nil {
		return []SearchResult{}, nil
	}

	results, err := ix.SemanticSearch(ctx, emb, opts)
	if err != nil {
		return nil, err
	}

	filtered := results[:0]
	for _, r := range results {
		if r.ID != id {
			filtered = append(filtered, r)
		}
	}
	return filtered, nil
}

// scanTables selects which tables a search touches. A scope field narrows
// the scan to the table that owns it; project takes precedence over
// channel, channel over tier.
func (ix *Index) scanTables(opts SearchOptions) []struct {
	Name string
	Type EntityType
} {
	switch {
	case opts.ProjectID != "":
		return tableOrder[1:2]
	case opts.ChannelID != "":
		return tableOrder[2:3]
	case opts.Tier > 0:
		return tableOrder[0:1]
	case len(opts.Tags) > 0:
		// Refs carry no tags; a tag scope excludes them.
		return tableOrder[0:2]
	default:
		return tableOrder
	}
}

// scanTable streams a table's embedded rows, computes cosine similarity
// against q, and returns the candidates meeting the threshold in row
// order.
func (ix *Index) scanTable(ctx context.Context, table string, typ EntityType, q []float32, opts SearchOptions) ([]SearchResult, error) {
	query := `SELECT id, content, embedding`
	if opts.IncludeMetadata {
		query += `, metadata`
	}
	query += ` FROM ` + table + ` WHERE embedding IS NOT NULL`

	var args []any
	switch table {
	case TableRules:
		if opts.Tier > 0 {
			query += ` AND tier = ?`
			args = append(args, opts.Tier)
		}
		if len(opts.Tags) > 0 {
			filter, filterArgs := tagFilter("tags", opts.Tags)
			query += ` AND ` + filter
			args = append(args, filterArgs...)
		}
	case TableProjectDocs:
		if opts.ProjectID != "" {
			query += ` AND project_id = ?`
			args = append(args, opts.ProjectID)
		}
		if len(opts.Tags) > 0 {
			filter, filterArgs := tagFilter("tags", opts.Tags)
			query += ` AND ` + filter
			args = append(args, filterArgs...)
		}
	case TableRefs:
		if opts.ChannelID != "" {
			query += ` AND channel_id = ?`
			args = append(args, opts.ChannelID)
		}
	}

	rows, err := ix.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", table, err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var (
			id      string
			content string
			blob    []byte
			mdRaw   sql.NullString
		)

		dest := []any{&id, &content, &blob}
		if opts.IncludeMetadata {
			dest = append(dest, &mdRaw)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scanning %s row: %w", table, err)
		}

		emb, err := vector.Deserialize(blob)
		if err != nil {
			ix.logger.Warn("undecodable embedding skipped",
				zap.String("table", table),
				zap.String("id", id),
				zap.Error(err),
			)
			continue
		}
		if len(emb) != len(q) {
			ix.logger.Warn("embedding with stale dimensions skipped",
				zap.String("table", table),
				zap.String("id", id),
				zap.Int("dimensions", len(emb)),
			)
			continue
		}

		similarity, err := vector.Cosine(q, emb)
		if err != nil {
			return nil, err
		}
		if similarity < opts.Threshold {
			continue
		}

		result := SearchResult{
			ID:         id,
			Content:    content,
			Similarity: similarity,
			Type:       typ,
		}
		if opts.IncludeMetadata {
			if result.Metadata, err = decodeMetadata(mdRaw); err != nil {
				return nil, err
			}
		}
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating %s: %w", table, err)
	}

	return results, nil
}

// EmbeddingItem is one (table, id, embedding) triple for batch storage.
type EmbeddingItem struct {
	Table     string
	ID        string
	Embedding []float32
}

// BatchStoreEmbeddings writes every item inside a single transaction on the
// given connection; any failure rolls the whole batch back.
func BatchStoreEmbeddings(ctx context.Context, conn *Conn, dimensions int, logger *zap.Logger, items []EmbeddingItem) error {
	if len(items) == 0 {
		return nil
	}

	return conn.WithTransaction(ctx, func(tx *sql.Tx) error {
		ix := NewIndex(tx, dimensions, logger)
		for _, item := range items {
			if err := ix.StoreEmbedding(ctx, item.Table, item.ID, item.Embedding); err != nil {
				return err
			}
		}
		logger.Debug("batch embeddings stored", zap.Int("count", len(items)))
		return nil
	})
}
