package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

// encodeTags serializes tags as JSON text, defaulting empty to "[]".
// Tags containing '"' are rejected because the encoded-form tag filter
// matches on the quoted literal.
func encodeTags(tags []string) (string, error) {
	for _, tag := range tags {
		if strings.Contains(tag, `"`) {
			return "", fmt.Errorf("%w: %q", ErrInvalidTag, tag)
		}
	}

	if len(tags) == 0 {
		return "[]", nil
	}

	data, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("encoding tags: %w", err)
	}
	return string(data), nil
}

func decodeTags(raw string) ([]string, error) {
	if raw == "" {
		return []string{}, nil
	}

	var tags []string
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return nil, fmt.Errorf("decoding tags: %w", err)
	}
	if tags == nil {
		tags = []string{}
	}
	return tags, nil
}

// encodeMetadata serializes metadata as JSON text, or NULL when absent.
func encodeMetadata(md Metadata) (sql.NullString, error) {
	if md == nil {
		return sql.NullString{}, nil
	}

	data, err := json.Marshal(md)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encoding metadata: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func decodeMetadata(raw sql.NullString) (Metadata, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}

	var md Metadata
	if err := json.Unmarshal([]byte(raw.String), &md); err != nil {
		return nil, fmt.Errorf("decoding metadata: %w", err)
	}
	return md, nil
}

// tagFilter builds an OR filter matching rows whose encoded tags contain
// any of the given tag literals. Correct for tag strings without '"',
// which the write boundary enforces.
func tagFilter(column string, tags []string) (string, []any) {
	clauses := make([]string, 0, len(tags))
	args := make([]any, 0, len(tags))
	for _, tag := range tags {
		clauses = append(clauses, column+" LIKE ?")
		args = append(args, `%"`+tag+`"%`)
	}
	return "(" + strings.Join(clauses, " OR ") + ")", args
}
