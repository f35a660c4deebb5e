// Package eventstream defines transport-neutral mutation events emitted by
// the memory service after successful writes, plus the Publisher interface
// backends implement.
//
// Publishing is best-effort: the service logs publish failures and never
// fails a write because of them.
package eventstream

import "time"

const (
	// SchemaVersionV1 is the first version of the event payload schema.
	SchemaVersionV1 = 1

	// EventTypeCreated is emitted after an entity is created.
	EventTypeCreated = "recall.entity.created"

	// EventTypeUpdated is emitted after an entity is updated.
	EventTypeUpdated = "recall.entity.updated"

	// EventTypeDeleted is emitted after an entity is deleted.
	EventTypeDeleted = "recall.entity.deleted"

	// EventTypeEmbeddingsStored is emitted after a batch embedding write.
	EventTypeEmbeddingsStored = "recall.embeddings.stored"
)

// MutationEvent is the payload published after each successful create,
// update, and delete, and after each batch embedding write. Single-row
// embedding writes and embedding clears publish no event.
type MutationEvent struct {
	SchemaVersion int       `json:"schema_version"`
	EventType     string    `json:"event_type"`
	EventID       string    `json:"event_id"`
	EmittedAt     time.Time `json:"emitted_at"`

	// EntityType is the kind of entity touched: rule, project_doc, ref.
	EntityType string `json:"entity_type,omitempty"`

	// EntityID identifies the touched row. Empty for batch events.
	EntityID string `json:"entity_id,omitempty"`

	// Count is the number of rows touched by a batch event.
	Count int `json:"count,omitempty"`
}
