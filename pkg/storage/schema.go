package storage

// SchemaVersion is the current schema version recorded after
// InitializeSchema.
const SchemaVersion = 1

// schemaV1 is the full v1 DDL: the migration bookkeeping table, the three
// entity tables, their scoped indexes, and one AFTER UPDATE trigger per
// entity table forcing updated_at to the write time so direct SQL edits
// behave the same as API updates.
var schemaV1 = []string{
	`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		description TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS rules (
		id TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		embedding BLOB,
		tags TEXT NOT NULL DEFAULT '[]',
		tier INTEGER CHECK(tier BETWEEN 1 AND 5),
		metadata TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS project_docs (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		title TEXT NOT NULL,
		content TEXT NOT NULL,
		file_path TEXT,
		embedding BLOB,
		tags TEXT NOT NULL DEFAULT '[]',
		metadata TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS refs (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		content TEXT NOT NULL,
		embedding BLOB,
		channel_id TEXT,
		metadata TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE INDEX IF NOT EXISTS idx_rules_tier ON rules(tier)`,
	`CREATE INDEX IF NOT EXISTS idx_rules_created ON rules(created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_rules_updated ON rules(updated_at)`,

	`CREATE INDEX IF NOT EXISTS idx_project_docs_project ON project_docs(project_id)`,
	`CREATE INDEX IF NOT EXISTS idx_project_docs_created ON project_docs(created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_project_docs_updated ON project_docs(updated_at)`,

	`CREATE INDEX IF NOT EXISTS idx_refs_channel ON refs(channel_id)`,
	`CREATE INDEX IF NOT EXISTS idx_refs_name ON refs(name)`,
	`CREATE INDEX IF NOT EXISTS idx_refs_created ON refs(created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_refs_updated ON refs(updated_at)`,

	`CREATE TRIGGER IF NOT EXISTS trg_rules_updated_at
	AFTER UPDATE ON rules
	BEGIN
		UPDATE rules SET updated_at = STRFTIME('%Y-%m-%d %H:%M:%f', 'NOW') WHERE id = NEW.id;
	END`,

	`CREATE TRIGGER IF NOT EXISTS trg_project_docs_updated_at
	AFTER UPDATE ON project_docs
	BEGIN
		UPDATE project_docs SET updated_at = STRFTIME('%Y-%m-%d %H:%M:%f', 'NOW') WHERE id = NEW.id;
	END`,

	`CREATE TRIGGER IF NOT EXISTS trg_refs_updated_at
	AFTER UPDATE ON refs
	BEGIN
		UPDATE refs SET updated_at = STRFTIME('%Y-%m-%d %H:%M:%f', 'NOW') WHERE id = NEW.id;
	END`,
}
