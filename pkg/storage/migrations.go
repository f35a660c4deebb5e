package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// Migration is a versioned, transactional schema change.
type Migration struct {
	Version     int
	Description string
	Up          []string
	Down        []string
}

// Migrator advances a database through the linear schema version sequence.
// It binds to a single pooled connection's handle for its lifetime.
type Migrator struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewMigrator creates a Migrator over the given connection.
func NewMigrator(conn *Conn, logger *zap.Logger) *Migrator {
	return &Migrator{
		db:     conn.DB(),
		logger: logger,
	}
}

// CurrentVersion returns the maximum version in schema_migrations, or 0 if
// the table does not exist yet (the very first run).
func (m *Migrator) CurrentVersion(ctx context.Context) (int, error) {
	var version sql.NullInt64
	err := m.db.QueryRowContext(ctx,
		`SELECT MAX(version) FROM schema_migrations`,
	).Scan(&version)
	if err != nil {
		if strings.Contains(err.Error(), "no such table") {
			return 0, nil
		}
		return 0, fmt.Errorf("reading schema version: %w", err)
	}

	if !version.Valid {
		return 0, nil
	}
	return int(version.Int64), nil
}

// InitializeSchema executes the full v1 DDL inside a single transaction and
// records SchemaVersion, if and only if the database is at version 0. On
// failure everything rolls back and the error surfaces.
func (m *Migrator) InitializeSchema(ctx context.Context) error {
	current, err := m.CurrentVersion(ctx)
	if err != nil {
		return err
	}
	if current >= SchemaVersion {
		m.logger.Debug("schema already initialized", zap.Int("version", current))
		return nil
	}

	if err := m.Apply(ctx, Migration{
		Version:     SchemaVersion,
		Description: "Initial schema",
		Up:          schemaV1,
	}); err != nil {
		return err
	}

	m.logger.Info("schema initialized", zap.Int("version", SchemaVersion))
	return nil
}

// Apply wraps the migration's up statements and the version record in one
// transaction. Either the schema version becomes durable or nothing
// changes.
func (m *Migrator) Apply(ctx context.Context, mig Migration) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return &MigrationError{Version: mig.Version, Err: err}
	}
	defer tx.Rollback()

	for _, stmt := range mig.Up {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			m.logger.Error("migration statement failed",
				zap.Int("version", mig.Version),
				zap.Error(err),
			)
			return &MigrationError{Version: mig.Version, Err: err}
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, description) VALUES (?, ?)`,
		mig.Version, mig.Description,
	); err != nil {
		return &MigrationError{Version: mig.Version, Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &MigrationError{Version: mig.Version, Err: err}
	}

	m.logger.Info("migration applied",
		zap.Int("version", mig.Version),
		zap.String("description", mig.Description),
	)
	return nil
}

// Rollback executes the migration's down statements and deletes its version
// record, in one transaction.
func (m *Migrator) Rollback(ctx context.Context, mig Migration) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return &MigrationError{Version: mig.Version, Err: err}
	}
	defer tx.Rollback()

	for _, stmt := range mig.Down {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			m.logger.Error("rollback statement failed",
				zap.Int("version", mig.Version),
				zap.Error(err),
			)
			return &MigrationError{Version: mig.Version, Err: err}
		}
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM schema_migrations WHERE version = ?`,
		mig.Version,
	); err != nil {
		return &MigrationError{Version: mig.Version, Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &MigrationError{Version: mig.Version, Err: err}
	}

	m.logger.Info("migration rolled back", zap.Int("version", mig.Version))
	return nil
}

// Run applies every migration in list with a version greater than the
// current one, in ascending order. It stops at the first failure, leaving
// the committed prefix intact.
func (m *Migrator) Run(ctx context.Context, list []Migration) error {
	current, err := m.CurrentVersion(ctx)
	if err != nil {
		return err
	}

	pending := make([]Migration, 0, len(list))
	for _, mig := range list {
		if mig.Version > current {
			pending = append(pending, mig)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].Version < pending[j].Version
	})

	for _, mig := range pending {
		if err := m.Apply(ctx, mig); err != nil {
			return err
		}
	}

	if len(pending) > 0 {
		m.logger.Info("migrations complete",
			zap.Int("applied", len(pending)),
			zap.Int("from", current),
		)
	}
	return nil
}
