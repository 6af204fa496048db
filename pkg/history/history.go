// Package history keeps a SQLite-backed audit log of tool invocations.
package history

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/quillhq/quill/pkg/db"
	"github.com/quillhq/quill/pkg/logger"
)

// Entry is one recorded tool invocation.
type Entry struct {
	ID         int64     `db:"id"`
	Server     string    `db:"server"`
	ToolID     string    `db:"tool_id"`
	DurationMS int64     `db:"duration_ms"`
	Error      string    `db:"error"`
	InvokedAt  time.Time `db:"invoked_at"`
}

// Migrations is the schema history of the invocation log.
var Migrations = []db.Migration{
	{
		Version:     20260815090000,
		Description: "create tool_invocations",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS tool_invocations (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					server TEXT NOT NULL,
					tool_id TEXT NOT NULL,
					duration_ms INTEGER NOT NULL,
					error TEXT NOT NULL DEFAULT '',
					invoked_at DATETIME NOT NULL
				)
			`)
			if err != nil {
				return err
			}
			_, err = tx.Exec(`CREATE INDEX IF NOT EXISTS idx_tool_invocations_invoked_at ON tool_invocations (invoked_at DESC)`)
			return err
		},
	},
}

// Store reads and writes the invocation log.
type Store struct {
	db *sqlx.DB
}

// Open opens the store at the default database path and applies its
// migrations.
func Open(ctx context.Context) (*Store, error) {
	path, err := db.DefaultDBPath()
	if err != nil {
		return nil, err
	}
	return OpenAt(ctx, path)
}

// OpenAt opens the store at a specific path. Used by tests.
func OpenAt(ctx context.Context, path string) (*Store, error) {
	database, err := db.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := db.NewMigrationRunner(database).Run(ctx, Migrations); err != nil {
		database.Close()
		return nil, err
	}
	return &Store{db: database}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordInvocation appends one entry. Audit failures are logged, never
// propagated, so a broken log cannot fail a tool call.
func (s *Store) RecordInvocation(ctx context.Context, server, toolID string, duration time.Duration, execErr error) {
	errText := ""
	if execErr != nil {
		errText = execErr.Error()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tool_invocations (server, tool_id, duration_ms, error, invoked_at)
		VALUES (?, ?, ?, ?, ?)`,
		server, toolID, duration.Milliseconds(), errText, time.Now().UTC())
	if err != nil {
		logger.G(ctx).WithError(err).Warn("failed to record tool invocation")
	}
}

// Recent returns the newest entries, most recent first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	var entries []Entry
	err := s.db.SelectContext(ctx, &entries, `
		SELECT id, server, tool_id, duration_ms, error, invoked_at
		FROM tool_invocations
		ORDER BY invoked_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query invocation history")
	}
	return entries, nil
}
