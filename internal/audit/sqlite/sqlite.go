// Package sqlite is the SQLite-backed audit.Store, adapted from the
// topology manager's repository/sqlite connection and migration pattern.
package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/libreqos/lqosd/internal/audit"
)

const createAuditLogTable = `
CREATE TABLE IF NOT EXISTS audit_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    circuit_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    detail TEXT,
    at TIMESTAMP NOT NULL
);`

const createAuditLogIndex = `
CREATE INDEX IF NOT EXISTS idx_audit_log_at ON audit_log(at);`

// Store is the SQLite audit.Store implementation.
type Store struct {
	db *sqlx.DB
}

// Open connects to path (or ":memory:") and runs migrations.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("audit/sqlite: path is required")
	}
	if path != ":memory:" && !filepath.IsAbs(path) {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("audit/sqlite: resolve path: %w", err)
		}
		path = abs
	}

	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("audit/sqlite: connect: %w", err)
	}

	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("audit/sqlite: enable WAL: %w", err)
		}
	}

	if _, err := db.Exec(createAuditLogTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit/sqlite: migrate: %w", err)
	}
	if _, err := db.Exec(createAuditLogIndex); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit/sqlite: migrate index: %w", err)
	}

	return &Store{db: db}, nil
}

// Record inserts one row per entry inside a single transaction.
func (s *Store) Record(ctx context.Context, entries []audit.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("audit/sqlite: begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, e := range entries {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO audit_log (circuit_id, kind, detail, at) VALUES (?, ?, ?, ?)`,
			e.CircuitID, e.Kind, e.Detail, e.At,
		); err != nil {
			return fmt.Errorf("audit/sqlite: insert: %w", err)
		}
	}
	return tx.Commit()
}

// Recent returns the most recent entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]audit.Entry, error) {
	rows, err := s.db.QueryxContext(ctx,
		`SELECT circuit_id, kind, detail, at FROM audit_log ORDER BY at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("audit/sqlite: query: %w", err)
	}
	defer rows.Close()

	var out []audit.Entry
	for rows.Next() {
		var e audit.Entry
		var at time.Time
		if err := rows.Scan(&e.CircuitID, &e.Kind, &e.Detail, &at); err != nil {
			return nil, fmt.Errorf("audit/sqlite: scan: %w", err)
		}
		e.At = at
		out = append(out, e)
	}
	return out, rows.Err()
}

// Health pings the database.
func (s *Store) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}
