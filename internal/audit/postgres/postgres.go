// Package postgres is the PostgreSQL-backed audit.Store, adapted from the
// topology manager's repository/postgres connection pattern for operators
// running a central NMS database instead of the default sqlite backend.
package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/libreqos/lqosd/internal/audit"
)

const createAuditLogTable = `
CREATE TABLE IF NOT EXISTS audit_log (
    id BIGSERIAL PRIMARY KEY,
    circuit_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    detail TEXT,
    at TIMESTAMPTZ NOT NULL
);`

const createAuditLogIndex = `
CREATE INDEX IF NOT EXISTS idx_audit_log_at ON audit_log(at);`

// Store is the PostgreSQL audit.Store implementation.
type Store struct {
	db *sqlx.DB
}

// Open connects using dsn and runs migrations.
func Open(dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("audit/postgres: dsn is required")
	}
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("audit/postgres: connect: %w", err)
	}
	if _, err := db.Exec(createAuditLogTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit/postgres: migrate: %w", err)
	}
	if _, err := db.Exec(createAuditLogIndex); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit/postgres: migrate index: %w", err)
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
		return fmt.Errorf("audit/postgres: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx,
		`INSERT INTO audit_log (circuit_id, kind, detail, at) VALUES ($1, $2, $3, $4)`)
	if err != nil {
		return fmt.Errorf("audit/postgres: prepare: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, e.CircuitID, e.Kind, e.Detail, e.At); err != nil {
			return fmt.Errorf("audit/postgres: insert: %w", err)
		}
	}
	return tx.Commit()
}

// Recent returns the most recent entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]audit.Entry, error) {
	var out []audit.Entry
	err := s.db.SelectContext(ctx, &out,
		`SELECT circuit_id, kind, detail, at FROM audit_log ORDER BY at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("audit/postgres: query: %w", err)
	}
	return out, nil
}

// Health pings the database.
func (s *Store) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}
