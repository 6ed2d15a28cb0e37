// Package audit is the optional SQL-backed reload/reconcile history store
// (SPEC_FULL.md §2.4). It is disabled unless cfg.Audit.Enabled is set, in
// which case every full reload, incremental reconcile and stats pass
// records one summary row for later operator inspection.
package audit

import (
	"context"
	"time"
)

// Entry is one recorded row: the summary of one reload, reconcile or
// stats pass (those callers leave CircuitID empty). The db tags let
// sqlx-backed stores scan query results straight into it.
type Entry struct {
	CircuitID string    `db:"circuit_id"`
	Kind      string    `db:"kind"`
	Detail    string    `db:"detail"`
	At        time.Time `db:"at"`
}

// Store is the backend-agnostic audit history contract. Both the sqlite
// and postgres backends implement it identically; the caller never
// branches on backend type once one is constructed.
type Store interface {
	Record(ctx context.Context, entries []Entry) error
	Recent(ctx context.Context, limit int) ([]Entry, error)
	Health(ctx context.Context) error
	Close() error
}

// NoopStore discards every entry. Used when cfg.Audit.Enabled is false so
// callers never need a nil check.
type NoopStore struct{}

func (NoopStore) Record(context.Context, []Entry) error       { return nil }
func (NoopStore) Recent(context.Context, int) ([]Entry, error) { return nil, nil }
func (NoopStore) Health(context.Context) error                { return nil }
func (NoopStore) Close() error                                { return nil }
