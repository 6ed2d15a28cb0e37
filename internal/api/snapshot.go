// Package api exposes the read-only status HTTP surface (SPEC_FULL.md
// §2.7), adapted from the teacher's internal/api chi+huma server. It
// never touches kernel state — only the executor does that — and only
// ever reads the most recently published Snapshot.
package api

import (
	"sync"
	"time"

	"github.com/libreqos/lqosd/internal/domain"
	"github.com/libreqos/lqosd/internal/statscollector"
)

// Snapshot is the compiled network plus the latest stats state. `lqosd
// serve` publishes one at startup from the persisted queuing structure
// and another after every stats pass.
type Snapshot struct {
	Network  *domain.Network
	Stats    *statscollector.State
	LastRun  time.Time
	LastKind string // "reload" (startup snapshot) or "stats"
}

// SnapshotStore holds the single current Snapshot behind a mutex, since
// the HTTP server and the stats task run concurrently even though stats
// collection is not concurrent with itself (spec.md §5).
type SnapshotStore struct {
	mu   sync.RWMutex
	snap *Snapshot
}

// NewSnapshotStore returns an empty store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{}
}

// Publish replaces the current snapshot.
func (s *SnapshotStore) Publish(snap *Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = snap
}

// Current returns the current snapshot, or nil before the first Publish.
func (s *SnapshotStore) Current() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}
