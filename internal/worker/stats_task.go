package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/libreqos/lqosd/internal/api"
	"github.com/libreqos/lqosd/internal/audit"
	"github.com/libreqos/lqosd/internal/domain"
	"github.com/libreqos/lqosd/internal/persistence"
	"github.com/libreqos/lqosd/internal/statscollector"
)

// StatsTaskID is the scheduler task id used by `lqosd serve` for its
// stats-collection loop, so callers (e.g. a future admin endpoint wired
// to RunTaskNow) can refer to it without hardcoding the string again.
const StatsTaskID = "stats-collection"

// NewStatsTask builds the periodic stats-collection Task: one scrape
// cycle via collector, persisted to store, recorded in history, and
// published to snapshots for the status API to serve (SPEC_FULL.md §2.3,
// §2.7). netFn is called fresh on every run so the task always collects
// against whatever topology the most recent reload produced.
func NewStatsTask(interval time.Duration, collector *statscollector.Collector, netFn func() *domain.Network, state *statscollector.State, store *persistence.Store, history audit.Store, snapshots *api.SnapshotStore) *Task {
	fn := func(ctx context.Context) error {
		net := netFn()
		if net == nil {
			return fmt.Errorf("worker: no topology loaded yet, skipping stats collection")
		}

		if _, err := collector.Collect(ctx, net, state); err != nil {
			return fmt.Errorf("worker: stats collection: %w", err)
		}

		if err := store.SaveStats(state); err != nil {
			return fmt.Errorf("worker: persist stats: %w", err)
		}

		now := time.Now()
		if err := store.SaveLastRun(now); err != nil {
			return fmt.Errorf("worker: persist last run: %w", err)
		}

		if history != nil {
			_ = history.Record(ctx, []audit.Entry{{Kind: "stats", Detail: "scrape cycle completed", At: now}})
		}

		snapshots.Publish(&api.Snapshot{Network: net, Stats: state, LastRun: now, LastKind: "stats"})
		return nil
	}

	return NewTaskBuilder(StatsTaskID, "stats collection").
		Description("scrapes tc qdisc stats for every circuit and publishes deltas").
		Interval(interval).
		Timeout(interval).
		Function(fn).
		Build()
}
