package cliapp

import (
	"context"
	"time"

	"github.com/libreqos/lqosd/internal/api"
	"github.com/libreqos/lqosd/internal/domain"
	"github.com/libreqos/lqosd/internal/statscollector"
	"github.com/libreqos/lqosd/internal/worker"
)

// Serve implements `lqosd serve`: it republishes the last compiled
// topology (if any), runs the periodic stats-collection task on
// cfg.Serve.StatsIntervalSeconds, and serves the read-only status API
// on cfg.Serve.APIPort, until ctx is cancelled (SPEC_FULL.md §2.3, §2.7).
func (a *App) Serve(ctx context.Context) error {
	snapshots := api.NewSnapshotStore()
	if doc, err := a.Store.LoadQueuingStructure(); err == nil {
		net := &domain.Network{
			Root:                 doc.Root,
			NodesByID:            map[string]*domain.NetworkNode{},
			CircuitsByID:         map[string]*domain.Circuit{},
			GeneratedParentNames: doc.GeneratedParentNames,
			QueuesAvailable:      doc.QueuesAvailable,
		}
		net.Walk(nil, func(n *domain.NetworkNode) {
			net.NodesByID[n.ID] = n
			for _, c := range n.Circuits {
				net.CircuitsByID[c.CircuitID] = c
			}
		})
		snapshots.Publish(&api.Snapshot{Network: net, Stats: a.Store.LoadStats(), LastKind: "reload"})
	}

	currentNet := func() *domain.Network {
		if snap := snapshots.Current(); snap != nil {
			return snap.Network
		}
		return nil
	}

	interval := time.Duration(a.Cfg.Serve.StatsIntervalSeconds) * time.Second
	collector := statscollector.New(a.Cfg, a.Exec, a.Publisher, a.Log)
	state := statscollector.NewState()
	if snap := snapshots.Current(); snap != nil && snap.Stats != nil {
		state = snap.Stats
	}

	sched := worker.NewScheduler(5*time.Second, a.Log)
	task := worker.NewStatsTask(interval, collector, currentNet, state, a.Store, a.Audit, snapshots)
	if err := sched.AddTask(task); err != nil {
		return err
	}
	sched.Start(ctx)
	defer sched.Stop()

	server := api.NewServer(snapshots, a.Cfg.Serve.APIPort, a.Log)
	return server.Start(ctx)
}
