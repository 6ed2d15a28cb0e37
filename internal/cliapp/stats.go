package cliapp

import (
	"context"
	"fmt"
	"time"

	"github.com/libreqos/lqosd/internal/domain"
	"github.com/libreqos/lqosd/internal/statscollector"
)

// RunStatsOnce implements `lqosd stats`: one qdisc scrape/compute/publish
// cycle against the persisted compiled topology, then exit (spec.md
// §4.7; the scheduling cadence itself is external per spec.md §1).
func (a *App) RunStatsOnce(ctx context.Context) error {
	doc, err := a.Store.LoadQueuingStructure()
	if err != nil {
		return fmt.Errorf("cliapp: no compiled topology, run a reload first: %w", err)
	}
	net := &domain.Network{Root: doc.Root, NodesByID: map[string]*domain.NetworkNode{}, CircuitsByID: map[string]*domain.Circuit{}}
	net.Walk(nil, func(n *domain.NetworkNode) {
		net.NodesByID[n.ID] = n
		for _, c := range n.Circuits {
			net.CircuitsByID[c.CircuitID] = c
		}
	})

	state := a.Store.LoadStats()
	collector := statscollector.New(a.Cfg, a.Exec, a.Publisher, a.Log)

	if _, err := collector.Collect(ctx, net, state); err != nil {
		return fmt.Errorf("cliapp: stats collection: %w", err)
	}

	if err := a.Store.SaveStats(state); err != nil {
		return fmt.Errorf("cliapp: persist stats: %w", err)
	}
	if err := a.Store.SaveLastRun(time.Now()); err != nil {
		return fmt.Errorf("cliapp: persist last run: %w", err)
	}
	a.recordAudit(ctx, "stats", "scrape cycle completed")
	return nil
}
