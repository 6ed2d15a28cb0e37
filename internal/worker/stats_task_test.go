package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/libreqos/lqosd/internal/api"
	"github.com/libreqos/lqosd/internal/config"
	"github.com/libreqos/lqosd/internal/domain"
	"github.com/libreqos/lqosd/internal/persistence"
	"github.com/libreqos/lqosd/internal/statscollector"
	"github.com/libreqos/lqosd/pkg/logger"
)

type emptyShell struct{}

func (emptyShell) RunShell(ctx context.Context, cmd string) (int, string, error) {
	return 0, "[]", nil
}

func buildTestNetwork() *domain.Network {
	net := domain.NewNetwork()
	site := &domain.NetworkNode{ID: "site", DownloadRateMbps: 100, DownloadCeilMbps: 100, UploadRateMbps: 100, UploadCeilMbps: 100}
	net.AddNode(site)
	net.AddCircuit(&domain.Circuit{CircuitID: "c1", CircuitName: "Alice", ParentNodeID: "site"})
	return net
}

func TestStatsTaskPublishesSnapshotAndPersistsLastRun(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.StateDir = t.TempDir()

	collector := statscollector.New(cfg, emptyShell{}, nil, logger.New("error"))
	state := statscollector.NewState()
	store := persistence.New(cfg)
	snapshots := api.NewSnapshotStore()

	net := buildTestNetwork()
	task := NewStatsTask(20*time.Millisecond, collector, func() *domain.Network { return net }, state, store, nil, snapshots)

	require.NoError(t, task.Function(context.Background()))

	snap := snapshots.Current()
	require.NotNil(t, snap)
	require.Equal(t, "stats", snap.LastKind)

	lastRun, err := store.LoadLastRun()
	require.NoError(t, err)
	require.WithinDuration(t, time.Now(), lastRun, 5*time.Second)
}

func TestStatsTaskFailsFastWithNoTopology(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.StateDir = t.TempDir()

	collector := statscollector.New(cfg, emptyShell{}, nil, logger.New("error"))
	state := statscollector.NewState()
	store := persistence.New(cfg)
	snapshots := api.NewSnapshotStore()

	task := NewStatsTask(time.Second, collector, func() *domain.Network { return nil }, state, store, nil, snapshots)
	require.Error(t, task.Function(context.Background()))
}
