package statscollector

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/libreqos/lqosd/internal/config"
	"github.com/libreqos/lqosd/internal/domain"
	"github.com/libreqos/lqosd/pkg/logger"
	"github.com/stretchr/testify/require"
)

func qdiscJSONBlob(entries ...qdiscEntryFixture) string {
	raw := make([]qdiscJSON, 0, len(entries))
	for _, e := range entries {
		raw = append(raw, qdiscJSON{Parent: e.parent, Bytes: e.bytes, Packets: e.packets, Drops: e.drops})
	}
	b, _ := json.Marshal(raw)
	return string(b)
}

type qdiscEntryFixture struct {
	parent  string
	bytes   uint64
	packets uint64
	drops   uint64
}

func buildSingleCircuitNetwork() (*domain.Network, *domain.Circuit) {
	net := domain.NewNetwork()
	site := &domain.NetworkNode{ID: "site", ParentID: "root", DownloadMbps: 500, UploadMbps: 500}
	net.AddNode(site)
	c := &domain.Circuit{
		CircuitID: "c1", ParentNodeID: "site",
		MinDownload: 10, MaxDownload: 100, MinUpload: 10, MaxUpload: 100,
		DownloadCeilMbps: 100, UploadCeilMbps: 100,
		ClassMajor: 1, ClassMinor: 3,
	}
	net.AddCircuit(c)
	return net, c
}

func TestDeltaComputesBitsFromByteDeltaOverOneSecond(t *testing.T) {
	prior := domain.QuerySample{BytesSent: 1000, PacketsSent: 10, PacketDrops: 0, Time: time.Unix(0, 0), Valid: true}
	current := domain.QuerySample{BytesSent: 2000, PacketsSent: 20, PacketDrops: 1, Time: time.Unix(1, 0), Valid: true}

	d, err := delta(prior, current)
	require.NoError(t, err)
	require.Equal(t, uint64(8000), d.Bits)
	require.Equal(t, uint64(10), d.Packets)
	require.Equal(t, uint64(1), d.Drops)
}

func TestDeltaZeroesOnNonPositiveDeltaT(t *testing.T) {
	prior := domain.QuerySample{BytesSent: 1000, PacketsSent: 10, Time: time.Unix(5, 0), Valid: true}
	current := domain.QuerySample{BytesSent: 1500, PacketsSent: 15, Time: time.Unix(5, 0), Valid: true}

	d, err := delta(prior, current)
	require.Error(t, err)
	require.Equal(t, uint64(0), d.Bits)
}

func TestDeltaZeroesOnCounterRollback(t *testing.T) {
	prior := domain.QuerySample{BytesSent: 5000, PacketsSent: 50, Time: time.Unix(0, 0), Valid: true}
	current := domain.QuerySample{BytesSent: 1000, PacketsSent: 10, Time: time.Unix(1, 0), Valid: true}

	d, err := delta(prior, current)
	require.Error(t, err)
	require.Equal(t, domain.DirectionDelta{}, d)
}

func TestDeltaZeroesOnMissingPrior(t *testing.T) {
	current := domain.QuerySample{BytesSent: 1000, PacketsSent: 10, Time: time.Unix(1, 0), Valid: true}
	d, err := delta(domain.QuerySample{}, current)
	require.Error(t, err)
	require.Equal(t, domain.DirectionDelta{}, d)
}

func TestOverloadFactorIsDropsOverDeltaPackets(t *testing.T) {
	require.Equal(t, 0.1, overloadFactor(1, 10))
	require.Equal(t, 0.0, overloadFactor(0, 10))
	require.Equal(t, 0.0, overloadFactor(5, 0))
}

func TestAccumulateTinsClampsNegativeTrueDrops(t *testing.T) {
	acc := domain.NewTinStats().Download
	accumulateTins(acc, []tinJSON{
		{Pkts: 100, Drops: 1, EcnMark: 0, AckDrops: 5},
	})
	require.Equal(t, uint64(0), acc[domain.TinBulk].Drops)
	require.Equal(t, uint64(100), acc[domain.TinBulk].SentPackets)
}

func TestFinalizeTinPercentagesSumsToAtMost100(t *testing.T) {
	stats := domain.NewTinStats()
	stats.Download[domain.TinBulk].SentPackets = 70
	stats.Download[domain.TinBestEffort].SentPackets = 20
	stats.Download[domain.TinVideo].SentPackets = 5
	stats.Download[domain.TinVoice].SentPackets = 5

	finalizeTinPercentages(stats)

	var total float64
	for _, name := range domain.TinNameOrder {
		total += stats.Download[name].Percentage
	}
	require.LessOrEqual(t, total, 100.0)
}

func TestCollectTwoPassScenarioMatchesKnownDelta(t *testing.T) {
	net, c := buildSingleCircuitNetwork()
	cfg := config.Default()
	cfg.InterfaceA, cfg.InterfaceB = "eth1", "eth2"

	state := NewState()
	state.Circuits[c.CircuitID] = &domain.CircuitStats{
		CircuitID: c.CircuitID,
		CurrentDownload: domain.QuerySample{
			BytesSent: 1000, PacketsSent: 10, PacketDrops: 0,
			Time: time.Unix(0, 0), Valid: true,
		},
		CurrentUpload: domain.QuerySample{
			BytesSent: 1000, PacketsSent: 10, PacketDrops: 0,
			Time: time.Unix(0, 0), Valid: true,
		},
	}

	shell := &namedShell{
		responses: map[string]string{
			"eth1": qdiscJSONBlob(qdiscEntryFixture{parent: "1:3", bytes: 2000, packets: 20, drops: 1}),
			"eth2": qdiscJSONBlob(qdiscEntryFixture{parent: "1:3", bytes: 1000, packets: 10, drops: 0}),
		},
	}

	col := &Collector{cfg: cfg, shell: shell, pub: nil, log: logger.New("error")}
	_, err := col.Collect(context.Background(), net, state)
	require.NoError(t, err)

	cs := state.Circuits["c1"]
	require.Equal(t, uint64(10), cs.SinceDownload.Packets)
	require.Equal(t, uint64(1), cs.SinceDownload.Drops)
	require.InDelta(t, 0.1, cs.CurrentDownload.OverloadFactor, 0.0001)
}

// namedShell responds based on the literal interface name embedded in
// the command string, sidestepping time-based uniqueness concerns.
type namedShell struct {
	responses map[string]string
}

func (n *namedShell) RunShell(_ context.Context, cmd string) (int, string, error) {
	for iface, out := range n.responses {
		if len(cmd) >= len(iface) && cmd[len(cmd)-len(iface):] == iface {
			return 0, out, nil
		}
	}
	return 0, "[]", nil
}
