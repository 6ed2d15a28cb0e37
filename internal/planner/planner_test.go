package planner

import (
	"context"
	"testing"

	"github.com/libreqos/lqosd/internal/config"
	"github.com/libreqos/lqosd/internal/domain"
	"github.com/libreqos/lqosd/internal/netdisc"
	"github.com/libreqos/lqosd/pkg/logger"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.UpstreamBandwidthCapacityDownloadMbps = 1000
	cfg.UpstreamBandwidthCapacityUploadMbps = 1000
	cfg.GeneratedPNDownloadMbps = 1000
	cfg.GeneratedPNUploadMbps = 1000
	cfg.UseBinPackingToBalanceCPU = true
	return cfg
}

func TestPlanGeneratesParentsForFlatTopology(t *testing.T) {
	net := domain.NewNetwork()
	cfg := testConfig()
	disc := &netdisc.StaticDiscoverer{Queues: 4}
	p := New(cfg, disc, logger.New("error"))

	circuits := make([]*domain.Circuit, 4)
	weight := UnparentedInput{}
	for i := range circuits {
		id := "c" + string(rune('0'+i))
		circuits[i] = &domain.Circuit{
			CircuitID:   id,
			MinDownload: 10, MinUpload: 10,
			MaxDownload: 100, MaxUpload: 100,
		}
		weight[id] = 220
	}

	err := p.Plan(context.Background(), net, circuits, weight)
	require.NoError(t, err)

	require.Len(t, net.GeneratedParentNames, 4)
	require.Equal(t, 4, net.QueuesAvailable)

	total := 0
	for _, name := range net.GeneratedParentNames {
		node := net.NodesByID[name]
		total += len(node.Circuits)
	}
	require.Equal(t, 4, total)
}

func TestPlanClampsMaxToParentCap(t *testing.T) {
	net := domain.NewNetwork()
	site := &domain.NetworkNode{ID: "site1", ParentID: "root", DownloadMbps: 50, UploadMbps: 50}
	net.AddNode(site)

	cfg := testConfig()
	disc := &netdisc.StaticDiscoverer{Queues: 2}
	p := New(cfg, disc, logger.New("error"))

	c := &domain.Circuit{
		CircuitID:    "big",
		ParentNodeID: "site1",
		MinDownload:  10, MinUpload: 10,
		MaxDownload: 500, MaxUpload: 500,
	}

	err := p.Plan(context.Background(), net, []*domain.Circuit{c}, UnparentedInput{})
	require.NoError(t, err)

	require.Equal(t, 50, c.MaxDownload)
	require.Equal(t, 50, c.MaxUpload)
	require.Equal(t, 50, c.DownloadCeilMbps)
}

func TestPlanRateCeilRule(t *testing.T) {
	net := domain.NewNetwork()
	site := &domain.NetworkNode{ID: "site1", ParentID: "root", DownloadMbps: 100, UploadMbps: 100}
	net.AddNode(site)

	cfg := testConfig()
	disc := &netdisc.StaticDiscoverer{Queues: 2}
	p := New(cfg, disc, logger.New("error"))

	c := &domain.Circuit{
		CircuitID:    "c1",
		ParentNodeID: "site1",
		MinDownload:  20, MinUpload: 20,
		MaxDownload: 80, MaxUpload: 80,
	}

	err := p.Plan(context.Background(), net, []*domain.Circuit{c}, UnparentedInput{})
	require.NoError(t, err)

	require.Equal(t, 95, site.DownloadRateMbps)
	require.Equal(t, 100, site.DownloadCeilMbps)
	require.Equal(t, 20, c.DownloadRateMbps)
	require.Equal(t, 80, c.DownloadCeilMbps)
}

func TestFirstFitDecreasingBalancesBins(t *testing.T) {
	weights := []int{10, 20, 30, 5, 15}
	assignment := firstFitDecreasing(weights, 2)
	require.Len(t, assignment, len(weights))

	totals := make([]int, 2)
	for i, bin := range assignment {
		totals[bin] += weights[i]
	}
	diff := totals[0] - totals[1]
	if diff < 0 {
		diff = -diff
	}
	require.LessOrEqual(t, diff, 30)
}
