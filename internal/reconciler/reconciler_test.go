package reconciler

import (
	"context"
	"strings"
	"testing"

	"github.com/libreqos/lqosd/internal/classid"
	"github.com/libreqos/lqosd/internal/config"
	"github.com/libreqos/lqosd/internal/domain"
	"github.com/libreqos/lqosd/pkg/logger"
	"github.com/stretchr/testify/require"
)

func buildLiveNetwork(t *testing.T) (*domain.Network, *config.Config) {
	t.Helper()
	net := domain.NewNetwork()
	cfg := config.Default()
	cfg.InterfaceA, cfg.InterfaceB = "eth1", "eth2"

	a := &domain.NetworkNode{ID: "A", ParentID: "root", DownloadMbps: 500, UploadMbps: 500, CPUNum: 0}
	b := &domain.NetworkNode{ID: "B", ParentID: "root", DownloadMbps: 500, UploadMbps: 500, CPUNum: 1}
	net.AddNode(a)
	net.AddNode(b)

	x := &domain.Circuit{
		CircuitID: "x", ParentNodeID: "A",
		MinDownload: 50, MaxDownload: 50, MinUpload: 50, MaxUpload: 50,
		ClassMajor: 1, ClassMinor: 3,
	}
	net.AddCircuit(x)
	return net, cfg
}

func TestReconcileResizePath(t *testing.T) {
	net, cfg := buildLiveNetwork(t)
	alloc := classid.New()
	r := New(cfg, alloc, logger.New("error"))

	newX := &domain.Circuit{
		CircuitID: "x", ParentNodeID: "A",
		MinDownload: 75, MaxDownload: 75, MinUpload: 75, MaxUpload: 75,
	}

	res, err := r.Reconcile(context.Background(), net, []*domain.Circuit{newX})
	require.NoError(t, err)
	require.Len(t, res.Mutations, 1)
	require.Equal(t, KindResize, res.Mutations[0].Kind)

	changeCount := 0
	for _, cmd := range res.Commands {
		if strings.Contains(cmd, "class change") {
			changeCount++
			require.Contains(t, cmd, "rate 75mbit ceil 75mbit")
		}
	}
	require.Equal(t, 2, changeCount)
	require.Empty(t, res.XDPAdds)
	require.Empty(t, res.XDPDels)

	require.Equal(t, "1:3", net.CircuitsByID["x"].ClassID())
}

func TestReconcileRelocatePath(t *testing.T) {
	net, cfg := buildLiveNetwork(t)
	alloc := classid.New()
	alloc.Allocate(1)
	r := New(cfg, alloc, logger.New("error"))

	newX := &domain.Circuit{
		CircuitID: "x", ParentNodeID: "B",
		MinDownload: 50, MaxDownload: 50, MinUpload: 50, MaxUpload: 50,
	}

	res, err := r.Reconcile(context.Background(), net, []*domain.Circuit{newX})
	require.NoError(t, err)
	require.Equal(t, KindRelocate, res.Mutations[0].Kind)

	delCount, addCount := 0, 0
	for _, cmd := range res.Commands {
		if strings.Contains(cmd, "class del") {
			delCount++
		}
		if strings.Contains(cmd, "class add") {
			addCount++
		}
	}
	require.Equal(t, 2, delCount)
	require.Equal(t, 2, addCount)

	moved := net.CircuitsByID["x"]
	require.Equal(t, "B", moved.ParentNodeID)
	require.Equal(t, 2, moved.ClassMajor)
}

func TestReconcileRelocatePathWithDevicesEmitsMatchingXDPDelAndAdd(t *testing.T) {
	net, cfg := buildLiveNetwork(t)
	alloc := classid.New()
	alloc.Allocate(1)
	r := New(cfg, alloc, logger.New("error"))

	existing := net.CircuitsByID["x"]
	existing.Devices = []*domain.Device{{DeviceID: "d1", IPv4s: []string{"192.0.2.9/32"}}}

	newX := &domain.Circuit{
		CircuitID: "x", ParentNodeID: "B",
		MinDownload: 50, MaxDownload: 50, MinUpload: 50, MaxUpload: 50,
		Devices: []*domain.Device{{DeviceID: "d1", IPv4s: []string{"192.0.2.9/32"}}},
	}

	res, err := r.Reconcile(context.Background(), net, []*domain.Circuit{newX})
	require.NoError(t, err)
	require.Equal(t, KindRelocate, res.Mutations[0].Kind)

	require.Len(t, res.XDPDels, 1)
	require.Equal(t, "192.0.2.9/32", res.XDPDels[0])
	require.Len(t, res.XDPAdds, 1)
	require.Equal(t, "192.0.2.9/32", res.XDPAdds[0].IP)
	require.Equal(t, 1, res.XDPAdds[0].CPU)

	moved := net.CircuitsByID["x"]
	require.Equal(t, "B", moved.ParentNodeID)
}

func TestReconcileAddAndRemove(t *testing.T) {
	net, cfg := buildLiveNetwork(t)
	alloc := classid.New()
	r := New(cfg, alloc, logger.New("error"))

	newCircuit := &domain.Circuit{
		CircuitID: "y", ParentNodeID: "A",
		MinDownload: 10, MaxDownload: 20, MinUpload: 10, MaxUpload: 20,
		Devices: []*domain.Device{{DeviceID: "d1", IPv4s: []string{"192.0.2.5/32"}}},
	}

	res, err := r.Reconcile(context.Background(), net, []*domain.Circuit{newCircuit})
	require.NoError(t, err)

	kinds := map[string]Kind{}
	for _, m := range res.Mutations {
		kinds[m.CircuitID] = m.Kind
	}
	require.Equal(t, KindAdd, kinds["y"])
	require.Equal(t, KindRemove, kinds["x"])

	require.Len(t, res.XDPAdds, 1)
	require.Equal(t, "192.0.2.5/32", res.XDPAdds[0].IP)

	_, stillThere := net.CircuitsByID["x"]
	require.False(t, stillThere)
	_, added := net.CircuitsByID["y"]
	require.True(t, added)
}
