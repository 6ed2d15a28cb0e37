package compiler

import (
	"strings"
	"testing"

	"github.com/libreqos/lqosd/internal/classid"
	"github.com/libreqos/lqosd/internal/config"
	"github.com/libreqos/lqosd/internal/domain"
	"github.com/stretchr/testify/require"
)

func buildCompiledNetwork(t *testing.T) (*domain.Network, *config.Config) {
	t.Helper()
	net := domain.NewNetwork()
	cfg := config.Default()
	cfg.InterfaceA = "eth1"
	cfg.InterfaceB = "eth2"
	net.QueuesAvailable = 2

	site := &domain.NetworkNode{
		ID: "site1", ParentID: "root",
		DownloadMbps: 100, UploadMbps: 100,
		DownloadRateMbps: 95, DownloadCeilMbps: 100,
		UploadRateMbps: 95, UploadCeilMbps: 100,
	}
	net.AddNode(site)

	c := &domain.Circuit{
		CircuitID: "c1", ParentNodeID: "site1",
		MinDownload: 10, MaxDownload: 50, MinUpload: 10, MaxUpload: 50,
		DownloadRateMbps: 10, DownloadCeilMbps: 50,
		UploadRateMbps: 10, UploadCeilMbps: 50,
		Devices: []*domain.Device{
			{DeviceID: "d1", IPv4s: []string{"192.0.2.1/32"}},
		},
	}
	net.AddCircuit(c)

	classid.AssignQueues(net, net.QueuesAvailable)
	classid.AssignClassIDs(net, classid.New())
	return net, cfg
}

func TestCompileEmitsMQRootAndPerQueueClasses(t *testing.T) {
	net, cfg := buildCompiledNetwork(t)
	res := Compile(net, cfg)

	require.Contains(t, res.Commands, "qdisc replace dev eth1 root handle 7FFF: mq")
	require.Contains(t, res.Commands, "qdisc replace dev eth2 root handle 7FFF: mq")

	found := false
	for _, cmd := range res.Commands {
		if strings.Contains(cmd, "classid 1:1 htb rate 1000mbit ceil 1000mbit") {
			found = true
		}
	}
	require.True(t, found, "expected per-queue root class for queue 1")
}

func TestCompileEmitsLeafClassAndQdiscPerCircuit(t *testing.T) {
	net, cfg := buildCompiledNetwork(t)
	res := Compile(net, cfg)

	site := net.NodesByID["site1"]
	circuit := site.Circuits[0]

	found := false
	for _, cmd := range res.Commands {
		if strings.Contains(cmd, "classid "+circuit.ClassID()+" htb rate 10mbit ceil 50mbit prio 3") {
			found = true
		}
	}
	require.True(t, found, "expected leaf class for circuit")
}

func TestCompileEmitsOneXDPEntryPerDeviceIP(t *testing.T) {
	net, cfg := buildCompiledNetwork(t)
	res := Compile(net, cfg)

	require.Len(t, res.XDPEntries, 1)
	require.Equal(t, "192.0.2.1/32", res.XDPEntries[0].IP)
	require.Equal(t, net.NodesByID["site1"].Circuits[0].ClassID(), res.XDPEntries[0].ClassID)
}

func TestClearCommandsTargetBothInterfaces(t *testing.T) {
	cfg := config.Default()
	cfg.InterfaceA = "eth1"
	cfg.InterfaceB = "eth2"
	cmds := ClearCommands(cfg)
	require.Equal(t, []string{
		"qdisc delete dev eth1 root",
		"qdisc delete dev eth2 root",
	}, cmds)
}
