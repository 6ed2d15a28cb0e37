package loader

import (
	"strings"
	"testing"

	"github.com/libreqos/lqosd/internal/config"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.TCPOverheadFactor = 1
	return cfg
}

const subscriberHeader = "circuitID,circuitName,deviceID,deviceName,ParentNode,mac,ipv4,ipv6,downloadMin,uploadMin,downloadMax,uploadMax,comment\n"

func TestLoadSubscribersRejectsBlankCircuitID(t *testing.T) {
	csv := subscriberHeader +
		",Alice,d1,AliceRouter,Site A,,100.64.0.1/32,,5,1,50,10,\n"

	_, err := LoadSubscribers(strings.NewReader(csv), testConfig())
	require.Error(t, err)
	require.Contains(t, err.Error(), "circuitID must not be empty")
}

func TestLoadSubscribersRejectsDuplicateIPAcrossDevices(t *testing.T) {
	csv := subscriberHeader +
		"c1,Alice,d1,AliceRouter,Site A,,100.64.0.1/32,,5,1,50,10,\n" +
		"c2,Bob,d2,BobRouter,Site A,,100.64.0.1/32,,5,1,50,10,\n"

	_, err := LoadSubscribers(strings.NewReader(csv), testConfig())
	require.Error(t, err)
	require.Contains(t, err.Error(), "already assigned to device")
}

func TestLoadSubscribersAllowsSameDeviceRepeatingItsOwnIP(t *testing.T) {
	csv := subscriberHeader +
		"c1,Alice,d1,AliceRouter,Site A,,100.64.0.1/32;100.64.0.1/32,,5,1,50,10,\n"

	result, err := LoadSubscribers(strings.NewReader(csv), testConfig())
	require.NoError(t, err)
	require.Len(t, result.Circuits, 1)
	require.Equal(t, []string{"100.64.0.1/32", "100.64.0.1/32"}, result.Circuits[0].Devices[0].IPv4s)
}

func TestLoadSubscribersRejectsBelowMinimumMinBandwidth(t *testing.T) {
	csv := subscriberHeader +
		"c1,Alice,d1,AliceRouter,Site A,,100.64.0.1/32,,0,1,50,10,\n"

	_, err := LoadSubscribers(strings.NewReader(csv), testConfig())
	require.Error(t, err)
	require.Contains(t, err.Error(), "min bandwidth must be >= 1")
}

func TestLoadSubscribersRejectsBelowMinimumMaxBandwidth(t *testing.T) {
	csv := subscriberHeader +
		"c1,Alice,d1,AliceRouter,Site A,,100.64.0.1/32,,1,1,1,10,\n"

	_, err := LoadSubscribers(strings.NewReader(csv), testConfig())
	require.Error(t, err)
	require.Contains(t, err.Error(), "max bandwidth must be >= 2")
}

func TestLoadSubscribersRejectsMinGreaterThanMax(t *testing.T) {
	csv := subscriberHeader +
		"c1,Alice,d1,AliceRouter,Site A,,100.64.0.1/32,,60,1,50,10,\n"

	_, err := LoadSubscribers(strings.NewReader(csv), testConfig())
	require.Error(t, err)
	require.Contains(t, err.Error(), "min must be <= max")
}

func TestLoadSubscribersAppliesSuspendedOverride(t *testing.T) {
	cfg := testConfig()
	cfg.SuspendedDownloadMbps = 2
	cfg.SuspendedUploadMbps = 1

	csv := subscriberHeader +
		"c1,Alice,d1,AliceRouter,Site A,,100.64.0.1/32,,100,20,200,40,SUSPENDED pending payment\n"

	result, err := LoadSubscribers(strings.NewReader(csv), cfg)
	require.NoError(t, err)
	require.Len(t, result.Circuits, 1)

	c := result.Circuits[0]
	require.True(t, c.Suspended)
	require.Equal(t, cfg.SuspendedDownloadMbps, c.MinDownload)
	require.Equal(t, cfg.SuspendedUploadMbps, c.MinUpload)
	require.Equal(t, cfg.SuspendedDownloadMbps+1, c.MaxDownload)
	require.Equal(t, cfg.SuspendedUploadMbps+1, c.MaxUpload)
}

func TestLoadSubscribersAppliesExceptionCPEOverride(t *testing.T) {
	cfg := testConfig()
	cfg.ExceptionCPEs = map[string]string{"c1": "Site B"}

	csv := subscriberHeader +
		"c1,Alice,d1,AliceRouter,Site A,,100.64.0.1/32,,5,1,50,10,\n"

	result, err := LoadSubscribers(strings.NewReader(csv), cfg)
	require.NoError(t, err)
	require.Len(t, result.Circuits, 1)
	require.Equal(t, "Site B", result.Circuits[0].ParentNodeID)
}

func TestLoadSubscribersGroupsMultipleRowsUnderOneCircuit(t *testing.T) {
	csv := subscriberHeader +
		"c1,Alice,d1,AliceRouter,Site A,,100.64.0.1/32,,5,1,50,10,\n" +
		"c1,Alice,d2,AliceLaptop,Site A,,100.64.0.2/32,,5,1,50,10,\n"

	result, err := LoadSubscribers(strings.NewReader(csv), testConfig())
	require.NoError(t, err)
	require.Len(t, result.Circuits, 1)
	require.Len(t, result.Circuits[0].Devices, 2)
}

func TestLoadSubscribersTracksUnparentedWeight(t *testing.T) {
	csv := subscriberHeader +
		"c1,Alice,d1,AliceRouter,,,100.64.0.1/32,,5,1,50,10,\n"

	result, err := LoadSubscribers(strings.NewReader(csv), testConfig())
	require.NoError(t, err)
	require.Equal(t, 66, result.UnparentedWeight["c1"])
}
