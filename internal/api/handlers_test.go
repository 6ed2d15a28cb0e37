package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/libreqos/lqosd/internal/domain"
	"github.com/libreqos/lqosd/internal/statscollector"
	"github.com/libreqos/lqosd/pkg/logger"
)

func setupHandler(t *testing.T) (huma.API, *SnapshotStore) {
	t.Helper()
	router := chi.NewRouter()
	config := huma.DefaultConfig("test", "1.0.0")
	humaAPI := humachi.New(router, config)

	store := NewSnapshotStore()
	NewHandler(store, logger.New("error")).Register(humaAPI)
	return humaAPI, store
}

func buildSnapshot() *Snapshot {
	net := domain.NewNetwork()
	site := &domain.NetworkNode{ID: "site", DownloadRateMbps: 95, DownloadCeilMbps: 100}
	net.AddNode(site)
	net.AddCircuit(&domain.Circuit{
		CircuitID: "c1", CircuitName: "Alice", ParentNodeID: "site",
		Devices: []*domain.Device{{DeviceID: "d1", IPv4s: []string{"192.0.2.1/32"}}},
	})

	state := statscollector.NewState()
	state.Circuits["c1"] = &domain.CircuitStats{
		CircuitID:       "c1",
		SinceDownload:   domain.DirectionDelta{Bits: 8000, Drops: 1},
		CurrentDownload: domain.QuerySample{OverloadFactor: 0.1},
	}

	return &Snapshot{Network: net, Stats: state, LastRun: time.Unix(1000, 0), LastKind: "reload"}
}

func TestStatusReportsNotReadyBeforeFirstReload(t *testing.T) {
	api, _ := setupHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	resp := httptest.NewRecorder()
	api.ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	var body StatusResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.False(t, body.Ready)
}

func TestStatusReportsCircuitAndNodeCounts(t *testing.T) {
	api, store := setupHandler(t)
	store.Publish(buildSnapshot())

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	resp := httptest.NewRecorder()
	api.ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	var body StatusResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.True(t, body.Ready)
	require.Equal(t, 1, body.CircuitCount)
	require.Equal(t, 2, body.NodeCount) // the synthetic root plus "site"
	require.Equal(t, "reload", body.LastKind)
}

func TestTreeRedactsDeviceIPs(t *testing.T) {
	api, store := setupHandler(t)
	store.Publish(buildSnapshot())

	req := httptest.NewRequest(http.MethodGet, "/tree", nil)
	resp := httptest.NewRecorder()
	api.ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	require.NotContains(t, resp.Body.String(), "192.0.2.1")
	require.Contains(t, resp.Body.String(), "c1")
}

func TestTreeBeforeFirstReloadReturns404(t *testing.T) {
	api, _ := setupHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/tree", nil)
	resp := httptest.NewRecorder()
	api.ServeHTTP(resp, req)

	require.Equal(t, http.StatusNotFound, resp.Code)
}

func TestCircuitStatsReturnsSinceLastQueryDeltas(t *testing.T) {
	api, store := setupHandler(t)
	store.Publish(buildSnapshot())

	req := httptest.NewRequest(http.MethodGet, "/circuits/c1/stats", nil)
	resp := httptest.NewRecorder()
	api.ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	var body CircuitStatsResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.Equal(t, uint64(8000), body.DownloadBits)
	require.InDelta(t, 0.1, body.OverloadFactorDown, 0.0001)
}

func TestCircuitStatsUnknownIDReturns404(t *testing.T) {
	api, store := setupHandler(t)
	store.Publish(buildSnapshot())

	req := httptest.NewRequest(http.MethodGet, "/circuits/unknown/stats", nil)
	resp := httptest.NewRecorder()
	api.ServeHTTP(resp, req)

	require.Equal(t, http.StatusNotFound, resp.Code)
}
