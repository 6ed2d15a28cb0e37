package api

import (
	"context"
	"fmt"
	"net/http"
	"sort"

	"github.com/danielgtaylor/huma/v2"

	"github.com/libreqos/lqosd/internal/domain"
	"github.com/libreqos/lqosd/pkg/logger"
)

// Handler serves the three read-only endpoints from SPEC_FULL.md §2.7.
type Handler struct {
	store *SnapshotStore
	log   *logger.Logger
}

// NewHandler returns a Handler bound to store.
func NewHandler(store *SnapshotStore, log *logger.Logger) *Handler {
	return &Handler{store: store, log: log.WithComponent("api")}
}

// Register wires all three operations into api.
func (h *Handler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "get-status",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "Reload/reconcile status",
		Tags:        []string{"status"},
	}, h.Status)

	huma.Register(api, huma.Operation{
		OperationID: "get-tree",
		Method:      http.MethodGet,
		Path:        "/tree",
		Summary:     "Compiled queue tree, IPs redacted",
		Tags:        []string{"status"},
	}, h.Tree)

	huma.Register(api, huma.Operation{
		OperationID: "get-circuit-stats",
		Method:      http.MethodGet,
		Path:        "/circuits/{id}/stats",
		Summary:     "Current stats for one circuit",
		Tags:        []string{"status"},
	}, h.CircuitStats)
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	LastRunUnix  int64  `json:"lastRunUnix"`
	LastKind     string `json:"lastKind"`
	CircuitCount int    `json:"circuitCount"`
	NodeCount    int    `json:"nodeCount"`
	Ready        bool   `json:"ready"`
}

// Status reports when the current snapshot was published, which kind of
// pass published it, and how big the current tree is.
func (h *Handler) Status(ctx context.Context, _ *struct{}) (*struct{ Body StatusResponse }, error) {
	snap := h.store.Current()
	if snap == nil {
		return &struct{ Body StatusResponse }{Body: StatusResponse{Ready: false}}, nil
	}

	nodeCount := 0
	snap.Network.Walk(nil, func(*domain.NetworkNode) { nodeCount++ })

	return &struct{ Body StatusResponse }{Body: StatusResponse{
		LastRunUnix:  snap.LastRun.Unix(),
		LastKind:     snap.LastKind,
		CircuitCount: len(snap.Network.CircuitsByID),
		NodeCount:    nodeCount,
		Ready:        true,
	}}, nil
}

// TreeNode is one node in the redacted tree response: no IPs, no MACs,
// just the shaping envelope and child structure (SPEC_FULL.md §2.7).
type TreeNode struct {
	ID               string     `json:"id"`
	Kind             string     `json:"kind"`
	DownloadRateMbps int        `json:"downloadRateMbps"`
	DownloadCeilMbps int        `json:"downloadCeilMbps"`
	UploadRateMbps   int        `json:"uploadRateMbps"`
	UploadCeilMbps   int        `json:"uploadCeilMbps"`
	ClassID          string     `json:"classId"`
	Circuits         []TreeLeaf `json:"circuits,omitempty"`
	Children         []TreeNode `json:"children,omitempty"`
}

// TreeLeaf is one circuit's shaping envelope, with device IPs omitted.
type TreeLeaf struct {
	CircuitID        string `json:"circuitId"`
	CircuitName      string `json:"circuitName"`
	DeviceCount      int    `json:"deviceCount"`
	DownloadRateMbps int    `json:"downloadRateMbps"`
	DownloadCeilMbps int    `json:"downloadCeilMbps"`
	UploadRateMbps   int    `json:"uploadRateMbps"`
	UploadCeilMbps   int    `json:"uploadCeilMbps"`
	ClassID          string `json:"classId"`
}

// TreeResponse is the body of GET /tree.
type TreeResponse struct {
	Root TreeNode `json:"root"`
}

// Tree returns the full topology, redacted of any raw subscriber IP.
func (h *Handler) Tree(ctx context.Context, _ *struct{}) (*struct{ Body TreeResponse }, error) {
	snap := h.store.Current()
	if snap == nil {
		return nil, huma.Error404NotFound("no reload has completed yet")
	}
	return &struct{ Body TreeResponse }{Body: TreeResponse{Root: redactNode(snap.Network.Root)}}, nil
}

func redactNode(n *domain.NetworkNode) TreeNode {
	out := TreeNode{
		ID:               n.ID,
		Kind:             string(n.Kind),
		DownloadRateMbps: n.DownloadRateMbps,
		DownloadCeilMbps: n.DownloadCeilMbps,
		UploadRateMbps:   n.UploadRateMbps,
		UploadCeilMbps:   n.UploadCeilMbps,
		ClassID:          n.ClassID(),
	}
	for _, c := range n.Circuits {
		out.Circuits = append(out.Circuits, TreeLeaf{
			CircuitID:        c.CircuitID,
			CircuitName:      c.CircuitName,
			DeviceCount:      len(c.Devices),
			DownloadRateMbps: c.DownloadRateMbps,
			DownloadCeilMbps: c.DownloadCeilMbps,
			UploadRateMbps:   c.UploadRateMbps,
			UploadCeilMbps:   c.UploadCeilMbps,
			ClassID:          c.ClassID(),
		})
	}
	sort.Slice(out.Circuits, func(i, j int) bool { return out.Circuits[i].CircuitID < out.Circuits[j].CircuitID })
	for _, child := range n.Children {
		out.Children = append(out.Children, redactNode(child))
	}
	return out
}

// CircuitStatsInput is the path parameter for GET /circuits/{id}/stats.
type CircuitStatsInput struct {
	ID string `path:"id"`
}

// CircuitStatsResponse mirrors domain.CircuitStats' sinceLastQuery fields.
type CircuitStatsResponse struct {
	CircuitID          string  `json:"circuitId"`
	DownloadBits       uint64  `json:"downloadBits"`
	UploadBits         uint64  `json:"uploadBits"`
	DownloadDrops      uint64  `json:"downloadDrops"`
	UploadDrops        uint64  `json:"uploadDrops"`
	OverloadFactorDown float64 `json:"overloadFactorDownload"`
	OverloadFactorUp   float64 `json:"overloadFactorUpload"`
}

// CircuitStats returns the current sinceLastQuery deltas for one circuit.
func (h *Handler) CircuitStats(ctx context.Context, in *CircuitStatsInput) (*struct{ Body CircuitStatsResponse }, error) {
	snap := h.store.Current()
	if snap == nil {
		return nil, huma.Error404NotFound("no reload has completed yet")
	}
	cs, ok := snap.Stats.Circuits[in.ID]
	if !ok {
		return nil, huma.Error404NotFound(fmt.Sprintf("no stats for circuit %q", in.ID))
	}
	return &struct{ Body CircuitStatsResponse }{Body: CircuitStatsResponse{
		CircuitID:          cs.CircuitID,
		DownloadBits:       cs.SinceDownload.Bits,
		UploadBits:         cs.SinceUpload.Bits,
		DownloadDrops:      cs.SinceDownload.Drops,
		UploadDrops:        cs.SinceUpload.Drops,
		OverloadFactorDown: cs.CurrentDownload.OverloadFactor,
		OverloadFactorUp:   cs.CurrentUpload.OverloadFactor,
	}}, nil
}
