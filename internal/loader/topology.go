// Package loader implements spec.md §4.1: parsing and validating the
// topology JSON document and the subscriber CSV table into the in-memory
// domain.Network.
package loader

import (
	"encoding/json"
	"fmt"

	"github.com/libreqos/lqosd/internal/domain"
)

// topologyJSONNode mirrors the nested JSON shape from spec.md §4.1:
// { "<name>": { downloadBandwidthMbps, uploadBandwidthMbps, children? } }.
type topologyJSONNode struct {
	DownloadBandwidthMbps int                          `json:"downloadBandwidthMbps"`
	UploadBandwidthMbps   int                          `json:"uploadBandwidthMbps"`
	Children              map[string]topologyJSONNode `json:"children,omitempty"`
}

// LoadTopology parses the topology JSON document into a fresh
// domain.Network containing only NetworkNodes (no circuits yet). An empty
// object is valid and yields a network with just the synthetic root
// (spec.md §6: "Empty object is valid (flat network)").
func LoadTopology(raw []byte) (*domain.Network, error) {
	var doc map[string]topologyJSONNode
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("loader: malformed topology document: %w", err)
	}

	net := domain.NewNetwork()
	seen := map[string]bool{}
	if err := addChildren(net, net.Root.ID, doc, seen); err != nil {
		return nil, err
	}
	return net, nil
}

func addChildren(net *domain.Network, parentID string, children map[string]topologyJSONNode, seen map[string]bool) error {
	for name, spec := range children {
		if name == "" {
			return fmt.Errorf("loader: topology node has empty display name")
		}
		if seen[name] {
			return fmt.Errorf("loader: duplicate topology node name %q", name)
		}
		seen[name] = true

		if spec.DownloadBandwidthMbps <= 0 || spec.UploadBandwidthMbps <= 0 {
			return fmt.Errorf("loader: node %q must have positive download/upload bandwidth", name)
		}

		node := &domain.NetworkNode{
			ID:           name,
			DisplayName:  name,
			ParentID:     parentID,
			Kind:         domain.KindSite,
			DownloadMbps: spec.DownloadBandwidthMbps,
			UploadMbps:   spec.UploadBandwidthMbps,
		}
		net.AddNode(node)

		if len(spec.Children) > 0 {
			node.Kind = domain.KindAP
			if err := addChildren(net, node.ID, spec.Children, seen); err != nil {
				return err
			}
		}
	}
	return nil
}
