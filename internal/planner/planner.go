// Package planner implements the Capacity Planner (spec.md §4.2): queue
// discovery, synthetic parent generation, bin-packing placement of
// unparented circuits, downward cap propagation, upward minimum
// accumulation, and the rate-vs-ceil rule.
package planner

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/libreqos/lqosd/internal/config"
	"github.com/libreqos/lqosd/internal/domain"
	"github.com/libreqos/lqosd/internal/netdisc"
	"github.com/libreqos/lqosd/pkg/logger"
)

// binPackThreshold is the subscriber count above which bin-packing is
// considered inefficient and the round-robin fallback is used regardless
// of useBinPackingToBalanceCPU (spec.md §4.2 step 3).
const binPackThreshold = 25000

// Planner runs the Capacity Planner pipeline over a loaded domain.Network.
type Planner struct {
	cfg    *config.Config
	disc   netdisc.QueueDiscoverer
	log    *logger.Logger
}

// New returns a Planner.
func New(cfg *config.Config, disc netdisc.QueueDiscoverer, log *logger.Logger) *Planner {
	return &Planner{cfg: cfg, disc: disc, log: log.WithComponent("planner")}
}

// UnparentedInput is the per-circuit bin-packing weight computed by the
// loader for circuits with no ParentNode column value.
type UnparentedInput map[string]int

// Plan mutates net in place: it creates generated parents, places
// unparented circuits, propagates caps downward, accumulates minimums
// upward, and computes HTB rate/ceil for every node and circuit.
func (p *Planner) Plan(ctx context.Context, net *domain.Network, circuits []*domain.Circuit, unparentedWeight UnparentedInput) error {
	queues, err := p.disc.AvailableQueues(p.cfg.InterfaceA, p.cfg.QueuesAvailableOverride)
	if err != nil {
		return fmt.Errorf("planner: %w", err)
	}
	net.QueuesAvailable = queues

	p.generateParents(net, queues)

	for _, c := range circuits {
		net.AddCircuit(c)
	}

	p.placeUnparented(net, unparentedWeight)

	net.Root.DownloadMbps = p.cfg.UpstreamBandwidthCapacityDownloadMbps
	net.Root.UploadMbps = p.cfg.UpstreamBandwidthCapacityUploadMbps

	p.propagateCapsDownward(net)
	p.accumulateMinimumsUpward(ctx, net, net.Root)
	p.computeRateCeil(net, net.Root)

	return nil
}

// generateParents creates "Generated_PN_1..N" nodes so that the top-level
// node count reaches queuesAvailable (spec.md §4.2 step 2).
func (p *Planner) generateParents(net *domain.Network, queues int) {
	existing := len(net.TopLevelNodes())
	need := queues - existing
	for i := 1; i <= need; i++ {
		name := fmt.Sprintf("Generated_PN_%d", i)
		node := &domain.NetworkNode{
			ID:           name,
			DisplayName:  name,
			ParentID:     net.Root.ID,
			Kind:         domain.KindGenerated,
			DownloadMbps: p.cfg.GeneratedPNDownloadMbps,
			UploadMbps:   p.cfg.GeneratedPNUploadMbps,
		}
		net.AddNode(node)
		net.GeneratedParentNames = append(net.GeneratedParentNames, name)
	}
}

// placeUnparented assigns every circuit with no (or "none") ParentNode to
// a Generated_PN, via bin-packing or round-robin (spec.md §4.2 step 3).
func (p *Planner) placeUnparented(net *domain.Network, weight UnparentedInput) {
	if len(net.GeneratedParentNames) == 0 || len(weight) == 0 {
		return
	}

	ids := make([]string, 0, len(weight))
	for id := range weight {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	useBinPacking := p.cfg.UseBinPackingToBalanceCPU && len(ids) < binPackThreshold

	var binOf []int
	if useBinPacking {
		weights := make([]int, len(ids))
		for i, id := range ids {
			weights[i] = weight[id]
		}
		binOf = firstFitDecreasing(weights, len(net.GeneratedParentNames))
	} else {
		binOf = make([]int, len(ids))
		for i := range ids {
			binOf[i] = i % len(net.GeneratedParentNames)
		}
	}

	for i, id := range ids {
		c, ok := net.CircuitsByID[id]
		if !ok {
			continue
		}
		target := net.GeneratedParentNames[binOf[i]]
		net.RemoveCircuit(c.CircuitID)
		c.ParentNodeID = target
		net.AddCircuit(c)
	}
}

// propagateCapsDownward clamps each node's cap to min(self, parent.cap),
// pre-order so parents are resolved before children (spec.md §4.2 step 4).
func (p *Planner) propagateCapsDownward(net *domain.Network) {
	for _, child := range net.Root.Children {
		p.clampSubtree(child, net.Root.DownloadMbps, net.Root.UploadMbps)
	}
}

func (p *Planner) clampSubtree(node *domain.NetworkNode, parentDown, parentUp int) {
	if node.DownloadMbps > parentDown {
		node.DownloadMbps = parentDown
	}
	if node.UploadMbps > parentUp {
		node.UploadMbps = parentUp
	}
	for _, child := range node.Children {
		p.clampSubtree(child, node.DownloadMbps, node.UploadMbps)
	}
}

// accumulateMinimumsUpward sums circuit and child-node minimums into each
// node's DownloadMbpsMin/UploadMbpsMin, post-order, clamping any circuit
// whose max exceeds its parent's cap along the way (spec.md §4.2 step 5).
func (p *Planner) accumulateMinimumsUpward(ctx context.Context, net *domain.Network, node *domain.NetworkNode) (downMin, upMin int) {
	for _, child := range node.Children {
		cd, cu := p.accumulateMinimumsUpward(ctx, net, child)
		downMin += cd
		upMin += cu
	}

	for _, c := range node.Circuits {
		if c.MaxDownload > node.DownloadMbps {
			p.log.CapClamped(ctx, c.CircuitID, node.ID, c.MaxDownload, node.DownloadMbps)
			c.MaxDownload = node.DownloadMbps
			if c.MinDownload > c.MaxDownload {
				c.MinDownload = c.MaxDownload
			}
		}
		if c.MaxUpload > node.UploadMbps {
			p.log.CapClamped(ctx, c.CircuitID, node.ID, c.MaxUpload, node.UploadMbps)
			c.MaxUpload = node.UploadMbps
			if c.MinUpload > c.MaxUpload {
				c.MinUpload = c.MaxUpload
			}
		}
		downMin += c.MinDownload
		upMin += c.MinUpload
	}

	node.DownloadMbpsMin = downMin
	node.UploadMbpsMin = upMin
	return downMin, upMin
}

// computeRateCeil applies the rate-vs-ceil rule (spec.md §4.2 step 6) to
// every node and circuit, depth-first from the root.
func (p *Planner) computeRateCeil(net *domain.Network, node *domain.NetworkNode) {
	if node != net.Root {
		node.DownloadRateMbps = int(math.Round(float64(node.DownloadMbps) * 0.95))
		node.DownloadCeilMbps = node.DownloadMbps
		node.UploadRateMbps = int(math.Round(float64(node.UploadMbps) * 0.95))
		node.UploadCeilMbps = node.UploadMbps
	}

	for _, c := range node.Circuits {
		ApplyCircuitRateCeil(c, node)
	}

	for _, child := range node.Children {
		p.computeRateCeil(net, child)
	}
}

// ApplyCircuitRateCeil applies the leaf half of the rate-vs-ceil rule
// (spec.md §4.2 step 6) to a single circuit under the given parent node.
// Exported so the incremental reconciler can recompute it for add/resize/
// relocate mutations without re-running the full planner pass.
func ApplyCircuitRateCeil(c *domain.Circuit, node *domain.NetworkNode) {
	c.DownloadRateMbps = minInt(c.MinDownload, node.DownloadMbps)
	c.DownloadCeilMbps = minInt(c.MaxDownload, node.DownloadMbps)
	c.UploadRateMbps = minInt(c.MinUpload, node.UploadMbps)
	c.UploadCeilMbps = minInt(c.MaxUpload, node.UploadMbps)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// ParentKey normalizes a ParentNode CSV value so empty/"none"/whitespace
// are all treated identically (spec.md §4.1).
func ParentKey(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.EqualFold(raw, "none") {
		return ""
	}
	return raw
}
