// Package statscollector implements the Stats Collector (spec.md §4.7):
// it scrapes `tc -j -s qdisc show dev <iface>` on both interfaces,
// computes per-circuit and per-parent counter deltas, tallies CAKE tin
// drops, and emits time-series points.
package statscollector

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/libreqos/lqosd/internal/config"
	"github.com/libreqos/lqosd/internal/domain"
	"github.com/libreqos/lqosd/internal/publisher"
	"github.com/libreqos/lqosd/pkg/logger"
)

// ShellRunner is the subset of executor.Executor the collector needs —
// kept minimal so tests can fake it without pulling in os/exec.
type ShellRunner interface {
	RunShell(ctx context.Context, cmd string) (exitCode int, stdout string, err error)
}

// qdiscJSON mirrors the subset of `tc -j -s qdisc show` fields this
// system consumes. The "parent" field is the HTB handle the circuit (or
// per-queue root/default class) was created under, formatted the same
// way domain.Circuit.ClassID renders it ("major:minor" hex).
type qdiscJSON struct {
	Parent  string    `json:"parent"`
	Bytes   uint64    `json:"bytes"`
	Packets uint64    `json:"packets"`
	Drops   uint64    `json:"drops"`
	Tins    []tinJSON `json:"tins,omitempty"`
}

type tinJSON struct {
	Pkts     uint64 `json:"pkts"`
	Drops    uint64 `json:"drops"`
	EcnMark  uint64 `json:"ecn_mark"`
	AckDrops uint64 `json:"ack_drops"`
}

// State is the persisted, cross-invocation stats state: the prior/
// current sample window per circuit, the CAKE tin accumulator, and the
// long-term drop counter (spec.md §4.8).
type State struct {
	Circuits map[string]*domain.CircuitStats
	Parents  map[string]*domain.ParentStats
	Tins     *domain.TinStats
	LongTerm domain.LongTermStats
}

// NewState returns an empty State ready for the first scrape.
func NewState() *State {
	return &State{
		Circuits: map[string]*domain.CircuitStats{},
		Parents:  map[string]*domain.ParentStats{},
		Tins:     domain.NewTinStats(),
	}
}

// Collector runs one stats-collection pass at a time; scheduling is
// external (spec.md §4.7: "called on an external cadence, cron-like").
type Collector struct {
	cfg   *config.Config
	shell ShellRunner
	pub   publisher.Publisher
	log   *logger.Logger
}

// New returns a Collector.
func New(cfg *config.Config, shell ShellRunner, pub publisher.Publisher, log *logger.Logger) *Collector {
	return &Collector{cfg: cfg, shell: shell, pub: pub, log: log.WithComponent("stats")}
}

// Collect runs one scrape-compute-publish cycle, mutating state in place
// and returning the points it published. It does not persist state;
// callers save it afterwards.
func (c *Collector) Collect(ctx context.Context, net *domain.Network, state *State) ([]publisher.Point, error) {
	downByClass, err := c.scrape(ctx, c.cfg.InterfaceA)
	if err != nil {
		return nil, fmt.Errorf("statscollector: scrape %s: %w", c.cfg.InterfaceA, err)
	}
	upByClass, err := c.scrape(ctx, c.cfg.InterfaceB)
	if err != nil {
		return nil, fmt.Errorf("statscollector: scrape %s: %w", c.cfg.InterfaceB, err)
	}

	now := time.Now()
	cakeActive := c.cfg.CakeDiffserv4()

	var points []publisher.Point
	var scrapeDrops uint64
	net.Walk(nil, func(node *domain.NetworkNode) {
		for _, circuit := range node.Circuits {
			cpoints := c.collectCircuit(ctx, circuit, downByClass, upByClass, state, now, cakeActive)
			points = append(points, cpoints...)
			cs := state.Circuits[circuit.CircuitID]
			scrapeDrops += cs.SinceDownload.Drops + cs.SinceUpload.Drops
		}
	})
	state.LongTerm.TotalDroppedPackets += scrapeDrops

	if cakeActive {
		finalizeTinPercentages(state.Tins)
		points = append(points, tinPoints(state.Tins)...)
	}

	c.aggregateParents(net, state)
	for _, id := range sortedParentIDs(state.Parents) {
		points = append(points, parentPoints(state.Parents[id])...)
	}

	if err := publisher.WriteBatched(ctx, c.pub, points); err != nil {
		c.log.WithError(err).WarnContext(ctx, "publisher write failed")
	}

	return points, nil
}

func (c *Collector) collectCircuit(ctx context.Context, circuit *domain.Circuit, downByClass, upByClass map[string]qdiscJSON, state *State, now time.Time, cakeActive bool) []publisher.Point {
	classID := circuit.ClassID()
	downQ, hasDown := downByClass[classID]
	upQ, hasUp := upByClass[classID]

	cs, ok := state.Circuits[circuit.CircuitID]
	if !ok {
		cs = &domain.CircuitStats{CircuitID: circuit.CircuitID}
		state.Circuits[circuit.CircuitID] = cs
	}

	cs.PriorDownload = cs.CurrentDownload
	cs.PriorUpload = cs.CurrentUpload
	cs.CurrentDownload = sampleFrom(downQ, hasDown, now)
	cs.CurrentUpload = sampleFrom(upQ, hasUp, now)

	var err error
	cs.SinceDownload, err = delta(cs.PriorDownload, cs.CurrentDownload)
	if err != nil {
		c.log.StatsParseFailure(ctx, circuit.CircuitID, "download", err.Error())
	}
	cs.SinceUpload, err = delta(cs.PriorUpload, cs.CurrentUpload)
	if err != nil {
		c.log.StatsParseFailure(ctx, circuit.CircuitID, "upload", err.Error())
	}

	// Overload factor is "this scrape's" drops over "this scrape's"
	// packets — the sinceLastQuery delta, not the cumulative counters a
	// leaf class has carried since boot (spec.md §4.7 step 2).
	cs.CurrentDownload.OverloadFactor = overloadFactor(cs.SinceDownload.Drops, cs.SinceDownload.Packets)
	cs.CurrentUpload.OverloadFactor = overloadFactor(cs.SinceUpload.Drops, cs.SinceUpload.Packets)

	if cakeActive {
		accumulateTins(state.Tins.Download, downQ.Tins)
		accumulateTins(state.Tins.Upload, upQ.Tins)
	}

	var points []publisher.Point
	if cs.SinceDownload.Bits > 0 || cs.SinceUpload.Bits > 0 {
		tags := map[string]string{"circuit_id": circuit.CircuitID, "circuit_name": circuit.CircuitName}
		points = append(points, publisher.Point{
			Measurement: "Bandwidth",
			Tags:        tags,
			Fields: map[string]any{
				"download_bits": cs.SinceDownload.Bits,
				"upload_bits":   cs.SinceUpload.Bits,
			},
			Time: now,
		})
		points = append(points, publisher.Point{
			Measurement: "Utilization",
			Tags:        tags,
			Fields: map[string]any{
				"download_pct": utilizationPct(cs.SinceDownload.Bits, circuit.DownloadCeilMbps),
				"upload_pct":   utilizationPct(cs.SinceUpload.Bits, circuit.UploadCeilMbps),
			},
			Time: now,
		})
	}
	return points
}

// scrape invokes `tc -j -s qdisc show dev <iface>` and indexes the
// decoded entries by their "parent" handle (spec.md §4.7 step 1).
func (c *Collector) scrape(ctx context.Context, iface string) (map[string]qdiscJSON, error) {
	_, out, err := c.shell.RunShell(ctx, fmt.Sprintf("tc -j -s qdisc show dev %s", iface))
	if err != nil {
		return nil, err
	}
	var entries []qdiscJSON
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		return nil, fmt.Errorf("decode tc json: %w", err)
	}
	byParent := make(map[string]qdiscJSON, len(entries))
	for _, e := range entries {
		if e.Parent == "" {
			continue
		}
		byParent[e.Parent] = e
	}
	return byParent, nil
}

// sampleFrom builds a raw QuerySample from one interface's qdisc entry.
// OverloadFactor is left zero here; it's filled in from the
// sinceLastQuery delta once that's computed (spec.md §4.7 step 2).
func sampleFrom(q qdiscJSON, ok bool, now time.Time) domain.QuerySample {
	if !ok {
		return domain.QuerySample{Time: now, Valid: false}
	}
	return domain.QuerySample{
		BytesSent:   q.Bytes,
		PacketsSent: q.Packets,
		PacketDrops: q.Drops,
		Time:        now,
		Valid:       true,
	}
}

// overloadFactor is drops-over-packets for one scrape window, rounded to
// three decimals; zero when there were no packets to divide by.
func overloadFactor(drops, packets uint64) float64 {
	if packets == 0 {
		return 0
	}
	return round(float64(drops)/float64(packets), 3)
}

// delta computes sinceLastQuery fields as a pure function of the
// (prior, current) pair (spec.md §4.7 step 4, §9 design note). A missing
// sample or a counter rollback zeroes the whole delta; Δt<=0 zeroes only
// Bits and keeps the byte/packet/drop deltas. Each case is reported via
// the returned error for logging.
func delta(prior, current domain.QuerySample) (domain.DirectionDelta, error) {
	if !prior.Valid || !current.Valid {
		return domain.DirectionDelta{}, fmt.Errorf("missing prior or current sample")
	}

	bytesDelta := int64(current.BytesSent) - int64(prior.BytesSent)
	packetsDelta := int64(current.PacketsSent) - int64(prior.PacketsSent)
	dropsDelta := int64(current.PacketDrops) - int64(prior.PacketDrops)
	if bytesDelta < 0 || packetsDelta < 0 || dropsDelta < 0 {
		return domain.DirectionDelta{}, fmt.Errorf("counter rollback detected")
	}

	dt := current.Time.Sub(prior.Time).Seconds()
	var bits uint64
	if dt > 0 {
		bits = uint64(math.Round(float64(bytesDelta) * 8 / dt))
	} else {
		return domain.DirectionDelta{Bytes: uint64(bytesDelta), Packets: uint64(packetsDelta), Drops: uint64(dropsDelta)},
			fmt.Errorf("non-positive delta-t")
	}

	return domain.DirectionDelta{
		Bits:    bits,
		Bytes:   uint64(bytesDelta),
		Packets: uint64(packetsDelta),
		Drops:   uint64(dropsDelta),
	}, nil
}

// accumulateTins folds one qdisc sample's four CAKE tins into the
// running per-direction accumulator. trueDrops = ecn_mark + drops -
// ack_drops (spec.md §4.7 step 3), clamped at zero.
func accumulateTins(acc map[domain.TinName]*domain.TinCounters, tins []tinJSON) {
	for i, name := range domain.TinNameOrder {
		if i >= len(tins) {
			break
		}
		t := tins[i]
		trueDrops := int64(t.EcnMark) + int64(t.Drops) - int64(t.AckDrops)
		if trueDrops < 0 {
			trueDrops = 0
		}
		counters := acc[name]
		counters.SentPackets += t.Pkts
		counters.Drops += uint64(trueDrops)
	}
}

// finalizeTinPercentages computes share/drop percentages once all
// circuits for this scrape have been folded in (spec.md §4.7 step 4).
func finalizeTinPercentages(stats *domain.TinStats) {
	finalizeDirection(stats.Download)
	finalizeDirection(stats.Upload)
}

func finalizeDirection(dir map[domain.TinName]*domain.TinCounters) {
	var total uint64
	for _, c := range dir {
		total += c.SentPackets
	}
	for _, c := range dir {
		if total > 0 {
			c.Percentage = clamp(round(float64(c.SentPackets)/float64(total)*100, 1), 0, 100)
		}
		if c.SentPackets > 0 {
			c.DropPercentage = clampMin(round(float64(c.Drops)/float64(c.SentPackets)*100, 1), 0)
		}
	}
}

// aggregateParents rolls up each node's subtree traffic (direct
// circuits plus all descendant nodes) into ParentStats (spec.md §4.7
// step 5).
func (c *Collector) aggregateParents(net *domain.Network, state *State) {
	for _, top := range net.TopLevelNodes() {
		c.aggregateSubtree(top, state)
	}
}

func (c *Collector) aggregateSubtree(node *domain.NetworkNode, state *State) (bitsDown, bitsUp, packets, drops uint64) {
	for _, child := range node.Children {
		cd, cu, cp, cr := c.aggregateSubtree(child, state)
		bitsDown += cd
		bitsUp += cu
		packets += cp
		drops += cr
	}
	for _, circuit := range node.Circuits {
		cs := state.Circuits[circuit.CircuitID]
		if cs == nil {
			continue
		}
		bitsDown += cs.SinceDownload.Bits
		bitsUp += cs.SinceUpload.Bits
		packets += cs.SinceDownload.Packets + cs.SinceUpload.Packets
		drops += cs.SinceDownload.Drops + cs.SinceUpload.Drops
	}

	ps, ok := state.Parents[node.ID]
	if !ok {
		ps = &domain.ParentStats{NodeID: node.ID}
		state.Parents[node.ID] = ps
	}
	ps.BitsDownload = bitsDown
	ps.BitsUpload = bitsUp
	ps.PacketDropsTotal = drops
	ps.OverloadFactorTotal = 0
	if packets > 0 {
		ps.OverloadFactorTotal = round(float64(drops)/float64(packets)*100, 1)
	}
	return bitsDown, bitsUp, packets, drops
}

func sortedParentIDs(m map[string]*domain.ParentStats) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func parentPoints(ps *domain.ParentStats) []publisher.Point {
	if ps.BitsDownload == 0 && ps.BitsUpload == 0 {
		return nil
	}
	tags := map[string]string{"node_id": ps.NodeID}
	now := time.Now()
	return []publisher.Point{
		{
			Measurement: "Bandwidth",
			Tags:        tags,
			Fields:      map[string]any{"download_bits": ps.BitsDownload, "upload_bits": ps.BitsUpload},
			Time:        now,
		},
		{
			Measurement: "Overload",
			Tags:        tags,
			Fields:      map[string]any{"overload_pct": ps.OverloadFactorTotal, "drops": ps.PacketDropsTotal},
			Time:        now,
		},
	}
}

func tinPoints(stats *domain.TinStats) []publisher.Point {
	now := time.Now()
	var points []publisher.Point
	for _, name := range domain.TinNameOrder {
		for dir, counters := range map[string]*domain.TinCounters{"download": stats.Download[name], "upload": stats.Upload[name]} {
			points = append(points,
				publisher.Point{
					Measurement: "Tin Drop Percentage",
					Tags:        map[string]string{"tin": string(name), "direction": dir},
					Fields:      map[string]any{"drop_pct": counters.DropPercentage},
					Time:        now,
				},
				publisher.Point{
					Measurement: "Tins Assigned",
					Tags:        map[string]string{"tin": string(name), "direction": dir},
					Fields:      map[string]any{"share_pct": counters.Percentage, "sent_packets": counters.SentPackets},
					Time:        now,
				},
			)
		}
	}
	return points
}

func utilizationPct(bits uint64, capMbps int) float64 {
	if capMbps <= 0 {
		return 0
	}
	capBits := float64(capMbps) * 1_000_000
	return round(float64(bits)/capBits*100, 1)
}

func round(v float64, decimals int) float64 {
	mult := math.Pow(10, float64(decimals))
	return math.Round(v*mult) / mult
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampMin(v, lo float64) float64 {
	if v < lo {
		return lo
	}
	return v
}
