package domain

import "time"

// QuerySample is one raw qdisc-counter read for a single circuit on a
// single direction (download or upload).
type QuerySample struct {
	BytesSent     uint64
	PacketsSent   uint64
	PacketDrops   uint64
	OverloadFactor float64
	Time          time.Time

	Valid bool
}

// DirectionDelta holds the "sinceLastQuery" fields computed as a pure
// function of a (prior, current) QuerySample pair.
type DirectionDelta struct {
	Bits    uint64
	Bytes   uint64
	Packets uint64
	Drops   uint64
}

// CircuitStats is the sliding two-sample buffer described in spec.md §3.
type CircuitStats struct {
	CircuitID string

	PriorDownload   QuerySample
	CurrentDownload QuerySample
	PriorUpload     QuerySample
	CurrentUpload   QuerySample

	SinceDownload DirectionDelta
	SinceUpload   DirectionDelta
}

// TinName enumerates the four CAKE diffserv4 tins, in the fixed order they
// appear in `tc -j -s qdisc show` output.
type TinName string

const (
	TinBulk       TinName = "Bulk"
	TinBestEffort TinName = "BestEffort"
	TinVideo      TinName = "Video"
	TinVoice      TinName = "Voice"
)

// TinNameOrder is the fixed tin ordering used to map a CAKE tins[] array
// index to a tin name.
var TinNameOrder = []TinName{TinBulk, TinBestEffort, TinVideo, TinVoice}

// TinCounters holds one direction's running totals for one tin.
type TinCounters struct {
	SentPackets      uint64
	Drops            uint64
	Percentage       float64
	DropPercentage   float64
}

// TinStats aggregates CAKE tin classification across all circuits on one
// interface, for both directions.
type TinStats struct {
	Download map[TinName]*TinCounters
	Upload   map[TinName]*TinCounters
}

// NewTinStats allocates a TinStats with all four tins present and zeroed,
// for both directions.
func NewTinStats() *TinStats {
	ts := &TinStats{
		Download: map[TinName]*TinCounters{},
		Upload:   map[TinName]*TinCounters{},
	}
	for _, name := range TinNameOrder {
		ts.Download[name] = &TinCounters{}
		ts.Upload[name] = &TinCounters{}
	}
	return ts
}

// ParentStats is the per-parent-node aggregation computed each scrape from
// the parent's descendant circuits.
type ParentStats struct {
	NodeID string

	BitsDownload uint64
	BitsUpload   uint64

	PacketDropsTotal uint64

	OverloadFactorTotal float64
}

// LongTermStats is the cumulative, never-reset counter persisted across
// restarts (spec.md §4.7 step 7).
type LongTermStats struct {
	TotalDroppedPackets uint64
}
