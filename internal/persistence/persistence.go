// Package persistence implements the atomic on-disk state files described
// in spec.md §4.8: the queuing structure snapshot, the last-loaded CSV
// copy, the last-known-good fallback config, per-circuit/per-parent stats
// snapshots, CAKE tin stats, long-term counters, and the last-run marker.
// Every write goes to a temp file in the same directory and is renamed
// into place, so a crash mid-write never leaves a half-written file
// behind for the next reload to read.
package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/libreqos/lqosd/internal/classid"
	"github.com/libreqos/lqosd/internal/config"
	"github.com/libreqos/lqosd/internal/domain"
	"github.com/libreqos/lqosd/internal/statscollector"
)

// Store resolves the fixed file names from spec.md §4.8 under the
// configured state directory.
type Store struct {
	dir string
}

// New returns a Store rooted at cfg.Paths.StateDir.
func New(cfg *config.Config) *Store {
	return &Store{dir: cfg.Paths.StateDir}
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name)
}

// writeAtomic writes data to path via a same-directory temp file plus
// rename (spec.md §4.8).
func writeAtomic(path string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("persistence: mkdir %s: %w", filepath.Dir(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return fmt.Errorf("persistence: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("persistence: rename %s to %s: %w", tmp, path, err)
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("persistence: encode %s: %w", path, err)
	}
	return writeAtomic(path, data, 0o644)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// QueuingStructureDoc is the serializable form of a planned domain.Network,
// written to queuingStructure.json after every successful reload. Each
// node carries its own Circuits slice, so the forest rooted at Root is
// the complete snapshot; GeneratedParentNames and QueuesAvailable ride
// alongside since the reconciler's round-robin placement needs them too.
type QueuingStructureDoc struct {
	Root                 *domain.NetworkNode `json:"root"`
	GeneratedParentNames []string            `json:"generatedParentNames"`
	QueuesAvailable      int                 `json:"queuesAvailable"`
}

// SaveQueuingStructure snapshots the full node/circuit forest in net.
func (s *Store) SaveQueuingStructure(net *domain.Network) error {
	doc := QueuingStructureDoc{
		Root:                 net.Root,
		GeneratedParentNames: net.GeneratedParentNames,
		QueuesAvailable:      net.QueuesAvailable,
	}
	return writeJSON(s.path("queuingStructure.json"), doc)
}

// LoadQueuingStructure reads back the last-saved snapshot, if any.
func (s *Store) LoadQueuingStructure() (*QueuingStructureDoc, error) {
	var doc QueuingStructureDoc
	if err := readJSON(s.path("queuingStructure.json"), &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// SaveLastLoadedCSV writes the raw subscriber CSV bytes the most recent
// reload parsed, for operator inspection. Nothing reads it back; the
// first-boot fallback uses lastGoodConfig.csv instead.
func (s *Store) SaveLastLoadedCSV(raw []byte) error {
	return writeAtomic(s.path("ShapedDevices.lastLoaded.csv"), raw, 0o644)
}

// SaveLastGoodConfig persists the raw subscriber CSV and raw topology
// JSON the last successful reload validated, so a subsequent reload that
// fails validation can fall back to them (spec.md §7 ConfigInvalid
// recovery path, §8 scenario 6).
func (s *Store) SaveLastGoodConfig(rawCSV, rawTopology []byte) error {
	if err := writeAtomic(s.path("lastGoodConfig.csv"), rawCSV, 0o644); err != nil {
		return err
	}
	return writeAtomic(s.path("lastGoodConfig.json"), rawTopology, 0o644)
}

// LoadLastGoodConfig reads back the fallback CSV and topology JSON pair.
func (s *Store) LoadLastGoodConfig() (rawCSV, rawTopology []byte, err error) {
	rawCSV, err = os.ReadFile(s.path("lastGoodConfig.csv"))
	if err != nil {
		return nil, nil, err
	}
	rawTopology, err = os.ReadFile(s.path("lastGoodConfig.json"))
	if err != nil {
		return nil, nil, err
	}
	return rawCSV, rawTopology, nil
}

// SaveStats writes statscollector.State's circuit and parent maps to
// statsByCircuit.json and statsByParentNode.json, its tin stats to
// tinsStats.json and its long-term counters to longTermStats.json.
func (s *Store) SaveStats(state *statscollector.State) error {
	if err := writeJSON(s.path("statsByCircuit.json"), state.Circuits); err != nil {
		return err
	}
	if err := writeJSON(s.path("statsByParentNode.json"), state.Parents); err != nil {
		return err
	}
	if err := writeJSON(s.path("tinsStats.json"), state.Tins); err != nil {
		return err
	}
	return writeJSON(s.path("longTermStats.json"), state.LongTerm)
}

// LoadStats reads back a previously persisted statscollector.State. Any
// individual file missing (first boot) leaves that field at its
// zero-value default rather than failing the whole load.
func (s *Store) LoadStats() *statscollector.State {
	state := statscollector.NewState()
	_ = readJSON(s.path("statsByCircuit.json"), &state.Circuits)
	_ = readJSON(s.path("statsByParentNode.json"), &state.Parents)
	_ = readJSON(s.path("tinsStats.json"), state.Tins)
	_ = readJSON(s.path("longTermStats.json"), &state.LongTerm)
	return state
}

// SaveAllocatorState persists the Class-ID Allocator's minor-number
// cursors, so a later reload or reconcile never reuses a minor a prior
// run already handed out (spec.md §4.3: "deterministic, persisted across
// reloads").
func (s *Store) SaveAllocatorState(state classid.State) error {
	return writeJSON(s.path("classIDAllocator.json"), state)
}

// LoadAllocatorState reads back the allocator's persisted cursors. On
// first boot, when the file does not exist yet, it returns a zero-value
// State together with the file-not-found error.
func (s *Store) LoadAllocatorState() (classid.State, error) {
	var state classid.State
	if err := readJSON(s.path("classIDAllocator.json"), &state); err != nil {
		return classid.State{}, err
	}
	return state, nil
}

// SaveLastRun writes the lastRun.txt marker with the reload's completion
// timestamp, in RFC3339 form.
func (s *Store) SaveLastRun(at time.Time) error {
	return writeAtomic(s.path("lastRun.txt"), []byte(at.Format(time.RFC3339)+"\n"), 0o644)
}

// LoadLastRun reads back the lastRun.txt marker.
func (s *Store) LoadLastRun() (time.Time, error) {
	data, err := os.ReadFile(s.path("lastRun.txt"))
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339, string(data[:len(data)-1]))
}
