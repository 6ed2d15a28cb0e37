// Package reconciler implements the Incremental Reconciler (spec.md
// §4.6): given the live, previously-compiled domain.Network and a
// freshly validated subscriber snapshot, it classifies every circuit as
// added, removed, resized, relocated, rewired or unchanged, and emits
// the minimal TC/XDP mutation set in the order {removes,
// resizes/relocates/rewires, adds}.
package reconciler

import (
	"context"
	"fmt"
	"sort"

	"github.com/libreqos/lqosd/internal/classid"
	"github.com/libreqos/lqosd/internal/compiler"
	"github.com/libreqos/lqosd/internal/config"
	"github.com/libreqos/lqosd/internal/domain"
	"github.com/libreqos/lqosd/internal/planner"
	"github.com/libreqos/lqosd/pkg/logger"
)

// Kind is the classification a circuit receives when diffing two
// snapshots.
type Kind string

const (
	KindAdd      Kind = "add"
	KindRemove   Kind = "remove"
	KindResize   Kind = "resize"
	KindRelocate Kind = "relocate"
	KindRewire   Kind = "rewire"
	KindNoOp     Kind = "noop"
)

// Mutation records one circuit's classification. The commands and XDP
// changes for all circuits are collected in Result.
type Mutation struct {
	Kind      Kind
	CircuitID string
}

// Result is the full output of a Reconcile pass.
type Result struct {
	Mutations  []Mutation
	Commands   []string
	XDPAdds    []compiler.XDPEntry
	XDPDels    []string
}

// Reconciler runs incremental reconciliation over a live network.
type Reconciler struct {
	cfg   *config.Config
	alloc *classid.Allocator
	log   *logger.Logger

	rrCursor int
}

// Allocator exposes the bound Class-ID Allocator so a full reload can
// reuse the same persisted counters a reconcile pass would (spec.md
// §4.3: allocation is deterministic and persisted across both paths).
func (r *Reconciler) Allocator() *classid.Allocator {
	return r.alloc
}

// New returns a Reconciler bound to the persisted class-id allocator
// state (so minors it hands out on add never collide with a prior full
// or partial reload's allocations).
func New(cfg *config.Config, alloc *classid.Allocator, log *logger.Logger) *Reconciler {
	return &Reconciler{cfg: cfg, alloc: alloc, log: log.WithComponent("reconciler")}
}

// Reconcile diffs net's current circuits against newCircuits, mutates
// net in place, and returns the ordered mutation/command/XDP set.
func (r *Reconciler) Reconcile(ctx context.Context, net *domain.Network, newCircuits []*domain.Circuit) (*Result, error) {
	qdisc := r.cfg.QdiscCommand()
	newByID := make(map[string]*domain.Circuit, len(newCircuits))
	for _, c := range newCircuits {
		newByID[c.CircuitID] = c
	}

	var removes, changes, adds []string
	ids := make(map[string]bool, len(net.CircuitsByID)+len(newCircuits))
	for id := range net.CircuitsByID {
		ids[id] = true
	}
	for id := range newByID {
		ids[id] = true
	}
	sortedIDs := make([]string, 0, len(ids))
	for id := range ids {
		sortedIDs = append(sortedIDs, id)
	}
	sort.Strings(sortedIDs)

	res := &Result{}
	kindByID := map[string]Kind{}

	for _, id := range sortedIDs {
		oldC, hadOld := net.CircuitsByID[id]
		newC, hasNew := newByID[id]

		switch {
		case !hadOld && hasNew:
			kindByID[id] = KindAdd
			adds = append(adds, id)
		case hadOld && !hasNew:
			kindByID[id] = KindRemove
			removes = append(removes, id)
		default:
			kind := classify(oldC, newC)
			kindByID[id] = kind
			if kind != KindNoOp {
				changes = append(changes, id)
			}
		}
	}

	for _, id := range removes {
		r.emitRemove(net, id, res)
	}
	for _, id := range changes {
		switch kindByID[id] {
		case KindResize:
			r.emitResize(net, newByID[id], res)
		case KindRelocate:
			if err := r.emitRelocate(net, newByID[id], qdisc, res); err != nil {
				return nil, err
			}
		case KindRewire:
			r.emitRewire(net, newByID[id], res)
		}
	}
	for _, id := range adds {
		if err := r.emitAdd(net, newByID[id], qdisc, res); err != nil {
			return nil, err
		}
	}

	for _, id := range sortedIDs {
		res.Mutations = append(res.Mutations, Mutation{Kind: kindByID[id], CircuitID: id})
	}

	return res, nil
}

// classify implements the §4.6 decision table for a circuit present in
// both snapshots.
func classify(oldC, newC *domain.Circuit) Kind {
	if planner.ParentKey(oldC.ParentNodeID) != planner.ParentKey(newC.ParentNodeID) {
		return KindRelocate
	}
	if oldC.MinDownload != newC.MinDownload || oldC.MinUpload != newC.MinUpload ||
		oldC.MaxDownload != newC.MaxDownload || oldC.MaxUpload != newC.MaxUpload {
		return KindResize
	}
	if !devicesEqual(oldC.Devices, newC.Devices) {
		return KindRewire
	}
	return KindNoOp
}

func devicesEqual(a, b []*domain.Device) bool {
	if len(a) != len(b) {
		return false
	}
	byID := make(map[string]*domain.Device, len(a))
	for _, d := range a {
		byID[d.DeviceID] = d
	}
	for _, d := range b {
		other, ok := byID[d.DeviceID]
		if !ok {
			return false
		}
		if !stringSliceEqual(other.AllIPs(), d.AllIPs()) {
			return false
		}
	}
	return true
}

func stringSliceEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	sa := append([]string(nil), a...)
	sb := append([]string(nil), b...)
	sort.Strings(sa)
	sort.Strings(sb)
	for i := range sa {
		if sa[i] != sb[i] {
			return false
		}
	}
	return true
}

func (r *Reconciler) emitRemove(net *domain.Network, circuitID string, res *Result) {
	c, ok := net.CircuitsByID[circuitID]
	if !ok {
		return
	}
	for _, dev := range c.Devices {
		for _, ip := range dev.AllIPs() {
			res.XDPDels = append(res.XDPDels, ip)
		}
	}
	classID := c.ClassID()
	res.Commands = append(res.Commands,
		fmt.Sprintf("class del dev %s classid %s", r.cfg.InterfaceA, classID),
		fmt.Sprintf("class del dev %s classid %s", r.cfg.InterfaceB, classID),
	)
	net.RemoveCircuit(circuitID)
}

func (r *Reconciler) emitResize(net *domain.Network, newC *domain.Circuit, res *Result) {
	old := net.CircuitsByID[newC.CircuitID]
	node := net.NodesByID[old.ParentNodeID]
	newC.ClassMajor, newC.ClassMinor = old.ClassMajor, old.ClassMinor
	planner.ApplyCircuitRateCeil(newC, node)
	classID := newC.ClassID()

	res.Commands = append(res.Commands,
		fmt.Sprintf("class change dev %s classid %s htb rate %dmbit ceil %dmbit prio 3", r.cfg.InterfaceA, classID, newC.DownloadRateMbps, newC.DownloadCeilMbps),
		fmt.Sprintf("class change dev %s classid %s htb rate %dmbit ceil %dmbit prio 3", r.cfg.InterfaceB, classID, newC.UploadRateMbps, newC.UploadCeilMbps),
	)

	*old = *newC
}

func (r *Reconciler) emitRewire(net *domain.Network, newC *domain.Circuit, res *Result) {
	old := net.CircuitsByID[newC.CircuitID]
	for _, dev := range old.Devices {
		for _, ip := range dev.AllIPs() {
			res.XDPDels = append(res.XDPDels, ip)
		}
	}
	node := net.NodesByID[old.ParentNodeID]
	for _, dev := range newC.Devices {
		for _, ip := range dev.AllIPs() {
			res.XDPAdds = append(res.XDPAdds, compiler.XDPEntry{IP: ip, CPU: node.CPUNum, ClassID: old.ClassID()})
		}
	}
	newC.ClassMajor, newC.ClassMinor = old.ClassMajor, old.ClassMinor
	*old = *newC
}

func (r *Reconciler) emitRelocate(net *domain.Network, newC *domain.Circuit, qdisc string, res *Result) error {
	old := net.CircuitsByID[newC.CircuitID]
	oldClassID := old.ClassID()

	for _, dev := range old.Devices {
		for _, ip := range dev.AllIPs() {
			res.XDPDels = append(res.XDPDels, ip)
		}
	}
	res.Commands = append(res.Commands,
		fmt.Sprintf("class del dev %s classid %s", r.cfg.InterfaceA, oldClassID),
		fmt.Sprintf("class del dev %s classid %s", r.cfg.InterfaceB, oldClassID),
	)
	net.RemoveCircuit(newC.CircuitID)

	newParentID := planner.ParentKey(newC.ParentNodeID)
	if newParentID == "" {
		newParentID = r.nextGeneratedParent(net)
	}
	newC.ParentNodeID = newParentID
	node, ok := net.NodesByID[newParentID]
	if !ok {
		return fmt.Errorf("reconciler: relocate: unknown parent node %q for circuit %s", newParentID, newC.CircuitID)
	}

	newC.ClassMajor = node.CPUNum + 1
	newC.ClassMinor = r.alloc.Allocate(newC.ClassMajor)
	planner.ApplyCircuitRateCeil(newC, node)
	newClassID := newC.ClassID()

	res.Commands = append(res.Commands,
		fmt.Sprintf("class add dev %s parent %s classid %s htb rate %dmbit ceil %dmbit prio 3", r.cfg.InterfaceA, node.ClassID(), newClassID, newC.DownloadRateMbps, newC.DownloadCeilMbps),
		fmt.Sprintf("qdisc add dev %s parent %s %s", r.cfg.InterfaceA, newClassID, qdisc),
		fmt.Sprintf("class add dev %s parent %s classid %s htb rate %dmbit ceil %dmbit prio 3", r.cfg.InterfaceB, node.ClassID(), newClassID, newC.UploadRateMbps, newC.UploadCeilMbps),
		fmt.Sprintf("qdisc add dev %s parent %s %s", r.cfg.InterfaceB, newClassID, qdisc),
	)

	for _, dev := range newC.Devices {
		for _, ip := range dev.AllIPs() {
			res.XDPAdds = append(res.XDPAdds, compiler.XDPEntry{IP: ip, CPU: node.CPUNum, ClassID: newClassID})
		}
	}

	net.AddCircuit(newC)
	return nil
}

func (r *Reconciler) emitAdd(net *domain.Network, newC *domain.Circuit, qdisc string, res *Result) error {
	parentID := planner.ParentKey(newC.ParentNodeID)
	if parentID == "" {
		parentID = r.nextGeneratedParent(net)
	}
	newC.ParentNodeID = parentID
	node, ok := net.NodesByID[parentID]
	if !ok {
		return fmt.Errorf("reconciler: add: unknown parent node %q for circuit %s", parentID, newC.CircuitID)
	}

	newC.ClassMajor = node.CPUNum + 1
	newC.ClassMinor = r.alloc.Allocate(newC.ClassMajor)
	planner.ApplyCircuitRateCeil(newC, node)
	classID := newC.ClassID()

	res.Commands = append(res.Commands,
		fmt.Sprintf("class add dev %s parent %s classid %s htb rate %dmbit ceil %dmbit prio 3", r.cfg.InterfaceA, node.ClassID(), classID, newC.DownloadRateMbps, newC.DownloadCeilMbps),
		fmt.Sprintf("qdisc add dev %s parent %s %s", r.cfg.InterfaceA, classID, qdisc),
		fmt.Sprintf("class add dev %s parent %s classid %s htb rate %dmbit ceil %dmbit prio 3", r.cfg.InterfaceB, node.ClassID(), classID, newC.UploadRateMbps, newC.UploadCeilMbps),
		fmt.Sprintf("qdisc add dev %s parent %s %s", r.cfg.InterfaceB, classID, qdisc),
	)

	for _, dev := range newC.Devices {
		for _, ip := range dev.AllIPs() {
			res.XDPAdds = append(res.XDPAdds, compiler.XDPEntry{IP: ip, CPU: node.CPUNum, ClassID: classID})
		}
	}

	net.AddCircuit(newC)
	return nil
}

// nextGeneratedParent round-robins across the persisted Generated_PNs
// for circuits whose ParentNode is "none" (spec.md §4.6 add/relocate).
func (r *Reconciler) nextGeneratedParent(net *domain.Network) string {
	if len(net.GeneratedParentNames) == 0 {
		return net.Root.ID
	}
	name := net.GeneratedParentNames[r.rrCursor%len(net.GeneratedParentNames)]
	r.rrCursor++
	return name
}
