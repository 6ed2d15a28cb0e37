// Package classid implements the Class-ID Allocator (spec.md §4.3): it
// assigns each top-level node a CPU queue, then walks the topology
// depth-first handing out monotonically increasing HTB minor numbers
// within that queue's major number. Minors 1 and 2 are reserved for the
// per-queue root and default classes the compiler emits, so allocation
// starts at 3.
package classid

import (
	"sort"

	"github.com/libreqos/lqosd/internal/domain"
)

const firstMinor = 3

// Allocator hands out unique (major, minor) HTB class-id pairs, one
// minor counter per queue/major. It is safe to persist its State across
// reloads so minors are never reused (spec.md §4.3: "deterministic,
// persisted across reloads").
type Allocator struct {
	nextMinor map[int]int
}

// New returns an Allocator with no prior state.
func New() *Allocator {
	return &Allocator{nextMinor: map[int]int{}}
}

// State is the JSON-serializable snapshot of allocator progress,
// persisted alongside queuingStructure.json (spec.md §4.8).
type State struct {
	NextMinor map[int]int `json:"nextMinor"`
}

// Snapshot captures the allocator's current state for persistence.
func (a *Allocator) Snapshot() State {
	cp := make(map[int]int, len(a.nextMinor))
	for k, v := range a.nextMinor {
		cp[k] = v
	}
	return State{NextMinor: cp}
}

// Restore loads a previously persisted allocator state. Reconciler adds
// only ever advance these counters, never roll them back (spec.md §4.6).
func Restore(s State) *Allocator {
	a := New()
	for k, v := range s.NextMinor {
		a.nextMinor[k] = v
	}
	return a
}

// Allocate returns the next free minor for the given queue/major,
// starting at firstMinor, and advances the counter.
func (a *Allocator) Allocate(major int) (minor int) {
	next, ok := a.nextMinor[major]
	if !ok {
		next = firstMinor
	}
	a.nextMinor[major] = next + 1
	return next
}

// AssignQueues round-robins the network's top-level nodes across CPU
// queues 0..queuesAvailable-1, in declaration order (spec.md §4.3: "the
// allocator walks top-level nodes in declaration order, round-robining
// across available queues").
func AssignQueues(net *domain.Network, queuesAvailable int) {
	top := net.TopLevelNodes()
	if queuesAvailable < 1 {
		queuesAvailable = 1
	}
	for i, node := range top {
		assignQueueRecursive(node, i%queuesAvailable)
	}
}

func assignQueueRecursive(node *domain.NetworkNode, cpu int) {
	node.CPUNum = cpu
	for _, child := range node.Children {
		assignQueueRecursive(child, cpu)
	}
}

// AssignClassIDs walks the network depth-first and assigns every node
// and circuit a unique (major, minor) pair, where major is the node's
// CPU queue number + 1 (queue 0 is reserved for MQ bookkeeping; HTB
// majors are 1-based) and minor comes from the per-major Allocator.
// AssignQueues must have been called first so CPUNum is populated.
func AssignClassIDs(net *domain.Network, alloc *Allocator) {
	top := append([]*domain.NetworkNode(nil), net.TopLevelNodes()...)
	sort.SliceStable(top, func(i, j int) bool { return top[i].ID < top[j].ID })

	for _, node := range top {
		walkAssign(node, alloc, net.Root.ClassID())
	}
}

func walkAssign(node *domain.NetworkNode, alloc *Allocator, parentClassID string) {
	major := node.CPUNum + 1
	node.ClassMajor = major
	node.ClassMinor = alloc.Allocate(major)
	node.ParentClassID = parentClassID

	for _, c := range node.Circuits {
		c.ClassMajor = major
		c.ClassMinor = alloc.Allocate(major)
	}

	for _, child := range node.Children {
		walkAssign(child, alloc, node.ClassID())
	}
}
