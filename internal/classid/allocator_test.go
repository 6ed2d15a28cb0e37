package classid

import (
	"testing"

	"github.com/libreqos/lqosd/internal/domain"
	"github.com/stretchr/testify/require"
)

func buildFlatNetwork(n int) *domain.Network {
	net := domain.NewNetwork()
	for i := 0; i < n; i++ {
		id := string(rune('a' + i))
		node := &domain.NetworkNode{ID: id, ParentID: "root"}
		net.AddNode(node)
		net.AddCircuit(&domain.Circuit{CircuitID: id + "-c", ParentNodeID: id})
	}
	return net
}

func TestAssignClassIDsAreUnique(t *testing.T) {
	net := buildFlatNetwork(4)
	AssignQueues(net, 4)
	alloc := New()
	AssignClassIDs(net, alloc)

	seen := map[string]bool{}
	net.Walk(nil, func(node *domain.NetworkNode) {
		if node == net.Root {
			return
		}
		id := node.ClassID()
		require.False(t, seen[id], "duplicate class id %s", id)
		seen[id] = true
		for _, c := range node.Circuits {
			cid := c.ClassID()
			require.False(t, seen[cid], "duplicate class id %s", cid)
			seen[cid] = true
		}
	})
}

func TestAllocateStartsAtThree(t *testing.T) {
	alloc := New()
	require.Equal(t, 3, alloc.Allocate(1))
	require.Equal(t, 4, alloc.Allocate(1))
	require.Equal(t, 3, alloc.Allocate(2))
}

func TestRestorePreservesCounters(t *testing.T) {
	alloc := New()
	alloc.Allocate(1)
	alloc.Allocate(1)
	snap := alloc.Snapshot()

	restored := Restore(snap)
	require.Equal(t, 5, restored.Allocate(1))
}

func TestAssignQueuesRoundRobinsTopLevel(t *testing.T) {
	net := buildFlatNetwork(5)
	AssignQueues(net, 2)

	top := net.TopLevelNodes()
	require.Equal(t, 0, top[0].CPUNum)
	require.Equal(t, 1, top[1].CPUNum)
	require.Equal(t, 0, top[2].CPUNum)
}
