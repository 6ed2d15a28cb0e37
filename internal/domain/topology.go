// Package domain holds the in-memory topology and subscriber model shared
// by the loader, planner, compiler and reconciler. Nothing here touches the
// kernel, the filesystem or the network — it is pure over in-memory state.
package domain

// NodeKind enumerates the role a NetworkNode plays in the topology tree.
type NodeKind string

const (
	KindRoot               NodeKind = "root"
	KindSite               NodeKind = "site"
	KindAP                 NodeKind = "ap"
	KindClient             NodeKind = "client"
	KindClientWithChildren NodeKind = "clientWithChildren"
	KindDevice             NodeKind = "device"
	KindGenerated          NodeKind = "generated"
)

// NetworkNode is one interior (or root) node of the topology forest.
type NetworkNode struct {
	ID          string
	DisplayName string
	ParentID    string
	Kind        NodeKind

	// Operator-provided caps, in Mbps.
	DownloadMbps int
	UploadMbps   int

	// Derived by the Capacity Planner.
	DownloadMbpsMin int
	UploadMbpsMin   int

	// HTB rate/ceil computed by the rate-vs-ceil rule (spec.md §4.2 step 6).
	DownloadRateMbps int
	DownloadCeilMbps int
	UploadRateMbps   int
	UploadCeilMbps   int

	ClassMajor    int
	ClassMinor    int
	ParentClassID string
	CPUNum        int

	Children []*NetworkNode
	Circuits []*Circuit
}

// ClassID renders the node's HTB handle as "major:minor" hex, e.g. "3:a".
func (n *NetworkNode) ClassID() string {
	return formatClassID(n.ClassMajor, n.ClassMinor)
}

// Device is one subscriber-owned piece of CPE under a Circuit.
type Device struct {
	DeviceID   string
	DeviceName string
	MAC        string
	IPv4s      []string
	IPv6s      []string
	Comment    string
}

// AllIPs returns every configured IPv4 and IPv6 CIDR for the device.
func (d *Device) AllIPs() []string {
	out := make([]string, 0, len(d.IPv4s)+len(d.IPv6s))
	out = append(out, d.IPv4s...)
	out = append(out, d.IPv6s...)
	return out
}

// Circuit is one subscriber shaping envelope, possibly spanning several
// physical devices that all share the same HTB leaf class.
type Circuit struct {
	CircuitID   string
	CircuitName string
	ParentNodeID string

	MinDownload int
	MinUpload   int
	MaxDownload int
	MaxUpload   int

	// HTB rate/ceil computed by the rate-vs-ceil rule (spec.md §4.2 step 6).
	DownloadRateMbps int
	DownloadCeilMbps int
	UploadRateMbps   int
	UploadCeilMbps   int

	ClassMajor int
	ClassMinor int

	Devices []*Device

	// Suspended marks a circuit whose min/max were overridden by the
	// suspended-subscriber convention (SPEC_FULL.md §4).
	Suspended bool
}

// ClassID renders the circuit's HTB handle as "major:minor" hex.
func (c *Circuit) ClassID() string {
	return formatClassID(c.ClassMajor, c.ClassMinor)
}

func formatClassID(major, minor int) string {
	return hexNoPad(major) + ":" + hexNoPad(minor)
}

func hexNoPad(v int) string {
	const digits = "0123456789abcdef"
	if v == 0 {
		return "0"
	}
	var buf [16]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = digits[v&0xf]
		v >>= 4
	}
	return string(buf[i:])
}

// Network is the full loaded-and-planned topology: the forest root plus an
// index of every node and circuit by ID for O(1) lookup during compilation
// and reconciliation.
type Network struct {
	Root *NetworkNode

	NodesByID    map[string]*NetworkNode
	CircuitsByID map[string]*Circuit

	// GeneratedParentNames lists the synthetic "Generated_PN_N" nodes the
	// Capacity Planner created, in creation order — needed by the
	// reconciler to round-robin newly added unparented circuits.
	GeneratedParentNames []string

	QueuesAvailable int
}

// NewNetwork creates an empty network with a synthetic forest root.
func NewNetwork() *Network {
	root := &NetworkNode{
		ID:          "root",
		DisplayName: "root",
		Kind:        KindRoot,
	}
	return &Network{
		Root:         root,
		NodesByID:    map[string]*NetworkNode{root.ID: root},
		CircuitsByID: map[string]*Circuit{},
	}
}

// AddNode attaches a node under its parent (root if ParentID is empty) and
// indexes it.
func (n *Network) AddNode(node *NetworkNode) {
	if node.ParentID == "" {
		node.ParentID = n.Root.ID
	}
	parent, ok := n.NodesByID[node.ParentID]
	if !ok {
		parent = n.Root
		node.ParentID = n.Root.ID
	}
	parent.Children = append(parent.Children, node)
	n.NodesByID[node.ID] = node
}

// AddCircuit attaches a circuit under its resolved parent node and indexes
// it by circuit ID.
func (n *Network) AddCircuit(c *Circuit) {
	parent, ok := n.NodesByID[c.ParentNodeID]
	if !ok {
		parent = n.Root
		c.ParentNodeID = n.Root.ID
	}
	parent.Circuits = append(parent.Circuits, c)
	n.CircuitsByID[c.CircuitID] = c
}

// RemoveCircuit detaches a circuit from its parent's circuit list and the
// index. Used by the incremental reconciler's remove/relocate paths.
func (n *Network) RemoveCircuit(circuitID string) {
	c, ok := n.CircuitsByID[circuitID]
	if !ok {
		return
	}
	if parent, ok := n.NodesByID[c.ParentNodeID]; ok {
		for i, pc := range parent.Circuits {
			if pc.CircuitID == circuitID {
				parent.Circuits = append(parent.Circuits[:i], parent.Circuits[i+1:]...)
				break
			}
		}
	}
	delete(n.CircuitsByID, circuitID)
}

// TopLevelNodes returns the direct children of the root — the nodes the
// Capacity Planner's queue-round-robin walks over.
func (n *Network) TopLevelNodes() []*NetworkNode {
	return n.Root.Children
}

// Walk visits every node in the forest depth-first, pre-order, starting
// at the given node (or the root if nil).
func (n *Network) Walk(start *NetworkNode, visit func(*NetworkNode)) {
	if start == nil {
		start = n.Root
	}
	var rec func(*NetworkNode)
	rec = func(node *NetworkNode) {
		visit(node)
		for _, child := range node.Children {
			rec(child)
		}
	}
	rec(start)
}
