// Package compiler translates a planned domain.Network into the ordered
// TC command batch and XDP classifier entries described in spec.md §4.4.
// It is pure over in-memory state — nothing here touches the kernel; the
// Executor is the only component that does that.
package compiler

import (
	"fmt"

	"github.com/libreqos/lqosd/internal/config"
	"github.com/libreqos/lqosd/internal/domain"
)

// XDPEntry is one IP -> (cpu, classid) mapping to be pushed into the XDP
// classifier map.
type XDPEntry struct {
	IP      string
	CPU     int
	ClassID string
}

// Result is the full output of a compile pass: the ordered TC command
// list (one interface's worth at a time, A then B) and the XDP entries.
type Result struct {
	Commands   []string
	XDPEntries []XDPEntry
}

// direction bundles an interface name with the upstream capacity and
// which pair of rate/ceil fields (download or upload) it shapes.
type direction struct {
	iface    string
	upstream int
	download bool
}

// Compile emits the full command batch for a freshly planned network
// (spec.md §4.4 steps 1-5). AssignQueues and AssignClassIDs must already
// have run so every node/circuit carries CPUNum and a ClassID.
func Compile(net *domain.Network, cfg *config.Config) *Result {
	res := &Result{}
	qdisc := cfg.QdiscCommand()

	dirs := []direction{
		{iface: cfg.InterfaceA, upstream: cfg.UpstreamBandwidthCapacityDownloadMbps, download: true},
		{iface: cfg.InterfaceB, upstream: cfg.UpstreamBandwidthCapacityUploadMbps, download: false},
	}

	for _, d := range dirs {
		emitRoot(&res.Commands, net, d, qdisc)
		for _, top := range net.TopLevelNodes() {
			emitSubtree(&res.Commands, top, d, qdisc)
		}
	}

	emitXDPEntries(net, res)
	return res
}

// emitRoot emits the MQ root and, for every queue, the per-queue HTB
// root class and default class (spec.md §4.4 step 1-2).
func emitRoot(cmds *[]string, net *domain.Network, d direction, qdisc string) {
	*cmds = append(*cmds, fmt.Sprintf("qdisc replace dev %s root handle 7FFF: mq", d.iface))

	for q := 1; q <= net.QueuesAvailable; q++ {
		rootRate := d.upstream
		defaultRate := d.upstream / 4
		defaultCeil := d.upstream - 1

		*cmds = append(*cmds,
			fmt.Sprintf("qdisc add dev %s parent 7FFF:%x handle %x: htb default 2", d.iface, q, q),
			fmt.Sprintf("class add dev %s parent %x: classid %x:1 htb rate %dmbit ceil %dmbit", d.iface, q, q, rootRate, rootRate),
			fmt.Sprintf("qdisc add dev %s parent %x:1 %s", d.iface, q, qdisc),
			fmt.Sprintf("class add dev %s parent %x:1 classid %x:2 htb rate %dmbit ceil %dmbit prio 5", d.iface, q, q, defaultRate, defaultCeil),
			fmt.Sprintf("qdisc add dev %s parent %x:2 %s", d.iface, q, qdisc),
		)
	}
}

// emitSubtree depth-first emits an inner-node class for node, then a leaf
// class + qdisc for every circuit directly under it, then recurses
// (spec.md §4.4 steps 3-4).
func emitSubtree(cmds *[]string, node *domain.NetworkNode, d direction, qdisc string) {
	rate, ceil := node.UploadRateMbps, node.UploadCeilMbps
	if d.download {
		rate, ceil = node.DownloadRateMbps, node.DownloadCeilMbps
	}
	classID := node.ClassID()

	*cmds = append(*cmds, fmt.Sprintf("class add dev %s parent %s classid %s htb rate %dmbit ceil %dmbit prio 3",
		d.iface, node.ParentClassID, classID, rate, ceil))

	for _, c := range node.Circuits {
		crate, cceil := c.UploadRateMbps, c.UploadCeilMbps
		if d.download {
			crate, cceil = c.DownloadRateMbps, c.DownloadCeilMbps
		}
		ccid := c.ClassID()
		*cmds = append(*cmds,
			fmt.Sprintf("class add dev %s parent %s classid %s htb rate %dmbit ceil %dmbit prio 3", d.iface, classID, ccid, crate, cceil),
			fmt.Sprintf("qdisc add dev %s parent %s %s", d.iface, ccid, qdisc),
		)
	}

	for _, child := range node.Children {
		emitSubtree(cmds, child, d, qdisc)
	}
}

// emitXDPEntries emits one entry per device IP, mapping it to the CPU of
// the circuit's parent node and the circuit's classid (spec.md §4.4
// step 5). Computed once: the IP/CPU/classid mapping doesn't depend on
// shaping direction.
func emitXDPEntries(net *domain.Network, res *Result) {
	net.Walk(nil, func(node *domain.NetworkNode) {
		for _, c := range node.Circuits {
			classID := c.ClassID()
			for _, dev := range c.Devices {
				for _, ip := range dev.AllIPs() {
					res.XDPEntries = append(res.XDPEntries, XDPEntry{
						IP:      ip,
						CPU:     node.CPUNum,
						ClassID: classID,
					})
				}
			}
		}
	})
}

// ClearCommands emits the teardown command pair for --clearrules
// (spec.md §6): "tc qdisc delete dev <if> root" on both interfaces. XDP
// clearing is issued separately by the Executor via xdpClear().
func ClearCommands(cfg *config.Config) []string {
	return []string{
		fmt.Sprintf("qdisc delete dev %s root", cfg.InterfaceA),
		fmt.Sprintf("qdisc delete dev %s root", cfg.InterfaceB),
	}
}
