// Package ipindex tracks which device owns which IP/CIDR using a balanced
// routing table (github.com/gaissmai/bart), grounding spec.md §3's
// "IP addresses appear at most once across all Devices" invariant
// (SPEC_FULL.md §2.6). Lookup answers longest-prefix "which device owns
// this IP" queries; the reconciler does not use the index.
package ipindex

import (
	"fmt"
	"net/netip"

	"github.com/gaissmai/bart"
)

// Index maps exact CIDR prefixes to the owning device ID.
type Index struct {
	table *bart.Table[string]
	exact map[netip.Prefix]string
}

// New returns an empty index.
func New() *Index {
	return &Index{
		table: new(bart.Table[string]),
		exact: map[netip.Prefix]string{},
	}
}

// Insert records that deviceID owns the given IP or CIDR string. It
// returns an error if the exact prefix is already claimed by a different
// device — the duplicate-IP validation failure from spec.md §4.1.
func (idx *Index) Insert(deviceID, ipOrCIDR string) error {
	prefix, err := ParsePrefix(ipOrCIDR)
	if err != nil {
		return fmt.Errorf("ipindex: %w", err)
	}
	if owner, ok := idx.exact[prefix]; ok && owner != deviceID {
		return fmt.Errorf("ipindex: %s already assigned to device %s (conflicts with %s)", ipOrCIDR, owner, deviceID)
	}
	idx.exact[prefix] = deviceID
	idx.table.Insert(prefix, deviceID)
	return nil
}

// Lookup returns the device ID owning the longest matching prefix for ip,
// if any.
func (idx *Index) Lookup(ip netip.Addr) (deviceID string, ok bool) {
	return idx.table.Lookup(ip)
}

// Len returns the number of distinct prefixes recorded.
func (idx *Index) Len() int {
	return len(idx.exact)
}

// ParsePrefix parses either a bare IP (treated as a /32 or /128 host
// route) or a CIDR string into a netip.Prefix.
func ParsePrefix(ipOrCIDR string) (netip.Prefix, error) {
	if p, err := netip.ParsePrefix(ipOrCIDR); err == nil {
		return p, nil
	}
	addr, err := netip.ParseAddr(ipOrCIDR)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("invalid IP/CIDR %q: %w", ipOrCIDR, err)
	}
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}
