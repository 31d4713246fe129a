// SPDX-License-Identifier: Apache-2.0
// Package l3types defines the address and object-identifier types shared
// across the forwarding object manager: VRFs, ports, interfaces, MAC
// addresses and hardware egress identifiers.
package l3types

import (
	"fmt"
	"net/netip"
)

// VRF identifies a virtual routing and forwarding domain.
type VRF uint32

// PortID identifies a physical switch port. Zero means "no port" (the
// object is unresolved, or points at Drop/ToCPU).
type PortID uint32

// InterfaceID identifies a router interface (L3 interface, not a port).
type InterfaceID uint32

// EgressID identifies a hardware egress object.
type EgressID int32

// InvalidEgressID is the sentinel for "no egress object yet".
const InvalidEgressID EgressID = -1

// MAC is a 48-bit Ethernet address.
type MAC [6]byte

// String renders the MAC in colon-separated hex, e.g. "aa:bb:cc:dd:ee:ff".
func (m MAC) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", m[0], m[1], m[2], m[3], m[4], m[5])
}

// IsZero reports whether the MAC is the all-zero address.
func (m MAC) IsZero() bool {
	return m == MAC{}
}

// ParseMAC parses a colon-separated MAC address string.
func ParseMAC(s string) (MAC, error) {
	var m MAC
	var b [6]int
	n, err := fmt.Sscanf(s, "%02x:%02x:%02x:%02x:%02x:%02x", &b[0], &b[1], &b[2], &b[3], &b[4], &b[5])
	if err != nil || n != 6 {
		return m, fmt.Errorf("l3types: invalid MAC address %q", s)
	}
	for i, v := range b {
		m[i] = byte(v)
	}
	return m, nil
}

// Nexthop is a single next-hop: the egress router interface to send out of,
// and the nexthop's IP address (to be resolved to a MAC via ND/ARP).
type Nexthop struct {
	Intf    InterfaceID
	Nexthop netip.Addr
}

// String renders the nexthop as "intf@ip".
func (n Nexthop) String() string {
	return fmt.Sprintf("%d@%s", n.Intf, n.Nexthop)
}

// RouteForwardAction describes what a route does with matching traffic.
type RouteForwardAction int

const (
	// ActionDrop silently discards matching traffic.
	ActionDrop RouteForwardAction = iota
	// ActionToCPU punts matching traffic to the control plane.
	ActionToCPU
	// ActionNexthops forwards matching traffic via one or more nexthops.
	ActionNexthops
)

func (a RouteForwardAction) String() string {
	switch a {
	case ActionDrop:
		return "DROP"
	case ActionToCPU:
		return "TO_CPU"
	case ActionNexthops:
		return "NEXTHOPS"
	default:
		return "UNKNOWN"
	}
}

// ForwardInfo is the programmed state of a route: either a terminal action
// (Drop/ToCPU) or a set of nexthops, in any order and possibly with
// duplicates; Equal compares the canonicalized sets.
type ForwardInfo struct {
	Action   RouteForwardAction
	Nexthops []Nexthop
}

// Equal reports whether two ForwardInfo values are semantically identical
// (same action, same nexthop set in canonical order).
func (f ForwardInfo) Equal(o ForwardInfo) bool {
	if f.Action != o.Action {
		return false
	}
	a, b := CanonicalizeNexthops(f.Nexthops), CanonicalizeNexthops(o.Nexthops)
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (f ForwardInfo) String() string {
	if f.Action != ActionNexthops {
		return f.Action.String()
	}
	return fmt.Sprintf("%s%v", f.Action, f.Nexthops)
}
