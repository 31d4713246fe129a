// SPDX-License-Identifier: Apache-2.0
package switchstate

import (
	"net/netip"

	"github.com/switchfabric/l3fwdmgr/pkg/l3types"
)

// Delta is the set of changes between two consecutive State
// generations, computed once and consumed by pkg/statedelta's
// Applier. Grounded on cilium-cilium/pkg/statedb's old/new snapshot
// comparison, scaled down to a flat added/changed/removed diff with
// no reactive watch/index machinery — this spec has exactly one
// consumer per table, not an arbitrary number of reactive observers.
type Delta struct {
	Old, New *State

	InterfacesUpserted []*Interface
	InterfacesRemoved  []l3types.InterfaceID

	NeighborsUpserted []*NeighborEntry
	NeighborsRemoved  []NeighborKey

	RoutesUpserted []*RouteEntry
	RoutesRemoved  []RouteKey
}

// NeighborKey identifies a removed neighbor entry in a Delta.
type NeighborKey struct {
	VRF l3types.VRF
	IP  netip.Addr
}

// RouteKey identifies a removed route entry in a Delta.
type RouteKey struct {
	VRF    l3types.VRF
	Prefix netip.Prefix
}

// Diff computes the Delta between old and new. Either may be nil,
// treated as Empty().
func Diff(old, next *State) *Delta {
	if old == nil {
		old = Empty()
	}
	if next == nil {
		next = Empty()
	}
	d := &Delta{Old: old, New: next}

	for id, intf := range next.interfaces {
		if prev, ok := old.interfaces[id]; !ok || !interfacesEqual(prev, intf) {
			d.InterfacesUpserted = append(d.InterfacesUpserted, intf)
		}
	}
	for id := range old.interfaces {
		if _, ok := next.interfaces[id]; !ok {
			d.InterfacesRemoved = append(d.InterfacesRemoved, id)
		}
	}

	for k, n := range next.neighbors {
		if prev, ok := old.neighbors[k]; !ok || !neighborsEqual(prev, n) {
			d.NeighborsUpserted = append(d.NeighborsUpserted, n)
		}
	}
	for k := range old.neighbors {
		if _, ok := next.neighbors[k]; !ok {
			d.NeighborsRemoved = append(d.NeighborsRemoved, NeighborKey{VRF: k.vrf, IP: k.ip})
		}
	}

	for k, r := range next.routes {
		if prev, ok := old.routes[k]; !ok || !routesEqual(prev, r) {
			d.RoutesUpserted = append(d.RoutesUpserted, r)
		}
	}
	for k := range old.routes {
		if _, ok := next.routes[k]; !ok {
			d.RoutesRemoved = append(d.RoutesRemoved, RouteKey{VRF: k.vrf, Prefix: k.prefix})
		}
	}

	return d
}

func interfacesEqual(a, b *Interface) bool {
	if a.VRF != b.VRF || a.MAC != b.MAC || a.Port != b.Port || len(a.Addresses) != len(b.Addresses) {
		return false
	}
	for i := range a.Addresses {
		if a.Addresses[i] != b.Addresses[i] {
			return false
		}
	}
	return true
}

func neighborsEqual(a, b *NeighborEntry) bool {
	return a.Intf == b.Intf && a.MAC == b.MAC && a.Port == b.Port && a.State == b.State
}

func routesEqual(a, b *RouteEntry) bool {
	return a.Forward.Equal(b.Forward)
}
