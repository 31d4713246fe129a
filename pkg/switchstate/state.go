// SPDX-License-Identifier: Apache-2.0
// Package switchstate provides the narrow, in-process stand-in for
// the agent's externally-owned switch state (C8): the current set of
// interfaces, IPv6 neighbors, and routes the rest of the system reacts
// to. Upstream state distribution (routing protocol daemons, a
// northbound API) is out of scope; this package only needs to hold
// one generation of state and diff it against the next.
package switchstate

import (
	"net/netip"

	"github.com/switchfabric/l3fwdmgr/pkg/l3types"
)

// NeighborState is the IPv6 Neighbor Discovery resolution state of a NeighborEntry.
type NeighborState int

const (
	// NeighborPending has no resolved MAC/port yet (a Neighbor
	// Solicitation is outstanding or has not yet been sent).
	NeighborPending NeighborState = iota
	// NeighborReachable has a resolved MAC/port believed current.
	NeighborReachable
	// NeighborStale has a resolved MAC/port not recently confirmed;
	// still usable for forwarding but due for re-verification.
	NeighborStale
)

func (s NeighborState) String() string {
	switch s {
	case NeighborPending:
		return "pending"
	case NeighborReachable:
		return "reachable"
	case NeighborStale:
		return "stale"
	default:
		return "unknown"
	}
}

// Interface is a routed L3 interface: a VRF membership, a MAC, a set
// of local addresses, and the physical port it rides on.
type Interface struct {
	ID        l3types.InterfaceID
	VRF       l3types.VRF
	MAC       l3types.MAC
	Port      l3types.PortID
	Addresses []netip.Prefix
}

// NeighborEntry is a single IPv6 (or IPv4 ARP, represented the same
// way) neighbor cache entry.
type NeighborEntry struct {
	Intf  l3types.InterfaceID
	VRF   l3types.VRF
	IP    netip.Addr
	MAC   l3types.MAC
	Port  l3types.PortID
	State NeighborState
}

// RouteEntry is a single control-plane route, keyed by (VRF, Prefix)
// at the State level and carrying its forwarding decision.
type RouteEntry struct {
	VRF     l3types.VRF
	Prefix  netip.Prefix
	Forward l3types.ForwardInfo
}

type ifaceKey = l3types.InterfaceID

type neighborKey struct {
	vrf l3types.VRF
	ip  netip.Addr
}

type routeKey struct {
	vrf    l3types.VRF
	prefix netip.Prefix
}

// State is one immutable generation of switch state. Callers never
// mutate a published State in place; Builder constructs the next
// generation from the previous one plus a set of changes.
type State struct {
	interfaces map[ifaceKey]*Interface
	neighbors  map[neighborKey]*NeighborEntry
	routes     map[routeKey]*RouteEntry

	hostTableCapable bool
}

// Empty returns the zero-value State: no interfaces, neighbors, or
// routes, with the host-route optimization reported unavailable.
func Empty() *State {
	return &State{
		interfaces: make(map[ifaceKey]*Interface),
		neighbors:  make(map[neighborKey]*NeighborEntry),
		routes:     make(map[routeKey]*RouteEntry),
	}
}

// CanUseHostTableForHostRoutes reports whether the hardware platform
// can serve /32 or /128 next-hop routes directly out of the Host Table. Satisfies route.Platform. Grounded on BcmRoute::canUseHostTable.
func (s *State) CanUseHostTableForHostRoutes() bool { return s.hostTableCapable }

// Interface returns the interface with the given id, or nil.
func (s *State) Interface(id l3types.InterfaceID) *Interface {
	return s.interfaces[id]
}

// Interfaces returns every interface in this generation.
func (s *State) Interfaces() []*Interface {
	out := make([]*Interface, 0, len(s.interfaces))
	for _, intf := range s.interfaces {
		out = append(out, intf)
	}
	return out
}

// Neighbor returns the neighbor entry for (vrf, ip), or nil.
func (s *State) Neighbor(vrf l3types.VRF, ip netip.Addr) *NeighborEntry {
	return s.neighbors[neighborKey{vrf, ip}]
}

// Neighbors returns every neighbor entry in this generation.
func (s *State) Neighbors() []*NeighborEntry {
	out := make([]*NeighborEntry, 0, len(s.neighbors))
	for _, n := range s.neighbors {
		out = append(out, n)
	}
	return out
}

// Route returns the route entry for (vrf, prefix), or nil.
func (s *State) Route(vrf l3types.VRF, prefix netip.Prefix) *RouteEntry {
	return s.routes[routeKey{vrf, prefix}]
}

// Routes returns every route entry in this generation.
func (s *State) Routes() []*RouteEntry {
	out := make([]*RouteEntry, 0, len(s.routes))
	for _, r := range s.routes {
		out = append(out, r)
	}
	return out
}

// Builder constructs the next State generation from a prior one by
// applying a sequence of mutations, then freezes it. Each Builder
// produces exactly one new State; build a fresh Builder per generation.
type Builder struct {
	next *State
}

// NewBuilder starts building the next generation from prev (which is
// never itself mutated).
func NewBuilder(prev *State) *Builder {
	if prev == nil {
		prev = Empty()
	}
	b := &Builder{next: &State{
		interfaces:       make(map[ifaceKey]*Interface, len(prev.interfaces)),
		neighbors:        make(map[neighborKey]*NeighborEntry, len(prev.neighbors)),
		routes:           make(map[routeKey]*RouteEntry, len(prev.routes)),
		hostTableCapable: prev.hostTableCapable,
	}}
	for k, v := range prev.interfaces {
		b.next.interfaces[k] = v
	}
	for k, v := range prev.neighbors {
		b.next.neighbors[k] = v
	}
	for k, v := range prev.routes {
		b.next.routes[k] = v
	}
	return b
}

// SetHostTableCapable sets whether the platform can serve host routes
// directly out of the Host Table.
func (b *Builder) SetHostTableCapable(capable bool) *Builder {
	b.next.hostTableCapable = capable
	return b
}

// UpsertInterface adds or replaces an interface.
func (b *Builder) UpsertInterface(intf *Interface) *Builder {
	b.next.interfaces[intf.ID] = intf
	return b
}

// RemoveInterface removes an interface.
func (b *Builder) RemoveInterface(id l3types.InterfaceID) *Builder {
	delete(b.next.interfaces, id)
	return b
}

// UpsertNeighbor adds or replaces a neighbor entry.
func (b *Builder) UpsertNeighbor(n *NeighborEntry) *Builder {
	b.next.neighbors[neighborKey{n.VRF, n.IP}] = n
	return b
}

// RemoveNeighbor removes a neighbor entry.
func (b *Builder) RemoveNeighbor(vrf l3types.VRF, ip netip.Addr) *Builder {
	delete(b.next.neighbors, neighborKey{vrf, ip})
	return b
}

// UpsertRoute adds or replaces a route entry.
func (b *Builder) UpsertRoute(r *RouteEntry) *Builder {
	b.next.routes[routeKey{r.VRF, r.Prefix}] = r
	return b
}

// RemoveRoute removes a route entry.
func (b *Builder) RemoveRoute(vrf l3types.VRF, prefix netip.Prefix) *Builder {
	delete(b.next.routes, routeKey{vrf, prefix})
	return b
}

// Build freezes and returns the new generation.
func (b *Builder) Build() *State { return b.next }
