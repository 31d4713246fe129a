// SPDX-License-Identifier: Apache-2.0
// Package fake provides an in-memory implementation of sdk.Switch for
// tests, and for running the agent with no real hardware attached.
package fake

import (
	"fmt"
	"net/netip"
	"sort"

	"github.com/switchfabric/l3fwdmgr/pkg/l3types"
	"github.com/switchfabric/l3fwdmgr/pkg/lock"
	"github.com/switchfabric/l3fwdmgr/pkg/sdk"
)

const (
	dropEgressID  l3types.EgressID = 1
	toCPUEgressID l3types.EgressID = 2
	firstFreeID   l3types.EgressID = 100
)

type egressEntry struct {
	kind    string // "unicast", "ecmp", "drop" or "to-cpu"
	members map[l3types.EgressID]struct{}
}

// Switch is a goroutine-safe in-memory stand-in for a vendor ASIC SDK.
// It tracks hosts, routes and egress objects exactly as programmed, so
// tests can assert on hardware-visible state (spec.md's testable
// property 2: "h.added ⇔ hardware has an entry").
type Switch struct {
	mu lock.RWMutex

	hosts    map[hostKey]sdk.L3Host
	routes   map[routeKey]sdk.L3Route
	egress   map[l3types.EgressID]*egressEntry
	nextID   l3types.EgressID
	portUp   map[l3types.PortID]bool
	portBits []l3types.PortID
}

type hostKey struct {
	vrf l3types.VRF
	ip  netip.Addr
}

type routeKey struct {
	vrf    l3types.VRF
	prefix netip.Prefix
}

// New constructs an empty fake switch with the given port bitmap, all ports down.
func New(ports []l3types.PortID) *Switch {
	s := &Switch{
		hosts:    make(map[hostKey]sdk.L3Host),
		routes:   make(map[routeKey]sdk.L3Route),
		egress:   make(map[l3types.EgressID]*egressEntry),
		nextID:   firstFreeID,
		portUp:   make(map[l3types.PortID]bool),
		portBits: append([]l3types.PortID(nil), ports...),
	}
	s.egress[dropEgressID] = &egressEntry{kind: "drop"}
	s.egress[toCPUEgressID] = &egressEntry{kind: "to-cpu"}
	for _, p := range ports {
		s.portUp[p] = false
	}
	return s
}

func (s *Switch) HostAdd(h *sdk.L3Host) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := hostKey{h.VRF, h.IP}
	if _, ok := s.hosts[k]; ok {
		return fmt.Errorf("fake sdk: host %v already exists", k)
	}
	s.hosts[k] = *h
	return nil
}

func (s *Switch) HostDelete(h *sdk.L3Host) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := hostKey{h.VRF, h.IP}
	if _, ok := s.hosts[k]; !ok {
		return fmt.Errorf("fake sdk: host %v does not exist", k)
	}
	delete(s.hosts, k)
	return nil
}

// HasHost reports whether a host entry exists for (vrf, ip); used by
// tests asserting the "added ⇔ hardware has an entry" invariant.
func (s *Switch) HasHost(vrf l3types.VRF, ip netip.Addr) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.hosts[hostKey{vrf, ip}]
	return ok
}

func (s *Switch) RouteAdd(r *sdk.L3Route) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := routeKey{r.VRF, r.Subnet}
	if _, ok := s.routes[k]; ok && !r.Flags.Has(sdk.FlagReplace) {
		return fmt.Errorf("fake sdk: route %v already exists and REPLACE not set", k)
	}
	s.routes[k] = *r
	return nil
}

func (s *Switch) RouteDelete(r *sdk.L3Route) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := routeKey{r.VRF, r.Subnet}
	if _, ok := s.routes[k]; !ok {
		return fmt.Errorf("fake sdk: route %v does not exist", k)
	}
	delete(s.routes, k)
	return nil
}

// HasRoute reports whether an LPM route entry exists.
func (s *Switch) HasRoute(vrf l3types.VRF, prefix netip.Prefix) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.routes[routeKey{vrf, prefix}]
	return ok
}

func (s *Switch) EgressCreate() (l3types.EgressID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.egress[id] = &egressEntry{kind: "unicast"}
	return id, nil
}

func (s *Switch) EgressDestroy(id l3types.EgressID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.egress[id]; !ok {
		return fmt.Errorf("fake sdk: egress %d does not exist", id)
	}
	delete(s.egress, id)
	return nil
}

func (s *Switch) EgressModify(id l3types.EgressID, _ l3types.InterfaceID, _ l3types.VRF, _ netip.Addr, _ l3types.MAC, _ l3types.PortID) error {
	return s.touchUnicast(id)
}

func (s *Switch) EgressModifyToDrop(id l3types.EgressID, _ l3types.InterfaceID, _ l3types.VRF, _ netip.Addr) error {
	return s.touchUnicast(id)
}

func (s *Switch) EgressModifyToCPU(id l3types.EgressID, _ l3types.InterfaceID, _ l3types.VRF, _ netip.Addr) error {
	return s.touchUnicast(id)
}

func (s *Switch) touchUnicast(id l3types.EgressID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.egress[id]
	if !ok {
		return fmt.Errorf("fake sdk: egress %d does not exist", id)
	}
	if e.kind == "ecmp" {
		return fmt.Errorf("fake sdk: egress %d is an ECMP group, not unicast", id)
	}
	return nil
}

func (s *Switch) EcmpCreate(members []l3types.EgressID) (l3types.EgressID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	set := make(map[l3types.EgressID]struct{}, len(members))
	for _, m := range members {
		set[m] = struct{}{}
	}
	s.egress[id] = &egressEntry{kind: "ecmp", members: set}
	return id, nil
}

func (s *Switch) EcmpDestroy(id l3types.EgressID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.egress[id]
	if !ok || e.kind != "ecmp" {
		return fmt.Errorf("fake sdk: ecmp %d does not exist", id)
	}
	delete(s.egress, id)
	return nil
}

func (s *Switch) EcmpAdd(ecmpID, member l3types.EgressID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.egress[ecmpID]
	if !ok || e.kind != "ecmp" {
		return fmt.Errorf("fake sdk: ecmp %d does not exist", ecmpID)
	}
	if _, present := e.members[member]; present {
		return nil // checked-add: already a member
	}
	e.members[member] = struct{}{}
	return nil
}

func (s *Switch) EcmpRemove(ecmpID, member l3types.EgressID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.egress[ecmpID]
	if !ok || e.kind != "ecmp" {
		return fmt.Errorf("fake sdk: ecmp %d does not exist", ecmpID)
	}
	delete(e.members, member)
	return nil
}

func (s *Switch) EcmpMembers(ecmpID l3types.EgressID) ([]l3types.EgressID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.egress[ecmpID]
	if !ok || e.kind != "ecmp" {
		return nil, fmt.Errorf("fake sdk: ecmp %d does not exist", ecmpID)
	}
	out := make([]l3types.EgressID, 0, len(e.members))
	for m := range e.members {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *Switch) DropEgressID() l3types.EgressID  { return dropEgressID }
func (s *Switch) ToCPUEgressID() l3types.EgressID { return toCPUEgressID }

func (s *Switch) PortUp(port l3types.PortID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.portUp[port]
}

func (s *Switch) PortBitmap() []l3types.PortID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]l3types.PortID(nil), s.portBits...)
}

// SetPortUp is a test/link-monitor helper toggling the fake switch's view
// of a port's physical link state; it does not itself notify any table —
// callers drive host.Table.LinkStateChanged separately, exactly as the
// real link/HW-callback context would.
func (s *Switch) SetPortUp(port l3types.PortID, up bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.portUp[port] = up
}

// EgressExists reports whether an egress object with the given id is
// currently allocated, for test assertions.
func (s *Switch) EgressExists(id l3types.EgressID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.egress[id]
	return ok
}

var _ sdk.Switch = (*Switch)(nil)
