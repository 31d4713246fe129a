// SPDX-License-Identifier: Apache-2.0
package host

import (
	"github.com/switchfabric/l3fwdmgr/pkg/l3types"
	"github.com/switchfabric/l3fwdmgr/pkg/logging/logfields"
	"github.com/switchfabric/l3fwdmgr/pkg/metrics"
	"github.com/switchfabric/l3fwdmgr/pkg/scopeguard"
)

// EcmpHost is a refcounted multipath next hop: an ECMP egress group
// over the set of underlying Host entries named by its (canonicalized)
// next-hop set. Grounded on BcmEcmpHost.
type EcmpHost struct {
	setKey     string
	vrf        l3types.VRF
	nexthops   []l3types.Nexthop // canonicalized
	underlying []Key
	refs       int
	egressID   l3types.EgressID
}

// SetKey returns the canonical next-hop-set key identifying this group.
func (e *EcmpHost) SetKey() string { return e.setKey }

// EgressID returns the ECMP egress object backing this group.
func (e *EcmpHost) EgressID() l3types.EgressID { return e.egressID }

// Nexthops returns the canonicalized next-hop set this group programs.
func (e *EcmpHost) Nexthops() []l3types.Nexthop {
	return append([]l3types.Nexthop(nil), e.nexthops...)
}

// ToJSON renders this ECMP group for the observable debug surface.
func (e *EcmpHost) ToJSON() map[string]any {
	nh := make([]string, 0, len(e.nexthops))
	for _, n := range e.nexthops {
		nh = append(nh, n.String())
	}
	return map[string]any{
		"egress_id": int32(e.egressID),
		"nexthops":  nh,
		"refs":      e.refs,
	}
}

// IncRefOrCreateEcmpHost returns the EcmpHost for the canonicalized
// next-hop set nexthops within vrf, creating it — and every underlying
// Host it does not already share with another caller — if it does not
// already exist. Each underlying Host is incref'd individually, so a
// next hop that is also referenced directly (e.g. by a /32 host route)
// is correctly shared rather than duplicated. If any underlying host
// or the ECMP group itself fails to program, every already-incref'd
// host is dereferenced before returning the error — the Go reading of
// BcmEcmpHost::BcmEcmpHost's SCOPE_FAIL rollback.
func (t *Table) IncRefOrCreateEcmpHost(vrf l3types.VRF, nexthops []l3types.Nexthop) (*EcmpHost, error) {
	canonical := l3types.CanonicalizeNexthops(nexthops)
	key := l3types.NexthopSetKey(canonical)

	t.mu.Lock()
	defer t.mu.Unlock()

	if eh, ok := t.ecmpHosts[key]; ok {
		eh.refs++
		return eh, nil
	}

	var guard scopeguard.Guard
	var err error
	defer func() {
		if err != nil {
			guard.Fail()
		}
	}()

	underlying := make([]Key, 0, len(canonical))
	members := make([]l3types.EgressID, 0, len(canonical))
	for _, nh := range canonical {
		var h *Host
		h, err = t.incRefOrCreateHostLocked(vrf, nh.Nexthop, nh.Intf)
		if err != nil {
			return nil, err
		}
		hkey := h.key
		guard.Push(func() { _ = t.derefHostLocked(hkey) })
		underlying = append(underlying, hkey)
		members = append(members, h.status.EgressID)
	}

	obj, cerr := t.egress.NewEcmp(members)
	if cerr != nil {
		err = cerr
		return nil, err
	}
	t.egress.Insert(obj)

	eh := &EcmpHost{
		setKey:     key,
		vrf:        vrf,
		nexthops:   canonical,
		underlying: underlying,
		refs:       1,
		egressID:   obj.ID(),
	}
	t.ecmpHosts[key] = eh
	metrics.Hosts.WithLabelValues("ecmp").Inc()
	guard.Succeed()
	return eh, nil
}

// DerefEcmpHost drops one reference to the ECMP group named by key;
// at zero its egress group is destroyed and every underlying host is
// dereferenced in turn. Grounded on ~BcmEcmpHost.
func (t *Table) DerefEcmpHost(key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	eh, ok := t.ecmpHosts[key]
	if !ok {
		fatalf("deref of unknown ecmp host %s", key)
	}
	eh.refs--
	if eh.refs > 0 {
		return nil
	}

	t.egress.DecRef(eh.egressID)
	for _, hkey := range eh.underlying {
		if err := t.derefHostLocked(hkey); err != nil {
			log.WithFields(map[string]any{logfields.Error: err}).
				Error("failed to deref underlying host while tearing down ecmp group")
		}
	}
	delete(t.ecmpHosts, key)
	metrics.Hosts.WithLabelValues("ecmp").Dec()
	return nil
}

// handleLinkDown removes any member of this group whose underlying
// host was resolved via port from the hardware ECMP group, so traffic
// stops hashing onto a dead path. It leaves the underlying Host's own
// Added/Referenced state and L3_HOST hardware entry untouched — ARP/ND
// resolution is preserved across the flap; only ECMP hashing avoids the
// dead member until the link returns.
func (e *EcmpHost) handleLinkDown(t *Table, port l3types.PortID) {
	for _, hkey := range e.underlying {
		h, ok := t.hosts[hkey]
		if !ok || h.status.State != Added || h.status.Port != port {
			continue
		}
		if err := t.egress.RemoveMember(e.egressID, h.status.EgressID); err != nil {
			log.WithFields(map[string]any{logfields.Port: port, logfields.Error: err}).
				Error("failed to remove member from ecmp group on link down")
		}
	}
}

// handleMemberResolutionChanged adds or removes egress id id as a
// member of this group depending on whether it just became resolved
// or unresolved, if id is one of this group's underlying hosts'
// egress ids. Grounded on BcmHostTable::egressResolutionChangedMaybeLocked.
func (e *EcmpHost) handleMemberResolutionChanged(t *Table, id l3types.EgressID, resolved bool) {
	isMember := false
	for _, hkey := range e.underlying {
		if h, ok := t.hosts[hkey]; ok && h.status.EgressID == id {
			isMember = true
			break
		}
	}
	if !isMember {
		return
	}

	var err error
	if resolved {
		err = t.egress.AddMember(e.egressID, id)
	} else {
		err = t.egress.RemoveMember(e.egressID, id)
	}
	if err != nil {
		log.WithFields(map[string]any{logfields.EgressID: id, logfields.Error: err}).
			Error("failed to update ecmp group membership on resolution change")
	}
}
