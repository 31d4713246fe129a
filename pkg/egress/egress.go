// SPDX-License-Identifier: Apache-2.0
// Package egress implements the hardware egress object table (C1):
// opaque hardware egress objects — unicast forwarding destinations and
// ECMP groups — refcounted by egress id, each mutation reprogramming
// hardware in place where the SDK allows it.
package egress

import (
	"net/netip"

	"github.com/switchfabric/l3fwdmgr/pkg/l3err"
	"github.com/switchfabric/l3fwdmgr/pkg/l3types"
	"github.com/switchfabric/l3fwdmgr/pkg/lock"
	"github.com/switchfabric/l3fwdmgr/pkg/logging"
	"github.com/switchfabric/l3fwdmgr/pkg/logging/logfields"
	"github.com/switchfabric/l3fwdmgr/pkg/metrics"
	"github.com/switchfabric/l3fwdmgr/pkg/sdk"
)

var log = logging.DefaultLogger().WithField(logfields.Component, "egress")

// Kind identifies what an Object represents in hardware.
type Kind int

const (
	// Unicast sends traffic out a specific interface via a specific MAC on a specific port.
	Unicast Kind = iota
	// Ecmp hashes traffic across a set of member egress ids.
	Ecmp
	// Drop silently discards traffic.
	Drop
	// ToCPU punts traffic to the control plane.
	ToCPU
)

func (k Kind) String() string {
	switch k {
	case Unicast:
		return "unicast"
	case Ecmp:
		return "ecmp"
	case Drop:
		return "drop"
	case ToCPU:
		return "to-cpu"
	default:
		return "unknown"
	}
}

// UnicastPayload is the kind-specific payload of a Unicast egress object.
type UnicastPayload struct {
	Intf l3types.InterfaceID
	VRF  l3types.VRF
	IP   netip.Addr
	MAC  l3types.MAC
	Port l3types.PortID
}

// Object is a single hardware egress object owned by the Table.
type Object struct {
	id   l3types.EgressID
	kind Kind

	unicast UnicastPayload
	members map[l3types.EgressID]struct{} // Ecmp kind only

	sw sdk.Switch
}

// ID returns this object's hardware egress id.
func (o *Object) ID() l3types.EgressID { return o.id }

// Kind returns this object's kind.
func (o *Object) Kind() Kind { return o.kind }

// Port returns the currently-programmed port (0 for Drop/ToCPU/Ecmp).
func (o *Object) Port() l3types.PortID {
	if o.kind == Unicast {
		return o.unicast.Port
	}
	return 0
}

// Members returns the current ECMP member set (empty for non-Ecmp kinds).
func (o *Object) Members() []l3types.EgressID {
	out := make([]l3types.EgressID, 0, len(o.members))
	for m := range o.members {
		out = append(out, m)
	}
	return out
}

// Program idempotently programs this object as a Unicast egress toward
// (intf, vrf, ip, mac, port). If the arguments match the current
// payload, the SDK call is elided.
func (o *Object) Program(intf l3types.InterfaceID, vrf l3types.VRF, ip netip.Addr, mac l3types.MAC, port l3types.PortID) error {
	want := UnicastPayload{Intf: intf, VRF: vrf, IP: ip, MAC: mac, Port: port}
	if o.kind == Unicast && o.unicast == want {
		return nil
	}
	if err := o.sw.EgressModify(o.id, intf, vrf, ip, mac, port); err != nil {
		metrics.SdkCallsTotal.WithLabelValues("egress_modify", "error").Inc()
		return l3err.NewSdkFailure("egress modify unicast", err)
	}
	metrics.SdkCallsTotal.WithLabelValues("egress_modify", "ok").Inc()
	o.kind = Unicast
	o.unicast = want
	o.members = nil
	return nil
}

// ProgramToDrop idempotently programs this object to drop traffic
// destined for (intf, vrf, ip). The stored port is cleared to 0.
func (o *Object) ProgramToDrop(intf l3types.InterfaceID, vrf l3types.VRF, ip netip.Addr) error {
	want := UnicastPayload{Intf: intf, VRF: vrf, IP: ip}
	if o.kind == Drop && o.unicast == want {
		return nil
	}
	if err := o.sw.EgressModifyToDrop(o.id, intf, vrf, ip); err != nil {
		metrics.SdkCallsTotal.WithLabelValues("egress_modify_drop", "error").Inc()
		return l3err.NewSdkFailure("egress modify to drop", err)
	}
	metrics.SdkCallsTotal.WithLabelValues("egress_modify_drop", "ok").Inc()
	o.kind = Drop
	o.unicast = want
	o.members = nil
	return nil
}

// ProgramToCPU idempotently programs this object to punt traffic
// destined for (intf, vrf, ip) to the CPU. The stored port is cleared to 0.
func (o *Object) ProgramToCPU(intf l3types.InterfaceID, vrf l3types.VRF, ip netip.Addr) error {
	want := UnicastPayload{Intf: intf, VRF: vrf, IP: ip}
	if o.kind == ToCPU && o.unicast == want {
		return nil
	}
	if err := o.sw.EgressModifyToCPU(o.id, intf, vrf, ip); err != nil {
		metrics.SdkCallsTotal.WithLabelValues("egress_modify_tocpu", "error").Inc()
		return l3err.NewSdkFailure("egress modify to cpu", err)
	}
	metrics.SdkCallsTotal.WithLabelValues("egress_modify_tocpu", "ok").Inc()
	o.kind = ToCPU
	o.unicast = want
	o.members = nil
	return nil
}

// ToJSON renders this object for the observable debug surface (spec.md §6).
func (o *Object) ToJSON() map[string]any {
	m := map[string]any{
		"id":   int32(o.id),
		"kind": o.kind.String(),
	}
	switch o.kind {
	case Unicast, Drop, ToCPU:
		m["intf"] = uint32(o.unicast.Intf)
		m["vrf"] = uint32(o.unicast.VRF)
		m["ip"] = o.unicast.IP.String()
		if o.kind == Unicast {
			m["mac"] = o.unicast.MAC.String()
			m["port"] = uint32(o.unicast.Port)
		}
	case Ecmp:
		m["members"] = o.Members()
	}
	return m
}

// Table owns every live egress object and its refcount, keyed by
// egress id. DROP and TO_CPU ids are process-wide sentinels maintained
// by the SDK and never refcounted (inc/dec is a no-op on them).
type Table struct {
	mu      lock.Mutex
	sw      sdk.Switch
	objects map[l3types.EgressID]*entry
}

type entry struct {
	obj     *Object
	refs    int
}

// New constructs an empty Egress Table bound to sw.
func New(sw sdk.Switch) *Table {
	return &Table{sw: sw, objects: make(map[l3types.EgressID]*entry)}
}

// NewUnicast allocates a fresh unicast egress object in hardware and
// returns it uninserted (callers insert via Insert once they have
// finished constructing higher-level state, mirroring the original's
// two-phase BcmEgress-then-insertBcmEgress pattern).
func (t *Table) NewUnicast() (*Object, error) {
	id, err := t.sw.EgressCreate()
	if err != nil {
		metrics.SdkCallsTotal.WithLabelValues("egress_create", "error").Inc()
		return nil, l3err.NewSdkFailure("egress create", err)
	}
	metrics.SdkCallsTotal.WithLabelValues("egress_create", "ok").Inc()
	return &Object{id: id, kind: Unicast, sw: t.sw}, nil
}

// NewEcmp allocates a fresh ECMP group over members and returns it
// uninserted.
func (t *Table) NewEcmp(members []l3types.EgressID) (*Object, error) {
	id, err := t.sw.EcmpCreate(members)
	if err != nil {
		metrics.SdkCallsTotal.WithLabelValues("ecmp_create", "error").Inc()
		return nil, l3err.NewSdkFailure("ecmp create", err)
	}
	metrics.SdkCallsTotal.WithLabelValues("ecmp_create", "ok").Inc()
	set := make(map[l3types.EgressID]struct{}, len(members))
	for _, m := range members {
		set[m] = struct{}{}
	}
	return &Object{id: id, kind: Ecmp, members: set, sw: t.sw}, nil
}

// Insert records a newly-constructed egress object with refcount 1. It
// is a programmer error (InvariantViolation) to insert an id already present.
func (t *Table) Insert(obj *Object) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.objects[obj.id]; exists {
		fatal(l3err.NewInvariantViolation("egress id %d inserted twice", obj.id))
	}
	t.objects[obj.id] = &entry{obj: obj, refs: 1}
	metrics.EgressObjects.WithLabelValues(obj.kind.String()).Inc()
}

// Get returns the object for id, or nil if absent.
func (t *Table) Get(id l3types.EgressID) *Object {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.objects[id]
	if !ok {
		return nil
	}
	return e.obj
}

// IncRef increments id's refcount. It is a no-op for InvalidEgressID
// and the SDK's shared DropEgressID/ToCPUEgressID sentinels (they are
// not individually refcounted). If id is unknown it logs an
// InvariantViolation at Fatal level, terminating the process, since that
// can only mean a caller bug.
func (t *Table) IncRef(id l3types.EgressID) {
	if t.isSentinel(id) {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.objects[id]
	if !ok {
		fatal(l3err.NewInvariantViolation("inc_ref on unknown egress id %d", id))
	}
	e.refs++
}

// DecRef decrements id's refcount; at zero the object is destroyed in
// hardware and removed from the table. It is a no-op for InvalidEgressID
// and the shared Drop/ToCPU sentinels.
func (t *Table) DecRef(id l3types.EgressID) {
	if t.isSentinel(id) {
		return
	}
	t.mu.Lock()
	e, ok := t.objects[id]
	if !ok {
		t.mu.Unlock()
		fatal(l3err.NewInvariantViolation("dec_ref on unknown egress id %d", id))
	}
	e.refs--
	if e.refs > 0 {
		t.mu.Unlock()
		return
	}
	delete(t.objects, id)
	t.mu.Unlock()

	var err error
	if e.obj.kind == Ecmp {
		err = t.sw.EcmpDestroy(id)
	} else {
		err = t.sw.EgressDestroy(id)
	}
	if err != nil {
		log.WithFields(map[string]any{logfields.EgressID: id, logfields.Error: err}).
			Error("failed to destroy egress object in hardware")
	}
	metrics.EgressObjects.WithLabelValues(e.obj.kind.String()).Dec()
}

func (t *Table) isSentinel(id l3types.EgressID) bool {
	return id == l3types.InvalidEgressID || id == t.sw.DropEgressID() || id == t.sw.ToCPUEgressID()
}

// AddMember adds member to the ECMP group ecmpID, using the SDK's
// checked-add semantics (a no-op if member is already present). Used by
// the link-state path update protocol (host.Table.egressResolutionChanged).
func (t *Table) AddMember(ecmpID, member l3types.EgressID) error {
	if err := t.sw.EcmpAdd(ecmpID, member); err != nil {
		metrics.SdkCallsTotal.WithLabelValues("ecmp_add", "error").Inc()
		return l3err.NewSdkFailure("ecmp add member", err)
	}
	metrics.SdkCallsTotal.WithLabelValues("ecmp_add", "ok").Inc()
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.objects[ecmpID]; ok && e.obj.members != nil {
		e.obj.members[member] = struct{}{}
	}
	return nil
}

// RemoveMember removes member from the ECMP group ecmpID, if present.
func (t *Table) RemoveMember(ecmpID, member l3types.EgressID) error {
	if err := t.sw.EcmpRemove(ecmpID, member); err != nil {
		metrics.SdkCallsTotal.WithLabelValues("ecmp_remove", "error").Inc()
		return l3err.NewSdkFailure("ecmp remove member", err)
	}
	metrics.SdkCallsTotal.WithLabelValues("ecmp_remove", "ok").Inc()
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.objects[ecmpID]; ok && e.obj.members != nil {
		delete(e.obj.members, member)
	}
	return nil
}

// Len returns the number of live egress objects, excluding the shared
// Drop/ToCPU sentinels.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for id := range t.objects {
		if id != t.sw.DropEgressID() && id != t.sw.ToCPUEgressID() {
			n++
		}
	}
	return n
}

func fatal(err *l3err.InvariantViolation) {
	log.WithField(logfields.Error, err).Fatal("invariant violation")
}
