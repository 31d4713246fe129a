// SPDX-License-Identifier: Apache-2.0
// Package host implements the Host Table (C3): refcounted L3 host
// entries and ECMP host groups, each backed by one or more hardware
// egress objects from pkg/egress, kept in sync with link state and
// next-hop resolution via pkg/portindex.
package host

import (
	"fmt"
	"net/netip"

	"github.com/switchfabric/l3fwdmgr/pkg/egress"
	"github.com/switchfabric/l3fwdmgr/pkg/l3err"
	"github.com/switchfabric/l3fwdmgr/pkg/l3types"
	"github.com/switchfabric/l3fwdmgr/pkg/lock"
	"github.com/switchfabric/l3fwdmgr/pkg/logging"
	"github.com/switchfabric/l3fwdmgr/pkg/logging/logfields"
	"github.com/switchfabric/l3fwdmgr/pkg/metrics"
	"github.com/switchfabric/l3fwdmgr/pkg/portindex"
	"github.com/switchfabric/l3fwdmgr/pkg/sdk"
	"github.com/switchfabric/l3fwdmgr/pkg/warmboot"
)

var log = logging.DefaultLogger().WithField(logfields.Component, "host")

// State identifies where a Host sits in its programming lifecycle.
// This is the tagged-variant redesign of the original's `added_ bool`
// plus implicit egress-id-valid/invalid pairing: a Host is always in
// exactly one of these three states, and each state carries exactly
// the data that is meaningful in it.
type State int

const (
	// Unprogrammed hosts do not exist; this is the zero value of a
	// Host that has never been created, never observed directly once
	// IncRefOrCreateHost has run (it always produces at least Referenced).
	Unprogrammed State = iota
	// Referenced hosts have a private egress object allocated and
	// pointed at the CPU (no resolved MAC/port yet), and are counted
	// by the routes/ECMP groups that depend on them.
	Referenced
	// Added hosts have a resolved MAC/port, a real L3_HOST hardware
	// entry, and their egress object programmed at the real next hop.
	Added
)

func (s State) String() string {
	switch s {
	case Unprogrammed:
		return "unprogrammed"
	case Referenced:
		return "referenced"
	case Added:
		return "added"
	default:
		return "unknown"
	}
}

// HostStatus is the current lifecycle state of a Host plus whatever
// data is meaningful in that state.
type HostStatus struct {
	State    State
	EgressID l3types.EgressID // valid in Referenced and Added
	MAC      l3types.MAC      // valid in Added
	Port     l3types.PortID   // valid in Added
}

// Key identifies a Host by its VRF-scoped IP address, the unit the
// hardware itself keys L3_HOST entries on.
type Key struct {
	VRF l3types.VRF
	IP  netip.Addr
}

// Host is a single refcounted L3 host (neighbor) entry.
type Host struct {
	key    Key
	intf   l3types.InterfaceID // immutable for the lifetime of the Host; see DESIGN.md Open Question 1
	refs   int
	status HostStatus
}

// Key returns this host's identity.
func (h *Host) Key() Key { return h.key }

// Intf returns the interface this host is bound to.
func (h *Host) Intf() l3types.InterfaceID { return h.intf }

// Status returns a snapshot of this host's current lifecycle state.
func (h *Host) Status() HostStatus { return h.status }

// EgressID returns the egress id backing this host, or
// l3types.InvalidEgressID if Unprogrammed.
func (h *Host) EgressID() l3types.EgressID {
	if h.status.State == Unprogrammed {
		return l3types.InvalidEgressID
	}
	return h.status.EgressID
}

// ToJSON renders this host for the observable debug surface.
func (h *Host) ToJSON() map[string]any {
	m := map[string]any{
		"vrf":    uint32(h.key.VRF),
		"ip":     h.key.IP.String(),
		"intf":   uint32(h.intf),
		"state":  h.status.State.String(),
		"refs":   h.refs,
	}
	if h.status.State != Unprogrammed {
		m["egress_id"] = int32(h.status.EgressID)
	}
	if h.status.State == Added {
		m["mac"] = h.status.MAC.String()
		m["port"] = uint32(h.status.Port)
	}
	return m
}

// Table owns every live Host and EcmpHost. One mutex guards both
// maps, mirroring the original BcmHostTable's single coarse lock
// (hosts and ECMP groups are frequently mutated together when an
// ECMP group's membership changes with its underlying hosts' resolution).
type Table struct {
	mu lock.Mutex

	sw     sdk.Switch
	egress *egress.Table
	index  *portindex.Index

	hosts     map[Key]*Host
	ecmpHosts map[string]*EcmpHost // keyed by l3types.NexthopSetKey

	warmCache *warmboot.Cache
}

// New constructs an empty Host Table. index's resolution-change
// callback must be wired to t.EgressResolutionChanged by the caller
// after both are constructed (see cmd/l3fwdmgrd wiring).
func New(sw sdk.Switch, egressTable *egress.Table, index *portindex.Index) *Table {
	return &Table{
		sw:        sw,
		egress:    egressTable,
		index:     index,
		hosts:     make(map[Key]*Host),
		ecmpHosts: make(map[string]*EcmpHost),
	}
}

// SetWarmBootCache attaches the hardware state snapshot discovered at
// startup. Once set, the first Program call for each host is
// reconciled against it instead of being treated as a cold add.
func (t *Table) SetWarmBootCache(cache *warmboot.Cache) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.warmCache = cache
}

// IncRefOrCreateHost returns the Host for (vrf, ip, intf), creating
// it — with a fresh CPU-punt egress object and Referenced status — if
// it does not already exist. If egressID is given, the new Host
// instead adopts that already-resolved egress object and is installed
// as Added immediately: the spec's optional
// `inc_ref_or_create_host(vrf, ip [, egress_id])` parameter, used by
// the Route Table to give a host-route's own prefix address a Host
// Table entry pointing at its next hop's egress instead of allocating
// a second one (spec.md §4.4 step 3, scenario S6). A host that already
// exists at (vrf, ip) is always shared via ordinary refcounting,
// ignoring egressID. Grounded on BcmHostTable::incRefOrCreateBcmHost.
func (t *Table) IncRefOrCreateHost(vrf l3types.VRF, ip netip.Addr, intf l3types.InterfaceID, egressID ...l3types.EgressID) (*Host, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.incRefOrCreateHostLocked(vrf, ip, intf, egressID...)
}

func (t *Table) incRefOrCreateHostLocked(vrf l3types.VRF, ip netip.Addr, intf l3types.InterfaceID, egressID ...l3types.EgressID) (*Host, error) {
	key := Key{VRF: vrf, IP: ip}

	if h, ok := t.hosts[key]; ok {
		if h.intf != intf {
			fatalf("host %s intf changed from %d to %d without withdrawal", key, h.intf, intf)
		}
		h.refs++
		return h, nil
	}

	if len(egressID) > 0 {
		return t.adoptHostLocked(key, intf, egressID[0])
	}

	obj, err := t.egress.NewUnicast()
	if err != nil {
		return nil, err
	}
	if err := obj.ProgramToCPU(intf, vrf, ip); err != nil {
		return nil, err
	}
	t.egress.Insert(obj)

	h := &Host{
		key:  key,
		intf: intf,
		refs: 1,
		status: HostStatus{
			State:    Referenced,
			EgressID: obj.ID(),
		},
	}
	t.hosts[key] = h
	metrics.Hosts.WithLabelValues("host").Inc()
	return h, nil
}

// adoptHostLocked creates a Host at key that shares an already-live
// egress object (incrementing its refcount) instead of allocating its
// own. Unlike a freshly-created Host, it has nothing to resolve — it
// is installed as a real L3_HOST hardware entry right away, pointing
// at whatever the shared egress object currently forwards to.
func (t *Table) adoptHostLocked(key Key, intf l3types.InterfaceID, egressID l3types.EgressID) (*Host, error) {
	t.egress.IncRef(egressID)
	if err := t.sw.HostAdd(&sdk.L3Host{VRF: key.VRF, IP: key.IP, Intf: egressID}); err != nil {
		t.egress.DecRef(egressID)
		metrics.SdkCallsTotal.WithLabelValues("host_add", "error").Inc()
		return nil, l3err.NewSdkFailure("host add", err)
	}
	metrics.SdkCallsTotal.WithLabelValues("host_add", "ok").Inc()

	h := &Host{
		key:  key,
		intf: intf,
		refs: 1,
		status: HostStatus{
			State:    Added,
			EgressID: egressID,
		},
	}
	t.hosts[key] = h
	metrics.Hosts.WithLabelValues("host").Inc()
	return h, nil
}

// DerefHost drops one reference to the host at key; at zero it is torn
// down: its hardware L3_HOST entry (if Added) is removed, its port
// index mapping is cleared, and its egress object is dereferenced.
// Grounded on BcmHostTable::derefBcmHost.
func (t *Table) DerefHost(key Key) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.derefHostLocked(key)
}

func (t *Table) derefHostLocked(key Key) error {
	h, ok := t.hosts[key]
	if !ok {
		fatalf("deref of unknown host %s", key)
	}
	h.refs--
	if h.refs > 0 {
		return nil
	}

	if h.status.State == Added {
		if err := t.sw.HostDelete(&sdk.L3Host{VRF: key.VRF, IP: key.IP, Intf: h.status.EgressID}); err != nil {
			log.WithFields(map[string]any{logfields.IPAddr: key.IP, logfields.Error: err}).
				Error("failed to delete host entry from hardware")
		}
		t.index.Update(h.status.EgressID, h.status.Port, 0)
	}
	t.egress.DecRef(h.status.EgressID)
	delete(t.hosts, key)
	metrics.Hosts.WithLabelValues("host").Dec()
	return nil
}

// Program resolves host at key to (mac, port): its egress object is
// reprogrammed to the real next hop, an L3_HOST hardware entry is
// added if this is the first resolution, and the port index is
// updated so future link-down events on port reach this host.
// Grounded on BcmHost::program.
func (t *Table) Program(key Key, mac l3types.MAC, port l3types.PortID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	h, ok := t.hosts[key]
	if !ok {
		fatalf("program of unknown host %s", key)
	}

	obj := t.egress.Get(h.status.EgressID)
	if obj == nil {
		fatalf("host %s egress id %d missing from egress table", key, h.status.EgressID)
	}
	if err := obj.Program(h.intf, key.VRF, key.IP, mac, port); err != nil {
		return err
	}

	oldPort := l3types.PortID(0)
	if h.status.State == Added {
		oldPort = h.status.Port
	} else if reconciled := t.reconcileWarmBoot(key, h); reconciled {
		// Hardware already holds a matching host entry from before the
		// warm boot; claimed, no HostAdd needed.
	} else {
		if err := t.sw.HostAdd(&sdk.L3Host{VRF: key.VRF, IP: key.IP, Intf: h.status.EgressID}); err != nil {
			metrics.SdkCallsTotal.WithLabelValues("host_add", "error").Inc()
			return l3err.NewSdkFailure("host add", err)
		}
		metrics.SdkCallsTotal.WithLabelValues("host_add", "ok").Inc()
	}

	t.index.Update(h.status.EgressID, oldPort, port)
	h.status = HostStatus{State: Added, EgressID: h.status.EgressID, MAC: mac, Port: port}
	return nil
}

// reconcileWarmBoot compares the host entry about to be added for key
// against the warm-boot cache. A cached entry must match on every
// significant field — a host's (vrf, ip, intf) identity is a fact
// about topology the control plane never changes without first
// withdrawing the old binding, so any mismatch here means something
// is badly wrong and is fatal rather than silently overwritten (see
// DESIGN.md Open Question 1, and contrast with route.Table's REPLACE
// handling of the same situation). Returns true if a matching cached
// entry was found and claimed, meaning no HostAdd call is needed.
func (t *Table) reconcileWarmBoot(key Key, h *Host) bool {
	if t.warmCache == nil {
		return false
	}
	cached, ok := t.warmCache.FindHost(key.VRF, key.IP)
	if !ok {
		return false
	}
	if !warmboot.HostMatches(cached, h.status.EgressID, 0) {
		fatalf("warm boot host entry for %s does not match freshly constructed state: cached intf=%d", key, cached.Intf)
	}
	t.warmCache.ClaimHost(key.VRF, key.IP)
	return true
}

// Unprogram reverts host at key from Added back to Referenced: its
// egress object is repointed at the CPU and its hardware L3_HOST entry
// removed. Used when a neighbor entry goes pending or is withdrawn
// (pkg/statedelta); a link going down does not unprogram a host.
func (t *Table) Unprogram(key Key) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.unprogramLocked(key)
}

func (t *Table) unprogramLocked(key Key) error {
	h, ok := t.hosts[key]
	if !ok {
		fatalf("unprogram of unknown host %s", key)
	}
	if h.status.State != Added {
		return nil
	}

	obj := t.egress.Get(h.status.EgressID)
	if obj == nil {
		fatalf("host %s egress id %d missing from egress table", key, h.status.EgressID)
	}
	if err := obj.ProgramToCPU(h.intf, key.VRF, key.IP); err != nil {
		return err
	}
	if err := t.sw.HostDelete(&sdk.L3Host{VRF: key.VRF, IP: key.IP, Intf: h.status.EgressID}); err != nil {
		log.WithFields(map[string]any{logfields.IPAddr: key.IP, logfields.Error: err}).
			Error("failed to delete host entry from hardware during unprogram")
	}
	t.index.Update(h.status.EgressID, h.status.Port, 0)
	h.status = HostStatus{State: Referenced, EgressID: h.status.EgressID}
	return nil
}

// LinkStateChanged reacts to a port's link transitioning down by
// removing every ECMP-member host resolved via that port from its
// owning group's hardware membership, so traffic stops hashing onto a
// dead path. It deliberately leaves every Host's own Added/Referenced
// state and L3_HOST hardware entry untouched — ARP/ND resolution
// survives a link flap rather than being torn down and relearned, the
// same restraint the original takes in
// BcmHostTable::linkStateChangedMaybeLocked (see BcmHost.cpp's own
// comment on why added_ is never cleared here). A host is only
// unprogrammed when its neighbor entry actually expires or is
// withdrawn (pkg/statedelta). Link-up needs no handling here: nothing
// was removed from the Host Table to restore, and ECMP membership is
// re-added as each host's resolution changes via EgressResolutionChanged.
func (t *Table) LinkStateChanged(port l3types.PortID, up bool) {
	if up {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, eh := range t.ecmpHosts {
		eh.handleLinkDown(t, port)
	}
}

// LinkUpHwLocked and LinkDownHwLocked reconcile ECMP hardware
// membership for port directly from the hardware port bitmap, bypassing
// the netlink-driven LinkStateChanged path entirely: they run once at
// warm-boot startup (pkg/warmboot.ReconcilePortState), before the link
// monitor goroutine exists to deliver ordinary link events for ports
// that changed state while the agent was down. Grounded on
// BcmHostTable::warmBootHostEntriesSynced.
func (t *Table) LinkUpHwLocked(port l3types.PortID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, h := range t.hosts {
		if h.status.State != Added || h.status.Port != port {
			continue
		}
		for _, eh := range t.ecmpHosts {
			eh.handleMemberResolutionChanged(t, h.status.EgressID, true)
		}
	}
}

func (t *Table) LinkDownHwLocked(port l3types.PortID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, eh := range t.ecmpHosts {
		eh.handleLinkDown(t, port)
	}
}

// EgressResolutionChanged is the Port↔Egress index's callback,
// invoked once per affected egress id when a port transitions. It
// keeps ECMP group membership in sync with whether each underlying
// host's egress object currently resolves to a real next hop.
// Grounded on BcmHostTable::egressResolutionChangedMaybeLocked.
func (t *Table) EgressResolutionChanged(id l3types.EgressID, resolved bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, eh := range t.ecmpHosts {
		eh.handleMemberResolutionChanged(t, id, resolved)
	}
}

// HostCount returns the number of live (refcounted) host entries.
func (t *Table) HostCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.hosts)
}

func fatalf(format string, args ...any) {
	err := l3err.NewInvariantViolation(format, args...)
	log.WithField(logfields.Error, err).Fatal("invariant violation")
}

func (k Key) String() string {
	return fmt.Sprintf("%s@vrf%d", k.IP, k.VRF)
}
