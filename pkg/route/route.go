// SPDX-License-Identifier: Apache-2.0
// Package route implements the Route Table / FIB (C4): VRF-scoped LPM
// routes, each resolved to a drop/to-CPU/unicast-host/ECMP forwarding
// decision and reprogrammed in hardware only when that decision
// actually changes.
package route

import (
	"net/netip"

	"github.com/switchfabric/l3fwdmgr/pkg/egress"
	"github.com/switchfabric/l3fwdmgr/pkg/host"
	"github.com/switchfabric/l3fwdmgr/pkg/l3err"
	"github.com/switchfabric/l3fwdmgr/pkg/l3types"
	"github.com/switchfabric/l3fwdmgr/pkg/lock"
	"github.com/switchfabric/l3fwdmgr/pkg/logging"
	"github.com/switchfabric/l3fwdmgr/pkg/logging/logfields"
	"github.com/switchfabric/l3fwdmgr/pkg/metrics"
	"github.com/switchfabric/l3fwdmgr/pkg/sdk"
	"github.com/switchfabric/l3fwdmgr/pkg/warmboot"
)

var log = logging.DefaultLogger().WithField(logfields.Component, "route")

// Platform exposes the one hardware capability bit the Route Table
// needs from switch state: whether /32 (or /128) next-hop routes,
// single-path or ECMP, can be served entirely out of the Host Table,
// saving an LPM entry. Grounded on BcmRoute::canUseHostTable.
type Platform interface {
	CanUseHostTableForHostRoutes() bool
}

// Key identifies a route by its VRF and destination prefix.
type Key struct {
	VRF    l3types.VRF
	Prefix netip.Prefix
}

// ownerKind records what, if anything, a Route's forwarding decision
// currently holds a reference on in the Host Table.
type ownerKind int

const (
	ownerNone ownerKind = iota
	ownerHost
	ownerEcmp
)

// Route is a single programmed FIB entry.
type Route struct {
	key     Key
	forward l3types.ForwardInfo

	owner    ownerKind
	hostKey  host.Key
	ecmpKey  string
	egressID l3types.EgressID

	// asHostRoute is true when this route is served purely by the
	// Host Table's own L3_HOST entry with no separate LPM entry
	// programmed (BcmRoute::programHostRoute). hostRouteKey is that
	// entry's own key — keyed by the route's prefix address, distinct
	// from hostKey/ecmpKey which track the resolved next hop(s) this
	// entry adopts its egress from.
	asHostRoute  bool
	hostRouteKey host.Key
}

// ForwardInfo returns this route's current forwarding decision.
func (r *Route) ForwardInfo() l3types.ForwardInfo { return r.forward }

// ToJSON renders this route for the observable debug surface.
func (r *Route) ToJSON() map[string]any {
	return map[string]any{
		"vrf":           uint32(r.key.VRF),
		"prefix":        r.key.Prefix.String(),
		"forward":       r.forward.String(),
		"host_route":    r.asHostRoute,
		"egress_id":     int32(r.egressID),
	}
}

// Table owns every live route in every VRF.
type Table struct {
	mu lock.Mutex

	sw       sdk.Switch
	egress   *egress.Table
	hosts    *host.Table
	platform Platform

	routes map[Key]*Route

	warmCache *warmboot.Cache
}

// New constructs an empty Route Table.
func New(sw sdk.Switch, egressTable *egress.Table, hosts *host.Table, platform Platform) *Table {
	return &Table{sw: sw, egress: egressTable, hosts: hosts, platform: platform, routes: make(map[Key]*Route)}
}

// SetWarmBootCache attaches the hardware state snapshot discovered at
// startup. Must only be set once the Host Table's own warm-boot cache
// reports HostEntriesSynced — route nexthop resolution depends on
// steady-state host programming. Once set, the first Program call for
// each route is reconciled against it instead of being treated as a
// cold add.
func (t *Table) SetWarmBootCache(cache *warmboot.Cache) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.warmCache = cache
}

func isHostRoute(prefix netip.Prefix) bool {
	return prefix.Bits() == prefix.Addr().BitLen()
}

// Program installs or updates the route at (vrf, prefix) to forward
// per info. This is a direct reading of BcmRoute::program's five-step
// contract: (1) if the forwarding decision is unchanged, do nothing;
// (2) resolve the new decision to an egress representation, taking
// fresh references in the Host Table as needed; (3) program the
// change into hardware; (4) on success, release the old decision's
// references; (5) on failure, release the references just taken in
// step 2 so no refcount leaks on a failed update.
func (t *Table) Program(vrf l3types.VRF, prefix netip.Prefix, info l3types.ForwardInfo) error {
	key := Key{VRF: vrf, Prefix: prefix}

	t.mu.Lock()
	defer t.mu.Unlock()

	existing := t.routes[key]
	if existing != nil && existing.forward.Equal(info) {
		return nil
	}

	next := &Route{key: key, forward: info}
	if err := t.resolve(next, info); err != nil {
		return err
	}

	if err := t.programHardware(next, existing); err != nil {
		t.release(next)
		return err
	}

	t.routes[key] = next
	if existing == nil {
		metrics.Routes.Inc()
	}
	if existing != nil {
		t.release(existing)
	}
	return nil
}

// resolve takes whatever Host Table references info's forwarding
// decision requires and fills in next's owner/egress fields. It does
// not touch hardware.
func (t *Table) resolve(next *Route, info l3types.ForwardInfo) error {
	switch info.Action {
	case l3types.ActionDrop:
		next.owner = ownerNone
		next.egressID = t.sw.DropEgressID()
		return nil

	case l3types.ActionToCPU:
		next.owner = ownerNone
		next.egressID = t.sw.ToCPUEgressID()
		return nil

	case l3types.ActionNexthops:
		if len(info.Nexthops) == 0 {
			return l3err.NewInvariantViolation("route %s has ActionNexthops with no next hops", next.key.Prefix)
		}
		if len(info.Nexthops) == 1 {
			nh := info.Nexthops[0]
			h, err := t.hosts.IncRefOrCreateHost(next.key.VRF, nh.Nexthop, nh.Intf)
			if err != nil {
				return err
			}
			next.owner = ownerHost
			next.hostKey = h.Key()
			next.egressID = h.EgressID()
		} else {
			eh, err := t.hosts.IncRefOrCreateEcmpHost(next.key.VRF, info.Nexthops)
			if err != nil {
				return err
			}
			next.owner = ownerEcmp
			next.ecmpKey = eh.SetKey()
			next.egressID = eh.EgressID()
		}

		if isHostRoute(next.key.Prefix) && t.platform.CanUseHostTableForHostRoutes() {
			rh, err := t.hosts.IncRefOrCreateHost(next.key.VRF, next.key.Prefix.Addr(), info.Nexthops[0].Intf, next.egressID)
			if err != nil {
				t.release(next) // roll back the nexthop/ecmp reference just taken above
				return err
			}
			next.hostRouteKey = rh.Key()
			next.asHostRoute = true
		}
		return nil

	default:
		return l3err.NewInvariantViolation("route %s has unknown forward action %v", next.key.Prefix, info.Action)
	}
}

// programHardware installs next into hardware. A pure host route
// (next.asHostRoute) needs no separate LPM entry: resolve already
// installed the Host Table's own L3_HOST entry for this prefix, which
// forwards exact-match traffic on its own. Otherwise an LPM entry is
// added, replacing the old one in place when one already existed
// (FlagReplace) — grounded on BcmRoute::programLpmRoute.
func (t *Table) programHardware(next, existing *Route) error {
	if next.asHostRoute {
		return nil
	}

	flags := sdk.HostFlags(0)
	if next.key.Prefix.Addr().Is6() {
		flags |= sdk.FlagIPv6
	}
	if existing != nil && !existing.asHostRoute {
		flags |= sdk.FlagReplace
	} else if existing == nil && t.warmBootNeedsReplace(next) {
		flags |= sdk.FlagReplace
	}

	r := &sdk.L3Route{VRF: next.key.VRF, Subnet: next.key.Prefix, Intf: next.egressID, Flags: flags}
	if err := t.sw.RouteAdd(r); err != nil {
		metrics.SdkCallsTotal.WithLabelValues("route_add", "error").Inc()
		return l3err.NewSdkFailure("route add", err)
	}
	metrics.SdkCallsTotal.WithLabelValues("route_add", "ok").Inc()
	return nil
}

// warmBootNeedsReplace compares the route about to be freshly
// programmed against the warm-boot cache. Unlike the Host Table's
// identity comparison, a Route's ForwardInfo is mutable by definition
// — a cached entry that differs from the new decision is simply
// stale, not a sign of control-plane corruption — so a mismatch here
// sets FlagReplace and proceeds instead of failing fatally (see
// DESIGN.md Open Question 1). The cached entry is claimed either way.
func (t *Table) warmBootNeedsReplace(next *Route) bool {
	if t.warmCache == nil {
		return false
	}
	cached, ok := t.warmCache.FindRoute(next.key.VRF, next.key.Prefix)
	if !ok {
		return false
	}
	t.warmCache.ClaimRoute(next.key.VRF, next.key.Prefix)
	return cached.Intf != next.egressID
}

// release drops whatever Host Table reference r's forwarding decision
// holds. Called with the route's decision already superseded (success
// path, against the old route) or abandoned (failure path, against
// the route just resolved but never installed).
func (t *Table) release(r *Route) {
	switch r.owner {
	case ownerHost:
		if err := t.hosts.DerefHost(r.hostKey); err != nil {
			log.WithField(logfields.Error, err).Error("failed to deref host while releasing route")
		}
	case ownerEcmp:
		if err := t.hosts.DerefEcmpHost(r.ecmpKey); err != nil {
			log.WithField(logfields.Error, err).Error("failed to deref ecmp host while releasing route")
		}
	}
	if r.asHostRoute {
		if err := t.hosts.DerefHost(r.hostRouteKey); err != nil {
			log.WithField(logfields.Error, err).Error("failed to deref host route's own host entry while releasing route")
		}
	}
}

// Delete withdraws the route at (vrf, prefix), removing its hardware
// entry (if any) and releasing its Host Table references.
func (t *Table) Delete(vrf l3types.VRF, prefix netip.Prefix) error {
	key := Key{VRF: vrf, Prefix: prefix}

	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.routes[key]
	if !ok {
		return &l3err.NotFound{VRF: vrf, Key: prefix}
	}

	if !r.asHostRoute {
		flags := sdk.HostFlags(0)
		if prefix.Addr().Is6() {
			flags |= sdk.FlagIPv6
		}
		if err := t.sw.RouteDelete(&sdk.L3Route{VRF: vrf, Subnet: prefix, Intf: r.egressID, Flags: flags}); err != nil {
			metrics.SdkCallsTotal.WithLabelValues("route_delete", "error").Inc()
			return l3err.NewSdkFailure("route delete", err)
		}
		metrics.SdkCallsTotal.WithLabelValues("route_delete", "ok").Inc()
	}

	t.release(r)
	delete(t.routes, key)
	metrics.Routes.Dec()
	return nil
}

// Get returns the route at (vrf, prefix), or nil if none is programmed.
func (t *Table) Get(vrf l3types.VRF, prefix netip.Prefix) *Route {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.routes[Key{VRF: vrf, Prefix: prefix}]
}

// Len returns the number of live routes.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.routes)
}
