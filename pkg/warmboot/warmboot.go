// SPDX-License-Identifier: Apache-2.0
// Package warmboot implements the Warm-Boot Cache (C5): a snapshot of
// hardware state discovered at agent startup before any new host or
// route programming happens, used to reconcile freshly-constructed
// table entries against what the hardware already holds instead of
// blindly reprogramming it.
package warmboot

import (
	"net/netip"

	"github.com/switchfabric/l3fwdmgr/pkg/l3types"
	"github.com/switchfabric/l3fwdmgr/pkg/lock"
	"github.com/switchfabric/l3fwdmgr/pkg/logging"
	"github.com/switchfabric/l3fwdmgr/pkg/logging/logfields"
	"github.com/switchfabric/l3fwdmgr/pkg/metrics"
	"github.com/switchfabric/l3fwdmgr/pkg/sdk"
)

var log = logging.DefaultLogger().WithField(logfields.Component, "warmboot")

type hostKey struct {
	vrf l3types.VRF
	ip  netip.Addr
}

type routeKey struct {
	vrf    l3types.VRF
	prefix netip.Prefix
}

// Cache holds every host and route entry discovered in hardware at
// startup, plus the ECMP group membership of any egress id they
// reference. Entries are claimed as the table builders reconstruct
// their in-memory state across the same (vrf, ip)/(vrf, prefix) keys;
// whatever remains unclaimed once reconciliation completes is stale
// and removed by Sweep. Grounded on BcmHostTable::warmBootHostEntriesSynced.
type Cache struct {
	mu lock.Mutex

	hosts       map[hostKey]sdk.L3Host
	hostClaimed map[hostKey]bool

	routes       map[routeKey]sdk.L3Route
	routeClaimed map[routeKey]bool

	ecmpMembers map[l3types.EgressID][]l3types.EgressID
}

// New constructs an empty cache; callers populate it via LoadHost/LoadRoute/LoadEcmpMembers
// while discovering pre-existing hardware state, before any table is built.
func New() *Cache {
	return &Cache{
		hosts:        make(map[hostKey]sdk.L3Host),
		hostClaimed:  make(map[hostKey]bool),
		routes:       make(map[routeKey]sdk.L3Route),
		routeClaimed: make(map[routeKey]bool),
		ecmpMembers:  make(map[l3types.EgressID][]l3types.EgressID),
	}
}

// LoadHost records a pre-existing hardware host entry.
func (c *Cache) LoadHost(vrf l3types.VRF, ip netip.Addr, h sdk.L3Host) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hosts[hostKey{vrf, ip}] = h
}

// LoadRoute records a pre-existing hardware route entry.
func (c *Cache) LoadRoute(vrf l3types.VRF, prefix netip.Prefix, r sdk.L3Route) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.routes[routeKey{vrf, prefix}] = r
}

// LoadEcmpMembers records a pre-existing ECMP group's membership.
func (c *Cache) LoadEcmpMembers(ecmpID l3types.EgressID, members []l3types.EgressID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ecmpMembers[ecmpID] = append([]l3types.EgressID(nil), members...)
}

// FindHost returns the cached hardware host entry for (vrf, ip), if any.
func (c *Cache) FindHost(vrf l3types.VRF, ip netip.Addr) (sdk.L3Host, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.hosts[hostKey{vrf, ip}]
	return h, ok
}

// FindRoute returns the cached hardware route entry for (vrf, prefix), if any.
func (c *Cache) FindRoute(vrf l3types.VRF, prefix netip.Prefix) (sdk.L3Route, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.routes[routeKey{vrf, prefix}]
	return r, ok
}

// EcmpMembers returns the cached membership of ecmpID, if any.
func (c *Cache) EcmpMembers(ecmpID l3types.EgressID) ([]l3types.EgressID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.ecmpMembers[ecmpID]
	return m, ok
}

// ClaimHost marks the cached host entry for (vrf, ip) as reconstructed
// by the new Host Table, so Sweep leaves it alone.
func (c *Cache) ClaimHost(vrf l3types.VRF, ip netip.Addr) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := hostKey{vrf, ip}
	if _, ok := c.hosts[k]; ok {
		c.hostClaimed[k] = true
		metrics.WarmBootClaimed.WithLabelValues("host").Inc()
	}
}

// ClaimRoute marks the cached route entry for (vrf, prefix) as
// reconstructed by the new Route Table, so Sweep leaves it alone.
func (c *Cache) ClaimRoute(vrf l3types.VRF, prefix netip.Prefix) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := routeKey{vrf, prefix}
	if _, ok := c.routes[k]; ok {
		c.routeClaimed[k] = true
		metrics.WarmBootClaimed.WithLabelValues("route").Inc()
	}
}

// HostEntriesSynced reports whether every cached host entry has been
// claimed. Route reconciliation must not begin until this is true: a
// route's nexthop resolution depends on the Host Table already
// reflecting steady state, exactly as the original defers LPM
// programming until warmBootHostEntriesSynced().
func (c *Cache) HostEntriesSynced() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.hosts {
		if !c.hostClaimed[k] {
			return false
		}
	}
	return true
}

// ReconcilePortState iterates every port in the hardware port bitmap
// and invokes linkUp or linkDown according to that port's current
// physical state. Callers run this once HostEntriesSynced reports
// true and before wiring up the ordinary link-monitor goroutine: ECMP
// hardware membership for a port that changed state while the agent
// was down must be reconciled against the freshly-reconstructed Host
// Table before any new link event would otherwise do it. linkUp and
// linkDown are host.Table.LinkUpHwLocked/LinkDownHwLocked in
// production wiring; passed as functions rather than a *host.Table
// here to avoid an import cycle (host already imports warmboot for
// SetWarmBootCache). Grounded on BcmHostTable::warmBootHostEntriesSynced.
func ReconcilePortState(sw sdk.Switch, linkUp, linkDown func(l3types.PortID)) {
	for _, port := range sw.PortBitmap() {
		if sw.PortUp(port) {
			linkUp(port)
		} else {
			linkDown(port)
		}
	}
}

// Programmed returns the number of host and route entries still
// present in the cache (claimed or not), for startup logging.
func (c *Cache) Programmed() (hosts, routes int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.hosts), len(c.routes)
}

// Sweep removes every unclaimed cache entry from hardware: stale state
// left over from before a warm boot that the new control-plane state
// no longer wants. Called once, after both the Host Table and Route
// Table have finished reconstructing from switch state.
func (c *Cache) Sweep(sw sdk.Switch) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k, h := range c.hosts {
		if c.hostClaimed[k] {
			continue
		}
		entry := h
		if err := sw.HostDelete(&entry); err != nil {
			log.WithFields(map[string]any{logfields.IPAddr: k.ip, logfields.Error: err}).
				Error("failed to sweep stale warm-boot host entry")
			continue
		}
		metrics.WarmBootSwept.WithLabelValues("host").Inc()
	}
	for k, r := range c.routes {
		if c.routeClaimed[k] {
			continue
		}
		entry := r
		if err := sw.RouteDelete(&entry); err != nil {
			log.WithField(logfields.Error, err).Error("failed to sweep stale warm-boot route entry")
			continue
		}
		metrics.WarmBootSwept.WithLabelValues("route").Inc()
	}
}

// SignificantHostFlags is the subset of sdk.HostFlags that warm-boot
// host reconciliation compares on; flags outside this mask are
// considered cosmetic and never trigger a mismatch. Grounded on the
// "significant flags only" comparator described inline in BcmHost::addBcmHost.
const SignificantHostFlags = sdk.FlagIPv6 | sdk.FlagMultipath

// HostMatches reports whether cached hardware host entry h matches a
// freshly-constructed host entry with the given intf/flags, ignoring
// insignificant flag bits.
func HostMatches(cached sdk.L3Host, intf l3types.EgressID, flags sdk.HostFlags) bool {
	return cached.Intf == intf && (cached.Flags&SignificantHostFlags) == (flags&SignificantHostFlags)
}
