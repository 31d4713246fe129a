// SPDX-License-Identifier: Apache-2.0
// Package statedelta implements the State-Delta Applier (C6): the
// sole path by which changes to switch state (C8) reach the Host
// Table and Route Table. It applies a switchstate.Delta's three
// sections in a fixed order — interfaces, then neighbors, then routes
// — because routes resolve next hops that need their neighbor's host
// entry, and neighbors need their interface to exist first.
package statedelta

import (
	"github.com/switchfabric/l3fwdmgr/pkg/host"
	"github.com/switchfabric/l3fwdmgr/pkg/logging"
	"github.com/switchfabric/l3fwdmgr/pkg/logging/logfields"
	"github.com/switchfabric/l3fwdmgr/pkg/lock"
	"github.com/switchfabric/l3fwdmgr/pkg/route"
	"github.com/switchfabric/l3fwdmgr/pkg/switchstate"
)

var log = logging.DefaultLogger().WithField(logfields.Component, "statedelta")

// Applier applies switchstate.Delta values to the Host Table and
// Route Table. It is the only code in the agent that mutates either
// table in response to control-plane state, as opposed to link-state
// or ND packet events.
type Applier struct {
	hosts  *host.Table
	routes *route.Table

	mu          lock.Mutex
	ownedHosts  map[host.Key]struct{} // hosts referenced by a neighbor entry, owned by this Applier
}

// New constructs an Applier wired to the given tables.
func New(hosts *host.Table, routes *route.Table) *Applier {
	return &Applier{hosts: hosts, routes: routes, ownedHosts: make(map[host.Key]struct{})}
}

// Apply applies every change in d in order: interfaces, then
// neighbors, then routes.
func (a *Applier) Apply(d *switchstate.Delta) {
	a.applyInterfaces(d)
	a.applyNeighbors(d)
	a.applyRoutes(d)
}

func (a *Applier) applyInterfaces(d *switchstate.Delta) {
	for _, intf := range d.InterfacesUpserted {
		log.WithFields(map[string]any{logfields.Interface: intf.ID}).Debug("interface upserted")
	}
	for _, id := range d.InterfacesRemoved {
		log.WithFields(map[string]any{logfields.Interface: id}).Debug("interface removed")
	}
}

func (a *Applier) applyNeighbors(d *switchstate.Delta) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, n := range d.NeighborsUpserted {
		key := host.Key{VRF: n.VRF, IP: n.IP}

		if _, owned := a.ownedHosts[key]; !owned {
			if _, err := a.hosts.IncRefOrCreateHost(n.VRF, n.IP, n.Intf); err != nil {
				log.WithFields(map[string]any{logfields.IPAddr: n.IP, logfields.Error: err}).
					Error("failed to create host entry for neighbor")
				continue
			}
			a.ownedHosts[key] = struct{}{}
		}

		switch n.State {
		case switchstate.NeighborReachable, switchstate.NeighborStale:
			if err := a.hosts.Program(key, n.MAC, n.Port); err != nil {
				log.WithFields(map[string]any{logfields.IPAddr: n.IP, logfields.Error: err}).
					Error("failed to program host entry for neighbor")
			}
		case switchstate.NeighborPending:
			if err := a.hosts.Unprogram(key); err != nil {
				log.WithFields(map[string]any{logfields.IPAddr: n.IP, logfields.Error: err}).
					Error("failed to unprogram host entry for neighbor gone pending")
			}
		}
	}

	for _, k := range d.NeighborsRemoved {
		key := host.Key{VRF: k.VRF, IP: k.IP}
		if _, owned := a.ownedHosts[key]; !owned {
			continue
		}
		if err := a.hosts.Unprogram(key); err != nil {
			log.WithFields(map[string]any{logfields.IPAddr: k.IP, logfields.Error: err}).
				Error("failed to unprogram host entry for removed neighbor")
		}
		if err := a.hosts.DerefHost(key); err != nil {
			log.WithFields(map[string]any{logfields.IPAddr: k.IP, logfields.Error: err}).
				Error("failed to deref host entry for removed neighbor")
		}
		delete(a.ownedHosts, key)
	}
}

func (a *Applier) applyRoutes(d *switchstate.Delta) {
	for _, r := range d.RoutesUpserted {
		if err := a.routes.Program(r.VRF, r.Prefix, r.Forward); err != nil {
			log.WithFields(map[string]any{logfields.VRF: r.VRF, logfields.Error: err}).
				Error("failed to program route")
		}
	}
	for _, k := range d.RoutesRemoved {
		if err := a.routes.Delete(k.VRF, k.Prefix); err != nil {
			log.WithFields(map[string]any{logfields.VRF: k.VRF, logfields.Error: err}).
				Error("failed to delete route")
		}
	}
}
