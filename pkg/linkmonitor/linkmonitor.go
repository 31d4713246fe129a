// SPDX-License-Identifier: Apache-2.0
// Package linkmonitor bridges kernel link-state change notifications
// (C9) into the forwarding object manager: a netlink subscription is
// translated into PortID-keyed up/down events delivered to the Host
// Table and Port↔Egress Index.
package linkmonitor

import (
	"context"

	"github.com/vishvananda/netlink"

	"github.com/switchfabric/l3fwdmgr/pkg/l3types"
	"github.com/switchfabric/l3fwdmgr/pkg/logging"
	"github.com/switchfabric/l3fwdmgr/pkg/logging/logfields"
)

var log = logging.DefaultLogger().WithField(logfields.Component, "linkmonitor")

// Listener receives a link-state transition for a port.
type Listener interface {
	LinkStateChanged(port l3types.PortID, up bool)
}

// PortResolver maps a kernel network interface name to the hardware
// port it represents. The real implementation resolves this via the
// platform's port-mapping configuration; tests can supply a static map.
type PortResolver func(ifaceName string) (l3types.PortID, bool)

// Monitor subscribes to kernel link-state changes via netlink and fans
// each transition out to every registered Listener, in the same
// "link/HW-callback context" the rest of the agent treats as a
// distinct goroutine from the control-plane update thread.
type Monitor struct {
	resolve   PortResolver
	listeners []Listener
}

// New constructs a Monitor. resolve maps netlink interface names to
// hardware port ids; interfaces it doesn't recognize are ignored.
func New(resolve PortResolver, listeners ...Listener) *Monitor {
	return &Monitor{resolve: resolve, listeners: listeners}
}

// Run subscribes to netlink link updates and dispatches them until ctx
// is canceled. Grounded on vishvananda/netlink's LinkSubscribe usage
// pattern shared across the example pack's own link-watching code.
func (m *Monitor) Run(ctx context.Context) error {
	updates := make(chan netlink.LinkUpdate)
	done := make(chan struct{})
	defer close(done)

	if err := netlink.LinkSubscribe(updates, done); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			m.handle(upd)
		}
	}
}

func (m *Monitor) handle(upd netlink.LinkUpdate) {
	name := upd.Link.Attrs().Name
	port, ok := m.resolve(name)
	if !ok {
		return
	}
	up := upd.Link.Attrs().OperState == netlink.OperUp
	log.WithFields(map[string]any{logfields.Port: port}).
		WithField("up", up).Debug("link state changed")
	for _, l := range m.listeners {
		l.LinkStateChanged(port, up)
	}
}
