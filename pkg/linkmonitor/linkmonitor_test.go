// SPDX-License-Identifier: Apache-2.0
package linkmonitor

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vishvananda/netlink"

	"github.com/switchfabric/l3fwdmgr/pkg/l3types"
)

type recordingListener struct {
	events []event
}

type event struct {
	port l3types.PortID
	up   bool
}

func (r *recordingListener) LinkStateChanged(port l3types.PortID, up bool) {
	r.events = append(r.events, event{port, up})
}

func TestHandleDispatchesResolvedPortToAllListeners(t *testing.T) {
	resolve := func(name string) (l3types.PortID, bool) {
		if name == "swp1" {
			return 1, true
		}
		return 0, false
	}
	l1, l2 := &recordingListener{}, &recordingListener{}
	m := New(resolve, l1, l2)

	upd := netlink.LinkUpdate{
		Link: &netlink.Device{
			LinkAttrs: netlink.LinkAttrs{Name: "swp1", OperState: netlink.OperUp},
		},
	}
	m.handle(upd)

	require.Equal(t, []event{{1, true}}, l1.events)
	require.Equal(t, []event{{1, true}}, l2.events)
}

func TestHandleIgnoresUnresolvedInterfaces(t *testing.T) {
	resolve := func(name string) (l3types.PortID, bool) { return 0, false }
	l1 := &recordingListener{}
	m := New(resolve, l1)

	upd := netlink.LinkUpdate{
		Link: &netlink.Device{
			LinkAttrs: netlink.LinkAttrs{Name: "lo", OperState: netlink.OperUp},
		},
	}
	m.handle(upd)

	require.Empty(t, l1.events)
}

func TestHandleReportsDownState(t *testing.T) {
	resolve := func(name string) (l3types.PortID, bool) { return 5, true }
	l1 := &recordingListener{}
	m := New(resolve, l1)

	upd := netlink.LinkUpdate{
		Link: &netlink.Device{
			LinkAttrs: netlink.LinkAttrs{Name: "swp5", OperState: netlink.OperDown},
		},
	}
	m.handle(upd)

	require.Equal(t, []event{{5, false}}, l1.events)
}
