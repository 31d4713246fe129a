// SPDX-License-Identifier: Apache-2.0
package statedelta_test

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/switchfabric/l3fwdmgr/pkg/egress"
	"github.com/switchfabric/l3fwdmgr/pkg/host"
	"github.com/switchfabric/l3fwdmgr/pkg/l3types"
	"github.com/switchfabric/l3fwdmgr/pkg/portindex"
	"github.com/switchfabric/l3fwdmgr/pkg/route"
	"github.com/switchfabric/l3fwdmgr/pkg/sdk/fake"
	"github.com/switchfabric/l3fwdmgr/pkg/statedelta"
	"github.com/switchfabric/l3fwdmgr/pkg/switchstate"
)

type fixedPlatform bool

func (f fixedPlatform) CanUseHostTableForHostRoutes() bool { return bool(f) }

func newTestApplier(t *testing.T) (*fake.Switch, *host.Table, *statedelta.Applier) {
	sw := fake.New([]l3types.PortID{1, 2})
	egressTable := egress.New(sw)
	idx := portindex.New(nil)
	hosts := host.New(sw, egressTable, idx)
	idx.SetCallback(hosts.EgressResolutionChanged)
	routes := route.New(sw, egressTable, hosts, fixedPlatform(false))
	return sw, hosts, statedelta.New(hosts, routes)
}

func TestApplyNeighborReachableProgramsHost(t *testing.T) {
	sw, _, applier := newTestApplier(t)
	ip := netip.MustParseAddr("2001:db8::1")
	var mac l3types.MAC
	mac[5] = 0x42

	next := switchstate.NewBuilder(nil).
		UpsertNeighbor(&switchstate.NeighborEntry{
			Intf: 1, VRF: 0, IP: ip, MAC: mac, Port: 1, State: switchstate.NeighborReachable,
		}).
		Build()
	d := switchstate.Diff(switchstate.Empty(), next)
	applier.Apply(d)

	require.True(t, sw.HasHost(0, ip))
}

func TestApplyNeighborRemovedDerefsHost(t *testing.T) {
	sw, _, applier := newTestApplier(t)
	ip := netip.MustParseAddr("2001:db8::1")
	var mac l3types.MAC

	gen1 := switchstate.NewBuilder(nil).
		UpsertNeighbor(&switchstate.NeighborEntry{
			Intf: 1, VRF: 0, IP: ip, MAC: mac, Port: 1, State: switchstate.NeighborReachable,
		}).
		Build()
	applier.Apply(switchstate.Diff(switchstate.Empty(), gen1))
	require.True(t, sw.HasHost(0, ip))

	gen2 := switchstate.NewBuilder(gen1).RemoveNeighbor(0, ip).Build()
	applier.Apply(switchstate.Diff(gen1, gen2))
	require.False(t, sw.HasHost(0, ip), "removing the owning neighbor must deref the host entry")
}

func TestApplyRouteUpsertAndRemove(t *testing.T) {
	sw, _, applier := newTestApplier(t)
	prefix := netip.MustParsePrefix("10.0.0.0/24")

	gen1 := switchstate.NewBuilder(nil).
		UpsertRoute(&switchstate.RouteEntry{VRF: 0, Prefix: prefix, Forward: l3types.ForwardInfo{Action: l3types.ActionDrop}}).
		Build()
	applier.Apply(switchstate.Diff(switchstate.Empty(), gen1))
	require.True(t, sw.HasRoute(0, prefix))

	gen2 := switchstate.NewBuilder(gen1).RemoveRoute(0, prefix).Build()
	applier.Apply(switchstate.Diff(gen1, gen2))
	require.False(t, sw.HasRoute(0, prefix))
}
