// SPDX-License-Identifier: Apache-2.0
package route_test

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
)

type fixedPlatform bool

func (f fixedPlatform) CanUseHostTableForHostRoutes() bool { return bool(f) }

func newTestTable(t *testing.T, hostTableCapable bool) (*fake.Switch, *host.Table, *route.Table) {
	sw := fake.New([]l3types.PortID{1, 2})
	egressTable := egress.New(sw)
	idx := portindex.New(nil)
	hosts := host.New(sw, egressTable, idx)
	idx.SetCallback(hosts.EgressResolutionChanged)
	routes := route.New(sw, egressTable, hosts, fixedPlatform(hostTableCapable))
	return sw, hosts, routes
}

func TestRouteProgramUnchangedIsNoop(t *testing.T) {
	_, _, routes := newTestTable(t, false)
	prefix := netip.MustParsePrefix("10.0.0.0/24")
	info := l3types.ForwardInfo{Action: l3types.ActionDrop}

	require.NoError(t, routes.Program(0, prefix, info))
	require.NoError(t, routes.Program(0, prefix, info))
	require.Equal(t, 1, routes.Len())
}

func TestRouteSingleNexthopUsesLpmWhenHostTableNotCapable(t *testing.T) {
	sw, _, routes := newTestTable(t, false)
	prefix := netip.MustParsePrefix("10.0.0.1/32")
	info := l3types.ForwardInfo{
		Action:   l3types.ActionNexthops,
		Nexthops: []l3types.Nexthop{{Intf: 1, Nexthop: netip.MustParseAddr("10.0.0.254")}},
	}
	require.NoError(t, routes.Program(0, prefix, info))
	require.True(t, sw.HasRoute(0, prefix), "platform without host-table capability must get an LPM entry")
}

func TestRouteSingleNexthopUsesHostTableWhenCapable(t *testing.T) {
	sw, hosts, routes := newTestTable(t, true)
	prefix := netip.MustParsePrefix("10.0.0.1/32")
	nexthop := netip.MustParseAddr("10.0.0.254")
	info := l3types.ForwardInfo{
		Action:   l3types.ActionNexthops,
		Nexthops: []l3types.Nexthop{{Intf: 1, Nexthop: nexthop}},
	}
	require.NoError(t, routes.Program(0, prefix, info))
	require.False(t, sw.HasRoute(0, prefix), "host-route-capable platform must not get a separate LPM entry")
	require.True(t, sw.HasHost(0, prefix.Addr()), "the route's own prefix address must get a Host Table entry")
	require.False(t, sw.HasHost(0, nexthop), "the unresolved next hop itself has no hardware entry yet")
	require.Equal(t, 2, hosts.HostCount(), "both the adopted host-route entry and the next hop's own host must exist")

	require.NoError(t, routes.Delete(0, prefix))
	require.False(t, sw.HasHost(0, prefix.Addr()), "deleting the route must release its own host-route entry")
	require.Equal(t, 0, hosts.HostCount())
}

func TestRouteUpdateReplacesAndDerefsOldNexthop(t *testing.T) {
	sw, hosts, routes := newTestTable(t, false)
	prefix := netip.MustParsePrefix("10.0.1.0/24")

	nh1 := netip.MustParseAddr("10.0.0.1")
	nh2 := netip.MustParseAddr("10.0.0.2")

	require.NoError(t, routes.Program(0, prefix, l3types.ForwardInfo{
		Action:   l3types.ActionNexthops,
		Nexthops: []l3types.Nexthop{{Intf: 1, Nexthop: nh1}},
	}))
	r := routes.Get(0, prefix)
	require.NotNil(t, r)
	oldEgress := r.ForwardInfo()

	require.NoError(t, routes.Program(0, prefix, l3types.ForwardInfo{
		Action:   l3types.ActionNexthops,
		Nexthops: []l3types.Nexthop{{Intf: 1, Nexthop: nh2}},
	}))
	require.False(t, oldEgress.Equal(routes.Get(0, prefix).ForwardInfo()))
	require.True(t, sw.HasRoute(0, prefix))
	require.Equal(t, 1, hosts.HostCount(), "the old next hop's host must be dereferenced and torn down")
}

func TestRouteDropAndDelete(t *testing.T) {
	sw, _, routes := newTestTable(t, false)
	prefix := netip.MustParsePrefix("0.0.0.0/0")

	require.NoError(t, routes.Program(0, prefix, l3types.ForwardInfo{Action: l3types.ActionDrop}))
	require.True(t, sw.HasRoute(0, prefix))

	require.NoError(t, routes.Delete(0, prefix))
	require.False(t, sw.HasRoute(0, prefix))
	require.Equal(t, 0, routes.Len())
}
