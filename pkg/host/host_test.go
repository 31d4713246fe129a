// SPDX-License-Identifier: Apache-2.0
package host_test

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/switchfabric/l3fwdmgr/pkg/egress"
	"github.com/switchfabric/l3fwdmgr/pkg/host"
	"github.com/switchfabric/l3fwdmgr/pkg/l3types"
	"github.com/switchfabric/l3fwdmgr/pkg/portindex"
	"github.com/switchfabric/l3fwdmgr/pkg/sdk/fake"
)

func newTestTable(t *testing.T) (*fake.Switch, *host.Table) {
	sw := fake.New([]l3types.PortID{1, 2})
	egressTable := egress.New(sw)
	idx := portindex.New(nil)
	table := host.New(sw, egressTable, idx)
	idx.SetCallback(table.EgressResolutionChanged)
	return sw, table
}

func TestHostLifecycleAddedIffHardwareHasEntry(t *testing.T) {
	sw, table := newTestTable(t)
	ip := netip.MustParseAddr("2001:db8::1")

	h, err := table.IncRefOrCreateHost(0, ip, 10)
	require.NoError(t, err)
	require.False(t, sw.HasHost(0, ip), "unresolved host must not have a hardware entry yet")

	var mac l3types.MAC
	mac[5] = 1
	require.NoError(t, table.Program(h.Key(), mac, 1))
	require.True(t, sw.HasHost(0, ip))

	require.NoError(t, table.DerefHost(h.Key()))
	require.False(t, sw.HasHost(0, ip), "hardware entry must be removed once the last reference is dropped")
}

func TestHostRefcountSharing(t *testing.T) {
	sw, table := newTestTable(t)
	ip := netip.MustParseAddr("2001:db8::1")

	h1, err := table.IncRefOrCreateHost(0, ip, 10)
	require.NoError(t, err)
	h2, err := table.IncRefOrCreateHost(0, ip, 10)
	require.NoError(t, err)
	require.Equal(t, h1.EgressID(), h2.EgressID())

	require.NoError(t, table.DerefHost(h1.Key()))
	require.NoError(t, table.DerefHost(h2.Key()))
	require.False(t, sw.HasHost(0, ip))
}

func TestLinkDownPreservesHostButRemovesEcmpMember(t *testing.T) {
	sw, table := newTestTable(t)
	ip := netip.MustParseAddr("2001:db8::1")
	ip2 := netip.MustParseAddr("2001:db8::2")

	h, err := table.IncRefOrCreateHost(0, ip, 10)
	require.NoError(t, err)
	var mac l3types.MAC
	require.NoError(t, table.Program(h.Key(), mac, 1))
	require.True(t, sw.HasHost(0, ip))

	h2, err := table.IncRefOrCreateHost(0, ip2, 11)
	require.NoError(t, err)
	require.NoError(t, table.Program(h2.Key(), mac, 2))

	eh, err := table.IncRefOrCreateEcmpHost(0, []l3types.Nexthop{
		{Intf: 10, Nexthop: ip},
		{Intf: 11, Nexthop: ip2},
	})
	require.NoError(t, err)
	members, err := sw.EcmpMembers(eh.EgressID())
	require.NoError(t, err)
	require.ElementsMatch(t, []l3types.EgressID{h.EgressID(), h2.EgressID()}, members)

	table.LinkStateChanged(1, false)

	require.True(t, sw.HasHost(0, ip), "link down must not unprogram a resolved host's hardware entry")
	require.Equal(t, host.Added, h.Status().State, "link down must not revert the host to Referenced")
	members, err = sw.EcmpMembers(eh.EgressID())
	require.NoError(t, err)
	require.ElementsMatch(t, []l3types.EgressID{h2.EgressID()}, members, "link down must remove only the dead path from ecmp hashing")
}

func TestLinkUpAndDownHwLockedReconcileEcmpMembership(t *testing.T) {
	sw, table := newTestTable(t)
	ip := netip.MustParseAddr("2001:db8::1")
	ip2 := netip.MustParseAddr("2001:db8::2")

	h, err := table.IncRefOrCreateHost(0, ip, 10)
	require.NoError(t, err)
	var mac l3types.MAC
	require.NoError(t, table.Program(h.Key(), mac, 1))

	h2, err := table.IncRefOrCreateHost(0, ip2, 11)
	require.NoError(t, err)
	require.NoError(t, table.Program(h2.Key(), mac, 2))

	eh, err := table.IncRefOrCreateEcmpHost(0, []l3types.Nexthop{
		{Intf: 10, Nexthop: ip},
		{Intf: 11, Nexthop: ip2},
	})
	require.NoError(t, err)

	table.LinkDownHwLocked(1)
	members, err := sw.EcmpMembers(eh.EgressID())
	require.NoError(t, err)
	require.ElementsMatch(t, []l3types.EgressID{h2.EgressID()}, members, "reconciling a port found down at warm boot must drop its member")
	require.True(t, sw.HasHost(0, ip), "LinkDownHwLocked must not unprogram the host, only its ecmp membership")

	table.LinkUpHwLocked(1)
	members, err = sw.EcmpMembers(eh.EgressID())
	require.NoError(t, err)
	require.ElementsMatch(t, []l3types.EgressID{h.EgressID(), h2.EgressID()}, members, "reconciling a port found up at warm boot must restore its member")
}

func TestEcmpHostCreationAndTeardown(t *testing.T) {
	sw, table := newTestTable(t)
	nh1 := l3types.Nexthop{Intf: 10, Nexthop: netip.MustParseAddr("2001:db8::1")}
	nh2 := l3types.Nexthop{Intf: 11, Nexthop: netip.MustParseAddr("2001:db8::2")}

	eh, err := table.IncRefOrCreateEcmpHost(0, []l3types.Nexthop{nh1, nh2})
	require.NoError(t, err)
	require.True(t, sw.EgressExists(eh.EgressID()))

	eh2, err := table.IncRefOrCreateEcmpHost(0, []l3types.Nexthop{nh2, nh1}) // different order, same set
	require.NoError(t, err)
	require.Equal(t, eh.EgressID(), eh2.EgressID())

	require.NoError(t, table.DerefEcmpHost(eh.SetKey()))
	require.True(t, sw.EgressExists(eh.EgressID()), "still referenced once")
	require.NoError(t, table.DerefEcmpHost(eh2.SetKey()))
	require.False(t, sw.EgressExists(eh.EgressID()))
}
