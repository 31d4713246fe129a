// SPDX-License-Identifier: Apache-2.0
package egress_test

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/switchfabric/l3fwdmgr/pkg/egress"
	"github.com/switchfabric/l3fwdmgr/pkg/l3types"
	"github.com/switchfabric/l3fwdmgr/pkg/sdk/fake"
)

func TestUnicastProgramAndRefcount(t *testing.T) {
	sw := fake.New([]l3types.PortID{1, 2})
	table := egress.New(sw)

	obj, err := table.NewUnicast()
	require.NoError(t, err)
	table.Insert(obj)

	ip := netip.MustParseAddr("10.0.0.1")
	var mac l3types.MAC
	mac[0] = 0xaa
	require.NoError(t, obj.Program(1, 0, ip, mac, 1))
	require.True(t, sw.EgressExists(obj.ID()))

	table.IncRef(obj.ID())
	table.DecRef(obj.ID())
	require.True(t, sw.EgressExists(obj.ID()), "object should survive one of two references being dropped")

	table.DecRef(obj.ID())
	require.False(t, sw.EgressExists(obj.ID()), "object should be destroyed once its last reference is dropped")
}

func TestProgramIsIdempotent(t *testing.T) {
	sw := fake.New(nil)
	table := egress.New(sw)
	obj, err := table.NewUnicast()
	require.NoError(t, err)
	table.Insert(obj)

	ip := netip.MustParseAddr("10.0.0.1")
	var mac l3types.MAC
	require.NoError(t, obj.Program(1, 0, ip, mac, 1))
	require.NoError(t, obj.Program(1, 0, ip, mac, 1))
}

func TestEcmpMembership(t *testing.T) {
	sw := fake.New(nil)
	table := egress.New(sw)

	m1, err := table.NewUnicast()
	require.NoError(t, err)
	table.Insert(m1)
	m2, err := table.NewUnicast()
	require.NoError(t, err)
	table.Insert(m2)

	group, err := table.NewEcmp([]l3types.EgressID{m1.ID()})
	require.NoError(t, err)
	table.Insert(group)

	require.NoError(t, table.AddMember(group.ID(), m2.ID()))
	members, err := sw.EcmpMembers(group.ID())
	require.NoError(t, err)
	require.ElementsMatch(t, []l3types.EgressID{m1.ID(), m2.ID()}, members)

	require.NoError(t, table.RemoveMember(group.ID(), m1.ID()))
	members, err = sw.EcmpMembers(group.ID())
	require.NoError(t, err)
	require.ElementsMatch(t, []l3types.EgressID{m2.ID()}, members)
}
