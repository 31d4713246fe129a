// SPDX-License-Identifier: Apache-2.0
package portindex_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/switchfabric/l3fwdmgr/pkg/l3types"
	"github.com/switchfabric/l3fwdmgr/pkg/portindex"
)

func TestUpdateMovesEgressBetweenPorts(t *testing.T) {
	idx := portindex.New(nil)
	idx.Update(100, 0, 1)
	require.ElementsMatch(t, []l3types.EgressID{100}, idx.EgressIDsForPort(1))

	idx.Update(100, 1, 2)
	require.Empty(t, idx.EgressIDsForPort(1))
	require.ElementsMatch(t, []l3types.EgressID{100}, idx.EgressIDsForPort(2))
}

func TestLinkStateChangedNotifiesAffectedEgressIDs(t *testing.T) {
	idx := portindex.New(nil)
	idx.Update(100, 0, 1)
	idx.Update(101, 0, 1)

	var calls []struct {
		id       l3types.EgressID
		resolved bool
	}
	idx.SetCallback(func(id l3types.EgressID, resolved bool) {
		calls = append(calls, struct {
			id       l3types.EgressID
			resolved bool
		}{id, resolved})
	})

	idx.LinkStateChanged(1, false)
	require.Len(t, calls, 2)
	for _, c := range calls {
		require.False(t, c.resolved)
	}
}

func TestUpdateFiresCallbackOnResolutionTransition(t *testing.T) {
	var calls []struct {
		id       l3types.EgressID
		resolved bool
	}
	idx := portindex.New(func(id l3types.EgressID, resolved bool) {
		calls = append(calls, struct {
			id       l3types.EgressID
			resolved bool
		}{id, resolved})
	})

	idx.Update(100, 0, 1)
	require.Len(t, calls, 1, "a 0->port transition must fire the callback directly, not just via LinkStateChanged")
	require.Equal(t, l3types.EgressID(100), calls[0].id)
	require.True(t, calls[0].resolved)

	idx.Update(100, 1, 2)
	require.Len(t, calls, 1, "a port->port move is not a resolution change")

	idx.Update(100, 2, 0)
	require.Len(t, calls, 2, "a port->0 transition must fire the callback as unresolved")
	require.False(t, calls[1].resolved)
}

func TestSetCallbackReplacesLateBoundCallback(t *testing.T) {
	idx := portindex.New(nil)
	idx.Update(100, 0, 1)

	var got []l3types.EgressID
	idx.SetCallback(func(id l3types.EgressID, resolved bool) {
		got = append(got, id)
	})

	idx.LinkStateChanged(1, true)
	require.Equal(t, []l3types.EgressID{100}, got)
}
