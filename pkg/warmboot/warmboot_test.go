// SPDX-License-Identifier: Apache-2.0
package warmboot_test

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/switchfabric/l3fwdmgr/pkg/l3types"
	"github.com/switchfabric/l3fwdmgr/pkg/sdk"
	"github.com/switchfabric/l3fwdmgr/pkg/sdk/fake"
	"github.com/switchfabric/l3fwdmgr/pkg/warmboot"
)

func TestHostEntriesSyncedAndSweep(t *testing.T) {
	cache := warmboot.New()
	ip1 := netip.MustParseAddr("10.0.0.1")
	ip2 := netip.MustParseAddr("10.0.0.2")

	cache.LoadHost(0, ip1, sdk.L3Host{VRF: 0, IP: ip1, Intf: 100})
	cache.LoadHost(0, ip2, sdk.L3Host{VRF: 0, IP: ip2, Intf: 101})
	require.False(t, cache.HostEntriesSynced())

	cache.ClaimHost(0, ip1)
	require.False(t, cache.HostEntriesSynced(), "one entry still unclaimed")

	cache.ClaimHost(0, ip2)
	require.True(t, cache.HostEntriesSynced())
}

func TestSweepRemovesUnclaimedEntries(t *testing.T) {
	sw := fake.New(nil)
	cache := warmboot.New()
	ip1 := netip.MustParseAddr("10.0.0.1")
	ip2 := netip.MustParseAddr("10.0.0.2")

	require.NoError(t, sw.HostAdd(&sdk.L3Host{VRF: 0, IP: ip1, Intf: 100}))
	require.NoError(t, sw.HostAdd(&sdk.L3Host{VRF: 0, IP: ip2, Intf: 101}))
	cache.LoadHost(0, ip1, sdk.L3Host{VRF: 0, IP: ip1, Intf: 100})
	cache.LoadHost(0, ip2, sdk.L3Host{VRF: 0, IP: ip2, Intf: 101})

	cache.ClaimHost(0, ip1)
	cache.Sweep(sw)

	require.True(t, sw.HasHost(0, ip1), "claimed entry must survive the sweep")
	require.False(t, sw.HasHost(0, ip2), "unclaimed entry must be removed by the sweep")
}

func TestHostMatchesIgnoresInsignificantFlags(t *testing.T) {
	cached := sdk.L3Host{Intf: 5, Flags: sdk.FlagIPv6 | sdk.FlagReplace}
	require.True(t, warmboot.HostMatches(cached, 5, sdk.FlagIPv6))
	require.False(t, warmboot.HostMatches(cached, 6, sdk.FlagIPv6))
	require.False(t, warmboot.HostMatches(cached, 5, sdk.FlagMultipath))
}

func TestReconcilePortStateDispatchesPerCurrentPortState(t *testing.T) {
	sw := fake.New([]l3types.PortID{1, 2, 3})
	sw.SetPortUp(1, true)
	sw.SetPortUp(3, true)

	var up, down []l3types.PortID
	warmboot.ReconcilePortState(sw,
		func(p l3types.PortID) { up = append(up, p) },
		func(p l3types.PortID) { down = append(down, p) },
	)

	require.ElementsMatch(t, []l3types.PortID{1, 3}, up)
	require.ElementsMatch(t, []l3types.PortID{2}, down)
}
