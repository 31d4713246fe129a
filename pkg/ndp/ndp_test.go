// SPDX-License-Identifier: Apache-2.0
package ndp_test

import (
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/require"

	"github.com/switchfabric/l3fwdmgr/pkg/l3types"
	"github.com/switchfabric/l3fwdmgr/pkg/ndp"
	"github.com/switchfabric/l3fwdmgr/pkg/switchstate"
)

type fakeState struct {
	intfs []*switchstate.Interface
}

func (f *fakeState) Interface(id l3types.InterfaceID) *switchstate.Interface {
	for _, intf := range f.intfs {
		if intf.ID == id {
			return intf
		}
	}
	return nil
}

func (f *fakeState) Interfaces() []*switchstate.Interface { return f.intfs }

type fakeSender struct {
	sent [][]byte
	port l3types.PortID
}

func (f *fakeSender) Send(port l3types.PortID, frame []byte) error {
	f.sent = append(f.sent, frame)
	f.port = port
	return nil
}

type fakeSink struct {
	upserted []*switchstate.NeighborEntry
	present  map[netip.Addr]bool
	removed  []netip.Addr
}

func (f *fakeSink) UpsertNeighbor(n *switchstate.NeighborEntry) {
	f.upserted = append(f.upserted, n)
	if f.present == nil {
		f.present = make(map[netip.Addr]bool)
	}
	f.present[n.IP] = true
}

func (f *fakeSink) RemoveNeighbor(vrf l3types.VRF, ip netip.Addr) bool {
	if !f.present[ip] {
		return false
	}
	delete(f.present, ip)
	f.removed = append(f.removed, ip)
	return true
}

func testInterface() *switchstate.Interface {
	var mac l3types.MAC
	copy(mac[:], []byte{0x02, 0, 0, 0, 0, 1})
	return &switchstate.Interface{
		ID:   1,
		VRF:  0,
		MAC:  mac,
		Port: 1,
		Addresses: []netip.Prefix{
			netip.MustParsePrefix("2001:db8::1/64"),
		},
	}
}

func buildSolicitation(t *testing.T, target netip.Addr, srcMAC l3types.MAC) []byte {
	return buildSolicitationWithHopLimit(t, target, srcMAC, 255)
}

func buildSolicitationWithHopLimit(t *testing.T, target netip.Addr, srcMAC l3types.MAC, hopLimit uint8) []byte {
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr(srcMAC[:]),
		DstMAC:       net.HardwareAddr{0x33, 0x33, 0, 0, 0, 1},
		EthernetType: layers.EthernetTypeIPv6,
	}
	ip6 := &layers.IPv6{
		Version:    6,
		NextHeader: layers.IPProtocolICMPv6,
		HopLimit:   hopLimit,
		SrcIP:      netip.MustParseAddr("2001:db8::2").AsSlice(),
		DstIP:      net.ParseIP("ff02::1:ff00:1"),
	}
	icmp6 := &layers.ICMPv6{TypeCode: layers.CreateICMPv6TypeCode(layers.ICMPv6TypeNeighborSolicitation, 0)}
	ns := &layers.ICMPv6NeighborSolicitation{
		TargetAddress: target.AsSlice(),
		Options: layers.ICMPv6Options{{
			Type: layers.ICMPv6OptSourceAddress,
			Data: srcMAC[:],
		}},
	}
	require.NoError(t, icmp6.SetNetworkLayerForChecksum(ip6))
	buf := gopacket.NewSerializeBuffer()
	require.NoError(t, gopacket.SerializeLayers(buf, gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true},
		eth, ip6, icmp6, ns))
	return buf.Bytes()
}

func TestHandlePacketAnswersSolicitationForOwnAddress(t *testing.T) {
	intf := testInterface()
	state := &fakeState{intfs: []*switchstate.Interface{intf}}
	sender := &fakeSender{}
	sink := &fakeSink{}
	h := ndp.New(state, sink, sender, time.Second)

	var solicitorMAC l3types.MAC
	copy(solicitorMAC[:], []byte{0x02, 0, 0, 0, 0, 2})
	frame := buildSolicitation(t, netip.MustParseAddr("2001:db8::1"), solicitorMAC)

	h.HandlePacket(frame, 1)

	require.Len(t, sender.sent, 1, "a solicitation for our own address must draw a reply")
	require.Len(t, sink.upserted, 1, "the solicitor's source address must be opportunistically learned")
	require.Equal(t, netip.MustParseAddr("2001:db8::2"), sink.upserted[0].IP)
}

func TestHandlePacketDropsBadHopLimit(t *testing.T) {
	intf := testInterface()
	state := &fakeState{intfs: []*switchstate.Interface{intf}}
	sender := &fakeSender{}
	sink := &fakeSink{}
	h := ndp.New(state, sink, sender, time.Second)

	var solicitorMAC l3types.MAC
	frame := buildSolicitationWithHopLimit(t, netip.MustParseAddr("2001:db8::1"), solicitorMAC, 64)

	h.HandlePacket(frame, 1)
	require.Empty(t, sender.sent, "a packet that crossed a router must never draw an ND reply")
}

func TestSendNeighborSolicitationTransmitsOnIntfPort(t *testing.T) {
	intf := testInterface()
	state := &fakeState{intfs: []*switchstate.Interface{intf}}
	sender := &fakeSender{}
	sink := &fakeSink{}
	h := ndp.New(state, sink, sender, time.Second)

	require.NoError(t, h.SendNeighborSolicitation(intf, netip.MustParseAddr("2001:db8::99")))
	require.Len(t, sender.sent, 1)
	require.Equal(t, intf.Port, sender.port)
}

func TestFloodNeighborAdvertisementsSendsOnePerAddress(t *testing.T) {
	intf := testInterface()
	intf.Addresses = append(intf.Addresses, netip.MustParsePrefix("2001:db8::3/64"))
	state := &fakeState{intfs: []*switchstate.Interface{intf}}
	sender := &fakeSender{}
	sink := &fakeSink{}
	h := ndp.New(state, sink, sender, time.Second)

	require.NoError(t, h.FloodNeighborAdvertisements(intf))
	require.Len(t, sender.sent, 2)
}

func TestFlushNdpEntryBlockingRemovesAnExistingEntry(t *testing.T) {
	intf := testInterface()
	state := &fakeState{intfs: []*switchstate.Interface{intf}}
	sender := &fakeSender{}
	sink := &fakeSink{}
	h := ndp.New(state, sink, sender, time.Second)

	ip := netip.MustParseAddr("2001:db8::5")
	require.Equal(t, 0, h.FlushNdpEntryBlocking(0, ip), "flushing an entry that was never learned removes nothing")

	var mac l3types.MAC
	mac[5] = 1
	sink.UpsertNeighbor(&switchstate.NeighborEntry{VRF: 0, IP: ip, MAC: mac, Port: 1, State: switchstate.NeighborReachable})

	require.Equal(t, 1, h.FlushNdpEntryBlocking(0, ip), "flushing a learned entry removes exactly one")
	require.Equal(t, []netip.Addr{ip}, sink.removed)
	require.Equal(t, 0, h.FlushNdpEntryBlocking(0, ip), "a second flush of the same entry removes nothing")
}
