// SPDX-License-Identifier: Apache-2.0
// Package ndp implements the IPv6 Neighbor Discovery handler (C7):
// parses incoming Neighbor/Router Solicitation and Advertisement
// packets, validates them per RFC 4861, and drives neighbor state
// changes that flow to the Host Table through pkg/statedelta.
// Grounded on original_source/fboss/agent/IPv6Handler.h's method surface.
package ndp

import (
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/switchfabric/l3fwdmgr/pkg/l3types"
	"github.com/switchfabric/l3fwdmgr/pkg/lock"
	"github.com/switchfabric/l3fwdmgr/pkg/logging"
	"github.com/switchfabric/l3fwdmgr/pkg/logging/logfields"
	"github.com/switchfabric/l3fwdmgr/pkg/metrics"
	"github.com/switchfabric/l3fwdmgr/pkg/switchstate"
)

var log = logging.DefaultLogger().WithField(logfields.Component, "ndp")

// validHopLimit is the hop limit every legitimate ND packet must
// carry; any other value means the packet crossed a router and cannot
// be trusted as a genuine on-link ND exchange (RFC 4861 §7.1.1/7.1.2).
// Grounded on IPv6Handler::checkNdpPacket.
const validHopLimit = 255

// PacketSender transmits a raw Ethernet frame out a given port. The
// real implementation hands off to the switch ASIC's CPU TX path;
// tests substitute an in-memory recorder.
type PacketSender interface {
	Send(port l3types.PortID, frame []byte) error
}

// StateReader gives the handler read access to the current switch
// state generation, in particular which interface owns which port/VRF
// and which prefixes are locally configured. Satisfied by *switchstate.State.
type StateReader interface {
	Interface(id l3types.InterfaceID) *switchstate.Interface
	Interfaces() []*switchstate.Interface
}

// NeighborSink receives neighbor state changes observed from the
// wire. Wired to a switchstate.Builder-backed publisher in the
// agent's update loop, which in turn feeds pkg/statedelta.
type NeighborSink interface {
	UpsertNeighbor(n *switchstate.NeighborEntry)
	// RemoveNeighbor deletes the neighbor entry for (vrf, ip), if
	// present, and reports whether anything was removed.
	RemoveNeighbor(vrf l3types.VRF, ip netip.Addr) bool
}

// pendingKey identifies an outstanding Neighbor Solicitation this
// handler is waiting on a matching Advertisement for.
type pendingKey struct {
	vrf l3types.VRF
	ip  netip.Addr
}

type pendingEntry struct {
	intf     l3types.InterfaceID
	port     l3types.PortID
	deadline time.Time
}

// Handler is the IPv6 ND packet handler.
type Handler struct {
	state  StateReader
	sink   NeighborSink
	sender PacketSender

	solicitTimeout time.Duration

	mu      lock.Mutex
	pending map[pendingKey]pendingEntry
}

// New constructs a Handler. solicitTimeout sets the deadline recorded on
// each pending Neighbor Solicitation entry; pending entries are removed
// only by a matching advertisement or a flush, not when it passes.
func New(state StateReader, sink NeighborSink, sender PacketSender, solicitTimeout time.Duration) *Handler {
	return &Handler{
		state:          state,
		sink:           sink,
		sender:         sender,
		solicitTimeout: solicitTimeout,
		pending:        make(map[pendingKey]pendingEntry),
	}
}

// HandlePacket parses and dispatches one inbound Ethernet frame
// received on inPort. Non-ICMPv6 frames and malformed/untrustworthy ND
// packets are dropped and counted, never erroring the caller.
// Grounded on IPv6Handler::handlePacket/handleICMPv6Packet.
func (h *Handler) HandlePacket(frame []byte, inPort l3types.PortID) {
	pkt := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.DecodeOptions{Lazy: true, NoCopy: true})

	ipLayer := pkt.Layer(layers.LayerTypeIPv6)
	icmpLayer := pkt.Layer(layers.LayerTypeICMPv6)
	if ipLayer == nil || icmpLayer == nil {
		return
	}
	ip6, _ := ipLayer.(*layers.IPv6)
	icmp6, _ := icmpLayer.(*layers.ICMPv6)

	if !h.checkNdpPacket(ip6) {
		metrics.NdpPacketsDropped.WithLabelValues("bad_hop_limit").Inc()
		return
	}

	switch icmp6.TypeCode.Type() {
	case layers.ICMPv6TypeNeighborSolicitation:
		h.handleNeighborSolicitation(pkt, ip6, inPort)
	case layers.ICMPv6TypeNeighborAdvertisement:
		h.handleNeighborAdvertisement(pkt, ip6, inPort)
	case layers.ICMPv6TypeRouterSolicitation:
		h.handleRouterSolicitation(pkt, ip6, inPort)
	case layers.ICMPv6TypeRouterAdvertisement:
		h.handleRouterAdvertisement(pkt, ip6, inPort)
	default:
		metrics.NdpPacketsDropped.WithLabelValues("unhandled_type").Inc()
	}
}

// checkNdpPacket validates the IPv6 header of an inbound ND packet.
// Grounded on IPv6Handler::checkNdpPacket.
func (h *Handler) checkNdpPacket(ip6 *layers.IPv6) bool {
	return ip6 != nil && ip6.HopLimit == validHopLimit
}

func linkLayerAddrOption(opts layers.ICMPv6Options, optType layers.ICMPv6Opt) (l3types.MAC, bool) {
	for _, opt := range opts {
		if opt.Type != optType || len(opt.Data) < 6 {
			continue
		}
		var mac l3types.MAC
		copy(mac[:], opt.Data[:6])
		return mac, true
	}
	return l3types.MAC{}, false
}

// handleNeighborSolicitation answers a solicitation for one of our own
// addresses with a solicited Neighbor Advertisement, and opportunistically
// learns the sender's address from the source link-layer address option.
// Grounded on IPv6Handler::handleNeighborSolicitation.
func (h *Handler) handleNeighborSolicitation(pkt gopacket.Packet, ip6 *layers.IPv6, inPort l3types.PortID) {
	ns, ok := pkt.Layer(layers.LayerTypeICMPv6NeighborSolicitation).(*layers.ICMPv6NeighborSolicitation)
	if !ok {
		metrics.NdpPacketsDropped.WithLabelValues("malformed_ns").Inc()
		return
	}
	target, ok := netip.AddrFromSlice(ns.TargetAddress)
	if !ok {
		metrics.NdpPacketsDropped.WithLabelValues("malformed_ns").Inc()
		return
	}

	srcAddr, ok := netip.AddrFromSlice(ip6.SrcIP)
	if ok && !srcAddr.IsUnspecified() {
		if mac, ok := linkLayerAddrOption(ns.Options, layers.ICMPv6OptSourceAddress); ok {
			h.updateNeighborEntry(srcAddr, mac, inPort)
		}
	}

	intf := h.findOwningInterface(target)
	if intf == nil {
		return // not solicited for any of our addresses
	}
	dstMAC, _ := linkLayerAddrOption(ns.Options, layers.ICMPv6OptSourceAddress)
	if err := h.sendNeighborAdvertisement(intf, target, srcAddr, dstMAC, inPort, true); err != nil {
		log.WithField(logfields.Error, err).Error("failed to send solicited neighbor advertisement")
	}
}

// handleNeighborAdvertisement resolves a pending solicitation (if any)
// and records the advertised mapping. Grounded on
// IPv6Handler::handleNeighborAdvertisement.
func (h *Handler) handleNeighborAdvertisement(pkt gopacket.Packet, ip6 *layers.IPv6, inPort l3types.PortID) {
	na, ok := pkt.Layer(layers.LayerTypeICMPv6NeighborAdvertisement).(*layers.ICMPv6NeighborAdvertisement)
	if !ok {
		metrics.NdpPacketsDropped.WithLabelValues("malformed_na").Inc()
		return
	}
	target, ok := netip.AddrFromSlice(na.TargetAddress)
	if !ok {
		metrics.NdpPacketsDropped.WithLabelValues("malformed_na").Inc()
		return
	}
	mac, ok := linkLayerAddrOption(na.Options, layers.ICMPv6OptTargetAddress)
	if !ok {
		metrics.NdpPacketsDropped.WithLabelValues("na_missing_lladdr").Inc()
		return
	}
	h.updateNeighborEntry(target, mac, inPort)
}

// handleRouterSolicitation and handleRouterAdvertisement are
// presently pass-through observers: this agent forwards as a router
// and does not itself need to install a default route learned from a
// peer RA, but still validates and logs the exchange for observability.
// Grounded on IPv6Handler::handleRouterSolicitation/handleRouterAdvertisement.
func (h *Handler) handleRouterSolicitation(pkt gopacket.Packet, ip6 *layers.IPv6, inPort l3types.PortID) {
	log.WithFields(map[string]any{logfields.Port: inPort}).Debug("received router solicitation")
}

func (h *Handler) handleRouterAdvertisement(pkt gopacket.Packet, ip6 *layers.IPv6, inPort l3types.PortID) {
	log.WithFields(map[string]any{logfields.Port: inPort}).Debug("received router advertisement")
}

// updateNeighborEntry records a freshly-learned (ip, mac) mapping
// observed on port, resolving any matching pending solicitation and
// publishing the change through the NeighborSink. Grounded on
// IPv6Handler::updateNeighborEntry.
func (h *Handler) updateNeighborEntry(ip netip.Addr, mac l3types.MAC, port l3types.PortID) {
	intf := h.findInterfaceByPort(port)
	if intf == nil {
		metrics.NdpPacketsDropped.WithLabelValues("unknown_interface").Inc()
		return
	}

	h.mu.Lock()
	delete(h.pending, pendingKey{vrf: intf.VRF, ip: ip})
	h.mu.Unlock()

	h.sink.UpsertNeighbor(&switchstate.NeighborEntry{
		Intf:  intf.ID,
		VRF:   intf.VRF,
		IP:    ip,
		MAC:   mac,
		Port:  port,
		State: switchstate.NeighborReachable,
	})
}

func (h *Handler) findInterfaceByPort(port l3types.PortID) *switchstate.Interface {
	for _, intf := range h.state.Interfaces() {
		if intf.Port == port {
			return intf
		}
	}
	return nil
}

// setPendingNdpEntry records that we are actively trying to resolve
// ip via intf, so an unsolicited reply or the owning route's eventual
// resolution can be matched back to the original request. Grounded on
// IPv6Handler::setPendingNdpEntry.
func (h *Handler) setPendingNdpEntry(vrf l3types.VRF, ip netip.Addr, intf l3types.InterfaceID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pending[pendingKey{vrf: vrf, ip: ip}] = pendingEntry{intf: intf, deadline: time.Now().Add(h.solicitTimeout)}
}

func (h *Handler) findOwningInterface(ip netip.Addr) *switchstate.Interface {
	for _, intf := range h.state.Interfaces() {
		for _, addr := range intf.Addresses {
			if addr.Addr() == ip {
				return intf
			}
		}
	}
	return nil
}

// SendNeighborSolicitation transmits a Neighbor Solicitation for
// target out intf, and records a pending entry so the matching
// Advertisement (or timeout) can complete the resolution. Grounded on
// IPv6Handler::sendNeighborSolicitation.
func (h *Handler) SendNeighborSolicitation(intf *switchstate.Interface, target netip.Addr) error {
	h.setPendingNdpEntry(intf.VRF, target, intf.ID)
	frame, err := buildNeighborSolicitation(intf, target)
	if err != nil {
		return err
	}
	return h.sender.Send(intf.Port, frame)
}

// FloodNeighborAdvertisements sends an unsolicited, gratuitous
// Neighbor Advertisement for every locally-configured address on
// intf, out intf's own port. Used after an interface's MAC or address
// set changes, so peers refresh their neighbor cache without waiting
// for their own entry to expire. No additional rate limiting is
// applied beyond the caller's own event cadence (see DESIGN.md Open
// Question 2). Grounded on IPv6Handler::floodNeighborAdvertisements.
func (h *Handler) FloodNeighborAdvertisements(intf *switchstate.Interface) error {
	for _, prefix := range intf.Addresses {
		if err := h.sendNeighborAdvertisement(intf, prefix.Addr(), netip.IPv6LinkLocalAllNodes(), l3types.MAC{}, intf.Port, false); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) sendNeighborAdvertisement(intf *switchstate.Interface, target, dst netip.Addr, dstMAC l3types.MAC, outPort l3types.PortID, solicited bool) error {
	frame, err := buildNeighborAdvertisement(intf, target, dst, dstMAC, solicited)
	if err != nil {
		return err
	}
	return h.sender.Send(outPort, frame)
}

// FlushNdpEntryBlocking removes a single learned neighbor entry for
// (vrf, ip), if present, and waits for the removal to take effect —
// in this in-process design that simply means returning after the
// sink has been notified, since there is no separate async hardware
// update thread to cross. Returns the number of entries removed (0 or
// 1). Grounded on IPv6Handler::flushNdpEntryBlocking.
func (h *Handler) FlushNdpEntryBlocking(vrf l3types.VRF, ip netip.Addr) int {
	h.mu.Lock()
	delete(h.pending, pendingKey{vrf: vrf, ip: ip})
	h.mu.Unlock()

	if h.sink.RemoveNeighbor(vrf, ip) {
		return 1
	}
	return 0
}

func buildNeighborSolicitation(intf *switchstate.Interface, target netip.Addr) ([]byte, error) {
	solicitedNode := solicitedNodeMulticast(target)
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr(intf.MAC[:]),
		DstMAC:       multicastMAC(solicitedNode),
		EthernetType: layers.EthernetTypeIPv6,
	}
	ip6 := &layers.IPv6{
		Version:    6,
		NextHeader: layers.IPProtocolICMPv6,
		HopLimit:   validHopLimit,
		SrcIP:      firstLinkLocal(intf),
		DstIP:      solicitedNode.AsSlice(),
	}
	icmp6 := &layers.ICMPv6{TypeCode: layers.CreateICMPv6TypeCode(layers.ICMPv6TypeNeighborSolicitation, 0)}
	ns := &layers.ICMPv6NeighborSolicitation{
		TargetAddress: target.AsSlice(),
		Options: layers.ICMPv6Options{{
			Type: layers.ICMPv6OptSourceAddress,
			Data: intf.MAC[:],
		}},
	}
	return serialize(eth, ip6, icmp6, ns)
}

func buildNeighborAdvertisement(intf *switchstate.Interface, target, dst netip.Addr, dstMAC l3types.MAC, solicited bool) ([]byte, error) {
	ethDst := net.HardwareAddr(dstMAC[:])
	if dstMAC.IsZero() {
		ethDst = multicastMAC(dst)
	}
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr(intf.MAC[:]),
		DstMAC:       ethDst,
		EthernetType: layers.EthernetTypeIPv6,
	}
	ip6 := &layers.IPv6{
		Version:    6,
		NextHeader: layers.IPProtocolICMPv6,
		HopLimit:   validHopLimit,
		SrcIP:      target.AsSlice(),
		DstIP:      dst.AsSlice(),
	}
	icmp6 := &layers.ICMPv6{TypeCode: layers.CreateICMPv6TypeCode(layers.ICMPv6TypeNeighborAdvertisement, 0)}
	flags := uint8(0x20) // override
	if solicited {
		flags |= 0x40
	}
	na := &layers.ICMPv6NeighborAdvertisement{
		Flags:         flags,
		TargetAddress: target.AsSlice(),
		Options: layers.ICMPv6Options{{
			Type: layers.ICMPv6OptTargetAddress,
			Data: intf.MAC[:],
		}},
	}
	return serialize(eth, ip6, icmp6, na)
}

func serialize(layersList ...gopacket.SerializableLayer) ([]byte, error) {
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, layersList...); err != nil {
		return nil, fmt.Errorf("serialize ND packet: %w", err)
	}
	return buf.Bytes(), nil
}

func solicitedNodeMulticast(target netip.Addr) netip.Addr {
	b := target.As16()
	out := [16]byte{0xff, 0x02, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1, 0xff, b[13], b[14], b[15]}
	return netip.AddrFrom16(out)
}

func multicastMAC(ip netip.Addr) net.HardwareAddr {
	b := ip.As16()
	return net.HardwareAddr{0x33, 0x33, b[12], b[13], b[14], b[15]}
}

func firstLinkLocal(intf *switchstate.Interface) net.IP {
	for _, p := range intf.Addresses {
		if p.Addr().IsLinkLocalUnicast() {
			return p.Addr().AsSlice()
		}
	}
	if len(intf.Addresses) > 0 {
		return intf.Addresses[0].Addr().AsSlice()
	}
	return net.IPv6zero
}
