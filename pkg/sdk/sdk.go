// SPDX-License-Identifier: Apache-2.0
// Package sdk defines the vendor ASIC SDK surface consumed by the
// forwarding object manager: opaque handles and typed L3 host/route
// structs, all fallible calls returning a plain error. Production
// builds would satisfy this interface with cgo bindings into the real
// vendor SDK (opennsl/bcm-style); pkg/sdk/fake provides an in-memory
// implementation for tests and for running the agent against no
// hardware at all.
package sdk

import (
	"net/netip"

	"github.com/switchfabric/l3fwdmgr/pkg/l3types"
)

// HostFlags mirrors the flag word carried on opennsl_l3_host_t/opennsl_l3_route_t.
type HostFlags uint32

const (
	// FlagIPv6 marks an entry as holding an IPv6 address/mask.
	FlagIPv6 HostFlags = 1 << iota
	// FlagMultipath marks an entry as having more than one nexthop (ECMP).
	FlagMultipath
	// FlagReplace requests in-place replacement of an existing hardware entry.
	FlagReplace
)

// Has reports whether f contains all bits in mask.
func (f HostFlags) Has(mask HostFlags) bool { return f&mask == mask }

// L3Host is the hardware-facing representation of an L3 host entry.
type L3Host struct {
	VRF   l3types.VRF
	IP    netip.Addr
	Intf  l3types.EgressID // the egress object ("interface") this host points at
	Flags HostFlags
}

// L3Route is the hardware-facing representation of an LPM route entry.
type L3Route struct {
	VRF    l3types.VRF
	Subnet netip.Prefix
	Intf   l3types.EgressID
	Flags  HostFlags
}

// Switch is the vendor ASIC SDK surface. All methods are synchronous and
// may fail; callers wrap failures in l3err.SdkFailure with call-site
// context before propagating.
type Switch interface {
	// HostAdd programs a new L3 host entry.
	HostAdd(h *L3Host) error
	// HostDelete removes an L3 host entry.
	HostDelete(h *L3Host) error

	// RouteAdd programs a new LPM route entry (or replaces one, if Flags has FlagReplace).
	RouteAdd(r *L3Route) error
	// RouteDelete removes an LPM route entry.
	RouteDelete(r *L3Route) error

	// EgressCreate allocates a new unicast egress object and returns its id.
	EgressCreate() (l3types.EgressID, error)
	// EgressDestroy releases a unicast or ECMP egress object.
	EgressDestroy(id l3types.EgressID) error
	// EgressModify reprograms an existing egress object's intf/vrf/ip/mac/port payload.
	EgressModify(id l3types.EgressID, intf l3types.InterfaceID, vrf l3types.VRF, ip netip.Addr, mac l3types.MAC, port l3types.PortID) error
	// EgressModifyToDrop reprograms an egress object to drop traffic.
	EgressModifyToDrop(id l3types.EgressID, intf l3types.InterfaceID, vrf l3types.VRF, ip netip.Addr) error
	// EgressModifyToCPU reprograms an egress object to punt traffic to the CPU.
	EgressModifyToCPU(id l3types.EgressID, intf l3types.InterfaceID, vrf l3types.VRF, ip netip.Addr) error

	// EcmpCreate allocates a new ECMP group over the given member egress ids.
	EcmpCreate(members []l3types.EgressID) (l3types.EgressID, error)
	// EcmpDestroy releases an ECMP group.
	EcmpDestroy(id l3types.EgressID) error
	// EcmpAdd adds a member to an existing ECMP group. Implementations must
	// no-op (not error) if the member is already present (checked-add semantics).
	EcmpAdd(ecmpID, member l3types.EgressID) error
	// EcmpRemove removes a member from an existing ECMP group, if present.
	EcmpRemove(ecmpID, member l3types.EgressID) error
	// EcmpMembers returns the current member set of an ECMP group.
	EcmpMembers(ecmpID l3types.EgressID) ([]l3types.EgressID, error)

	// DropEgressID returns the process-wide shared drop egress id.
	DropEgressID() l3types.EgressID
	// ToCPUEgressID returns the process-wide shared to-CPU egress id.
	ToCPUEgressID() l3types.EgressID

	// PortUp reports whether port is currently link-up.
	PortUp(port l3types.PortID) bool
	// PortBitmap returns every port known to the hardware.
	PortBitmap() []l3types.PortID
}
