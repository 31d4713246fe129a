// SPDX-License-Identifier: Apache-2.0
// Package logfields defines the canonical logrus field names used across
// the forwarding object manager, so that every package logs the same
// attribute under the same key (mirrors
// github.com/cilium/cilium/pkg/logging/logfields).
package logfields

const (
	// VRF is the virtual routing and forwarding domain of the logged entity.
	VRF = "vrf"
	// IPAddr is an IP address or prefix.
	IPAddr = "ipAddr"
	// Port is a physical switch port.
	Port = "port"
	// EgressID is a hardware egress object identifier.
	EgressID = "egressID"
	// Interface is a router interface identifier.
	Interface = "interface"
	// Nexthops is a nexthop set.
	Nexthops = "nexthops"
	// Error is the error that occurred.
	Error = "error"
	// Component names the subsystem emitting the log line.
	Component = "subsys"
)
