// SPDX-License-Identifier: Apache-2.0
// Package metrics registers the Prometheus metrics exported by the
// forwarding object manager: object-table sizes, SDK call outcomes, and
// ND packet handling counters.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// EgressObjects tracks the live object count in the egress table, by kind.
	EgressObjects = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "l3fwdmgr",
		Name:      "egress_objects",
		Help:      "Number of live hardware egress objects, by kind.",
	}, []string{"kind"})

	// Hosts tracks the live Host/EcmpHost entry count in the host table.
	Hosts = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "l3fwdmgr",
		Name:      "hosts",
		Help:      "Number of live host-table entries, by kind.",
	}, []string{"kind"})

	// Routes tracks the live route count in the FIB.
	Routes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "l3fwdmgr",
		Name:      "routes",
		Help:      "Number of live routes in the FIB.",
	})

	// SdkCallsTotal counts vendor SDK calls by operation and outcome.
	SdkCallsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "l3fwdmgr",
		Name:      "sdk_calls_total",
		Help:      "Total vendor SDK calls, by operation and outcome.",
	}, []string{"op", "outcome"})

	// WarmBootClaimed counts warm-boot cache entries claimed during reconciliation.
	WarmBootClaimed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "l3fwdmgr",
		Name:      "warmboot_claimed_total",
		Help:      "Warm-boot cache entries claimed during reconciliation, by kind.",
	}, []string{"kind"})

	// WarmBootSwept counts unclaimed warm-boot cache entries removed in the post-sync sweep.
	WarmBootSwept = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "l3fwdmgr",
		Name:      "warmboot_swept_total",
		Help:      "Unclaimed warm-boot cache entries removed by the post-sync sweep, by kind.",
	}, []string{"kind"})

	// NdpPacketsDropped counts invalid ND packets dropped, by reason.
	NdpPacketsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "l3fwdmgr",
		Name:      "ndp_packets_dropped_total",
		Help:      "ND packets dropped due to validation failure, by reason.",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(
		EgressObjects,
		Hosts,
		Routes,
		SdkCallsTotal,
		WarmBootClaimed,
		WarmBootSwept,
		NdpPacketsDropped,
	)
}
