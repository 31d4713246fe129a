// SPDX-License-Identifier: Apache-2.0
package main

import (
	"context"
	"net/http"
	"net/netip"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/switchfabric/l3fwdmgr/internal/config"
	"github.com/switchfabric/l3fwdmgr/pkg/egress"
	"github.com/switchfabric/l3fwdmgr/pkg/host"
	"github.com/switchfabric/l3fwdmgr/pkg/l3types"
	"github.com/switchfabric/l3fwdmgr/pkg/linkmonitor"
	"github.com/switchfabric/l3fwdmgr/pkg/logging"
	"github.com/switchfabric/l3fwdmgr/pkg/ndp"
	"github.com/switchfabric/l3fwdmgr/pkg/portindex"
	"github.com/switchfabric/l3fwdmgr/pkg/route"
	"github.com/switchfabric/l3fwdmgr/pkg/sdk"
	"github.com/switchfabric/l3fwdmgr/pkg/sdk/fake"
	"github.com/switchfabric/l3fwdmgr/pkg/statedelta"
	"github.com/switchfabric/l3fwdmgr/pkg/switchstate"
	"github.com/switchfabric/l3fwdmgr/pkg/warmboot"
)

// agent owns every long-running component of the forwarding object
// manager and the switch state generations flowing through them.
type agent struct {
	cfg config.Config

	sw     sdk.Switch
	egress *egress.Table
	index  *portindex.Index
	hosts  *host.Table
	routes *route.Table
	ndp    *ndp.Handler
	link   *linkmonitor.Monitor

	applier *statedelta.Applier
	state   *switchstate.State
}

func run(ctx context.Context, cfg config.Config) error {
	applyLogConfig(cfg)
	log := logging.DefaultLogger().WithField("component", "agent")

	a, err := newAgent(cfg)
	if err != nil {
		return err
	}

	if cfg.WarmBoot {
		cache := warmboot.New()
		a.hosts.SetWarmBootCache(cache)
		if cache.HostEntriesSynced() {
			a.routes.SetWarmBootCache(cache)
			warmboot.ReconcilePortState(a.sw, a.hosts.LinkUpHwLocked, a.hosts.LinkDownHwLocked)
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
	go func() {
		log.WithField("addr", cfg.MetricsAddr).Info("starting metrics server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("metrics server stopped")
		}
	}()

	monitorErrs := make(chan error, 1)
	go func() { monitorErrs <- a.link.Run(ctx) }()

	log.Info("agent started")
	select {
	case <-ctx.Done():
		_ = srv.Close()
		return ctx.Err()
	case err := <-monitorErrs:
		_ = srv.Close()
		return err
	}
}

func newAgent(cfg config.Config) (*agent, error) {
	ports := make([]l3types.PortID, 0, 64)
	for p := l3types.PortID(1); p <= 64; p++ {
		ports = append(ports, p)
	}
	sw := fake.New(ports)

	egressTable := egress.New(sw)
	index := portindex.New(nil)
	hosts := host.New(sw, egressTable, index)
	index.SetCallback(hosts.EgressResolutionChanged)

	state := switchstate.NewBuilder(nil).SetHostTableCapable(cfg.HostTableCapable).Build()
	routes := route.New(sw, egressTable, hosts, state)

	applier := statedelta.New(hosts, routes)

	sender := noopSender{}
	sink := &applierSink{applier: applier, state: state}
	ndpHandler := ndp.New(stateAdapter{state}, sink, sender, cfg.NdpSolicitTimeout)

	resolver := func(name string) (l3types.PortID, bool) { return 0, false }
	link := linkmonitor.New(resolver, index, hosts)

	return &agent{
		cfg:     cfg,
		sw:      sw,
		egress:  egressTable,
		index:   index,
		hosts:   hosts,
		routes:  routes,
		ndp:     ndpHandler,
		link:    link,
		applier: applier,
		state:   state,
	}, nil
}

type noopSender struct{}

func (noopSender) Send(port l3types.PortID, frame []byte) error { return nil }

// stateAdapter exposes a switchstate.State as an ndp.StateReader.
type stateAdapter struct{ s *switchstate.State }

func (a stateAdapter) Interface(id l3types.InterfaceID) *switchstate.Interface { return a.s.Interface(id) }
func (a stateAdapter) Interfaces() []*switchstate.Interface                   { return a.s.Interfaces() }

// applierSink publishes a single neighbor change as a one-entry delta
// straight to the Applier, bridging the ND handler's per-packet
// updates into the same path bulk state updates take.
type applierSink struct {
	applier *statedelta.Applier
	state   *switchstate.State
}

func (s *applierSink) UpsertNeighbor(n *switchstate.NeighborEntry) {
	next := switchstate.NewBuilder(s.state).UpsertNeighbor(n).Build()
	delta := switchstate.Diff(s.state, next)
	s.applier.Apply(delta)
	s.state = next
}

func (s *applierSink) RemoveNeighbor(vrf l3types.VRF, ip netip.Addr) bool {
	if s.state.Neighbor(vrf, ip) == nil {
		return false
	}
	next := switchstate.NewBuilder(s.state).RemoveNeighbor(vrf, ip).Build()
	delta := switchstate.Diff(s.state, next)
	s.applier.Apply(delta)
	s.state = next
	return true
}
