// SPDX-License-Identifier: Apache-2.0
// Package portindex implements the port→egress reverse index (C2): a
// copy-on-write map from physical port to the set of egress ids whose
// next-hop resolution depends on that port's link state, published so
// readers never block behind a writer.
package portindex

import (
	"sync/atomic"

	"github.com/switchfabric/l3fwdmgr/pkg/l3types"
	"github.com/switchfabric/l3fwdmgr/pkg/lock"
)

// snapshot is an immutable port→egress-id-set mapping. Once published,
// a snapshot is never mutated in place — every Update builds a new one.
type snapshot struct {
	byPort map[l3types.PortID]map[l3types.EgressID]struct{}
}

func emptySnapshot() *snapshot {
	return &snapshot{byPort: make(map[l3types.PortID]map[l3types.EgressID]struct{})}
}

// clone deep-copies s so the caller can mutate the copy and publish it
// without disturbing concurrent readers of s.
func (s *snapshot) clone() *snapshot {
	out := &snapshot{byPort: make(map[l3types.PortID]map[l3types.EgressID]struct{}, len(s.byPort))}
	for port, ids := range s.byPort {
		m := make(map[l3types.EgressID]struct{}, len(ids))
		for id := range ids {
			m[id] = struct{}{}
		}
		out.byPort[port] = m
	}
	return out
}

// ResolutionChangeFunc is invoked once per affected egress id when a
// port's link state transition changes whether that egress id can
// currently resolve traffic. Called with the table lock NOT held by
// the Index itself; the callback owns its own locking (host.Table
// guards its state internally).
type ResolutionChangeFunc func(id l3types.EgressID, resolved bool)

// Index is the Port↔Egress reverse index. Writers (Update) are
// serialized by mu; readers (EgressIDsForPort) take a lock-free
// snapshot via the published atomic pointer.
type Index struct {
	mu        lock.Mutex // serializes writers only; readers never take it
	published atomic.Pointer[snapshot]

	onResolutionChange ResolutionChangeFunc
}

// New constructs an empty index. onResolutionChange, if non-nil, is
// invoked by LinkStateChanged for every egress id affected by a port
// transition — wired to host.Table.EgressResolutionChanged in the
// agent's startup wiring.
func New(onResolutionChange ResolutionChangeFunc) *Index {
	idx := &Index{onResolutionChange: onResolutionChange}
	idx.published.Store(emptySnapshot())
	return idx
}

// EgressIDsForPort returns the current set of egress ids depending on
// port's link state. The returned slice is a fresh copy safe to retain.
func (idx *Index) EgressIDsForPort(port l3types.PortID) []l3types.EgressID {
	snap := idx.published.Load()
	ids := snap.byPort[port]
	out := make([]l3types.EgressID, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	return out
}

// SetCallback sets (or replaces) the resolution-change callback. Used
// to break the construction cycle between Index and host.Table: the
// Index is built first with no callback, passed to host.New, and the
// resulting Table's EgressResolutionChanged method is then wired back
// in via SetCallback.
func (idx *Index) SetCallback(onResolutionChange ResolutionChangeFunc) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.onResolutionChange = onResolutionChange
}

// Update records that egress id's resolution now depends on newPort
// instead of oldPort (oldPort may be zero/unset if id is newly
// created; newPort may be zero if id no longer depends on any port,
// e.g. reprogrammed to DROP). It clones the current snapshot, mutates
// the clone, and atomically publishes it — the original's
// clone-mutate-publish-under-spinlock pattern, here a stdlib
// atomic.Pointer swap guarded by mu against racing writers.
//
// A 0↔port edge is itself a resolution transition — id just became
// resolvable (0→port) or just stopped being resolvable (port→0) —
// independent of any later netlink link-state event on that port, so
// it is reported to the resolution-change callback here directly
// rather than waiting for LinkStateChanged. Grounded on
// BcmHostTable::updatePortEgressMapping's own up/down edge detection.
func (idx *Index) Update(id l3types.EgressID, oldPort, newPort l3types.PortID) {
	idx.mu.Lock()

	cur := idx.published.Load()
	next := cur.clone()

	if oldPort != 0 {
		if set, ok := next.byPort[oldPort]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(next.byPort, oldPort)
			}
		}
	}
	if newPort != 0 {
		set, ok := next.byPort[newPort]
		if !ok {
			set = make(map[l3types.EgressID]struct{})
			next.byPort[newPort] = set
		}
		set[id] = struct{}{}
	}

	idx.published.Store(next)
	cb := idx.onResolutionChange
	idx.mu.Unlock()

	if cb == nil {
		return
	}
	switch {
	case oldPort == 0 && newPort != 0:
		cb(id, true)
	case oldPort != 0 && newPort == 0:
		cb(id, false)
	}
}

// LinkStateChanged is invoked by the link-monitor goroutine (C9) when
// port transitions to the given up/down state. Every egress id
// currently mapped to port is reported to the resolution-change
// callback so the Host Table can reprogram affected hosts/ECMP groups.
func (idx *Index) LinkStateChanged(port l3types.PortID, up bool) {
	affected := idx.EgressIDsForPort(port)
	if idx.onResolutionChange == nil {
		return
	}
	for _, id := range affected {
		idx.onResolutionChange(id, up)
	}
}
