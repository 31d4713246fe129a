// SPDX-License-Identifier: Apache-2.0
// Package lock provides the mutex types used throughout the forwarding
// object manager. It exists as a single indirection point so that the
// locking primitive used by every table (egress, host, route, port index)
// can be swapped or instrumented in one place, the same role
// github.com/cilium/cilium/pkg/lock plays for its callers.
package lock

import "sync"

// Mutex is a plain mutual-exclusion lock.
type Mutex struct {
	sync.Mutex
}

// RWMutex is a reader/writer mutual-exclusion lock, used by the in-memory
// fake SDK (pkg/sdk/fake) so that read-only queries can run concurrently.
type RWMutex struct {
	sync.RWMutex
}
