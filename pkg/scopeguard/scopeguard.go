// SPDX-License-Identifier: Apache-2.0
// Package scopeguard provides a first-class rollback primitive for the
// failure-atomicity requirement of SPEC_FULL.md §4.9: every multi-step
// reference acquisition must release everything it acquired if a later
// step in the same scope fails. This is the Go reading of the original
// source's SCOPE_FAIL macro (see BcmEcmpHost::BcmEcmpHost and
// BcmRoute::program in original_source/fboss/agent/hw/bcm), which runs a
// cleanup block only when the enclosing function is unwinding due to an
// exception.
//
// Go has no exceptions, so the equivalent condition is "the function is
// returning a non-nil error via its named return". Callers therefore use:
//
//	func doThing() (err error) {
//	    defer scopeguard.OnFailure(&err, func() { ...rollback... })
//	    ...
//	}
package scopeguard

// OnFailure runs fn when the deferred call executes and *errp is non-nil.
// errp must point at the enclosing function's named error return so that
// any error set between the defer statement and return is visible here.
func OnFailure(errp *error, fn func()) {
	if errp != nil && *errp != nil {
		fn()
	}
}

// Guard accumulates rollback steps pushed via Push and runs them in
// reverse order (last acquired, first released) when Fail is called. Use
// this when a function acquires a variable number of references in a
// loop and must unwind all of them, not just the last one — e.g.
// EcmpHost construction acquiring one Host reference per nexthop.
type Guard struct {
	steps []func()
}

// Push records a rollback step to run if Fail is ever called.
func (g *Guard) Push(step func()) {
	g.steps = append(g.steps, step)
}

// Succeed discards all recorded rollback steps; call this once the
// operation has fully committed.
func (g *Guard) Succeed() {
	g.steps = nil
}

// Fail runs every recorded rollback step in reverse order.
func (g *Guard) Fail() {
	for i := len(g.steps) - 1; i >= 0; i-- {
		g.steps[i]()
	}
	g.steps = nil
}
