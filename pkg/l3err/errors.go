// SPDX-License-Identifier: Apache-2.0
// Package l3err defines the error taxonomy shared by every table in the
// forwarding object manager: recoverable SDK/lookup failures that the
// state-delta applier can log and retry on the next delta, and fatal
// invariant violations that abort the process, per the error-handling
// design in SPEC_FULL.md §7.
package l3err

import (
	"fmt"

	"github.com/pkg/errors"
)

// SdkFailure wraps a non-zero return from a vendor SDK call with the
// call-site context, analogous to the teacher's bcmCheckError(rc, ctx...).
type SdkFailure struct {
	Context string
	Cause   error
}

func (e *SdkFailure) Error() string {
	return fmt.Sprintf("sdk failure: %s: %v", e.Context, e.Cause)
}

func (e *SdkFailure) Unwrap() error { return e.Cause }

// NewSdkFailure wraps cause with context, attaching a stack trace via
// pkg/errors so the original call site survives propagation to the
// state-delta applier's logs.
func NewSdkFailure(context string, cause error) *SdkFailure {
	return &SdkFailure{Context: context, Cause: errors.Wrap(cause, context)}
}

// NotFound reports that a lookup of a route/host/ecmp entry that was
// expected to exist did not.
type NotFound struct {
	VRF any
	Key any
}

func (e *NotFound) Error() string {
	return fmt.Sprintf("not found: vrf=%v key=%v", e.VRF, e.Key)
}

// IsNotFound reports whether err is (or wraps) a NotFound.
func IsNotFound(err error) bool {
	var nf *NotFound
	return errors.As(err, &nf)
}

// InvariantViolation indicates corruption: a warm-boot host mismatch, an
// inc_ref on an unknown egress id, a double insertion. These are fatal —
// the caller is expected to pass them to a fatal-log primitive and
// terminate, never to retry.
type InvariantViolation struct {
	Reason string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant violation: %s", e.Reason)
}

// NewInvariantViolation constructs an InvariantViolation from a formatted reason.
func NewInvariantViolation(format string, args ...any) *InvariantViolation {
	return &InvariantViolation{Reason: fmt.Sprintf(format, args...)}
}
