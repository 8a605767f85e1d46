// Package eligibility is the single choke point deciding whether a reduced
// model output may be converted into an executable task. Every call site
// that needs this boolean must go through Derive; nothing else in the
// repository computes it. Any new eligibility-affecting signal must be
// folded into the authority's processed/executable fields upstream, never
// added as a branch here.
package eligibility

import (
	"errors"
	"fmt"

	"warden/internal/reduction"
)

// Reason explains a derivation. The set is closed.
type Reason string

const (
	// ReasonNoReduction: no outcome was supplied at all.
	ReasonNoReduction Reason = "no-reduction"
	// ReasonAuthorityUnavailable: an outcome exists but the authority
	// never processed the request (fallback).
	ReasonAuthorityUnavailable Reason = "authority-unavailable"
	// ReasonAuthorityExecutable: the authority processed the request and
	// marked it executable.
	ReasonAuthorityExecutable Reason = "authority-executable"
	// ReasonAuthorityNotExecutable: the authority processed the request
	// and declined. This is the gate working, not a failure.
	ReasonAuthorityNotExecutable Reason = "authority-not-executable"
)

// Result is the gate decision.
type Result struct {
	ConvertEligible bool
	Reasoning       Reason
}

// Derive computes eligibility from a reduction outcome. Pure, total, and
// exactly four branches. A nil outcome is treated as "authority never ran".
func Derive(o *reduction.Outcome) Result {
	if o == nil {
		return Result{ConvertEligible: false, Reasoning: ReasonNoReduction}
	}
	if !o.Processed() {
		return Result{ConvertEligible: false, Reasoning: ReasonAuthorityUnavailable}
	}
	if o.Executable() {
		return Result{ConvertEligible: true, Reasoning: ReasonAuthorityExecutable}
	}
	return Result{ConvertEligible: false, Reasoning: ReasonAuthorityNotExecutable}
}

// ErrInvariantViolated reports that a derivation disagrees with the defining
// invariant. It can only surface from AssertInvariant, which is for test and
// verification use; production decision paths never raise it.
var ErrInvariantViolated = errors.New("eligibility invariant violated")

// AssertInvariant recomputes the expected boolean
//
//	convertEligible == (outcome != nil && processed && executable)
//
// and returns ErrInvariantViolated (wrapped with detail) on mismatch.
func AssertInvariant(o *reduction.Outcome, r Result) error {
	want := o != nil && o.Processed() && o.Executable()
	if r.ConvertEligible != want {
		return fmt.Errorf("%w: got convertEligible=%v want %v (reasoning=%s)",
			ErrInvariantViolated, r.ConvertEligible, want, r.Reasoning)
	}
	return nil
}
