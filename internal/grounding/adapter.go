// Package grounding exposes the semantic authority's grounding verdict for
// observability. The adapter is a relay: it never parses action, target, or
// amount substrings itself, and it refuses to fall back to local heuristics
// when the authority did not run. The one sanctioned exception is the
// clearly-labeled legacy shim in legacy.go, which is inert unless the
// legacy_grounding configuration switch is set.
package grounding

import (
	"warden/internal/logging"
	"warden/internal/reduction"
)

// View is the grounding verdict surfaced to dashboards and logs.
type View struct {
	Pass   bool
	Reason string
}

// ReasonAuthorityRequired marks the rejection of a legacy (non-authority)
// outcome shape. Local grounding drifted back in twice before this gate
// existed; rejecting the shape outright keeps it out.
const ReasonAuthorityRequired = "authority-required"

// Ground relays the authority's grounding fields from a reduction outcome.
// Any value that is not a reduction outcome - including the legacy
// LocalResult shape - fails closed with ReasonAuthorityRequired.
func Ground(v any) View {
	switch o := v.(type) {
	case reduction.Outcome:
		return groundOutcome(o)
	case *reduction.Outcome:
		if o == nil {
			return View{Pass: false, Reason: ReasonAuthorityRequired}
		}
		return groundOutcome(*o)
	default:
		logging.Grounding("rejecting non-authority grounding shape %T", v)
		return View{Pass: false, Reason: ReasonAuthorityRequired}
	}
}

func groundOutcome(o reduction.Outcome) View {
	if !o.Processed() {
		// Fail-closed branch: the authority did not run.
		return View{Pass: false, Reason: string(o.FallbackReason())}
	}

	res, _ := o.Result()
	if !res.Executable {
		reason := res.BlockReason
		if reason == "" && res.Grounding != nil {
			reason = res.Grounding.Reason
		}
		if reason == "" {
			reason = "not-executable"
		}
		return View{Pass: false, Reason: reason}
	}

	if res.Grounding != nil && !res.Grounding.Passed {
		// Executable but ungrounded should not happen; relay it verbatim
		// rather than papering over the contradiction.
		return View{Pass: false, Reason: res.Grounding.Reason}
	}

	return View{Pass: true, Reason: groundedReason(res)}
}

func groundedReason(res reduction.Result) string {
	if res.Grounding != nil {
		return res.Grounding.Reason
	}
	return ""
}
