package grounding

import (
	"testing"
	"time"

	"warden/internal/envelope"
	"warden/internal/reduction"
)

func reductionResultExecutable() reduction.Result {
	return reduction.Result{Executable: true}
}

func processed(res reduction.Result) reduction.Outcome {
	env := envelope.Build("mine 5 coal ore", envelope.Meta{})
	raw := "{}"
	return reduction.NewProcessed(env, res, &raw, time.Millisecond)
}

func TestGroundProcessedExecutable(t *testing.T) {
	out := processed(reduction.Result{
		Executable: true,
		Grounding:  &reduction.Grounding{Passed: true, Reason: "entities resolved"},
	})

	v := Ground(out)
	if !v.Pass {
		t.Fatalf("expected pass, got %+v", v)
	}
	if v.Reason != "entities resolved" {
		t.Errorf("Reason = %q, want relayed authority reason", v.Reason)
	}
}

func TestGroundNotProcessedFailsClosed(t *testing.T) {
	env := envelope.Build("mine 5 coal ore", envelope.Meta{})
	out := reduction.NewFallback(env, reduction.FallbackTimeout, time.Millisecond)

	v := Ground(out)
	if v.Pass {
		t.Fatal("fallback outcome must not pass grounding")
	}
	if v.Reason != string(reduction.FallbackTimeout) {
		t.Errorf("Reason = %q, want fallback reason", v.Reason)
	}
}

func TestGroundNotExecutableRelaysBlockReason(t *testing.T) {
	out := processed(reduction.Result{
		Executable:  false,
		BlockReason: "target entity does not exist",
	})

	v := Ground(out)
	if v.Pass {
		t.Fatal("non-executable outcome must not pass")
	}
	if v.Reason != "target entity does not exist" {
		t.Errorf("Reason = %q, want authority block reason", v.Reason)
	}
}

func TestGroundRejectsLegacyShapes(t *testing.T) {
	tests := []struct {
		name string
		v    any
	}{
		{"legacy result", LocalResult{Pass: true, Reason: "legacy heuristic"}},
		{"legacy pointer", &LocalResult{Pass: true}},
		{"nil", nil},
		{"nil outcome pointer", (*reduction.Outcome)(nil)},
		{"random map", map[string]any{"pass": true}},
		{"string", "looks grounded to me"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Ground(tt.v)
			if v.Pass {
				t.Fatal("non-authority shape must never pass")
			}
			if v.Reason != ReasonAuthorityRequired {
				t.Errorf("Reason = %q, want %q", v.Reason, ReasonAuthorityRequired)
			}
		})
	}
}

func TestGroundPointerOutcome(t *testing.T) {
	out := processed(reduction.Result{Executable: true})
	v := Ground(&out)
	if !v.Pass {
		t.Fatalf("pointer outcome should ground the same as a value, got %+v", v)
	}
}

func TestGroundExecutableButUngroundedRelayed(t *testing.T) {
	out := processed(reduction.Result{
		Executable: true,
		Grounding:  &reduction.Grounding{Passed: false, Reason: "proposition not in goal store"},
	})

	v := Ground(out)
	if v.Pass {
		t.Fatal("contradictory executable+ungrounded must relay the failure")
	}
	if v.Reason != "proposition not in goal store" {
		t.Errorf("Reason = %q", v.Reason)
	}
}
