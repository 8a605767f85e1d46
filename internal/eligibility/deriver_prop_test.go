package eligibility

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"warden/internal/envelope"
	"warden/internal/reduction"
)

// genOutcome builds an arbitrary outcome from three degrees of freedom:
// presence, processed, executable.
func genOutcome(present, processed, executable bool, text string) *reduction.Outcome {
	if !present {
		return nil
	}
	env := envelope.Build(text, envelope.Meta{ModelID: "prop-model"})
	if !processed {
		o := reduction.NewFallback(env, reduction.FallbackUnavailable, time.Millisecond)
		return &o
	}
	raw := "{}"
	o := reduction.NewProcessed(env, reduction.Result{Executable: executable}, &raw, time.Millisecond)
	return &o
}

func TestEligibilityInvariantProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("convertEligible == (present && processed && executable)", prop.ForAll(
		func(present, processed, executable bool, text string) bool {
			o := genOutcome(present, processed, executable, text)
			r := Derive(o)
			if AssertInvariant(o, r) != nil {
				return false
			}
			return r.ConvertEligible == (present && processed && executable)
		},
		gen.Bool(), gen.Bool(), gen.Bool(), gen.AnyString(),
	))

	properties.Property("ineligible results always carry a deny reason", prop.ForAll(
		func(present, processed, executable bool) bool {
			r := Derive(genOutcome(present, processed, executable, "x"))
			if r.ConvertEligible {
				return r.Reasoning == ReasonAuthorityExecutable
			}
			switch r.Reasoning {
			case ReasonNoReduction, ReasonAuthorityUnavailable, ReasonAuthorityNotExecutable:
				return true
			}
			return false
		},
		gen.Bool(), gen.Bool(), gen.Bool(),
	))

	properties.TestingRun(t)
}
