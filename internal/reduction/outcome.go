// Package reduction sends request envelopes to the external semantic
// authority (the reducer) and settles every call to exactly one outcome.
// The reducer decides whether a piece of generated text represents an
// executable intent; this package never second-guesses it. Any failure to
// get a trustworthy answer becomes a fallback outcome, and fallback is
// always non-executable.
package reduction

import (
	"time"

	"warden/internal/envelope"
)

// FallbackReason is the closed set of reasons a round trip can settle
// without a processed result.
type FallbackReason string

const (
	FallbackUnavailable    FallbackReason = "unavailable"
	FallbackTimeout        FallbackReason = "timeout"
	FallbackTransportError FallbackReason = "transport-error"
	FallbackMalformed      FallbackReason = "malformed-response"
)

// Grounding is the authority's grounding sub-result, relayed opaquely.
type Grounding struct {
	Passed bool   `json:"passed"`
	Reason string `json:"reason"`
}

// Result is the authority's structured decision for one envelope.
// Fields are passed through from the wire response without local
// post-processing.
type Result struct {
	IntentFamily        string
	IntentType          string
	CommittedGoalPropID string
	Executable          bool
	Grounding           *Grounding
	BlockReason         string
}

// Outcome is a tagged union: either the authority processed the envelope
// (Processed() == true, Result available) or the call fell back
// (FallbackReason available). The zero value is an unprocessed fallback
// with no reason, which downstream code treats as fail-closed.
type Outcome struct {
	processed bool

	env      envelope.Envelope
	result   Result
	fallback FallbackReason

	requestHash string
	outputHash  string
	duration    time.Duration
}

// NewProcessed builds a processed outcome. rawOutput is the authority's raw
// response text, or nil if none was captured; it is hashed with a kind tag
// so "no output" and "empty output" stay distinct.
func NewProcessed(env envelope.Envelope, res Result, rawOutput *string, elapsed time.Duration) Outcome {
	return Outcome{
		processed:   true,
		env:         env,
		result:      res,
		requestHash: envelope.RequestHash(env),
		outputHash:  envelope.OutputHash(rawOutput),
		duration:    elapsed,
	}
}

// NewFallback builds a fallback outcome. It carries no semantic claims:
// Executable() is false by construction and no code path can flip it.
func NewFallback(env envelope.Envelope, reason FallbackReason, elapsed time.Duration) Outcome {
	return Outcome{
		processed:   false,
		env:         env,
		fallback:    reason,
		requestHash: envelope.RequestHash(env),
		outputHash:  envelope.OutputHash(nil),
		duration:    elapsed,
	}
}

// Processed reports whether the authority actually ran on this envelope.
func (o Outcome) Processed() bool { return o.processed }

// Executable reports the authority's executability decision. For fallback
// outcomes this is always false.
func (o Outcome) Executable() bool { return o.processed && o.result.Executable }

// Result returns the authority's structured result. ok is false for
// fallback outcomes, which carry no result.
func (o Outcome) Result() (Result, bool) { return o.result, o.processed }

// FallbackReason returns the reason the call settled without processing,
// or "" for processed outcomes.
func (o Outcome) FallbackReason() FallbackReason {
	if o.processed {
		return ""
	}
	return o.fallback
}

// Envelope returns the envelope this outcome answers.
func (o Outcome) Envelope() envelope.Envelope { return o.env }

// RequestHash is the hash of the canonical envelope.
func (o Outcome) RequestHash() string { return o.requestHash }

// OutputHash is the kind-tagged hash of the authority's raw output.
func (o Outcome) OutputHash() string { return o.outputHash }

// Duration is the round-trip elapsed time.
func (o Outcome) Duration() time.Duration { return o.duration }
