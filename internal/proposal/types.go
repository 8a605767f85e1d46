// Package proposal implements the capability proposal flow: when the agent
// hits an impasse, a multi-stage generation pipeline synthesizes a candidate
// executable specification, and the reduction gate decides whether it may be
// registered. The gate decision is never inferred locally; a candidate that
// the authority does not mark executable is not registered, full stop.
package proposal

import (
	"time"
)

// TaskRef identifies the task whose impasse triggered a proposal.
type TaskRef struct {
	ID          string
	Description string
}

// Impasse is the entry signal for the flow, e.g. repeated task failure.
type Impasse struct {
	Task         TaskRef
	Reason       string
	FailureCount int
}

// Step is one concrete action in a candidate specification.
type Step struct {
	Action string `json:"action"`
	Target string `json:"target,omitempty"`
	Amount int    `json:"amount,omitempty"`
}

// CapabilitySpec is a candidate executable specification. It is synthesized
// by the generation stages and holds no authority until the gate allows it.
type CapabilitySpec struct {
	Name          string            `json:"name"`
	Description   string            `json:"description"`
	Justification string            `json:"justification"`
	Parameters    map[string]string `json:"parameters,omitempty"`
	Steps         []Step            `json:"steps"`
	Confidence    float64           `json:"confidence"`
}

// State names the flow's terminal states.
type State string

const (
	StateRegistered State = "registered"
	StateBlocked    State = "blocked"
	StateSkipped    State = "skipped"
	StateErrored    State = "errored"
	StateAdvisory   State = "advisory"
)

// OutcomeTag labels a proposal history entry. The set is closed; each flow
// exit maps to exactly one tag.
type OutcomeTag string

const (
	// TagSkippedNoReducer: no reducer bound and no advisory override; no
	// model call was made for this decision.
	TagSkippedNoReducer OutcomeTag = "skipped-no-reduction-client"
	// TagAdvisoryOnly: no reducer bound but the advisory override is set;
	// the candidate was generated and retained for debugging, never
	// registered.
	TagAdvisoryOnly OutcomeTag = "advisory-only"
	// TagBlocked: the authority processed the candidate and declined.
	TagBlocked OutcomeTag = "blocked"
	// TagReductionError: the gate round trip settled as fallback even
	// after the caller's retry policy.
	TagReductionError OutcomeTag = "reduction-error"
	// TagAllowed: the authority marked the candidate executable and it was
	// registered.
	TagAllowed OutcomeTag = "allowed"
	// TagGenerationNull: generation produced nothing usable, including
	// candidates rejected by local validation before gate submission.
	TagGenerationNull OutcomeTag = "generation-returned-null"
)

// StageRecord is per-stage provenance: which model ran, for how long, and
// roughly how many tokens it consumed.
type StageRecord struct {
	Stage        string
	ModelID      string
	Duration     time.Duration
	PromptChars  int
	OutputChars  int
	TokensApprox int
}

// Provenance traces one proposal through every generation stage.
type Provenance struct {
	ProposalID string
	TaskID     string
	Stages     []StageRecord
}

// Decision is the flow's result for one impasse.
type Decision struct {
	State       State
	Tag         OutcomeTag
	Reason      string
	Candidate   *CapabilitySpec
	Provenance  *Provenance
	Debounced   bool
	RequestHash string
}

// Stats are aggregate flow counters for diagnostics.
type Stats struct {
	Proposed     int
	Registered   int
	Blocked      int
	Skipped      int
	Advisory     int
	Errored      int
	LastProposal time.Time
}
