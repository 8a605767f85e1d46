package proposal

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"warden/internal/eligibility"
	"warden/internal/envelope"
	"warden/internal/gate"
	"warden/internal/llm"
	"warden/internal/logging"
	"warden/internal/reduction"
)

// Config holds proposal flow settings.
type Config struct {
	MaxRefineIterations int
	ConfidenceThreshold float64
	RingCapacity        int
	HistoryTTL          time.Duration
	DebounceWindow      time.Duration
	GateRetries         uint64
	AdvisoryOverride    bool
	Budgets             Budgets
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxRefineIterations: 3,
		ConfidenceThreshold: 0.75,
		RingCapacity:        DefaultRingCapacity,
		HistoryTTL:          DefaultHistoryTTL,
		DebounceWindow:      30 * time.Second,
		GateRetries:         2,
		AdvisoryOverride:    false,
		Budgets:             DefaultBudgets(),
	}
}

// Journal receives best-effort audit copies of flow activity. Failures
// degrade observability only; they never affect the gate decision.
type Journal interface {
	AppendProposal(ctx context.Context, e Entry) error
	AppendReduction(ctx context.Context, o reduction.Outcome) error
}

// Flow runs the capability proposal state machine. Safe for concurrent use;
// concurrent impasses for the same task collapse to a single in-flight
// proposal, and different tasks never contend.
type Flow struct {
	binding  *gate.Binding
	client   llm.Client
	registry *Registry
	history  *Arena
	journal  Journal
	cfg      Config

	group singleflight.Group

	statsMu sync.Mutex
	stats   Stats

	// now is injectable for tests.
	now func() time.Time
}

// NewFlow constructs a flow. binding may be unbound; client and journal may
// be nil (generation then fails closed / auditing is skipped).
func NewFlow(binding *gate.Binding, client llm.Client, registry *Registry, journal Journal, cfg Config) *Flow {
	if binding == nil {
		binding = gate.NewBinding(nil)
	}
	if registry == nil {
		registry = NewRegistry()
	}
	if cfg.RingCapacity <= 0 {
		cfg.RingCapacity = DefaultRingCapacity
	}
	if cfg.HistoryTTL <= 0 {
		cfg.HistoryTTL = DefaultHistoryTTL
	}
	return &Flow{
		binding:  binding,
		client:   client,
		registry: registry,
		history:  NewArena(cfg.RingCapacity, cfg.HistoryTTL),
		journal:  journal,
		cfg:      cfg,
		now:      time.Now,
	}
}

// History exposes the arena for health snapshots and tests.
func (f *Flow) History() *Arena { return f.history }

// Registry returns the capability registry.
func (f *Flow) Registry() *Registry { return f.registry }

// Stats returns a copy of the aggregate counters.
func (f *Flow) Stats() Stats {
	f.statsMu.Lock()
	defer f.statsMu.Unlock()
	return f.stats
}

// SetClock replaces the flow's and arena's clock. Test use only.
func (f *Flow) SetClock(now func() time.Time) {
	f.now = now
	f.history.SetClock(now)
}

// Propose handles one impasse signal end to end. It always returns a
// Decision; the error return is reserved for invalid input (empty task id).
// Concurrent calls for the same task share one execution and one Decision.
func (f *Flow) Propose(ctx context.Context, imp Impasse) (Decision, error) {
	if imp.Task.ID == "" {
		return Decision{}, fmt.Errorf("impasse has no task id")
	}

	v, err, _ := f.group.Do(imp.Task.ID, func() (any, error) {
		return f.propose(ctx, imp), nil
	})
	if err != nil {
		return Decision{}, err
	}
	return v.(Decision), nil
}

func (f *Flow) propose(ctx context.Context, imp Impasse) Decision {
	timer := logging.StartTimer(logging.CategoryProposal, "propose")
	defer timer.Stop()

	now := f.now()

	// External debounce: a proposal attempt inside the window is dropped
	// before the state machine is entered. No entry is written and the
	// debounce clock is not advanced, so the window stays anchored at the
	// attempt that opened it.
	if last, ok := f.history.LastProposal(imp.Task.ID); ok {
		if f.cfg.DebounceWindow > 0 && now.Sub(last) < f.cfg.DebounceWindow {
			logging.ProposalDebug("debounced proposal for %s (%v since last)", imp.Task.ID, now.Sub(last))
			return Decision{State: StateSkipped, Reason: "debounced", Debounced: true}
		}
	}

	f.countProposed(now)

	prov := &Provenance{ProposalID: uuid.NewString(), TaskID: imp.Task.ID}

	// No binding and no override: skip before any model call is made.
	// During an authority outage this is pure cost avoidance.
	_, bound := f.binding.Get()
	if !bound && !f.cfg.AdvisoryOverride {
		logging.Proposal("skipping proposal for %s: no reduction client bound", imp.Task.ID)
		return f.exit(ctx, imp, Decision{
			State:      StateSkipped,
			Tag:        TagSkippedNoReducer,
			Reason:     "no reduction client bound",
			Provenance: prov,
		})
	}

	candidate, genErr := f.generate(ctx, imp, prov)
	if genErr != nil || candidate == nil {
		detail := "generation returned no candidate"
		if genErr != nil {
			detail = genErr.Error()
		}
		logging.ProposalWarn("generation failed for %s: %s", imp.Task.ID, detail)
		return f.exit(ctx, imp, Decision{
			State:      StateErrored,
			Tag:        TagGenerationNull,
			Reason:     detail,
			Provenance: prov,
		})
	}

	if err := validateCandidate(candidate); err != nil {
		// Local validation error: rejected before gate submission,
		// distinct from an authority block.
		logging.ProposalWarn("candidate for %s failed local validation: %v", imp.Task.ID, err)
		return f.exit(ctx, imp, Decision{
			State:      StateErrored,
			Tag:        TagGenerationNull,
			Reason:     fmt.Sprintf("invalid candidate: %v", err),
			Candidate:  candidate,
			Provenance: prov,
		})
	}

	if !bound {
		// Advisory override: keep the candidate for debugging, never
		// register it.
		logging.Proposal("advisory-only candidate %s for %s (no reduction client)", candidate.Name, imp.Task.ID)
		return f.exit(ctx, imp, Decision{
			State:      StateAdvisory,
			Tag:        TagAdvisoryOnly,
			Reason:     "no reduction client bound; advisory override set",
			Candidate:  candidate,
			Provenance: prov,
		})
	}

	outcome := f.submitToGate(ctx, candidate)
	if f.journal != nil {
		if jerr := f.journal.AppendReduction(ctx, outcome); jerr != nil {
			logging.Get(logging.CategoryJournal).Warn("journal reduction write failed: %v", jerr)
		}
	}

	if !outcome.Processed() {
		return f.exit(ctx, imp, Decision{
			State:       StateErrored,
			Tag:         TagReductionError,
			Reason:      string(outcome.FallbackReason()),
			Candidate:   candidate,
			Provenance:  prov,
			RequestHash: outcome.RequestHash(),
		})
	}

	res := eligibility.Derive(&outcome)
	if !res.ConvertEligible {
		reason := string(res.Reasoning)
		if r, ok := outcome.Result(); ok && r.BlockReason != "" {
			reason = r.BlockReason
		}
		logging.Proposal("candidate %s for %s blocked: %s", candidate.Name, imp.Task.ID, reason)
		return f.exit(ctx, imp, Decision{
			State:       StateBlocked,
			Tag:         TagBlocked,
			Reason:      reason,
			Candidate:   candidate,
			Provenance:  prov,
			RequestHash: outcome.RequestHash(),
		})
	}

	f.registry.Register(*candidate)
	logging.Proposal("registered capability %s for %s", candidate.Name, imp.Task.ID)
	return f.exit(ctx, imp, Decision{
		State:       StateRegistered,
		Tag:         TagAllowed,
		Reason:      string(res.Reasoning),
		Candidate:   candidate,
		Provenance:  prov,
		RequestHash: outcome.RequestHash(),
	})
}

// submitToGate reduces the candidate's natural-language justification with
// the caller's retry policy: transient fallbacks are retried a bounded
// number of times, contract errors are not. The reduction client itself
// never retries.
func (f *Flow) submitToGate(ctx context.Context, candidate *CapabilitySpec) reduction.Outcome {
	client, ok := f.binding.Get()
	if !ok {
		env := f.candidateEnvelope(candidate)
		return reduction.NewFallback(env, reduction.FallbackUnavailable, 0)
	}

	env := f.candidateEnvelope(candidate)

	var outcome reduction.Outcome
	op := func() error {
		outcome = client.Reduce(ctx, env)
		if outcome.Processed() {
			return nil
		}
		switch outcome.FallbackReason() {
		case reduction.FallbackUnavailable, reduction.FallbackTimeout, reduction.FallbackTransportError:
			return fmt.Errorf("transient gate failure: %s", outcome.FallbackReason())
		default:
			// Malformed responses are deterministic contract errors;
			// retrying buys nothing.
			return backoff.Permanent(fmt.Errorf("contract failure: %s", outcome.FallbackReason()))
		}
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(newGateBackOff(), f.cfg.GateRetries), ctx)
	// The final outcome is whatever the last attempt settled to; errors
	// here only drive the retry loop.
	_ = backoff.Retry(op, bo)
	return outcome
}

func newGateBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	bo.MaxElapsedTime = 0 // bounded by retry count, not wall clock
	return bo
}

func (f *Flow) candidateEnvelope(candidate *CapabilitySpec) envelope.Envelope {
	text := candidate.Justification
	if text == "" {
		text = candidate.Description
	}
	modelID := ""
	if f.client != nil {
		modelID = f.client.Model()
	}
	return envelope.Build(text, envelope.Meta{ModelID: modelID})
}

// exit finalizes a decision: exactly one history entry, debounce clock
// update (skips included), best-effort journal copy, counters.
func (f *Flow) exit(ctx context.Context, imp Impasse, d Decision) Decision {
	entry := Entry{
		TaskID: imp.Task.ID,
		Tag:    d.Tag,
		At:     f.now(),
		Detail: d.Reason,
	}
	if d.Candidate != nil {
		entry.CandidateName = d.Candidate.Name
		entry.CandidateDigest = candidateDigest(d.Candidate)
	}
	f.history.Append(entry)

	if f.journal != nil {
		if err := f.journal.AppendProposal(ctx, entry); err != nil {
			logging.Get(logging.CategoryJournal).Warn("journal proposal write failed: %v", err)
		}
	}

	f.countExit(d)
	return d
}

// candidateDigest hashes the candidate spec so history entries can identify
// exactly which artifact was judged without storing it whole.
func candidateDigest(spec *CapabilitySpec) string {
	raw, err := json.Marshal(spec)
	if err != nil {
		return ""
	}
	s := string(raw)
	return envelope.OutputHash(&s)[:16]
}

func (f *Flow) countProposed(now time.Time) {
	f.statsMu.Lock()
	f.stats.Proposed++
	f.stats.LastProposal = now
	f.statsMu.Unlock()
}

func (f *Flow) countExit(d Decision) {
	f.statsMu.Lock()
	defer f.statsMu.Unlock()
	switch d.State {
	case StateRegistered:
		f.stats.Registered++
	case StateBlocked:
		f.stats.Blocked++
	case StateSkipped:
		f.stats.Skipped++
	case StateAdvisory:
		f.stats.Advisory++
	case StateErrored:
		f.stats.Errored++
	}
}
