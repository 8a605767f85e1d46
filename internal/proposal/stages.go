package proposal

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"warden/internal/llm"
	"warden/internal/logging"
)

// =============================================================================
// GENERATION STAGES
// =============================================================================
// Abstract plan -> detailed plan -> iterative refinement -> concrete spec.
// Each stage is exactly one model call under its own budget. These budgets
// are federated: they belong to this pipeline alone and are independent of
// whatever budgets the conversational surface uses, because structured
// specification generation and prose need different limits.

// StageBudget caps one generation stage.
type StageBudget struct {
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// Budgets holds the per-stage caps.
type Budgets struct {
	Abstract StageBudget
	Detailed StageBudget
	Refine   StageBudget
}

// DefaultBudgets returns production stage budgets.
func DefaultBudgets() Budgets {
	return Budgets{
		Abstract: StageBudget{MaxTokens: 1024, Temperature: 0.7, Timeout: 45 * time.Second},
		Detailed: StageBudget{MaxTokens: 2048, Temperature: 0.4, Timeout: 60 * time.Second},
		Refine:   StageBudget{MaxTokens: 2048, Temperature: 0.2, Timeout: 60 * time.Second},
	}
}

const abstractSystemPrompt = `You are planning a new capability for an embodied agent.
Given an impasse description, produce a short abstract plan: what capability
is missing and what it should accomplish. Plain text, no code.`

const detailedSystemPrompt = `You are expanding an abstract capability plan into a detailed plan.
List the concrete actions, their targets, and any preconditions. Plain text.`

const refineSystemPrompt = `You are producing a concrete capability specification as JSON.
Respond with ONLY a JSON object of this shape:
{
  "name": "snake_case_name",
  "description": "what the capability does",
  "justification": "one paragraph explaining why this capability is needed and what goal it serves",
  "parameters": {"param": "description"},
  "steps": [{"action": "verb", "target": "object", "amount": 1}],
  "confidence": 0.0
}
confidence is your self-assessed confidence (0.0-1.0) that the specification
is complete and correct. Incorporate the feedback if any is given.`

// stageRunner executes one model call and records provenance.
type stageRunner struct {
	client llm.Client
	prov   *Provenance
}

func (r *stageRunner) run(ctx context.Context, stage, system, prompt string, budget StageBudget) (string, error) {
	callCtx := ctx
	if budget.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, budget.Timeout)
		defer cancel()
	}

	start := time.Now()
	out, err := r.client.CompleteWithOptions(callCtx, prompt, llm.Options{
		System:      system,
		MaxTokens:   budget.MaxTokens,
		Temperature: budget.Temperature,
	})
	elapsed := time.Since(start)

	promptChars := len(system) + len(prompt)
	r.prov.Stages = append(r.prov.Stages, StageRecord{
		Stage:        stage,
		ModelID:      r.client.Model(),
		Duration:     elapsed,
		PromptChars:  promptChars,
		OutputChars:  len(out),
		TokensApprox: (promptChars + len(out)) / 4,
	})

	if err != nil {
		return "", fmt.Errorf("%s stage: %w", stage, err)
	}
	return out, nil
}

// generate runs the full pipeline and returns the candidate spec, or nil
// when no usable specification emerged. The refinement loop is bounded by
// maxIterations regardless of wall-clock behavior.
func (f *Flow) generate(ctx context.Context, imp Impasse, prov *Provenance) (*CapabilitySpec, error) {
	if f.client == nil {
		return nil, fmt.Errorf("no llm client configured")
	}
	runner := &stageRunner{client: f.client, prov: prov}

	impasseDesc := fmt.Sprintf("Task: %s\nImpasse: %s\nConsecutive failures: %d",
		imp.Task.Description, imp.Reason, imp.FailureCount)

	abstract, err := runner.run(ctx, "abstract-planning", abstractSystemPrompt, impasseDesc, f.cfg.Budgets.Abstract)
	if err != nil {
		return nil, err
	}
	logging.ProposalDebug("abstract plan for %s: %d chars", imp.Task.ID, len(abstract))

	detailed, err := runner.run(ctx, "detailed-planning", detailedSystemPrompt,
		impasseDesc+"\n\nAbstract plan:\n"+abstract, f.cfg.Budgets.Detailed)
	if err != nil {
		return nil, err
	}

	// Refinement loop: hard-capped iteration count, one model call each.
	var candidate *CapabilitySpec
	feedback := ""
	maxIter := f.cfg.MaxRefineIterations
	if maxIter < 1 {
		maxIter = 1
	}
	for i := 0; i < maxIter; i++ {
		prompt := impasseDesc + "\n\nDetailed plan:\n" + detailed
		if feedback != "" {
			prompt += "\n\nFeedback on previous attempt:\n" + feedback
		}

		out, err := runner.run(ctx, fmt.Sprintf("refining-%d", i+1), refineSystemPrompt, prompt, f.cfg.Budgets.Refine)
		if err != nil {
			return candidate, err
		}

		spec, perr := parseSpec(out)
		if perr != nil {
			feedback = fmt.Sprintf("previous output was not valid spec JSON: %v", perr)
			logging.ProposalDebug("refine %d for %s: parse failed: %v", i+1, imp.Task.ID, perr)
			continue
		}
		candidate = spec
		if spec.Confidence >= f.cfg.ConfidenceThreshold {
			break
		}
		feedback = fmt.Sprintf("confidence %.2f is below the %.2f threshold; tighten the steps and justification",
			spec.Confidence, f.cfg.ConfidenceThreshold)
	}

	return candidate, nil
}

var jsonBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// parseSpec extracts and decodes a spec JSON object from model output,
// tolerating markdown fences and surrounding prose.
func parseSpec(out string) (*CapabilitySpec, error) {
	text := strings.TrimSpace(out)
	if m := jsonBlockRe.FindStringSubmatch(text); m != nil {
		text = strings.TrimSpace(m[1])
	}
	if idx := strings.Index(text, "{"); idx > 0 {
		text = text[idx:]
	}
	if end := strings.LastIndex(text, "}"); end >= 0 {
		text = text[:end+1]
	}

	var spec CapabilitySpec
	if err := json.Unmarshal([]byte(text), &spec); err != nil {
		return nil, fmt.Errorf("decode spec: %w", err)
	}
	return &spec, nil
}

var specNameRe = regexp.MustCompile(`^[a-z][a-z0-9_]{2,63}$`)

// validateCandidate rejects malformed candidates locally, before any gate
// submission. This is an input error, not an authority block.
func validateCandidate(spec *CapabilitySpec) error {
	if spec == nil {
		return fmt.Errorf("no candidate specification")
	}
	if !specNameRe.MatchString(spec.Name) {
		return fmt.Errorf("invalid capability name %q", spec.Name)
	}
	if strings.TrimSpace(spec.Justification) == "" && strings.TrimSpace(spec.Description) == "" {
		return fmt.Errorf("candidate has no justification or description to validate")
	}
	if len(spec.Steps) == 0 {
		return fmt.Errorf("candidate has no steps")
	}
	for i, s := range spec.Steps {
		if strings.TrimSpace(s.Action) == "" {
			return fmt.Errorf("step %d has no action", i+1)
		}
	}
	return nil
}
