package reduction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"warden/internal/envelope"
	"warden/internal/logging"
)

// wireRequest is the reduction round-trip request body.
type wireRequest struct {
	EnvelopeID    string `json:"envelope_id"`
	SanitizedText string `json:"sanitized_text"`
	ModelID       string `json:"model_id,omitempty"`
	PromptDigest  string `json:"prompt_digest,omitempty"`
}

// wireResponse mirrors the reducer's response contract. IsExecutable is a
// pointer so that an absent field decodes to nil and can never be read as
// true.
type wireResponse struct {
	IntentFamily        string     `json:"intent_family"`
	IntentType          string     `json:"intent_type"`
	CommittedGoalPropID string     `json:"committed_goal_prop_id"`
	IsExecutable        *bool      `json:"is_executable"`
	BlockReason         string     `json:"block_reason"`
	Grounding           *Grounding `json:"grounding"`
}

// Config holds reduction client settings.
type Config struct {
	Endpoint string
	Timeout  time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig(endpoint string) Config {
	return Config{
		Endpoint: endpoint,
		Timeout:  10 * time.Second,
	}
}

// Client performs the round trip to the reducer. It owns the only timeout
// boundary in the gate: on expiry it settles to a fallback outcome
// deterministically. The client never retries and never post-processes the
// authority's fields; retry policy belongs to the caller.
type Client struct {
	endpoint   string
	timeout    time.Duration
	httpClient *http.Client
}

// NewClient creates a reduction client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		endpoint: cfg.Endpoint,
		timeout:  timeout,
		// Per-call deadlines come from the context; the http.Client
		// timeout is a backstop only.
		httpClient: &http.Client{Timeout: timeout + 2*time.Second},
	}
}

// Endpoint returns the configured reducer endpoint.
func (c *Client) Endpoint() string { return c.endpoint }

// Reduce submits one envelope and returns exactly one outcome. Transport
// failures, timeouts, and malformed responses all settle as fallback;
// nothing is left pending and nothing raises.
func (c *Client) Reduce(ctx context.Context, env envelope.Envelope) Outcome {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(wireRequest{
		EnvelopeID:    env.ID,
		SanitizedText: env.Text,
		ModelID:       env.ModelID,
		PromptDigest:  env.PromptDigest,
	})
	if err != nil {
		// A struct of strings cannot fail to marshal; classified as
		// transport-error to keep the reason set closed.
		return NewFallback(env, FallbackTransportError, time.Since(start))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		logging.Reduction("invalid reducer request for %s: %v", env.ID, err)
		return NewFallback(env, FallbackTransportError, time.Since(start))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		reason := classifyTransportErr(err)
		logging.Reduction("reducer round trip failed for %s: %s (%v)", env.ID, reason, err)
		return NewFallback(env, reason, time.Since(start))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return NewFallback(env, classifyTransportErr(err), time.Since(start))
	}

	if resp.StatusCode != http.StatusOK {
		logging.Reduction("reducer returned HTTP %d for %s", resp.StatusCode, env.ID)
		if resp.StatusCode >= 500 {
			return NewFallback(env, FallbackUnavailable, time.Since(start))
		}
		return NewFallback(env, FallbackTransportError, time.Since(start))
	}

	res, err := parseResponse(raw)
	if err != nil {
		logging.Reduction("malformed reducer response for %s: %v", env.ID, err)
		return NewFallback(env, FallbackMalformed, time.Since(start))
	}

	rawText := string(raw)
	return NewProcessed(env, res, &rawText, time.Since(start))
}

// parseResponse validates the response shape against the wire contract and
// decodes it. Shape validation runs first: a structurally invalid response
// is a contract error, not a semantic answer.
func parseResponse(raw []byte) (Result, error) {
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return Result{}, fmt.Errorf("decode: %w", err)
	}
	if err := responseSchema.Validate(generic); err != nil {
		return Result{}, fmt.Errorf("schema: %w", err)
	}

	var wr wireResponse
	if err := json.Unmarshal(raw, &wr); err != nil {
		return Result{}, fmt.Errorf("decode: %w", err)
	}

	// Unknown or missing is_executable means not executable.
	executable := wr.IsExecutable != nil && *wr.IsExecutable

	return Result{
		IntentFamily:        wr.IntentFamily,
		IntentType:          wr.IntentType,
		CommittedGoalPropID: wr.CommittedGoalPropID,
		Executable:          executable,
		Grounding:           wr.Grounding,
		BlockReason:         wr.BlockReason,
	}, nil
}

func classifyTransportErr(err error) FallbackReason {
	if errors.Is(err, context.DeadlineExceeded) {
		return FallbackTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FallbackTimeout
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return FallbackUnavailable
	}
	return FallbackTransportError
}
