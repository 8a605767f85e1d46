package proposal

import (
	"context"
	"sync"
	"time"

	"warden/internal/envelope"
	"warden/internal/llm"
	"warden/internal/reduction"
)

// MockLLMClient implements llm.Client with a pluggable completion function
// and a call counter.
type MockLLMClient struct {
	mu           sync.Mutex
	calls        int
	CompleteFunc func(ctx context.Context, prompt string) (string, error)
}

func (m *MockLLMClient) Model() string { return "mock-model" }

func (m *MockLLMClient) Complete(ctx context.Context, prompt string) (string, error) {
	return m.CompleteWithOptions(ctx, prompt, llm.Options{})
}

func (m *MockLLMClient) CompleteWithOptions(ctx context.Context, prompt string, _ llm.Options) (string, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, prompt)
	}
	return validSpecJSON, nil
}

func (m *MockLLMClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// validSpecJSON is a well-formed candidate spec with high confidence.
const validSpecJSON = `{
	"name": "harvest_sugarcane",
	"description": "Harvest sugarcane stalks near the riverbank",
	"justification": "The agent repeatedly fails to acquire paper because it has no sugarcane collection capability.",
	"parameters": {"amount": "number of stalks to collect"},
	"steps": [
		{"action": "locate", "target": "sugarcane"},
		{"action": "collect", "target": "sugarcane", "amount": 8}
	],
	"confidence": 0.92
}`

// stubReducer implements gate.Reducer with a pluggable outcome function and
// a call counter.
type stubReducer struct {
	mu       sync.Mutex
	calls    int
	ReduceFn func(env envelope.Envelope) reduction.Outcome
}

func (s *stubReducer) Reduce(ctx context.Context, env envelope.Envelope) reduction.Outcome {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.ReduceFn != nil {
		return s.ReduceFn(env)
	}
	return reduction.NewFallback(env, reduction.FallbackUnavailable, time.Millisecond)
}

func (s *stubReducer) Endpoint() string { return "stub://reducer" }

func (s *stubReducer) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func executableReducer() *stubReducer {
	return &stubReducer{
		ReduceFn: func(env envelope.Envelope) reduction.Outcome {
			raw := `{"intent_family":"capability"}`
			return reduction.NewProcessed(env, reduction.Result{
				IntentFamily: "capability",
				IntentType:   "registration",
				Executable:   true,
				Grounding:    &reduction.Grounding{Passed: true, Reason: "justification grounded"},
			}, &raw, time.Millisecond)
		},
	}
}

func blockingReducer(reason string) *stubReducer {
	return &stubReducer{
		ReduceFn: func(env envelope.Envelope) reduction.Outcome {
			raw := `{"intent_family":"capability"}`
			return reduction.NewProcessed(env, reduction.Result{
				IntentFamily: "capability",
				IntentType:   "registration",
				Executable:   false,
				BlockReason:  reason,
			}, &raw, time.Millisecond)
		},
	}
}

func newMalformedReducer() *stubReducer {
	return &stubReducer{
		ReduceFn: func(env envelope.Envelope) reduction.Outcome {
			return reduction.NewFallback(env, reduction.FallbackMalformed, time.Millisecond)
		},
	}
}

func timeoutReducer() *stubReducer {
	return &stubReducer{
		ReduceFn: func(env envelope.Envelope) reduction.Outcome {
			return reduction.NewFallback(env, reduction.FallbackTimeout, time.Millisecond)
		},
	}
}
