package reduction

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warden/internal/envelope"
)

func testEnvelope() envelope.Envelope {
	return envelope.Build("I should mine coal", envelope.Meta{ModelID: "model-a"})
}

func newTestClient(url string, timeout time.Duration) *Client {
	return NewClient(Config{Endpoint: url, Timeout: timeout})
}

func TestReduceProcessedExecutable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		w.Write([]byte(`{
			"intent_family": "goal",
			"intent_type": "resource_acquisition",
			"committed_goal_prop_id": "prop-42",
			"is_executable": true,
			"grounding": {"passed": true, "reason": "entities resolved"}
		}`))
	}))
	defer srv.Close()

	out := newTestClient(srv.URL, 2*time.Second).Reduce(context.Background(), testEnvelope())

	require.True(t, out.Processed())
	assert.True(t, out.Executable())

	res, ok := out.Result()
	require.True(t, ok)
	assert.Equal(t, "goal", res.IntentFamily)
	assert.Equal(t, "prop-42", res.CommittedGoalPropID)
	require.NotNil(t, res.Grounding)
	assert.True(t, res.Grounding.Passed)

	assert.NotEmpty(t, out.RequestHash())
	assert.NotEmpty(t, out.OutputHash())
}

func TestReduceProcessedNotExecutable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"intent_family": "musing",
			"intent_type": "reflection",
			"is_executable": false,
			"block_reason": "no committed goal proposition"
		}`))
	}))
	defer srv.Close()

	out := newTestClient(srv.URL, 2*time.Second).Reduce(context.Background(), testEnvelope())

	require.True(t, out.Processed())
	assert.False(t, out.Executable())
	res, _ := out.Result()
	assert.Equal(t, "no committed goal proposition", res.BlockReason)
}

func TestReduceMissingExecutableFieldIsFalse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"intent_family": "goal", "intent_type": "movement"}`))
	}))
	defer srv.Close()

	out := newTestClient(srv.URL, 2*time.Second).Reduce(context.Background(), testEnvelope())

	require.True(t, out.Processed())
	assert.False(t, out.Executable(), "absent is_executable must decode to false")
}

func TestReduceMalformedResponse(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `<<not json>>`},
		{"missing required fields", `{"is_executable": true}`},
		{"wrong type", `{"intent_family": 7, "intent_type": "x"}`},
		{"executable wrong type", `{"intent_family": "goal", "intent_type": "x", "is_executable": "yes"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			out := newTestClient(srv.URL, 2*time.Second).Reduce(context.Background(), testEnvelope())

			assert.False(t, out.Processed())
			assert.False(t, out.Executable(), "malformed response must never read as executable")
			assert.Equal(t, FallbackMalformed, out.FallbackReason())
		})
	}
}

func TestReduceTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.Write([]byte(`{"intent_family": "goal", "intent_type": "x", "is_executable": true}`))
	}))
	defer srv.Close()

	out := newTestClient(srv.URL, 50*time.Millisecond).Reduce(context.Background(), testEnvelope())

	assert.False(t, out.Processed())
	assert.False(t, out.Executable())
	assert.Equal(t, FallbackTimeout, out.FallbackReason())
}

func TestReduceUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	out := newTestClient(srv.URL, time.Second).Reduce(context.Background(), testEnvelope())

	assert.False(t, out.Processed())
	assert.Equal(t, FallbackUnavailable, out.FallbackReason())
}

func TestReduceServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	out := newTestClient(srv.URL, time.Second).Reduce(context.Background(), testEnvelope())

	assert.False(t, out.Processed())
	assert.Equal(t, FallbackUnavailable, out.FallbackReason())
}

func TestFallbackOutcomeCarriesNoSemanticClaims(t *testing.T) {
	out := NewFallback(testEnvelope(), FallbackTimeout, 0)

	_, ok := out.Result()
	assert.False(t, ok)
	assert.False(t, out.Executable())
	assert.Equal(t, FallbackTimeout, out.FallbackReason())
	// Fallback output hash is the tagged "missing" hash, not the empty string hash.
	empty := ""
	assert.NotEqual(t, envelope.OutputHash(&empty), out.OutputHash())
}

func TestProcessedOutcomeFallbackReasonEmpty(t *testing.T) {
	raw := `{"ok":true}`
	out := NewProcessed(testEnvelope(), Result{Executable: true}, &raw, time.Millisecond)

	assert.True(t, out.Processed())
	assert.Equal(t, FallbackReason(""), out.FallbackReason())
}
