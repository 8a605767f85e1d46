package gate

import (
	"context"
	"sync"
	"testing"
	"time"

	"warden/internal/envelope"
	"warden/internal/reduction"
)

type stubReducer struct{ endpoint string }

func (s *stubReducer) Reduce(ctx context.Context, env envelope.Envelope) reduction.Outcome {
	return reduction.NewFallback(env, reduction.FallbackUnavailable, time.Millisecond)
}

func (s *stubReducer) Endpoint() string { return s.endpoint }

func TestBindingLifecycle(t *testing.T) {
	b := NewBinding(nil)
	if b.Bound() {
		t.Fatal("fresh binding should be unbound")
	}

	r := &stubReducer{endpoint: "http://reducer:8080"}
	b.Set(r)
	if !b.Bound() {
		t.Fatal("binding should report bound after Set")
	}
	got, ok := b.Get()
	if !ok || got != Reducer(r) {
		t.Fatal("Get should return the bound reducer")
	}

	b.Set(nil)
	if b.Bound() {
		t.Fatal("binding should be unbound after Set(nil)")
	}
}

func TestBindingHotSwapConcurrent(t *testing.T) {
	b := NewBinding(&stubReducer{endpoint: "a"})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				b.Set(&stubReducer{endpoint: "b"})
				b.Set(nil)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				b.Get()
				b.Bound()
			}
		}()
	}
	wg.Wait()
}

type stubSizer struct{ entries, tasks int }

func (s stubSizer) Size() (int, int) { return s.entries, s.tasks }

func TestSnapshot(t *testing.T) {
	b := NewBinding(&stubReducer{endpoint: "http://reducer:8080"})

	h := Snapshot(b, stubSizer{entries: 12, tasks: 3})
	if !h.ReducerBound || h.Endpoint != "http://reducer:8080" {
		t.Errorf("unexpected binding view: %+v", h)
	}
	if h.TotalEntries != 12 || h.TaskCount != 3 {
		t.Errorf("unexpected history view: %+v", h)
	}

	h = Snapshot(nil, nil)
	if h.ReducerBound || h.TotalEntries != 0 || h.TaskCount != 0 {
		t.Errorf("nil inputs should produce a zero snapshot, got %+v", h)
	}
}
