// Package gate holds the late-bindable reference to the semantic reduction
// client. Absence of a binding is a first-class state, not an error: the
// proposal flow skips or degrades to advisory mode when no reducer is bound.
// The binding is an injected dependency, never an ambient global; construct
// one at process start and pass it to whatever needs the gate.
package gate

import (
	"context"
	"sync"

	"warden/internal/envelope"
	"warden/internal/reduction"
)

// Reducer is the reduction round trip as the gate consumes it.
type Reducer interface {
	Reduce(ctx context.Context, env envelope.Envelope) reduction.Outcome
	Endpoint() string
}

// Binding is a hot-swappable optional reducer reference. Safe for
// concurrent use. The zero value is an unbound gate.
type Binding struct {
	mu     sync.RWMutex
	client Reducer
}

// NewBinding creates a binding, optionally pre-bound. Pass nil to start
// unbound.
func NewBinding(client Reducer) *Binding {
	return &Binding{client: client}
}

// Set replaces the bound reducer. Pass nil to unbind (e.g. during a known
// authority outage).
func (b *Binding) Set(client Reducer) {
	b.mu.Lock()
	b.client = client
	b.mu.Unlock()
}

// Get returns the bound reducer, if any.
func (b *Binding) Get() (Reducer, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.client, b.client != nil
}

// Bound reports whether a reducer is currently bound.
func (b *Binding) Bound() bool {
	_, ok := b.Get()
	return ok
}
