package proposal

import (
	"sort"
	"sync"
)

// Registry holds gate-approved capability specifications for the execution
// layer to pick up. Only the flow's allowed exit writes here.
type Registry struct {
	mu    sync.RWMutex
	specs map[string]CapabilitySpec
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{specs: make(map[string]CapabilitySpec)}
}

// Register stores an approved spec, replacing any previous version of the
// same name.
func (r *Registry) Register(spec CapabilitySpec) {
	r.mu.Lock()
	r.specs[spec.Name] = spec
	r.mu.Unlock()
}

// Get returns a registered spec by name.
func (r *Registry) Get(name string) (CapabilitySpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.specs[name]
	return spec, ok
}

// List returns registered capability names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.specs))
	for name := range r.specs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered capabilities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.specs)
}
