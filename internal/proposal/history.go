package proposal

import (
	"sync"
	"time"
)

// Entry is one immutable proposal-history record. Entries are appended in
// call order per task and never mutated after insertion.
type Entry struct {
	TaskID          string
	Tag             OutcomeTag
	At              time.Time
	CandidateName   string
	CandidateDigest string
	Detail          string
}

// taskHistory is a fixed-capacity circular buffer plus the task's debounce
// clock. Guarded by its own mutex so tasks never contend with each other.
type taskHistory struct {
	mu      sync.Mutex
	entries []Entry
	start   int
	count   int

	lastProposal time.Time
	lastWrite    time.Time
}

func (h *taskHistory) append(e Entry, capacity int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.entries == nil {
		h.entries = make([]Entry, capacity)
	}
	if h.count == capacity {
		// Overwrite the oldest entry.
		h.entries[h.start] = e
		h.start = (h.start + 1) % capacity
	} else {
		h.entries[(h.start+h.count)%capacity] = e
		h.count++
	}
	h.lastProposal = e.At
	h.lastWrite = e.At
}

func (h *taskHistory) snapshot() []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Entry, h.count)
	for i := 0; i < h.count; i++ {
		out[i] = h.entries[(h.start+i)%len(h.entries)]
	}
	return out
}

// Arena owns all proposal history: an arena of per-task ring buffers with a
// lazily checked TTL. Eviction happens on write paths, never via a
// background timer. This is the only mutable shared state in the gate core.
type Arena struct {
	mu       sync.RWMutex
	tasks    map[string]*taskHistory
	capacity int
	ttl      time.Duration

	// now is injectable for tests.
	now func() time.Time
}

// DefaultRingCapacity bounds entries per task.
const DefaultRingCapacity = 50

// DefaultHistoryTTL bounds the age of a task's whole history.
const DefaultHistoryTTL = 30 * time.Minute

// NewArena creates a history arena. Non-positive capacity or TTL selects
// the defaults.
func NewArena(capacity int, ttl time.Duration) *Arena {
	if capacity <= 0 {
		capacity = DefaultRingCapacity
	}
	if ttl <= 0 {
		ttl = DefaultHistoryTTL
	}
	return &Arena{
		tasks:    make(map[string]*taskHistory),
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
	}
}

// SetClock replaces the arena's clock. Test use only.
func (a *Arena) SetClock(now func() time.Time) {
	a.mu.Lock()
	a.now = now
	a.mu.Unlock()
}

// Append records one entry for a task, stamping it with the arena clock if
// unstamped. Stale tasks anywhere in the arena are evicted on this write.
func (a *Arena) Append(e Entry) {
	a.mu.Lock()
	if e.At.IsZero() {
		e.At = a.now()
	}
	a.evictStaleLocked(e.At)
	h, ok := a.tasks[e.TaskID]
	if !ok {
		h = &taskHistory{}
		a.tasks[e.TaskID] = h
	}
	capacity := a.capacity
	a.mu.Unlock()

	h.append(e, capacity)
}

// evictStaleLocked drops every task whose history has gone untouched for
// longer than the TTL. Caller holds the arena write lock.
func (a *Arena) evictStaleLocked(now time.Time) {
	for id, h := range a.tasks {
		h.mu.Lock()
		stale := !h.lastWrite.IsZero() && now.Sub(h.lastWrite) > a.ttl
		h.mu.Unlock()
		if stale {
			delete(a.tasks, id)
		}
	}
}

// Entries returns a task's history, oldest first. The returned slice is a
// copy; eviction never invalidates it.
func (a *Arena) Entries(taskID string) []Entry {
	a.mu.RLock()
	h, ok := a.tasks[taskID]
	a.mu.RUnlock()
	if !ok {
		return nil
	}
	return h.snapshot()
}

// LastProposal returns the task's debounce clock.
func (a *Arena) LastProposal(taskID string) (time.Time, bool) {
	a.mu.RLock()
	h, ok := a.tasks[taskID]
	a.mu.RUnlock()
	if !ok {
		return time.Time{}, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastProposal, !h.lastProposal.IsZero()
}

// Size reports aggregate history size for health snapshots.
func (a *Arena) Size() (totalEntries, taskCount int) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, h := range a.tasks {
		h.mu.Lock()
		totalEntries += h.count
		h.mu.Unlock()
	}
	return totalEntries, len(a.tasks)
}
