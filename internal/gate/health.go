package gate

// HistorySizer reports aggregate proposal-history size. Implemented by the
// proposal history arena.
type HistorySizer interface {
	Size() (totalEntries, taskCount int)
}

// Health is a read-only operational snapshot for dashboards. Collecting it
// has no side effects.
type Health struct {
	ReducerBound bool   `json:"reducer_bound"`
	Endpoint     string `json:"endpoint,omitempty"`
	TotalEntries int    `json:"total_entries"`
	TaskCount    int    `json:"task_count"`
}

// Snapshot assembles a health view from a binding and an optional history
// sizer.
func Snapshot(b *Binding, history HistorySizer) Health {
	h := Health{}
	if b != nil {
		if client, ok := b.Get(); ok {
			h.ReducerBound = true
			h.Endpoint = client.Endpoint()
		}
	}
	if history != nil {
		h.TotalEntries, h.TaskCount = history.Size()
	}
	return h
}
