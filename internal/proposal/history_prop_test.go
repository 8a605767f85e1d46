package proposal

import (
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Properties over random append sequences and arena configurations:
// the ring never exceeds its capacity, retained entries are always the
// newest suffix in order, and no entry older than the TTL survives a write.
func TestArenaProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	properties.Property("ring never exceeds capacity and keeps newest suffix",
		prop.ForAll(
			func(capacity int, appends int) bool {
				a := NewArena(capacity, time.Hour)
				for i := 0; i < appends; i++ {
					a.Append(Entry{TaskID: "t", Detail: fmt.Sprintf("%d", i)})
				}
				got := a.Entries("t")
				if len(got) > capacity {
					return false
				}
				want := appends
				if want > capacity {
					want = capacity
				}
				if len(got) != want {
					return false
				}
				// Retained entries are the newest ones, oldest first.
				first := appends - want
				for i, e := range got {
					if e.Detail != fmt.Sprintf("%d", first+i) {
						return false
					}
				}
				return true
			},
			gen.IntRange(1, 60),
			gen.IntRange(0, 150),
		))

	properties.Property("no task older than the TTL survives a write",
		prop.ForAll(
			func(ttlSecs int, gaps []int) bool {
				ttl := time.Duration(ttlSecs) * time.Second
				a := NewArena(100, ttl)

				clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
				a.SetClock(func() time.Time { return clock })

				lastWrite := map[string]time.Time{}
				for i, gap := range gaps {
					clock = clock.Add(time.Duration(gap) * time.Second)
					task := fmt.Sprintf("task-%d", i%4)
					a.Append(Entry{TaskID: task})
					lastWrite[task] = clock

					// After every write: stale tasks are gone, fresh
					// tasks are still here.
					for other, at := range lastWrite {
						stale := clock.Sub(at) > ttl
						alive := len(a.Entries(other)) > 0
						if stale == alive {
							return false
						}
					}
				}
				return true
			},
			gen.IntRange(1, 600),
			gen.SliceOfN(40, gen.IntRange(0, 400)),
		))

	properties.TestingRun(t)
}
