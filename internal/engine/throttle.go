package engine

import (
	"context"
	"sync"
	"time"
)

// ThrottleWindow is the rolling window over which optimizer runs are counted.
const ThrottleWindow = time.Hour

// Reservation is the answer to a request for one optimizer run.
type Reservation struct {
	Allowed bool
	// Count is the number of runs inside the window after this request.
	Count int
	// RetryAt is when the oldest run leaves the window. Zero when allowed.
	RetryAt time.Time
}

// Throttle caps optimizer runs per key over a rolling ThrottleWindow. A run at
// time t counts for every instant in [t, t+ThrottleWindow).
type Throttle interface {
	Reserve(ctx context.Context, key string, now time.Time, limit int) Reservation
	Count(ctx context.Context, key string, now time.Time) int
}

// MemoryThrottle keeps run times in process.
type MemoryThrottle struct {
	mu   sync.Mutex
	runs map[string][]time.Time
}

func NewMemoryThrottle() *MemoryThrottle {
	return &MemoryThrottle{runs: make(map[string][]time.Time)}
}

func (t *MemoryThrottle) Reserve(_ context.Context, key string, now time.Time, limit int) Reservation {
	t.mu.Lock()
	defer t.mu.Unlock()

	runs := t.prune(key, now)
	if len(runs) < limit {
		runs = append(runs, now)
		t.runs[key] = runs
		return Reservation{Allowed: true, Count: len(runs)}
	}
	res := Reservation{Count: len(runs)}
	if len(runs) > 0 {
		res.RetryAt = runs[0].Add(ThrottleWindow)
	} else {
		res.RetryAt = now.Add(ThrottleWindow)
	}
	return res
}

func (t *MemoryThrottle) Count(_ context.Context, key string, now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.prune(key, now))
}

// prune drops runs that left the window; the caller holds mu.
func (t *MemoryThrottle) prune(key string, now time.Time) []time.Time {
	runs := t.runs[key]
	cutoff := now.Add(-ThrottleWindow)
	i := 0
	for i < len(runs) && !runs[i].After(cutoff) {
		i++
	}
	runs = runs[i:]
	if len(runs) == 0 {
		delete(t.runs, key)
		return nil
	}
	t.runs[key] = runs
	return runs
}

// Forget drops all history for key.
func (t *MemoryThrottle) Forget(key string) {
	t.mu.Lock()
	delete(t.runs, key)
	t.mu.Unlock()
}
