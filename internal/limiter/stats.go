package limiter

import (
	"context"
	"sync"
	"time"
)

// Event records one admission decision.
//
// Op is a generic operation label, not an HTTP route; keep cardinality
// in mind before tracking raw keys in a shared backend.
type Event struct {
	Key     string
	Allowed bool
	Op      string
	At      time.Time
}

// StatsStore persists admission decisions. Implementations are
// best-effort: callers must not fail a request on a Record error.
type StatsStore interface {
	Record(ctx context.Context, ev Event) error
}

// MultiStats fans one event out to several sinks. Errors from earlier
// sinks do not stop later ones; the first error is returned.
type MultiStats []StatsStore

func (m MultiStats) Record(ctx context.Context, ev Event) error {
	var first error
	for _, s := range m {
		if err := s.Record(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Counters holds allowed/denied totals.
type Counters struct {
	Allowed int64 `json:"allowed"`
	Denied  int64 `json:"denied"`
}

// MemoryStats is the in-process StatsStore. It never expires entries,
// which is fine for a process-lifetime service and for tests.
type MemoryStats struct {
	mu    sync.Mutex
	total Counters
	byOp  map[string]Counters
	byKey map[string]Counters

	trackKeys bool
}

type MemoryStatsOption func(*MemoryStats)

// WithTrackKeys enables per-key counters.
func WithTrackKeys(track bool) MemoryStatsOption {
	return func(s *MemoryStats) { s.trackKeys = track }
}

func NewMemoryStats(opts ...MemoryStatsOption) *MemoryStats {
	s := &MemoryStats{
		byOp:  make(map[string]Counters),
		byKey: make(map[string]Counters),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStats) Record(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bump := func(c *Counters) {
		if ev.Allowed {
			c.Allowed++
		} else {
			c.Denied++
		}
	}

	bump(&s.total)

	c := s.byOp[ev.Op]
	bump(&c)
	s.byOp[ev.Op] = c

	if s.trackKeys {
		k := s.byKey[ev.Key]
		bump(&k)
		s.byKey[ev.Key] = k
	}
	return nil
}

func (s *MemoryStats) Total() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

func (s *MemoryStats) ByOp() map[string]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Counters, len(s.byOp))
	for k, v := range s.byOp {
		out[k] = v
	}
	return out
}

func (s *MemoryStats) ByKey() map[string]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Counters, len(s.byKey))
	for k, v := range s.byKey {
		out[k] = v
	}
	return out
}
