// Package limiter bounds the rate of mutating requests per caller key
// using a sliding time window.
package limiter

import (
	"context"
	"sync"
	"time"
)

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed bool
	// RetryAfter is how long the caller must wait before the next
	// request can be admitted. Zero when Allowed.
	RetryAfter time.Duration
}

type entry struct {
	times    []time.Time // admitted request timestamps, oldest first
	lastSeen time.Time
}

// Window is a sliding-window rate limiter. Capacity and window length
// are fixed at construction; per-key state lives in memory for the
// life of the process.
type Window struct {
	mu      sync.Mutex
	entries map[string]*entry

	capacity     int
	window       time.Duration
	idleTTL      time.Duration
	cleanupEvery time.Duration
}

type Option func(*Window)

// WithIdleTTL sets how long an unused key is kept before Cleanup drops it.
func WithIdleTTL(d time.Duration) Option {
	return func(w *Window) { w.idleTTL = d }
}

// WithCleanupEvery sets the janitor period. Zero disables the janitor.
func WithCleanupEvery(d time.Duration) Option {
	return func(w *Window) { w.cleanupEvery = d }
}

// NewWindow builds a limiter admitting at most capacity requests per
// key within any trailing window.
func NewWindow(capacity int, window time.Duration, opts ...Option) *Window {
	w := &Window{
		entries:      make(map[string]*entry),
		capacity:     capacity,
		window:       window,
		idleTTL:      15 * time.Minute,
		cleanupEvery: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Window) Capacity() int { return w.capacity }

func (w *Window) WindowLength() time.Duration { return w.window }

// CheckAndRecord decides whether a request for key at time now is
// admitted, and records it if so. Admission depends only on timestamps
// in (now-window, now]: a timestamp exactly one window old is expired.
// The check and the record happen under one lock, so two concurrent
// callers can never both take the last remaining slot.
func (w *Window) CheckAndRecord(key string, now time.Time) Decision {
	cutoff := now.Add(-w.window)

	w.mu.Lock()
	defer w.mu.Unlock()

	ent, ok := w.entries[key]
	if !ok {
		ent = &entry{}
		w.entries[key] = ent
	}
	ent.lastSeen = now

	// Drop expired timestamps. The bound is exclusive: ts == cutoff is out.
	keep := ent.times[:0]
	for _, ts := range ent.times {
		if ts.After(cutoff) {
			keep = append(keep, ts)
		}
	}
	ent.times = keep

	if len(ent.times) < w.capacity {
		ent.times = append(ent.times, now)
		return Decision{Allowed: true}
	}

	// The window frees up when the oldest retained timestamp expires.
	retry := ent.times[0].Add(w.window).Sub(now)
	if retry <= 0 {
		retry = time.Nanosecond
	}
	return Decision{Allowed: false, RetryAfter: retry}
}

// Cleanup drops keys that have not been seen within the idle TTL.
func (w *Window) Cleanup() {
	cutoff := time.Now().Add(-w.idleTTL)

	w.mu.Lock()
	defer w.mu.Unlock()

	for k, ent := range w.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(w.entries, k)
		}
	}
}

// StartJanitor runs Cleanup periodically until ctx is done.
func (w *Window) StartJanitor(ctx context.Context) {
	if w.cleanupEvery <= 0 {
		return
	}

	t := time.NewTicker(w.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				w.Cleanup()
			}
		}
	}()
}
