// Package ratelimit implements a per-key sliding-window request limiter.
// It is used twice in the service: once per client IP on the ingress path
// and once with a single global key to bound calls to the analysis
// provider.
package ratelimit

import (
	"sync"
	"time"
)

// purgeEvery controls how often Allow sweeps idle keys out of the state
// map. Sweeping stays off the hot path for most calls.
const purgeEvery = 256

// Decision is the outcome of a single Allow call. RetryAfter is only
// meaningful when Allowed is false: it is the time until the oldest
// retained timestamp leaves the window, freeing one slot.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

type keyState struct {
	mu    sync.Mutex
	times []time.Time
	// dead is set by the purge sweep after the state is unlinked from the
	// map; holders that raced the sweep must re-fetch.
	dead bool
}

// Limiter counts requests per key over a rolling window. Different keys do
// not contend: the shared mutex only guards map membership, and the
// check-and-append for a key runs under that key's own lock. Trimming is
// lazy, performed on access; no background goroutine is required.
type Limiter struct {
	limit  int
	window time.Duration

	mu   sync.Mutex
	keys map[string]*keyState
	ops  int

	now func() time.Time
}

// New creates a limiter allowing limit requests per window for each key.
func New(limit int, window time.Duration) *Limiter {
	if limit < 1 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{
		limit:  limit,
		window: window,
		keys:   make(map[string]*keyState),
		now:    time.Now,
	}
}

// Allow performs the atomic trim/check/append for key. At most limit calls
// within any window-sized span are admitted; the first denied call and all
// subsequent ones within the span carry a positive RetryAfter.
func (l *Limiter) Allow(key string) Decision {
	now := l.now()

	var state *keyState
	for {
		state = l.state(key)
		state.mu.Lock()
		if !state.dead {
			break
		}
		state.mu.Unlock()
	}
	defer state.mu.Unlock()

	cutoff := now.Add(-l.window)
	state.times = trim(state.times, cutoff)

	if len(state.times) >= l.limit {
		oldest := state.times[0]
		retry := oldest.Add(l.window).Sub(now)
		if retry <= 0 {
			retry = time.Millisecond
		}
		return Decision{Allowed: false, Remaining: 0, RetryAfter: retry}
	}

	state.times = append(state.times, now)
	return Decision{Allowed: true, Remaining: l.limit - len(state.times)}
}

// Limit returns the configured per-window request budget.
func (l *Limiter) Limit() int { return l.limit }

// Window returns the configured window length.
func (l *Limiter) Window() time.Duration { return l.window }

// Keys returns the number of tracked keys, mainly for tests and debugging.
func (l *Limiter) Keys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys)
}

func (l *Limiter) state(key string) *keyState {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.ops++
	if l.ops >= purgeEvery {
		l.ops = 0
		l.purgeLocked()
	}

	state, ok := l.keys[key]
	if !ok {
		state = &keyState{}
		l.keys[key] = state
	}
	return state
}

// purgeLocked drops keys whose every timestamp has aged out, bounding
// memory to (active keys) x limit. Caller holds l.mu; key locks are taken
// with TryLock so a busy key is simply skipped until the next sweep.
func (l *Limiter) purgeLocked() {
	cutoff := l.now().Add(-l.window)
	for key, state := range l.keys {
		if !state.mu.TryLock() {
			continue
		}
		state.times = trim(state.times, cutoff)
		if len(state.times) == 0 {
			state.dead = true
			delete(l.keys, key)
		}
		state.mu.Unlock()
	}
}

func trim(times []time.Time, cutoff time.Time) []time.Time {
	idx := 0
	for idx < len(times) && times[idx].Before(cutoff) {
		idx++
	}
	if idx == 0 {
		return times
	}
	remaining := times[idx:]
	// Reslice in place so the backing array does not grow without bound.
	copy(times, remaining)
	return times[:len(remaining)]
}
