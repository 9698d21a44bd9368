package ratelimit

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestAllowSequenceWithinWindow(t *testing.T) {
	base := time.Now()
	clock := base
	l := New(2, 60*time.Second)
	l.now = func() time.Time { return clock }

	var got []bool
	for i := 0; i < 3; i++ {
		clock = base.Add(time.Duration(i) * 300 * time.Millisecond)
		got = append(got, l.Allow("1.2.3.4").Allowed)
	}

	want := []bool{true, true, false}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("call %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestDeniedCarriesRetryAfter(t *testing.T) {
	base := time.Now()
	clock := base
	l := New(1, 10*time.Second)
	l.now = func() time.Time { return clock }

	if d := l.Allow("k"); !d.Allowed {
		t.Fatalf("first call should be allowed")
	}

	clock = base.Add(3 * time.Second)
	d := l.Allow("k")
	if d.Allowed {
		t.Fatalf("second call within window should be denied")
	}
	if d.RetryAfter != 7*time.Second {
		t.Fatalf("retry-after = %s, want 7s", d.RetryAfter)
	}
}

func TestWindowSlidesOpen(t *testing.T) {
	base := time.Now()
	clock := base
	l := New(1, time.Second)
	l.now = func() time.Time { return clock }

	if !l.Allow("k").Allowed {
		t.Fatalf("first call denied")
	}
	clock = base.Add(1100 * time.Millisecond)
	if !l.Allow("k").Allowed {
		t.Fatalf("call after window elapsed should be allowed")
	}
}

func TestKeysAreIndependent(t *testing.T) {
	l := New(1, time.Minute)

	if !l.Allow("a").Allowed {
		t.Fatalf("key a first call denied")
	}
	if l.Allow("a").Allowed {
		t.Fatalf("key a second call allowed")
	}
	if !l.Allow("b").Allowed {
		t.Fatalf("key b should have its own budget")
	}
}

func TestConcurrentAllowNeverOverAdmits(t *testing.T) {
	const limit = 25
	const callers = 100
	l := New(limit, time.Minute)

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow("shared").Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != limit {
		t.Fatalf("allowed %d of %d calls, want exactly %d", allowed, callers, limit)
	}
}

func TestIdleKeysArePurged(t *testing.T) {
	base := time.Now()
	clock := base
	l := New(5, time.Second)
	l.now = func() time.Time { return clock }

	for i := 0; i < 10; i++ {
		l.Allow(fmt.Sprintf("key-%d", i))
	}
	if l.Keys() != 10 {
		t.Fatalf("expected 10 tracked keys, got %d", l.Keys())
	}

	clock = base.Add(5 * time.Second)
	// Drive enough accesses on a single live key to trigger the sweep.
	for i := 0; i < purgeEvery+1; i++ {
		l.Allow("live")
	}
	if keys := l.Keys(); keys != 1 {
		t.Fatalf("expected only the live key after purge, got %d", keys)
	}
}
