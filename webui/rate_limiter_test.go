package webui

import (
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(clock *fakeClock) *RateLimiter {
	rl := NewRateLimiter(3, time.Minute, 5*time.Minute)
	rl.now = clock.now
	return rl
}

func TestRateLimiterBlocksAfterMaxAttempts(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	rl := newTestLimiter(clock)
	const ip = "10.0.0.1"

	for i := 1; i <= 2; i++ {
		rl.RecordAttempt(ip)
		if ok, _ := rl.Allow(ip); !ok {
			t.Fatalf("blocked after %d attempts", i)
		}
	}
	rl.RecordAttempt(ip)

	ok, remaining := rl.Allow(ip)
	if ok {
		t.Fatal("Allow() = true after max attempts")
	}
	if remaining != 5*time.Minute {
		t.Errorf("remaining = %v, want 5m", remaining)
	}

	clock.advance(4 * time.Minute)
	if ok, remaining := rl.Allow(ip); ok || remaining != time.Minute {
		t.Errorf("Allow() = %v, %v, want false, 1m", ok, remaining)
	}

	clock.advance(time.Minute)
	if ok, _ := rl.Allow(ip); !ok {
		t.Error("still blocked after block period")
	}
	if n := rl.AttemptCount(ip); n != 0 {
		t.Errorf("AttemptCount() = %d after block lifted, want 0", n)
	}
}

func TestRateLimiterWindowExpiry(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	rl := newTestLimiter(clock)
	const ip = "10.0.0.2"

	rl.RecordAttempt(ip)
	rl.RecordAttempt(ip)
	clock.advance(time.Minute)
	rl.RecordAttempt(ip)

	if ok, _ := rl.Allow(ip); !ok {
		t.Error("blocked although earlier attempts fell out of the window")
	}
	if n := rl.AttemptCount(ip); n != 1 {
		t.Errorf("AttemptCount() = %d, want 1", n)
	}
}

func TestRateLimiterIsolatesIPs(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	rl := newTestLimiter(clock)

	for range 3 {
		rl.RecordAttempt("a")
	}
	if ok, _ := rl.Allow("a"); ok {
		t.Error("a not blocked")
	}
	if ok, _ := rl.Allow("b"); !ok {
		t.Error("b blocked by a's failures")
	}

	rl.Reset("a")
	if ok, _ := rl.Allow("a"); !ok {
		t.Error("a still blocked after Reset")
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	rl := newTestLimiter(clock)

	rl.RecordAttempt("stale")
	for range 3 {
		rl.RecordAttempt("blocked")
	}
	clock.advance(2 * time.Minute)
	rl.RecordAttempt("fresh")

	if removed := rl.Cleanup(); removed != 1 {
		t.Errorf("Cleanup() removed %d, want 1", removed)
	}
	if n := rl.AttemptCount("blocked"); n != 3 {
		t.Errorf("blocked count = %d, want 3", n)
	}
	if n := rl.AttemptCount("fresh"); n != 1 {
		t.Errorf("fresh count = %d, want 1", n)
	}
}
