package webui

import (
	"context"
	"sync"
	"time"
)

// attemptRecord counts failed attempts within a window.
type attemptRecord struct {
	count       int
	windowStart time.Time
	blockedAt   time.Time
}

// RateLimiter tracks failed authentication attempts per IP address.
// After maxAttempts failures inside window the IP is blocked for
// blockFor; a successful login resets it.
type RateLimiter struct {
	mu          sync.RWMutex
	attempts    map[string]attemptRecord
	maxAttempts int
	window      time.Duration
	blockFor    time.Duration
	now         func() time.Time
}

// NewRateLimiter creates a RateLimiter.
func NewRateLimiter(maxAttempts int, window, blockFor time.Duration) *RateLimiter {
	return &RateLimiter{
		attempts:    make(map[string]attemptRecord),
		maxAttempts: maxAttempts,
		window:      window,
		blockFor:    blockFor,
		now:         time.Now,
	}
}

// Allow reports whether ip may attempt authentication, and if not, how
// long until the block lifts.
func (r *RateLimiter) Allow(ip string) (bool, time.Duration) {
	r.mu.RLock()
	rec, ok := r.attempts[ip]
	r.mu.RUnlock()
	if !ok || rec.blockedAt.IsZero() {
		return true, 0
	}
	if remaining := rec.blockedAt.Add(r.blockFor).Sub(r.now()); remaining > 0 {
		return false, remaining
	}
	return true, 0
}

// RecordAttempt records a failed attempt for ip.
func (r *RateLimiter) RecordAttempt(ip string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	rec := r.attempts[ip]
	if r.expired(rec, now) {
		rec = attemptRecord{}
	}
	if rec.count == 0 {
		rec.windowStart = now
	}
	rec.count++
	if rec.count >= r.maxAttempts && rec.blockedAt.IsZero() {
		rec.blockedAt = now
	}
	r.attempts[ip] = rec
}

// expired reports whether rec no longer counts: its window passed without
// a block, or its block has lifted.
func (r *RateLimiter) expired(rec attemptRecord, now time.Time) bool {
	if rec.count == 0 {
		return true
	}
	if !rec.blockedAt.IsZero() {
		return !now.Before(rec.blockedAt.Add(r.blockFor))
	}
	return !now.Before(rec.windowStart.Add(r.window))
}

// Reset clears the record for ip.
func (r *RateLimiter) Reset(ip string) {
	r.mu.Lock()
	delete(r.attempts, ip)
	r.mu.Unlock()
}

// Cleanup drops expired records and returns how many were removed.
func (r *RateLimiter) Cleanup() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	removed := 0
	for ip, rec := range r.attempts {
		if r.expired(rec, now) {
			delete(r.attempts, ip)
			removed++
		}
	}
	return removed
}

// StartCleanupTicker runs Cleanup every interval until ctx is done.
func (r *RateLimiter) StartCleanupTicker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.Cleanup()
			}
		}
	}()
}

// AttemptCount returns the failures currently counted for ip.
func (r *RateLimiter) AttemptCount(ip string) int {
	r.mu.RLock()
	rec, ok := r.attempts[ip]
	r.mu.RUnlock()
	if !ok || r.expired(rec, r.now()) {
		return 0
	}
	return rec.count
}
