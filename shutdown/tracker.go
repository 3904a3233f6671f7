// Package shutdown coordinates graceful shutdown of the server: it stops
// accepting API work, waits for in-flight handlers, then runs registered
// hooks in priority order.
package shutdown

import (
	"errors"
	"sync"
	"time"
)

// ErrShuttingDown is returned when work is submitted after shutdown began.
var ErrShuttingDown = errors.New("shutdown: server is shutting down")

// ErrWaitTimeout is returned when in-flight work outlives the wait.
var ErrWaitTimeout = errors.New("shutdown: in-flight operations did not finish in time")

// tracker counts in-flight operations. Once closed it refuses new ones.
type tracker struct {
	mu     sync.Mutex
	active int
	closed bool
	idle   chan struct{}
}

func newTracker() *tracker {
	idle := make(chan struct{})
	close(idle)
	return &tracker{idle: idle}
}

func (t *tracker) start() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	if t.active == 0 {
		t.idle = make(chan struct{})
	}
	t.active++
	return true
}

func (t *tracker) done() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active--
	if t.active == 0 {
		close(t.idle)
	}
}

func (t *tracker) close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
}

func (t *tracker) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

func (t *tracker) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// wait blocks until no operation is active or timeout passes.
func (t *tracker) wait(timeout time.Duration) error {
	t.mu.Lock()
	idle := t.idle
	t.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-idle:
		return nil
	case <-timer.C:
		return ErrWaitTimeout
	}
}
