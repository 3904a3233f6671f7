package db

import (
	"context"
	"sync"
	"time"
)

// DefaultChannelCapacity is the buffer size for queued writes.
const DefaultChannelCapacity = 100

// DefaultDrainTimeout bounds how long Stop waits for queued writes.
const DefaultDrainTimeout = 30 * time.Second

// WriteOperation is one queued statement.
type WriteOperation struct {
	Query     string
	Args      []any
	Timestamp time.Time

	barrier chan struct{}
}

// WriteHandler executes a queued operation. It handles its own errors.
type WriteHandler func(op WriteOperation) error

// AsyncWriter runs writes on a background goroutine so callers on the
// generation worker never wait on disk.
type AsyncWriter struct {
	writeChan chan WriteOperation
	handler   WriteHandler
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	mu        sync.Mutex
	started   bool
	stopped   bool
}

// NewAsyncWriter creates a writer with a buffer of capacity operations.
func NewAsyncWriter(handler WriteHandler, capacity int) *AsyncWriter {
	if capacity <= 0 {
		capacity = DefaultChannelCapacity
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &AsyncWriter{
		writeChan: make(chan WriteOperation, capacity),
		handler:   handler,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the background goroutine. Calling it again is a no-op.
func (w *AsyncWriter) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started || w.stopped {
		return
	}
	w.started = true
	w.wg.Add(1)
	go w.processWrites()
}

func (w *AsyncWriter) processWrites() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			w.drain()
			return
		case op := <-w.writeChan:
			w.run(op)
		}
	}
}

func (w *AsyncWriter) run(op WriteOperation) {
	if op.barrier != nil {
		close(op.barrier)
		return
	}
	_ = w.handler(op)
}

func (w *AsyncWriter) drain() {
	for {
		select {
		case op := <-w.writeChan:
			w.run(op)
		default:
			return
		}
	}
}

// Write queues a statement. It returns false when the buffer is full or
// the writer is stopped.
func (w *AsyncWriter) Write(query string, args ...any) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started || w.stopped {
		return false
	}
	select {
	case w.writeChan <- WriteOperation{Query: query, Args: args, Timestamp: time.Now()}:
		return true
	default:
		return false
	}
}

// Flush blocks until every operation queued before the call has run, or
// timeout passes.
func (w *AsyncWriter) Flush(timeout time.Duration) bool {
	w.mu.Lock()
	if !w.started || w.stopped {
		w.mu.Unlock()
		return w.Pending() == 0
	}
	w.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	barrier := make(chan struct{})
	select {
	case w.writeChan <- WriteOperation{barrier: barrier}:
	case <-timer.C:
		return false
	}
	select {
	case <-barrier:
		return true
	case <-timer.C:
		return false
	}
}

// Pending returns the number of queued operations.
func (w *AsyncWriter) Pending() int {
	return len(w.writeChan)
}

// Stop drains queued writes and stops the goroutine. It returns false if
// the drain did not finish within timeout.
func (w *AsyncWriter) Stop(timeout time.Duration) bool {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return true
	}
	w.stopped = true
	w.mu.Unlock()
	w.cancel()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// IsStarted reports whether Start was called.
func (w *AsyncWriter) IsStarted() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.started
}
