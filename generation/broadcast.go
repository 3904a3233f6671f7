package generation

import (
	"context"
	"sync"
)

// Hub fans values out to any number of subscribers. Each subscriber has
// its own unbounded buffer, so a slow consumer never blocks Publish and
// every subscriber sees every value in publish order.
type Hub[T any] struct {
	mu     sync.Mutex
	subs   map[uint64]*subscriber[T]
	nextID uint64
	closed bool
}

type subscriber[T any] struct {
	mu      sync.Mutex
	pending []T
	closed  bool
	notify  chan struct{}
	out     chan T
}

// NewHub creates an empty hub.
func NewHub[T any]() *Hub[T] {
	return &Hub[T]{subs: make(map[uint64]*subscriber[T])}
}

// Subscribe registers a subscriber and returns its channel. Any initial
// values are delivered before anything published afterwards. The channel
// is closed when ctx is done or the hub is closed; the subscription
// unregisters itself at that point.
func (h *Hub[T]) Subscribe(ctx context.Context, initial ...T) <-chan T {
	sub := &subscriber[T]{
		pending: append([]T(nil), initial...),
		notify:  make(chan struct{}, 1),
		out:     make(chan T),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(sub.out)
		return sub.out
	}
	id := h.nextID
	h.nextID++
	h.subs[id] = sub
	h.mu.Unlock()

	go sub.run(ctx, func() { h.remove(id) })
	return sub.out
}

// Publish queues v for every current subscriber.
func (h *Hub[T]) Publish(v T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		sub.push(v)
	}
}

// Len returns the number of live subscribers.
func (h *Hub[T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close ends every subscription after its buffered values are delivered.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subs {
		sub.close()
		delete(h.subs, id)
	}
}

func (h *Hub[T]) remove(id uint64) {
	h.mu.Lock()
	delete(h.subs, id)
	h.mu.Unlock()
}

func (s *subscriber[T]) push(v T) {
	s.mu.Lock()
	if !s.closed {
		s.pending = append(s.pending, v)
	}
	s.mu.Unlock()
	s.wake()
}

func (s *subscriber[T]) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wake()
}

func (s *subscriber[T]) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *subscriber[T]) run(ctx context.Context, unregister func()) {
	defer close(s.out)
	defer unregister()

	var zero T
	for {
		s.mu.Lock()
		if len(s.pending) == 0 {
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return
			}
			select {
			case <-s.notify:
				continue
			case <-ctx.Done():
				return
			}
		}
		v := s.pending[0]
		s.pending[0] = zero
		s.pending = s.pending[1:]
		s.mu.Unlock()

		select {
		case s.out <- v:
		case <-ctx.Done():
			return
		}
	}
}
