package shutdown

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Func is a cleanup hook. It should honour the deadline on ctx.
type Func func(ctx context.Context) error

// Hook priorities used by the server. Lower runs first.
const (
	PriorityHTTP       = 10
	PriorityGeneration = 20
	PriorityHistory    = 30
	PriorityFiles      = 40
	PriorityLogs       = 90
)

type hook struct {
	name     string
	priority int
	fn       Func
	seq      int
}

// registry holds hooks ordered by priority, then registration order.
type registry struct {
	mu     sync.Mutex
	hooks  []hook
	closed bool
}

func (r *registry) add(name string, priority int, fn Func) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || fn == nil {
		return false
	}
	r.hooks = append(r.hooks, hook{name: name, priority: priority, fn: fn, seq: len(r.hooks)})
	return true
}

func (r *registry) ordered() []hook {
	sorted := append([]hook(nil), r.hooks...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].priority < sorted[j].priority
	})
	return sorted
}

func (r *registry) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var names []string
	for _, h := range r.ordered() {
		names = append(names, h.name)
	}
	return names
}

// run calls every hook once, even after failures, and joins the errors.
func (r *registry) run(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	hooks := r.ordered()
	r.mu.Unlock()

	var errs []error
	for _, h := range hooks {
		if err := h.fn(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", h.name, err))
		}
	}
	return errors.Join(errs...)
}
