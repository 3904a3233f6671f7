package metrics

import (
	"context"
	"sync"
	"time"

	"mochi_backend/generation"
)

// DefaultHistory is how many finished requests Recent keeps.
const DefaultHistory = 100

type pipelineStats struct {
	requests      int64
	succeeded     int64
	failed        int64
	saved         int64
	totalDuration time.Duration
	stepCount     int64
	stepDuration  time.Duration
}

// Store is a generation.Observer that aggregates per-pipeline results and
// remembers the most recent requests in a ring.
type Store struct {
	mu sync.RWMutex

	recent []RequestRecord
	head   int
	size   int

	started map[string]time.Time
	current string
	stats   map[string]*pipelineStats

	startTime time.Time
	version   string
	now       func() time.Time
}

// NewStore returns an empty store keeping history finished requests.
func NewStore(history int, version string) *Store {
	if history < 1 {
		history = DefaultHistory
	}
	return &Store{
		recent:    make([]RequestRecord, history),
		started:   make(map[string]time.Time),
		stats:     make(map[string]*pipelineStats),
		startTime: time.Now(),
		version:   version,
		now:       time.Now,
	}
}

func (s *Store) statsFor(pipeline string) *pipelineStats {
	st, ok := s.stats[pipeline]
	if !ok {
		st = &pipelineStats{}
		s.stats[pipeline] = st
	}
	return st
}

// RequestStarted implements generation.Observer.
func (s *Store) RequestStarted(req generation.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started[req.ID] = s.now()
	s.current = req.Pipeline.Kind.String()
}

// RequestFinished implements generation.Observer.
func (s *Store) RequestFinished(req generation.Request, outcome generation.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	end := s.now()
	start, ok := s.started[req.ID]
	if !ok {
		start = end.Add(-outcome.Duration)
	}
	delete(s.started, req.ID)
	s.current = ""

	rec := RequestRecord{
		ID:        req.ID,
		Pipeline:  req.Pipeline.Kind.String(),
		Model:     req.Pipeline.DisplayName(),
		Status:    outcome.Status.Kind.String(),
		Message:   outcome.Status.Message,
		Images:    req.NumberOfImages,
		Saved:     outcome.Saved,
		Skipped:   outcome.Skipped,
		StartTime: start,
		EndTime:   end,
		Duration:  outcome.Duration,
	}
	s.recent[s.head] = rec
	s.head = (s.head + 1) % len(s.recent)
	if s.size < len(s.recent) {
		s.size++
	}

	st := s.statsFor(rec.Pipeline)
	st.requests++
	if rec.Succeeded() {
		st.succeeded++
	} else {
		st.failed++
	}
	st.saved += int64(outcome.Saved)
	st.totalDuration += outcome.Duration
}

// RecordStep adds one step duration to the running pipeline.
func (s *Store) RecordStep(elapsed time.Duration) {
	if elapsed <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == "" {
		return
	}
	st := s.statsFor(s.current)
	st.stepCount++
	st.stepDuration += elapsed
}

// ConsumeState records step timings from state events until the channel
// closes or ctx is done.
func (s *Store) ConsumeState(ctx context.Context, events <-chan generation.StateEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Status.Kind == generation.StatusRunning && ev.LastStepElapsed > 0 {
				s.RecordStep(ev.LastStepElapsed)
			}
		}
	}
}

// Recent returns up to limit finished requests, newest first.
func (s *Store) Recent(limit int) []RequestRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > s.size {
		limit = s.size
	}
	out := make([]RequestRecord, limit)
	n := len(s.recent)
	for i := 0; i < limit; i++ {
		out[i] = s.recent[(s.head-1-i+n)%n]
	}
	return out
}

// Pipeline returns aggregates for one pipeline kind.
func (s *Store) Pipeline(kind string) PipelineMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.stats[kind]
	if !ok {
		return PipelineMetrics{}
	}
	return st.snapshot()
}

func (st *pipelineStats) snapshot() PipelineMetrics {
	m := PipelineMetrics{
		Requests:     st.requests,
		Succeeded:    st.succeeded,
		Failed:       st.failed,
		ImagesSaved:  st.saved,
		StepsTracked: st.stepCount,
	}
	if st.requests > 0 {
		m.SuccessRate = float64(st.succeeded) / float64(st.requests) * 100
		m.AvgDuration = st.totalDuration / time.Duration(st.requests)
	}
	if st.saved > 0 {
		m.AvgPerImage = st.totalDuration / time.Duration(st.saved)
	}
	if st.stepCount > 0 {
		m.AvgStep = st.stepDuration / time.Duration(st.stepCount)
	}
	return m
}

// Summary returns totals, per-pipeline aggregates and the recent requests.
func (s *Store) Summary(recent int) Summary {
	records := s.Recent(recent)

	s.mu.RLock()
	defer s.mu.RUnlock()
	sum := Summary{
		Version:    s.version,
		Uptime:     s.now().Sub(s.startTime),
		InFlight:   len(s.started),
		ByPipeline: make(map[string]*PipelineMetrics, len(s.stats)),
		Recent:     records,
	}
	for kind, st := range s.stats {
		m := st.snapshot()
		sum.ByPipeline[kind] = &m
		sum.Requests += m.Requests
		sum.ImagesSaved += m.ImagesSaved
	}
	return sum
}

var _ generation.Observer = (*Store)(nil)
