package generation

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// StatusKind is the active variant of a Status.
type StatusKind int

const (
	StatusReady StatusKind = iota
	StatusError
	StatusLoading
	StatusRunning
)

func (k StatusKind) String() string {
	switch k {
	case StatusReady:
		return "ready"
	case StatusError:
		return "error"
	case StatusLoading:
		return "loading"
	case StatusRunning:
		return "running"
	default:
		return fmt.Sprintf("StatusKind(%d)", int(k))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k StatusKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Progress is the step position of a running generation.
type Progress struct {
	Step      int `json:"step"`
	StepCount int `json:"step_count"`
}

// Fraction returns progress in [0, 1].
func (p Progress) Fraction() float64 {
	if p.StepCount <= 0 {
		return 0
	}
	f := float64(p.Step) / float64(p.StepCount)
	if f > 1 {
		return 1
	}
	return f
}

// Status is one of Ready(message), Error(message), Loading or Running(progress).
type Status struct {
	Kind     StatusKind `json:"kind"`
	Message  string     `json:"message,omitempty"`
	Progress *Progress  `json:"progress,omitempty"`
}

// Ready returns the idle status with an optional message.
func Ready(message string) Status { return Status{Kind: StatusReady, Message: message} }

// Error returns a surfaced, recoverable failure.
func Error(message string) Status { return Status{Kind: StatusError, Message: message} }

// Loading returns the status used while a heavy resource is prepared.
func Loading() Status { return Status{Kind: StatusLoading} }

// Running returns the inference status; progress may be nil until the first step.
func Running(progress *Progress) Status { return Status{Kind: StatusRunning, Progress: progress} }

// Idle reports whether no generation is loading or running.
func (s Status) Idle() bool { return s.Kind == StatusReady || s.Kind == StatusError }

func (s Status) String() string {
	switch s.Kind {
	case StatusRunning:
		if s.Progress != nil {
			return fmt.Sprintf("running(%d/%d)", s.Progress.Step, s.Progress.StepCount)
		}
		return "running"
	case StatusReady, StatusError:
		if s.Message != "" {
			return fmt.Sprintf("%s(%s)", s.Kind, s.Message)
		}
	}
	return s.Kind.String()
}

// StateEvent is published on every state change.
type StateEvent struct {
	Status          Status        `json:"status"`
	LastStepElapsed time.Duration `json:"last_step_elapsed,omitempty"`
}

// State is the process-wide observable generation status.
type State struct {
	mu              sync.RWMutex
	status          Status
	lastStepElapsed time.Duration
	hasElapsed      bool
	events          *Hub[StateEvent]
}

// NewState returns a State in Ready(nil).
func NewState() *State {
	return &State{status: Ready(""), events: NewHub[StateEvent]()}
}

// Status returns the current status.
func (s *State) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// LastStepElapsed returns the duration of the most recent step, if known.
func (s *State) LastStepElapsed() (time.Duration, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastStepElapsed, s.hasElapsed
}

// SetStatus replaces the status. Any status other than Running clears the
// last step duration.
func (s *State) SetStatus(status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
	if status.Kind != StatusRunning {
		s.lastStepElapsed = 0
		s.hasElapsed = false
	}
	s.events.Publish(s.eventLocked())
}

// SetProgress records a step and moves to Running(progress). A non-positive
// elapsed means the step duration is unknown.
func (s *State) SetProgress(progress Progress, elapsed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := progress
	s.status = Running(&p)
	s.lastStepElapsed = elapsed
	s.hasElapsed = elapsed > 0
	s.events.Publish(s.eventLocked())
}

// Subscribe streams state changes, starting with the current state.
func (s *State) Subscribe(ctx context.Context) <-chan StateEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.events.Subscribe(ctx, s.eventLocked())
}

// Close ends all state subscriptions.
func (s *State) Close() {
	s.events.Close()
}

func (s *State) eventLocked() StateEvent {
	ev := StateEvent{Status: s.status}
	if s.hasElapsed {
		ev.LastStepElapsed = s.lastStepElapsed
	}
	return ev
}
