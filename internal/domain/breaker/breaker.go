// Package breaker isolates failing tools with a per-tool three-state
// circuit breaker. After a run of consecutive failures calls to the tool are
// shed; once a cooldown passes a single probe call is let through.
package breaker

import (
	"log/slog"
	"time"
)

// State of a single tool's breaker.
type State string

const (
	// StateClosed lets calls pass normally.
	StateClosed State = "closed"
	// StateOpen blocks all calls until the timeout elapses.
	StateOpen State = "open"
	// StateHalfOpen allows a single probe call to test recovery.
	StateHalfOpen State = "half_open"
)

// Status is a read-only snapshot of one tool's breaker.
type Status struct {
	State               State `json:"state"`
	ConsecutiveFailures int   `json:"failure_count"`
	SuccessCount        int   `json:"success_count"`
	TripCount           int   `json:"trip_count"`
}

type toolState struct {
	state           State
	failures        int
	successes       int
	lastFailureTime time.Time
	tripCount       int
}

// Breaker manages one breaker per tool name. A tool never seen before is
// CLOSED; its entry is allocated on first lookup.
//
// Not safe for concurrent use; the owning session serializes access.
type Breaker struct {
	threshold int
	timeout   time.Duration
	tools     map[string]*toolState
	now       func() time.Time
	log       *slog.Logger
}

// New returns a breaker manager that trips a tool after threshold
// consecutive failures and probes recovery after timeout.
func New(threshold int, timeout time.Duration, log *slog.Logger) *Breaker {
	if log == nil {
		log = slog.Default()
	}
	return &Breaker{
		threshold: threshold,
		timeout:   timeout,
		tools:     make(map[string]*toolState),
		now:       time.Now,
		log:       log,
	}
}

// SetClock replaces the wall clock, for tests.
func (b *Breaker) SetClock(now func() time.Time) {
	b.now = now
}

func (b *Breaker) get(tool string) *toolState {
	s, ok := b.tools[tool]
	if !ok {
		s = &toolState{state: StateClosed}
		b.tools[tool] = s
	}
	return s
}

// CanCall reports whether a call to the tool may proceed. An OPEN breaker
// whose cooldown has elapsed is promoted to HALF_OPEN here and the probe is
// permitted.
func (b *Breaker) CanCall(tool string) bool {
	s := b.get(tool)
	switch s.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Sub(s.lastFailureTime) >= b.timeout {
			s.state = StateHalfOpen
			b.log.Info("circuit breaker half-open, probe allowed", "tool", tool)
			return true
		}
		return false
	default: // HALF_OPEN: the single probe
		return true
	}
}

// RecordSuccess records a successful call. A HALF_OPEN breaker closes.
func (b *Breaker) RecordSuccess(tool string) {
	s := b.get(tool)
	s.successes++
	switch s.state {
	case StateHalfOpen:
		s.state = StateClosed
		s.failures = 0
		b.log.Info("circuit breaker closed, tool recovered", "tool", tool)
	case StateClosed:
		s.failures = 0
	}
}

// RecordFailure records a failed call and returns true if the breaker just
// tripped. A failed HALF_OPEN probe reopens immediately.
func (b *Breaker) RecordFailure(tool string) bool {
	s := b.get(tool)
	s.failures++
	s.lastFailureTime = b.now()

	if s.state == StateHalfOpen {
		s.state = StateOpen
		s.tripCount++
		b.log.Warn("circuit breaker open, probe failed", "tool", tool)
		return true
	}
	if s.state == StateClosed && s.failures >= b.threshold {
		s.state = StateOpen
		s.tripCount++
		b.log.Warn("circuit breaker open",
			"tool", tool, "consecutive_failures", s.failures)
		return true
	}
	return false
}

// Reset discards the breaker for one tool, returning it to CLOSED.
func (b *Breaker) Reset(tool string) {
	if _, ok := b.tools[tool]; ok {
		delete(b.tools, tool)
		b.log.Info("circuit breaker reset", "tool", tool)
	}
}

// ResetAll discards every breaker.
func (b *Breaker) ResetAll() {
	b.tools = make(map[string]*toolState)
}

// Status returns a snapshot of all known breakers. OPEN breakers past their
// cooldown are promoted to HALF_OPEN so the snapshot reflects callable state.
func (b *Breaker) Status() map[string]Status {
	out := make(map[string]Status, len(b.tools))
	for name, s := range b.tools {
		if s.state == StateOpen && b.now().Sub(s.lastFailureTime) >= b.timeout {
			s.state = StateHalfOpen
		}
		out[name] = Status{
			State:               s.state,
			ConsecutiveFailures: s.failures,
			SuccessCount:        s.successes,
			TripCount:           s.tripCount,
		}
	}
	return out
}
