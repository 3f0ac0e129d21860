package runtime

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jade-gate/jadegate/internal/domain/breaker"
	"github.com/jade-gate/jadegate/internal/domain/dag"
	"github.com/jade-gate/jadegate/internal/domain/policy"
)

// Status is a read-only session snapshot.
type Status struct {
	SessionID    string                    `json:"session_id"`
	UptimeSec    float64                   `json:"uptime_sec"`
	TotalCalls   int                       `json:"total_calls"`
	BlockedCalls int                       `json:"blocked_calls"`
	BlockRate    float64                   `json:"block_rate"`
	DAGDepth     int                       `json:"dag_depth"`
	Anomalies    int                       `json:"anomalies"`
	Breakers     map[string]breaker.Status `json:"circuit_breakers"`
	Closed       bool                      `json:"closed"`
}

// Session is the security context for one agent conversation. It owns a
// call graph, a breaker map, and an interceptor, and shares an immutable
// policy. All mutable state sits behind one lock: the graph's sequential
// edge chain then faithfully reflects causal request order.
type Session struct {
	mu sync.Mutex

	id          string
	policy      *policy.Policy
	graph       *dag.CallGraph
	breaker     *breaker.Breaker
	interceptor *Interceptor

	createdAt    time.Time
	callCount    int
	blockedCount int
	closed       bool

	log *slog.Logger
}

// NewSession builds a session over the given policy. rules and sink may be
// nil.
func NewSession(pol *policy.Policy, rules RuleEvaluator, sink AuditSink, log *slog.Logger) *Session {
	if pol == nil {
		pol = policy.Default()
	}
	if log == nil {
		log = slog.Default()
	}
	graph := dag.New(pol.MaxCallDepth)
	brk := breaker.New(pol.BreakerThreshold, time.Duration(pol.BreakerTimeoutSec)*time.Second, log)

	s := &Session{
		id:          uuid.NewString()[:16],
		policy:      pol,
		graph:       graph,
		breaker:     brk,
		interceptor: NewInterceptor(pol, graph, brk, rules, sink, log),
		createdAt:   time.Now(),
		log:         log,
	}
	log.Info("session created", "session_id", s.id)
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Policy returns the session's shared policy.
func (s *Session) Policy() *policy.Policy {
	return s.policy
}

// Breaker exposes the session's breaker for operator commands.
func (s *Session) Breaker() *breaker.Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.breaker
}

// BeforeCall evaluates a tool call. After Close every call is denied
// without touching the call graph.
func (s *Session) BeforeCall(toolName string, params map[string]interface{}) InterceptResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return InterceptResult{
			Verdict:   VerdictDeny,
			CallID:    "closed",
			ToolName:  toolName,
			Reasons:   []string{"Session is closed"},
			RiskLevel: "high",
		}
	}

	result := s.interceptor.BeforeCall(toolName, params)
	s.callCount++
	if !result.Allowed() {
		s.blockedCount++
	}
	return result
}

// AfterCall records a completed call's outcome. No-op after Close.
func (s *Session) AfterCall(callID string, success bool, durationMs float64, errorMessage string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.interceptor.AfterCall(callID, success, durationMs, errorMessage)
}

// Anomalies returns every anomaly recorded this session.
func (s *Session) Anomalies() []dag.Anomaly {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.graph.Anomalies()
}

// AuditLog returns the session audit log.
func (s *Session) AuditLog() []AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interceptor.AuditLog()
}

// GetStatus returns a read-only snapshot of the session.
func (s *Session) GetStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

func (s *Session) statusLocked() Status {
	total := s.callCount
	denom := total
	if denom == 0 {
		denom = 1
	}
	return Status{
		SessionID:    s.id,
		UptimeSec:    math.Round(time.Since(s.createdAt).Seconds()*10) / 10,
		TotalCalls:   total,
		BlockedCalls: s.blockedCount,
		BlockRate:    math.Round(float64(s.blockedCount)/float64(denom)*1000) / 1000,
		DAGDepth:     s.graph.Depth(),
		Anomalies:    len(s.graph.Anomalies()),
		Breakers:     s.breaker.Status(),
		Closed:       s.closed,
	}
}

// Close marks the session closed and returns the final status. Idempotent.
func (s *Session) Close() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.log.Info("session closed",
			"session_id", s.id,
			"calls", s.callCount,
			"blocked", s.blockedCount,
			"anomalies", len(s.graph.Anomalies()))
	}
	return s.statusLocked()
}
