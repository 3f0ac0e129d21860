package runtime

import (
	"testing"

	"github.com/jade-gate/jadegate/internal/domain/policy"
)

func TestSessionCounters(t *testing.T) {
	s := NewSession(policy.Default(), nil, nil, nil)

	s.BeforeCall("search", map[string]interface{}{})
	s.BeforeCall("shell_exec", map[string]interface{}{}) // blocked
	s.BeforeCall("git_push", map[string]interface{}{})   // needs approval

	status := s.GetStatus()
	if status.TotalCalls != 3 {
		t.Errorf("total = %d, want 3", status.TotalCalls)
	}
	if status.BlockedCalls != 2 {
		t.Errorf("blocked = %d, want 2 (deny and approval both count)", status.BlockedCalls)
	}
	if status.BlockRate != 0.667 {
		t.Errorf("block rate = %v, want 0.667", status.BlockRate)
	}
	if status.DAGDepth != 3 {
		t.Errorf("dag depth = %d, want 3", status.DAGDepth)
	}
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	s := NewSession(policy.Default(), nil, nil, nil)
	s.BeforeCall("search", map[string]interface{}{})

	first := s.Close()
	if !first.Closed {
		t.Error("status should report closed")
	}
	second := s.Close()
	if second.TotalCalls != first.TotalCalls {
		t.Error("second close changed counters")
	}
}

func TestClosedSessionDeniesWithoutGraphAppend(t *testing.T) {
	s := NewSession(policy.Default(), nil, nil, nil)
	s.BeforeCall("search", map[string]interface{}{})
	s.Close()

	res := s.BeforeCall("search", map[string]interface{}{})
	if res.Verdict != VerdictDeny {
		t.Fatalf("verdict = %s, want deny after close", res.Verdict)
	}
	if res.CallID != "closed" {
		t.Errorf("call id = %q, want closed sentinel", res.CallID)
	}

	status := s.GetStatus()
	if status.DAGDepth != 1 {
		t.Errorf("dag depth = %d, closed call must not touch the graph", status.DAGDepth)
	}
	if status.TotalCalls != 1 {
		t.Errorf("total = %d, closed call must not count", status.TotalCalls)
	}
}

func TestSessionAfterCallFeedsBreaker(t *testing.T) {
	pol := policy.Default()
	pol.BreakerThreshold = 2
	s := NewSession(pol, nil, nil, nil)

	for n := 0; n < 2; n++ {
		res := s.BeforeCall("flaky", map[string]interface{}{})
		if !res.Allowed() {
			t.Fatalf("call %d denied: %v", n, res.Reasons)
		}
		s.AfterCall(res.CallID, false, 0, "boom")
	}

	res := s.BeforeCall("flaky", map[string]interface{}{})
	if res.Verdict != VerdictDeny {
		t.Fatal("breaker should be open after threshold failures")
	}
	if !reasonsContain(res.Reasons, "circuit") && !reasonsContain(res.Reasons, "Circuit") {
		t.Errorf("reasons = %v, want a circuit reason", res.Reasons)
	}
}

func TestSessionDefaultsPolicy(t *testing.T) {
	s := NewSession(nil, nil, nil, nil)
	if s.Policy() == nil {
		t.Fatal("nil policy should fall back to defaults")
	}
	if !s.Policy().IsActionBlocked("shell_exec") {
		t.Error("default policy expected")
	}
}

func TestSessionAnomaliesExposed(t *testing.T) {
	s := NewSession(policy.Default(), nil, nil, nil)
	s.BeforeCall("file_read", map[string]interface{}{"path": "/tmp/x"})
	s.BeforeCall("http_post", map[string]interface{}{})

	if len(s.Anomalies()) == 0 {
		t.Error("exfiltration anomaly should be visible on the session")
	}
	if s.GetStatus().Anomalies == 0 {
		t.Error("status should count anomalies")
	}
}
