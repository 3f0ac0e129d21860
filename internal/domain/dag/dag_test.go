package dag

import (
	"fmt"
	"testing"
	"time"
)

func newNode(id, tool string) *Node {
	return &Node{CallID: id, ToolName: tool, Timestamp: time.Now(), RiskLevel: "low"}
}

func addCalls(g *CallGraph, tools ...string) [][]Anomaly {
	var out [][]Anomaly
	for i, tool := range tools {
		out = append(out, g.AddCall(newNode(fmt.Sprintf("c%d", i), tool)))
	}
	return out
}

func hasKind(anomalies []Anomaly, kind Kind) bool {
	for _, a := range anomalies {
		if a.Kind == kind {
			return true
		}
	}
	return false
}

func TestSequentialEdges(t *testing.T) {
	g := New(20)
	addCalls(g, "a", "b", "c")

	edges := g.Edges()
	if len(edges) != 2 {
		t.Fatalf("edges = %d, want 2", len(edges))
	}
	if edges[0].From != "c0" || edges[0].To != "c1" {
		t.Errorf("edge[0] = %+v, want c0->c1", edges[0])
	}
	if edges[1].Type != "sequential" {
		t.Errorf("edge type = %q, want sequential", edges[1].Type)
	}
}

func TestDepthExceeded(t *testing.T) {
	g := New(3)
	results := addCalls(g, "a", "b", "c", "d")

	for i := 0; i < 3; i++ {
		if hasKind(results[i], KindDepthExceeded) {
			t.Errorf("call %d should not exceed depth", i)
		}
	}
	last := results[3]
	if !hasKind(last, KindDepthExceeded) {
		t.Fatal("fourth call should exceed depth 3")
	}
	for _, a := range last {
		if a.Kind == KindDepthExceeded && a.Severity != SeverityHigh {
			t.Errorf("depth severity = %s, want high", a.Severity)
		}
	}
}

func TestDataExfiltration(t *testing.T) {
	g := New(20)
	results := addCalls(g, "file_read", "http_post")

	if hasKind(results[0], KindDataExfiltration) {
		t.Error("read alone should not flag exfiltration")
	}
	if !hasKind(results[1], KindDataExfiltration) {
		t.Fatal("read then send should flag exfiltration")
	}
	for _, a := range results[1] {
		if a.Kind != KindDataExfiltration {
			continue
		}
		if a.Severity != SeverityCritical {
			t.Errorf("severity = %s, want critical", a.Severity)
		}
		if len(a.InvolvedCalls) != 2 {
			t.Errorf("involved = %v, want read + send", a.InvolvedCalls)
		}
	}
}

func TestDataExfiltrationCitesLastThreeReads(t *testing.T) {
	g := New(20)
	results := addCalls(g, "read", "read", "read", "read", "email_send")

	last := results[4]
	if !hasKind(last, KindDataExfiltration) {
		t.Fatal("expected exfiltration anomaly")
	}
	for _, a := range last {
		if a.Kind == KindDataExfiltration && len(a.InvolvedCalls) != 4 {
			t.Errorf("involved = %v, want last 3 reads + sender", a.InvolvedCalls)
		}
	}
}

func TestSendWithoutPriorRead(t *testing.T) {
	g := New(20)
	results := addCalls(g, "search", "http_post")
	if hasKind(results[1], KindDataExfiltration) {
		t.Error("send without prior read should not flag exfiltration")
	}
}

func TestCircularCall(t *testing.T) {
	g := New(20)
	results := addCalls(g, "a", "b", "a")

	if !hasKind(results[2], KindCircularCall) {
		t.Fatal("a->b->a should flag circular call")
	}
	for _, a := range results[2] {
		if a.Kind == KindCircularCall && a.Severity != SeverityMedium {
			t.Errorf("severity = %s, want medium", a.Severity)
		}
	}

	// a->a->a is repetition, not a cycle through another tool.
	g2 := New(20)
	r2 := addCalls(g2, "a", "a", "a")
	if hasKind(r2[2], KindCircularCall) {
		t.Error("a->a->a should not flag circular call")
	}
}

func TestPrivilegeEscalation(t *testing.T) {
	g := New(20)
	results := addCalls(g, "search_docs", "shell_exec")

	if !hasKind(results[1], KindPrivilegeEscalation) {
		t.Fatal("benign then shell_exec should flag escalation")
	}

	// High-risk following high-risk is not an escalation.
	g2 := New(20)
	r2 := addCalls(g2, "shell_exec", "file_delete")
	if hasKind(r2[1], KindPrivilegeEscalation) {
		t.Error("high-risk to high-risk should not flag escalation")
	}

	// First call has no predecessor.
	g3 := New(20)
	r3 := addCalls(g3, "shell_exec")
	if hasKind(r3[0], KindPrivilegeEscalation) {
		t.Error("first call should not flag escalation")
	}
}

func TestAnomaliesReferenceKnownCalls(t *testing.T) {
	g := New(2)
	addCalls(g, "file_read", "shell_exec", "b", "shell_exec", "http_post")

	nodes := g.Nodes()
	for _, a := range g.Anomalies() {
		for _, id := range a.InvolvedCalls {
			if _, ok := nodes[id]; !ok {
				t.Errorf("anomaly %s references unknown call %s", a.Kind, id)
			}
		}
	}
}

func TestUpdateCall(t *testing.T) {
	g := New(20)
	g.AddCall(newNode("c0", "tool"))

	g.UpdateCall("c0", true, 12.5)
	node := g.Node("c0")
	if node.Success == nil || !*node.Success {
		t.Error("success not recorded")
	}
	if node.DurationMs != 12.5 {
		t.Errorf("duration = %v, want 12.5", node.DurationMs)
	}

	// Unknown id is a no-op.
	g.UpdateCall("missing", false, 0)
}
