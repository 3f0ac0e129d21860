// Package dag tracks the per-session tool call chain and runs pattern-based
// anomaly detection over it. All computation is local and in-memory; nothing
// persists across sessions.
package dag

import (
	"fmt"
	"strings"
	"time"
)

// Kind classifies a detected anomaly.
type Kind string

const (
	KindDataExfiltration    Kind = "data_exfiltration"
	KindCircularCall        Kind = "circular_call"
	KindDepthExceeded       Kind = "depth_exceeded"
	KindPrivilegeEscalation Kind = "privilege_escalation"

	// KindRapidFire is reserved. No detector emits it; rate limiting is the
	// policy layer's job.
	KindRapidFire Kind = "rapid_fire"
)

// Severity grades an anomaly.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Escalates reports whether an anomaly of this severity should flip an
// ALLOW verdict to DENY.
func (s Severity) Escalates() bool {
	return s == SeverityHigh || s == SeverityCritical
}

// Node is a single tool call in the chain. Created at before-call time;
// Success and DurationMs are filled in by UpdateCall after the call returns.
type Node struct {
	CallID       string                 `json:"call_id"`
	ToolName     string                 `json:"tool_name"`
	ParamSummary map[string]interface{} `json:"params_summary"`
	Timestamp    time.Time              `json:"timestamp"`

	// Success is nil until the call completes.
	Success    *bool   `json:"success"`
	DurationMs float64 `json:"duration_ms"`
	RiskLevel  string  `json:"risk_level"`
}

// Edge links two sequential calls. The chain is strictly linear today; the
// edge type field leaves room for richer topologies.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
	Type string `json:"type"`
}

// Anomaly is a suspicious pattern detected over recent calls.
type Anomaly struct {
	Kind          Kind      `json:"type"`
	Severity      Severity  `json:"severity"`
	Message       string    `json:"message"`
	InvolvedCalls []string  `json:"involved_calls"`
	Timestamp     time.Time `json:"timestamp"`
}

// recentReadsWindow bounds how many prior sensitive reads an exfiltration
// anomaly cites.
const recentReadsWindow = 3

// CallGraph is the append-only call chain for one session.
//
// Not safe for concurrent use; the owning session serializes access.
type CallGraph struct {
	nodes       map[string]*Node
	edges       []Edge
	anomalies   []Anomaly
	callOrder   []string
	toolHistory []string
	maxDepth    int
	recentReads []string
}

// New returns an empty call graph that flags chains longer than maxDepth.
func New(maxDepth int) *CallGraph {
	return &CallGraph{
		nodes:    make(map[string]*Node),
		maxDepth: maxDepth,
	}
}

// Depth returns the number of calls recorded so far.
func (g *CallGraph) Depth() int {
	return len(g.callOrder)
}

// Node returns the node with the given call id, or nil.
func (g *CallGraph) Node(callID string) *Node {
	return g.nodes[callID]
}

// Nodes returns a snapshot of all nodes keyed by call id.
func (g *CallGraph) Nodes() map[string]*Node {
	out := make(map[string]*Node, len(g.nodes))
	for k, v := range g.nodes {
		out[k] = v
	}
	return out
}

// Edges returns a snapshot of the sequential edge chain.
func (g *CallGraph) Edges() []Edge {
	return append([]Edge(nil), g.edges...)
}

// Anomalies returns all anomalies recorded in this session.
func (g *CallGraph) Anomalies() []Anomaly {
	return append([]Anomaly(nil), g.anomalies...)
}

// LastCallIDForTool returns the most recent call id for the named tool,
// or empty if the tool has not been called.
func (g *CallGraph) LastCallIDForTool(toolName string) string {
	for i := len(g.callOrder) - 1; i >= 0; i-- {
		if g.nodes[g.callOrder[i]].ToolName == toolName {
			return g.callOrder[i]
		}
	}
	return ""
}

// AddCall appends a node, links it to the previous call, and runs the
// detectors. It returns the anomalies this call introduced; they are also
// recorded on the graph.
func (g *CallGraph) AddCall(node *Node) []Anomaly {
	g.nodes[node.CallID] = node
	g.callOrder = append(g.callOrder, node.CallID)
	g.toolHistory = append(g.toolHistory, node.ToolName)

	if n := len(g.callOrder); n > 1 {
		g.edges = append(g.edges, Edge{
			From: g.callOrder[n-2],
			To:   node.CallID,
			Type: "sequential",
		})
	}

	var found []Anomaly
	found = append(found, g.detectDepth(node)...)
	found = append(found, g.detectExfiltration(node)...)
	found = append(found, g.detectCircular()...)
	found = append(found, g.detectEscalation(node)...)

	g.anomalies = append(g.anomalies, found...)
	return found
}

// UpdateCall records the outcome of a completed call. Unknown ids are
// ignored.
func (g *CallGraph) UpdateCall(callID string, success bool, durationMs float64) {
	node, ok := g.nodes[callID]
	if !ok {
		return
	}
	node.Success = &success
	node.DurationMs = durationMs
}

func (g *CallGraph) detectDepth(node *Node) []Anomaly {
	if len(g.callOrder) <= g.maxDepth {
		return nil
	}
	return []Anomaly{{
		Kind:     KindDepthExceeded,
		Severity: SeverityHigh,
		Message: fmt.Sprintf("Call chain depth %d exceeds limit %d",
			len(g.callOrder), g.maxDepth),
		InvolvedCalls: []string{node.CallID},
		Timestamp:     time.Now(),
	}}
}

func (g *CallGraph) detectExfiltration(node *Node) []Anomaly {
	toolLower := strings.ToLower(node.ToolName)

	if inCategory(SensitiveReadTools, toolLower) || strings.Contains(toolLower, "read") {
		g.recentReads = append(g.recentReads, node.CallID)
	}

	isSend := inCategory(NetworkSendTools, toolLower) ||
		strings.Contains(toolLower, "http_post") ||
		strings.Contains(toolLower, "send")
	if !isSend || len(g.recentReads) == 0 {
		return nil
	}

	reads := g.recentReads
	if len(reads) > recentReadsWindow {
		reads = reads[len(reads)-recentReadsWindow:]
	}
	involved := append(append([]string(nil), reads...), node.CallID)
	return []Anomaly{{
		Kind:          KindDataExfiltration,
		Severity:      SeverityCritical,
		Message:       fmt.Sprintf("Potential data exfiltration: read -> %s", node.ToolName),
		InvolvedCalls: involved,
		Timestamp:     time.Now(),
	}}
}

// detectCircular flags the A -> B -> A pattern over the last three calls.
func (g *CallGraph) detectCircular() []Anomaly {
	n := len(g.toolHistory)
	if n < 3 {
		return nil
	}
	a, b, c := g.toolHistory[n-3], g.toolHistory[n-2], g.toolHistory[n-1]
	if a != c || a == b {
		return nil
	}
	return []Anomaly{{
		Kind:          KindCircularCall,
		Severity:      SeverityMedium,
		Message:       fmt.Sprintf("Circular call pattern: %s -> %s -> %s", a, b, c),
		InvolvedCalls: append([]string(nil), g.callOrder[n-3:]...),
		Timestamp:     time.Now(),
	}}
}

// detectEscalation fires when a high-risk tool follows a benign one.
func (g *CallGraph) detectEscalation(node *Node) []Anomaly {
	toolLower := strings.ToLower(node.ToolName)
	n := len(g.toolHistory)
	if !inCategory(HighRiskTools, toolLower) || n < 2 {
		return nil
	}
	prev := strings.ToLower(g.toolHistory[n-2])
	if inCategory(HighRiskTools, prev) {
		return nil
	}
	return []Anomaly{{
		Kind:          KindPrivilegeEscalation,
		Severity:      SeverityHigh,
		Message:       fmt.Sprintf("Privilege escalation: %s -> %s", prev, node.ToolName),
		InvolvedCalls: append([]string(nil), g.callOrder[n-2:]...),
		Timestamp:     time.Now(),
	}}
}
