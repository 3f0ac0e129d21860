// Package runtime holds the per-session interception pipeline: the ordered
// pre-call checks producing a verdict, post-call bookkeeping, and the
// session aggregate tying policy, call graph, and breaker together.
package runtime

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jade-gate/jadegate/internal/domain/breaker"
	"github.com/jade-gate/jadegate/internal/domain/dag"
	"github.com/jade-gate/jadegate/internal/domain/policy"
)

// Verdict is the interceptor's decision for one call.
type Verdict string

const (
	VerdictAllow        Verdict = "allow"
	VerdictDeny         Verdict = "deny"
	VerdictNeedApproval Verdict = "need_approval"
)

// InterceptResult is the full outcome of evaluating one tool call.
type InterceptResult struct {
	Verdict   Verdict       `json:"verdict"`
	CallID    string        `json:"call_id"`
	ToolName  string        `json:"tool_name"`
	Reasons   []string      `json:"reasons"`
	Anomalies []dag.Anomaly `json:"anomalies"`
	RiskLevel string        `json:"risk_level"`
}

// Allowed reports whether the call may be forwarded.
func (r InterceptResult) Allowed() bool {
	return r.Verdict == VerdictAllow
}

// AuditEntry records one evaluated call. Success and Error are patched in
// after the call completes.
type AuditEntry struct {
	CallID    string    `json:"call_id"`
	ToolName  string    `json:"tool_name"`
	ParamKeys []string  `json:"params_keys"`
	Verdict   Verdict   `json:"verdict"`
	Reasons   []string  `json:"reasons"`
	Timestamp time.Time `json:"timestamp"`
	Success   *bool     `json:"success,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// AuditSink receives audit entries for persistence. The in-memory log is
// authoritative; sink failures are logged and swallowed.
type AuditSink interface {
	Append(entry AuditEntry) error
}

// RuleEvaluator evaluates operator-defined deny rules against a call,
// returning one reason per rule that matched.
type RuleEvaluator interface {
	DenyReasons(toolName string, args map[string]interface{}) []string
}

// Interceptor runs the ordered pre-call pipeline and post-call bookkeeping.
//
// Not safe for concurrent use; the owning session serializes access.
type Interceptor struct {
	policy   *policy.Policy
	graph    *dag.CallGraph
	breaker  *breaker.Breaker
	rules    RuleEvaluator
	sink     AuditSink
	log      *slog.Logger
	auditLog []AuditEntry
}

// NewInterceptor builds an interceptor over the given policy, call graph,
// and breaker. rules and sink may be nil.
func NewInterceptor(pol *policy.Policy, graph *dag.CallGraph, brk *breaker.Breaker, rules RuleEvaluator, sink AuditSink, log *slog.Logger) *Interceptor {
	if log == nil {
		log = slog.Default()
	}
	return &Interceptor{
		policy:  pol,
		graph:   graph,
		breaker: brk,
		rules:   rules,
		sink:    sink,
		log:     log,
	}
}

// AuditLog returns a snapshot of the in-memory audit log.
func (i *Interceptor) AuditLog() []AuditEntry {
	return append([]AuditEntry(nil), i.auditLog...)
}

// BeforeCall evaluates a tool call before execution.
//
// Pipeline order: breaker gate (short-circuits everything, including the
// graph append), blocked-action check, approval check, dangerous-pattern
// scan, custom rules, domain scan, path scan, graph append, anomaly
// escalation, audit. After the breaker gate a deny does not short-circuit
// the graph append: the attempt is still recorded.
func (i *Interceptor) BeforeCall(toolName string, params map[string]interface{}) InterceptResult {
	callID := uuid.NewString()[:12]
	if params == nil {
		params = map[string]interface{}{}
	}

	var reasons []string
	verdict := VerdictAllow
	riskLevel := "low"

	if !i.breaker.CanCall(toolName) {
		reasons = append(reasons, fmt.Sprintf("Circuit breaker OPEN for '%s'", toolName))
		i.audit(callID, toolName, params, VerdictDeny, reasons)
		return InterceptResult{
			Verdict: VerdictDeny, CallID: callID, ToolName: toolName,
			Reasons: reasons, RiskLevel: "high",
		}
	}

	if i.policy.IsActionBlocked(toolName) {
		reasons = append(reasons, fmt.Sprintf("Action '%s' is blocked by policy", toolName))
		verdict = VerdictDeny
		riskLevel = "high"
	}

	if verdict == VerdictAllow && i.policy.NeedsApproval(toolName) {
		reasons = append(reasons, fmt.Sprintf("Action '%s' requires human approval", toolName))
		verdict = VerdictNeedApproval
		riskLevel = "medium"
	}

	if verdict == VerdictAllow && i.policy.EnableDangerousPatternScan {
		if issues := i.safeScan(func() []string { return scanDangerous(params) }); len(issues) > 0 {
			reasons = append(reasons, issues...)
			verdict = VerdictDeny
			riskLevel = "high"
		}
	}

	if verdict == VerdictAllow && i.rules != nil {
		if issues := i.safeScan(func() []string { return i.rules.DenyReasons(toolName, params) }); len(issues) > 0 {
			reasons = append(reasons, issues...)
			verdict = VerdictDeny
			riskLevel = "high"
		}
	}

	if verdict == VerdictAllow {
		if issues := i.safeScan(func() []string { return i.checkDomains(params) }); len(issues) > 0 {
			reasons = append(reasons, issues...)
			verdict = VerdictDeny
			riskLevel = "high"
		}
	}

	if verdict == VerdictAllow {
		if issues := i.safeScan(func() []string { return i.checkFilePaths(params) }); len(issues) > 0 {
			reasons = append(reasons, issues...)
			verdict = VerdictDeny
			riskLevel = "high"
		}
	}

	node := &dag.Node{
		CallID:       callID,
		ToolName:     toolName,
		ParamSummary: sanitizeParams(params),
		Timestamp:    time.Now(),
		RiskLevel:    riskLevel,
	}
	anomalies := i.graph.AddCall(node)

	// Escalation flips the verdict at most once; every anomaly still lands
	// in reasons.
	for _, a := range anomalies {
		if a.Severity.Escalates() && verdict == VerdictAllow {
			verdict = VerdictDeny
			riskLevel = "high"
		}
		if a.Severity.Escalates() {
			reasons = append(reasons, fmt.Sprintf("Anomaly detected: %s", a.Message))
		}
	}

	i.audit(callID, toolName, params, verdict, reasons)

	return InterceptResult{
		Verdict: verdict, CallID: callID, ToolName: toolName,
		Reasons: reasons, Anomalies: anomalies, RiskLevel: riskLevel,
	}
}

// AfterCall records the outcome of a completed call: graph update, breaker
// feedback, and in-place audit patch.
func (i *Interceptor) AfterCall(callID string, success bool, durationMs float64, errorMessage string) {
	toolName := "unknown"
	if node := i.graph.Node(callID); node != nil {
		toolName = node.ToolName
		i.graph.UpdateCall(callID, success, durationMs)
	}

	if success {
		i.breaker.RecordSuccess(toolName)
	} else {
		i.breaker.RecordFailure(toolName)
	}

	for idx := len(i.auditLog) - 1; idx >= 0; idx-- {
		if i.auditLog[idx].CallID == callID {
			i.auditLog[idx].Success = &success
			i.auditLog[idx].Error = errorMessage
			break
		}
	}
}

// safeScan runs a heuristic stage, converting a panic into no finding.
// Failing closed is for hard policy checks, not heuristics.
func (i *Interceptor) safeScan(fn func() []string) (issues []string) {
	defer func() {
		if r := recover(); r != nil {
			i.log.Warn("scanner panic recovered", "panic", r)
			issues = nil
		}
	}()
	return fn()
}

func scanDangerous(params map[string]interface{}) []string {
	var issues []string
	for _, s := range deepStringScan(params, 0) {
		for _, pattern := range dangerousPatterns {
			if pattern.MatchString(s) {
				issues = append(issues, fmt.Sprintf("Dangerous pattern detected: %s", pattern.String()))
				break
			}
		}
	}
	return issues
}

func (i *Interceptor) checkDomains(params map[string]interface{}) []string {
	var issues []string
	for _, s := range deepStringScan(params, 0) {
		if !containsScheme(s) {
			continue
		}
		parsed, err := url.Parse(s)
		if err != nil {
			continue
		}
		host := parsed.Hostname()
		if host != "" && !i.policy.IsDomainAllowed(host) {
			issues = append(issues, fmt.Sprintf("Domain '%s' not allowed by network policy", host))
		}
	}
	return issues
}

func containsScheme(s string) bool {
	return strings.Contains(s, "://")
}

// checkFilePaths uses the substring blocklist only. The glob-based path
// allowlist predicate exists for direct policy queries but is not part of
// the request path; the divergence is deliberate.
func (i *Interceptor) checkFilePaths(params map[string]interface{}) []string {
	var issues []string
	for _, s := range deepStringScan(params, 0) {
		for _, pattern := range i.policy.FileBlocklist {
			if pattern != "" && containsPattern(s, pattern) {
				issues = append(issues, fmt.Sprintf("Sensitive file path detected: %s", s))
				break
			}
		}
	}
	return issues
}

func containsPattern(s, pattern string) bool {
	// Home-relative blocklist entries match on their path tail.
	pattern = strings.TrimPrefix(pattern, "~")
	return pattern != "" && strings.Contains(s, pattern)
}

func (i *Interceptor) audit(callID, toolName string, params map[string]interface{}, verdict Verdict, reasons []string) {
	if !i.policy.EnableAuditLog {
		return
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	entry := AuditEntry{
		CallID:    callID,
		ToolName:  toolName,
		ParamKeys: keys,
		Verdict:   verdict,
		Reasons:   reasons,
		Timestamp: time.Now(),
	}
	i.auditLog = append(i.auditLog, entry)
	if i.sink != nil {
		if err := i.sink.Append(entry); err != nil {
			i.log.Warn("audit sink append failed", "error", err)
		}
	}
}
