// Package service orchestrates the stdio JSON-RPC splice: the proxy sits
// between the host application (downstream, via our stdin/stdout) and the
// tool server (upstream, a child process), gating tools/call through the
// session pipeline and annotating tools/list responses.
package service

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/jade-gate/jadegate/internal/domain/runtime"
	"github.com/jade-gate/jadegate/internal/domain/trust"
	"github.com/jade-gate/jadegate/pkg/mcp"
)

// DefaultResponseTimeout bounds the wait for an upstream response to a
// gated request.
const DefaultResponseTimeout = 10 * time.Second

// TerminateGrace is how long the upstream gets to exit after SIGTERM.
const TerminateGrace = 5 * time.Second

// maxLineSize bounds a single JSON-RPC line in either direction.
const maxLineSize = 10 * 1024 * 1024

// Upstream is the child tool-server process as the proxy sees it.
type Upstream interface {
	Stdin() io.Writer
	Stdout() io.Reader
	Terminate(grace time.Duration)
}

// Options tunes a ProxyService.
type Options struct {
	// ResponseTimeout is the per-response wait for gated requests.
	// Zero means DefaultResponseTimeout.
	ResponseTimeout time.Duration

	// SummaryWriter receives the one-line session summary on shutdown.
	// Nil means os.Stderr.
	SummaryWriter io.Writer

	// Trust, when set, runs a TOFU baseline check on every tool seen in a
	// tools/list response. Alerts surface in the log, never on the wire.
	Trust *trust.TOFU

	// ServerID namespaces tool ids in the trust store.
	ServerID string

	Logger *slog.Logger
}

type pendingCall struct {
	callID      string
	toolName    string
	start       time.Time
	isToolsList bool
	timer       *time.Timer
}

// ProxyService runs the splice. One reader goroutine per direction; the
// session serializes its own state, and downstream writes are serialized
// here so synthesized errors never interleave with forwarded frames.
type ProxyService struct {
	session  *runtime.Session
	upstream Upstream
	timeout  time.Duration
	summary  io.Writer
	tofu     *trust.TOFU
	serverID string
	log      *slog.Logger

	downMu   sync.Mutex // serializes writes to downstream
	upMu     sync.Mutex // serializes writes to upstream
	downOut  io.Writer
	pendMu   sync.Mutex
	pending  map[string]*pendingCall // keyed by raw JSON-RPC id
	timedOut map[string]struct{}
}

// NewProxyService builds a proxy over a session and an upstream process.
func NewProxyService(session *runtime.Session, upstream Upstream, opts Options) *ProxyService {
	timeout := opts.ResponseTimeout
	if timeout == 0 {
		timeout = DefaultResponseTimeout
	}
	summary := opts.SummaryWriter
	if summary == nil {
		summary = os.Stderr
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &ProxyService{
		session:  session,
		upstream: upstream,
		timeout:  timeout,
		summary:  summary,
		tofu:     opts.Trust,
		serverID: opts.ServerID,
		log:      log,
		pending:  make(map[string]*pendingCall),
		timedOut: make(map[string]struct{}),
	}
}

// Run pumps messages in both directions until the downstream closes, the
// upstream closes, or ctx is canceled. On return the session is closed, the
// upstream terminated, and a one-line summary emitted.
func (p *ProxyService) Run(ctx context.Context, downIn io.Reader, downOut io.Writer) error {
	p.downOut = downOut

	done := make(chan struct{})
	var once sync.Once
	finish := func() { once.Do(func() { close(done) }) }

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer finish()
		p.pumpDownstream(downIn)
	}()
	go func() {
		defer wg.Done()
		defer finish()
		p.pumpUpstream()
	}()

	select {
	case <-ctx.Done():
	case <-done:
	}

	p.shutdown()

	// Terminating the upstream unblocks its pump; the downstream pump can
	// stay blocked on a host that never closes stdin, so the wait is
	// bounded rather than unconditional.
	waited := make(chan struct{})
	go func() {
		wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(time.Second):
	}
	return nil
}

// pumpDownstream reads host requests and either forwards or gates them.
func (p *ProxyService) pumpDownstream(downIn io.Reader) {
	scanner := bufio.NewScanner(downIn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		raw := append([]byte(nil), line...)

		msg, err := mcp.WrapMessage(raw, mcp.ClientToServer)
		if err != nil {
			p.log.Warn("dropping unparseable downstream line", "error", err)
			continue
		}

		switch {
		case msg.IsToolCall():
			p.handleToolCall(msg)
		case msg.IsToolsList():
			p.trackPending(msg, &pendingCall{isToolsList: true, start: time.Now()})
			p.writeUpstream(raw)
		default:
			p.writeUpstream(raw)
		}
	}
	if err := scanner.Err(); err != nil {
		p.log.Warn("downstream read failed", "error", err)
	}
}

func (p *ProxyService) handleToolCall(msg *mcp.Message) {
	call, ok := msg.ToolCall()
	if !ok {
		// Malformed tools/call params; let the upstream produce the
		// protocol error.
		p.writeUpstream(msg.Raw)
		return
	}

	result := p.session.BeforeCall(call.Name, call.Arguments)
	callsTotal.WithLabelValues(string(result.Verdict)).Inc()
	for _, a := range result.Anomalies {
		anomaliesTotal.WithLabelValues(string(a.Kind)).Inc()
	}

	switch result.Verdict {
	case runtime.VerdictAllow:
		p.trackPending(msg, &pendingCall{
			callID:   result.CallID,
			toolName: call.Name,
			start:    time.Now(),
		})
		p.writeUpstream(msg.Raw)

	case runtime.VerdictNeedApproval:
		p.log.Warn("tool call needs approval", "tool", call.Name)
		p.writeDownstream(mcp.NewErrorResponse(msg.RawID(), mcp.CodeNeedsApproval,
			fmt.Sprintf("JadeGate: human approval required for '%s'", call.Name), result))

	default: // deny
		p.log.Warn("tool call denied", "tool", call.Name, "reasons", strings.Join(result.Reasons, "; "))
		p.writeDownstream(mcp.NewErrorResponse(msg.RawID(), mcp.CodePolicyDeny,
			fmt.Sprintf("JadeGate: call denied — %s", strings.Join(result.Reasons, "; ")), result))
		p.session.AfterCall(result.CallID, false, 0, strings.Join(result.Reasons, "; "))
	}
}

// trackPending registers a gated request awaiting its upstream response and
// arms the per-response timeout.
func (p *ProxyService) trackPending(msg *mcp.Message, call *pendingCall) {
	id := msg.RawID()
	if id == nil {
		return
	}
	key := string(id)
	idCopy := append(json.RawMessage(nil), id...)

	p.pendMu.Lock()
	call.timer = time.AfterFunc(p.timeout, func() { p.expirePending(key, idCopy) })
	p.pending[key] = call
	p.pendMu.Unlock()
}

func (p *ProxyService) expirePending(key string, id json.RawMessage) {
	p.pendMu.Lock()
	call, ok := p.pending[key]
	if !ok {
		p.pendMu.Unlock()
		return
	}
	delete(p.pending, key)
	p.timedOut[key] = struct{}{}
	p.pendMu.Unlock()

	p.log.Warn("upstream response timeout", "tool", call.toolName)
	upstreamErrorsTotal.Inc()
	if call.callID != "" {
		p.session.AfterCall(call.callID, false, p.timeout.Seconds()*1000, "response timeout")
	}
	p.writeDownstream(mcp.NewErrorResponse(id, mcp.CodeUpstreamError,
		"Upstream response timeout", nil))
}

// pumpUpstream reads server responses and forwards them, completing gated
// calls and annotating tools/list results along the way.
func (p *ProxyService) pumpUpstream() {
	scanner := bufio.NewScanner(p.upstream.Stdout())
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		raw := append([]byte(nil), line...)
		p.handleUpstreamFrame(raw)
	}
	if err := scanner.Err(); err != nil {
		p.log.Warn("upstream read failed", "error", err)
	}

	p.failPending("Upstream server closed")
}

func (p *ProxyService) handleUpstreamFrame(raw []byte) {
	call, timedOut := p.takePending(raw)
	if timedOut {
		// A timeout error was already synthesized for this id.
		return
	}
	if call == nil {
		p.writeDownstream(raw)
		return
	}

	if call.isToolsList {
		p.writeDownstream(p.annotateToolsList(raw))
		return
	}

	success := !responseHasError(raw)
	durationMs := float64(time.Since(call.start)) / float64(time.Millisecond)
	errMsg := ""
	if !success {
		errMsg = "upstream returned error"
	}
	// afterCall is recorded before the response reaches downstream.
	p.session.AfterCall(call.callID, success, durationMs, errMsg)
	if p.tofu != nil && call.toolName != "" {
		p.tofu.RecordOutcome(p.toolID(call.toolName), success)
	}
	p.writeDownstream(raw)
}

// takePending matches an upstream response frame against the pending table
// by raw id. Server-originated requests (roots/list, sampling) can reuse an
// id a client call is still waiting on, so only frames carrying a result or
// error member and no method are matched; anything else passes through.
// The second return reports a response whose call already timed out.
func (p *ProxyService) takePending(raw []byte) (*pendingCall, bool) {
	var probe struct {
		ID     json.RawMessage `json:"id"`
		Method string          `json:"method"`
		Result json.RawMessage `json:"result"`
		Error  json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil || probe.ID == nil {
		return nil, false
	}
	if probe.Method != "" || (probe.Result == nil && probe.Error == nil) {
		return nil, false
	}
	key := string(probe.ID)

	p.pendMu.Lock()
	defer p.pendMu.Unlock()
	if _, ok := p.timedOut[key]; ok {
		delete(p.timedOut, key)
		return nil, true
	}
	call, ok := p.pending[key]
	if !ok {
		return nil, false
	}
	delete(p.pending, key)
	call.timer.Stop()
	return call, false
}

// failPending synthesizes an upstream failure for every call still waiting.
func (p *ProxyService) failPending(message string) {
	p.pendMu.Lock()
	calls := p.pending
	p.pending = make(map[string]*pendingCall)
	p.pendMu.Unlock()

	for key, call := range calls {
		call.timer.Stop()
		upstreamErrorsTotal.Inc()
		if call.callID != "" {
			p.session.AfterCall(call.callID, false, 0, message)
		}
		p.writeDownstream(mcp.NewErrorResponse(json.RawMessage(key), mcp.CodeUpstreamError, message, nil))
	}
}

func (p *ProxyService) writeUpstream(raw []byte) {
	p.upMu.Lock()
	defer p.upMu.Unlock()
	if _, err := p.upstream.Stdin().Write(append(raw, '\n')); err != nil {
		p.log.Warn("upstream write failed", "error", err)
	}
}

func (p *ProxyService) writeDownstream(raw []byte) {
	p.downMu.Lock()
	defer p.downMu.Unlock()
	if _, err := p.downOut.Write(append(raw, '\n')); err != nil {
		p.log.Warn("downstream write failed", "error", err)
	}
}

func (p *ProxyService) shutdown() {
	status := p.session.Close()
	p.upstream.Terminate(TerminateGrace)
	fmt.Fprintf(p.summary,
		"jadegate session %s: %d calls, %d blocked, %d anomalies\n",
		status.SessionID, status.TotalCalls, status.BlockedCalls, status.Anomalies)
}

func responseHasError(raw []byte) bool {
	var probe struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return false
	}
	return probe.Error != nil && string(probe.Error) != "null"
}

type toolSecurity struct {
	RiskLevel    string   `json:"risk_level"`
	Capabilities []string `json:"capabilities"`
}

// annotateToolsList attaches a jade_security profile to every tool in a
// tools/list response and, when a trust checker is wired, runs the TOFU
// baseline check on each tool. A frame that does not have the expected
// shape is returned unchanged.
func (p *ProxyService) annotateToolsList(raw []byte) []byte {
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return raw
	}
	result, ok := doc["result"].(map[string]interface{})
	if !ok {
		return raw
	}
	tools, ok := result["tools"].([]interface{})
	if !ok {
		return raw
	}

	for _, item := range tools {
		tool, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		name, _ := tool["name"].(string)
		desc, _ := tool["description"].(string)
		profile := trust.ProfileFromToolInfo(name, desc)
		caps := profile.Capabilities
		if caps == nil {
			caps = []string{}
		}
		tool["jade_security"] = toolSecurity{
			RiskLevel:    profile.Level,
			Capabilities: caps,
		}
		if p.tofu != nil && name != "" {
			p.tofu.CheckTool(p.toolID(name), name, desc, p.serverID)
		}
	}

	out, err := json.Marshal(doc)
	if err != nil {
		return raw
	}
	return out
}

func (p *ProxyService) toolID(name string) string {
	if p.serverID == "" {
		return name
	}
	return p.serverID + "/" + name
}
