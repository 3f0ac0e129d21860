// Package mcp provides MCP message types and JSON-RPC codec utilities
// for the jadegate proxy.
package mcp

import (
	"encoding/json"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

// Method names the proxy treats specially. Everything else is forwarded
// verbatim.
const (
	MethodToolsCall = "tools/call"
	MethodToolsList = "tools/list"
)

// JSON-RPC error codes synthesized by the proxy.
const (
	// CodePolicyDeny is returned when the interceptor denies a tool call.
	CodePolicyDeny = -32600
	// CodeNeedsApproval is returned when a tool call requires human approval.
	CodeNeedsApproval = -32001
	// CodeUpstreamError is returned on upstream failure or protocol errors.
	CodeUpstreamError = -32603
)

// Direction indicates the flow direction of a message through the proxy.
type Direction int

const (
	// ClientToServer indicates a message flowing from the host app to the
	// upstream MCP server.
	ClientToServer Direction = iota
	// ServerToClient indicates a message flowing from the upstream MCP
	// server back to the host app.
	ServerToClient
)

// String returns the string representation of the Direction.
func (d Direction) String() string {
	switch d {
	case ClientToServer:
		return "client->server"
	case ServerToClient:
		return "server->client"
	default:
		return "unknown"
	}
}

// Message wraps a decoded JSON-RPC message with proxy metadata.
// It stores both the raw bytes (for byte-exact passthrough) and the decoded
// message (for security inspection).
type Message struct {
	// Raw contains the original bytes of the message as received.
	Raw []byte

	// Direction indicates whether this message is flowing from
	// client to server or server to client.
	Direction Direction

	// Decoded contains the parsed JSON-RPC message.
	// May be nil if parsing failed but passthrough is still desired.
	// The concrete type is either *jsonrpc.Request or *jsonrpc.Response.
	Decoded jsonrpc.Message

	// Timestamp records when the message was received by the proxy.
	Timestamp time.Time
}

// IsRequest returns true if the message is a JSON-RPC request.
func (m *Message) IsRequest() bool {
	if m.Decoded == nil {
		return false
	}
	_, ok := m.Decoded.(*jsonrpc.Request)
	return ok
}

// IsResponse returns true if the message is a JSON-RPC response.
func (m *Message) IsResponse() bool {
	if m.Decoded == nil {
		return false
	}
	_, ok := m.Decoded.(*jsonrpc.Response)
	return ok
}

// Method returns the method name if this is a request, empty string otherwise.
func (m *Message) Method() string {
	req := m.Request()
	if req == nil {
		return ""
	}
	return req.Method
}

// IsToolCall returns true if this is a tools/call request.
func (m *Message) IsToolCall() bool {
	return m.Method() == MethodToolsCall
}

// IsToolsList returns true if this is a tools/list request.
func (m *Message) IsToolsList() bool {
	return m.Method() == MethodToolsList
}

// Request returns the underlying Request if this is a request message.
// Returns nil if this is not a request.
func (m *Message) Request() *jsonrpc.Request {
	if m.Decoded == nil {
		return nil
	}
	req, _ := m.Decoded.(*jsonrpc.Request)
	return req
}

// Response returns the underlying Response if this is a response message.
// Returns nil if this is not a response.
func (m *Message) Response() *jsonrpc.Response {
	if m.Decoded == nil {
		return nil
	}
	resp, _ := m.Decoded.(*jsonrpc.Response)
	return resp
}

// ToolCallParams holds the params of a tools/call request.
type ToolCallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// ToolCall extracts the tool name and arguments from a tools/call request.
// Returns false if the message is not a tools/call request or the params
// cannot be parsed.
func (m *Message) ToolCall() (ToolCallParams, bool) {
	var params ToolCallParams
	req := m.Request()
	if req == nil || req.Method != MethodToolsCall || req.Params == nil {
		return params, false
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return ToolCallParams{}, false
	}
	if params.Name == "" {
		return ToolCallParams{}, false
	}
	if params.Arguments == nil {
		params.Arguments = map[string]interface{}{}
	}
	return params, true
}

// RawID extracts the request ID from the raw message bytes as json.RawMessage.
// The SDK's jsonrpc.ID type doesn't round-trip through interface{}, so the ID
// is taken directly from the raw JSON to preserve its original form
// (number, string, or null). Returns nil if no ID is present.
func (m *Message) RawID() json.RawMessage {
	if m.Raw == nil {
		return nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(m.Raw, &raw); err != nil {
		return nil
	}
	return raw["id"]
}
