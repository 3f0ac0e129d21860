package mcp

import (
	"encoding/json"
	"testing"
)

func wrap(t *testing.T, raw string) *Message {
	t.Helper()
	msg, err := WrapMessage([]byte(raw), ClientToServer)
	if err != nil {
		t.Fatalf("WrapMessage(%s): %v", raw, err)
	}
	return msg
}

func TestMessageClassification(t *testing.T) {
	tests := []struct {
		name        string
		raw         string
		isRequest   bool
		isToolCall  bool
		isToolsList bool
		method      string
	}{
		{
			name:      "initialize request",
			raw:       `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`,
			isRequest: true,
			method:    "initialize",
		},
		{
			name:       "tools call",
			raw:        `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"t","arguments":{}}}`,
			isRequest:  true,
			isToolCall: true,
			method:     "tools/call",
		},
		{
			name:        "tools list",
			raw:         `{"jsonrpc":"2.0","id":3,"method":"tools/list"}`,
			isRequest:   true,
			isToolsList: true,
			method:      "tools/list",
		},
		{
			name: "response",
			raw:  `{"jsonrpc":"2.0","id":1,"result":{}}`,
		},
		{
			name:      "notification",
			raw:       `{"jsonrpc":"2.0","method":"notifications/progress"}`,
			isRequest: true,
			method:    "notifications/progress",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := wrap(t, tt.raw)
			if m.IsRequest() != tt.isRequest {
				t.Errorf("IsRequest = %v, want %v", m.IsRequest(), tt.isRequest)
			}
			if m.IsToolCall() != tt.isToolCall {
				t.Errorf("IsToolCall = %v, want %v", m.IsToolCall(), tt.isToolCall)
			}
			if m.IsToolsList() != tt.isToolsList {
				t.Errorf("IsToolsList = %v, want %v", m.IsToolsList(), tt.isToolsList)
			}
			if m.Method() != tt.method {
				t.Errorf("Method = %q, want %q", m.Method(), tt.method)
			}
		})
	}
}

func TestToolCallExtraction(t *testing.T) {
	m := wrap(t, `{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"file_read","arguments":{"path":"/tmp/x"}}}`)
	call, ok := m.ToolCall()
	if !ok {
		t.Fatal("ToolCall should succeed")
	}
	if call.Name != "file_read" {
		t.Errorf("name = %q", call.Name)
	}
	if call.Arguments["path"] != "/tmp/x" {
		t.Errorf("arguments = %v", call.Arguments)
	}
}

func TestToolCallMissingArgumentsNormalized(t *testing.T) {
	m := wrap(t, `{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"t"}}`)
	call, ok := m.ToolCall()
	if !ok {
		t.Fatal("ToolCall should succeed without arguments")
	}
	if call.Arguments == nil {
		t.Error("arguments should be an empty map, not nil")
	}
}

func TestToolCallRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"missing name", `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"arguments":{}}}`},
		{"wrong method", `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`},
		{"params wrong shape", `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":{"nested":true}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := wrap(t, tt.raw)
			if _, ok := m.ToolCall(); ok {
				t.Error("ToolCall should fail")
			}
		})
	}
}

func TestRawID(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"number id", `{"jsonrpc":"2.0","id":42,"method":"x"}`, `42`},
		{"string id", `{"jsonrpc":"2.0","id":"abc","method":"x"}`, `"abc"`},
		{"no id", `{"jsonrpc":"2.0","method":"x"}`, ``},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := wrap(t, tt.raw)
			got := m.RawID()
			if tt.want == "" {
				if got != nil {
					t.Errorf("RawID = %s, want nil", got)
				}
				return
			}
			if string(got) != tt.want {
				t.Errorf("RawID = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestWrapMessageRejectsGarbage(t *testing.T) {
	if _, err := WrapMessage([]byte("not json"), ClientToServer); err == nil {
		t.Error("garbage should not decode")
	}
}

func TestNewErrorResponse(t *testing.T) {
	raw := NewErrorResponse(json.RawMessage(`5`), CodePolicyDeny, "denied", map[string]string{"k": "v"})

	var doc struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      json.RawMessage `json:"id"`
		Error   struct {
			Code    int                    `json:"code"`
			Message string                 `json:"message"`
			Data    map[string]interface{} `json:"data"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if doc.JSONRPC != "2.0" {
		t.Errorf("jsonrpc = %q", doc.JSONRPC)
	}
	if string(doc.ID) != "5" {
		t.Errorf("id = %s, want 5", doc.ID)
	}
	if doc.Error.Code != CodePolicyDeny {
		t.Errorf("code = %d, want %d", doc.Error.Code, CodePolicyDeny)
	}
	if doc.Error.Data["k"] != "v" {
		t.Errorf("data = %v", doc.Error.Data)
	}
}

func TestNewErrorResponseNullID(t *testing.T) {
	raw := NewErrorResponse(nil, CodeUpstreamError, "broken", nil)
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatal(err)
	}
	if string(doc["id"]) != "null" {
		t.Errorf("id = %s, want null", doc["id"])
	}
	var errObj map[string]json.RawMessage
	if err := json.Unmarshal(doc["error"], &errObj); err != nil {
		t.Fatal(err)
	}
	if _, ok := errObj["data"]; ok {
		t.Error("nil data should be omitted")
	}
}

func TestDirectionString(t *testing.T) {
	if ClientToServer.String() != "client->server" || ServerToClient.String() != "server->client" {
		t.Error("unexpected direction strings")
	}
}
