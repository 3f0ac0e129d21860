package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/jade-gate/jadegate/internal/domain/runtime"
)

func TestAppendAndReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "audit.jsonl")

	sink, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := sink.Append(runtime.AuditEntry{CallID: "a", ToolName: "search", Verdict: runtime.VerdictAllow}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Reopening must append, not truncate.
	sink, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if err := sink.Append(runtime.AuditEntry{CallID: "b", ToolName: "shell_exec", Verdict: runtime.VerdictDeny, Reasons: []string{"blocked"}}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	sink.Close()

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var entries []runtime.AuditEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry runtime.AuditEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			t.Fatalf("bad line %q: %v", scanner.Text(), err)
		}
		entries = append(entries, entry)
	}

	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].CallID != "a" || entries[1].CallID != "b" {
		t.Errorf("order = %s, %s, want a, b", entries[0].CallID, entries[1].CallID)
	}
	if entries[1].Verdict != runtime.VerdictDeny {
		t.Errorf("verdict = %s, want deny", entries[1].Verdict)
	}
}
