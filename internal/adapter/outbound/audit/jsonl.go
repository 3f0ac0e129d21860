// Package audit persists session audit entries as append-only JSON lines.
// The in-memory session log stays authoritative; this sink is best-effort.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/jade-gate/jadegate/internal/domain/runtime"
)

// Sink appends audit entries to a JSONL file. Safe for concurrent use.
type Sink struct {
	mu   sync.Mutex
	file *os.File
}

// Open opens (creating if needed) the audit file for appending.
func Open(path string) (*Sink, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create audit directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open audit file: %w", err)
	}
	return &Sink{file: f}, nil
}

// Append writes one entry as a JSON line.
func (s *Sink) Append(entry runtime.AuditEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write audit entry: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
