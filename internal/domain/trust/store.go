package trust

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
)

const certFileSuffix = ".cert.json"

// DefaultDir returns the default trust directory, ~/.jadegate/trust.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".jadegate", "trust")
	}
	return filepath.Join(home, ".jadegate", "trust")
}

// Summary aggregates the contents of a trust store.
type Summary struct {
	TotalCertificates int    `json:"total_certificates"`
	Signed            int    `json:"signed"`
	Trusted           int    `json:"trusted"`
	HighRisk          int    `json:"high_risk"`
	TrustDir          string `json:"trust_dir"`
}

// Store persists one certificate per tool as a JSON file under a
// user-scoped directory. An in-memory cache is loaded on open and every
// write goes through to disk. Disk writes use temp-file + rename so a
// concurrent reader never sees a torn document.
//
// Safe for concurrent use.
type Store struct {
	mu    sync.Mutex
	dir   string
	cache map[string]*Certificate
	log   *slog.Logger
}

// OpenStore opens (creating if needed) the trust directory and loads every
// certificate in it. Unreadable files are logged and skipped.
func OpenStore(dir string, log *slog.Logger) (*Store, error) {
	if dir == "" {
		dir = DefaultDir()
	}
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create trust directory: %w", err)
	}

	s := &Store{
		dir:   dir,
		cache: make(map[string]*Certificate),
		log:   log,
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read trust directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), certFileSuffix) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			log.Warn("failed to read certificate", "path", path, "error", err)
			continue
		}
		var cert Certificate
		if err := json.Unmarshal(data, &cert); err != nil {
			log.Warn("failed to parse certificate", "path", path, "error", err)
			continue
		}
		s.cache[cert.ToolID] = &cert
	}
	return s, nil
}

// Dir returns the store's directory.
func (s *Store) Dir() string {
	return s.dir
}

// certPath maps a tool id to a filesystem-safe filename. Unsafe characters
// are replaced and an xxhash suffix keeps distinct ids from colliding after
// sanitization.
func (s *Store) certPath(toolID string) string {
	safe := strings.NewReplacer("/", "_", "\\", "_", ":", "_", " ", "_").Replace(toolID)
	if len(safe) > 64 {
		safe = safe[:64]
	}
	sum := xxhash.Sum64String(toolID)
	return filepath.Join(s.dir, fmt.Sprintf("%s-%016x%s", safe, sum, certFileSuffix))
}

// Get returns the certificate for a tool id, or nil if none is stored.
func (s *Store) Get(toolID string) *Certificate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache[toolID]
}

// Save writes a certificate to the cache and through to disk. A persist
// failure is returned but the cache keeps the certificate: in-memory state
// stays authoritative.
func (s *Store) Save(cert *Certificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[cert.ToolID] = cert
	return s.persist(cert)
}

func (s *Store) persist(cert *Certificate) error {
	data, err := json.MarshalIndent(cert, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal certificate: %w", err)
	}
	path := s.certPath(cert.ToolID)
	tmp, err := os.CreateTemp(s.dir, ".cert-*")
	if err != nil {
		return fmt.Errorf("create temp certificate file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write certificate: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close certificate file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename certificate file: %w", err)
	}
	return nil
}

// Remove deletes a certificate from the cache and disk. Returns true if a
// certificate file was removed.
func (s *Store) Remove(toolID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, toolID)
	path := s.certPath(toolID)
	if err := os.Remove(path); err != nil {
		return false
	}
	return true
}

// ListAll returns every cached certificate.
func (s *Store) ListAll() []*Certificate {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Certificate, 0, len(s.cache))
	for _, cert := range s.cache {
		out = append(out, cert)
	}
	return out
}

// IsTrusted reports whether the tool has a certificate with at least the
// given trust score.
func (s *Store) IsTrusted(toolID string, minScore float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cert, ok := s.cache[toolID]
	return ok && cert.TrustScore >= minScore
}

// IsSigned reports whether the tool has a signed certificate.
func (s *Store) IsSigned(toolID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cert, ok := s.cache[toolID]
	return ok && cert.IsSigned()
}

// UpdateTrust records a call outcome for a tool and persists the new score.
// Returns the new score, or false when no certificate exists. A persist
// error is logged and swallowed; the in-memory score stands.
func (s *Store) UpdateTrust(toolID string, success bool) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cert, ok := s.cache[toolID]
	if !ok {
		return 0, false
	}
	score := cert.UpdateTrust(success)
	if err := s.persist(cert); err != nil {
		s.log.Warn("failed to persist trust update", "tool", toolID, "error", err)
	}
	return score, true
}

// Summary aggregates the store contents: certificate count, signed count,
// trusted count (score >= 0.6), and high-risk count.
func (s *Store) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := Summary{TrustDir: s.dir, TotalCertificates: len(s.cache)}
	for _, cert := range s.cache {
		if cert.IsSigned() {
			sum.Signed++
		}
		if cert.TrustScore >= 0.6 {
			sum.Trusted++
		}
		if cert.RiskProfile.Level == RiskHigh || cert.RiskProfile.Level == RiskCritical {
			sum.HighRisk++
		}
	}
	return sum
}
