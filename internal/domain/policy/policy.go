// Package policy contains the declarative security policy and its predicates.
//
// A Policy is a pure value object: construction and merging happen at load
// time, and every predicate is a side-effect-free check. All enforcement is
// local; nothing leaves the machine.
package policy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
)

// fileWrapperKey is the top-level key wrapping a policy document on disk.
const fileWrapperKey = "jadegate_policy"

// Mode selects which file allowlist applies in IsFilePathAllowed.
type Mode string

const (
	// ModeRead checks against the file read allowlist.
	ModeRead Mode = "read"
	// ModeWrite checks against the file write allowlist.
	ModeWrite Mode = "write"
)

// Policy is the security policy for a jadegate session.
//
// It controls which tool calls are permitted, which require human approval,
// rate and depth limits, and the circuit breaker tuning. A Policy is
// immutable after construction; sessions hold a shared reference.
type Policy struct {
	// NetworkAllowlist holds host patterns: "*", exact host, or "*.suffix".
	// Empty means allow all hosts not in the blocklist.
	NetworkAllowlist []string `json:"network_allowlist" mapstructure:"network_allowlist"`

	// NetworkBlocklist holds hosts that are always refused, including
	// subdomains. Defaults include the cloud metadata endpoints.
	NetworkBlocklist []string `json:"network_blocklist" mapstructure:"network_blocklist"`

	// FileReadAllow and FileWriteAllow are glob patterns; empty means allow
	// all paths not matching the blocklist.
	FileReadAllow  []string `json:"file_read_allow" mapstructure:"file_read_allow"`
	FileWriteAllow []string `json:"file_write_allow" mapstructure:"file_write_allow"`

	// FileBlocklist holds substring or glob patterns for sensitive paths.
	// The blocklist always wins over the allowlists.
	FileBlocklist []string `json:"file_blocklist" mapstructure:"file_blocklist"`

	// BlockedActions are tool names that are denied outright.
	BlockedActions []string `json:"blocked_actions" mapstructure:"blocked_actions"`

	// ApprovalRequired are tool names that need out-of-band human approval.
	ApprovalRequired []string `json:"approval_required" mapstructure:"approval_required"`

	// UploadExtAllowlist is the set of file extensions permitted for upload.
	// Empty means allow all extensions.
	UploadExtAllowlist []string `json:"upload_ext_allowlist" mapstructure:"upload_ext_allowlist"`

	// Rate limiting.
	MaxCallsPerMinute int `json:"max_calls_per_minute" mapstructure:"max_calls_per_minute" validate:"gte=0"`
	MaxCallDepth      int `json:"max_call_depth" mapstructure:"max_call_depth" validate:"gte=1"`

	// Circuit breaker tuning.
	BreakerThreshold  int `json:"breaker_threshold" mapstructure:"breaker_threshold" validate:"gte=1"`
	BreakerTimeoutSec int `json:"breaker_timeout_sec" mapstructure:"breaker_timeout_sec" validate:"gte=1"`

	// Scanning toggles.
	EnableDangerousPatternScan bool `json:"enable_dangerous_pattern_scan" mapstructure:"enable_dangerous_pattern_scan"`

	// Audit.
	EnableAuditLog bool   `json:"enable_audit_log" mapstructure:"enable_audit_log"`
	AuditLogPath   string `json:"audit_log_path" mapstructure:"audit_log_path"`

	// CustomRules maps rule names to CEL expressions over (tool, args).
	// An expression evaluating to true denies the call.
	CustomRules map[string]string `json:"custom_rules" mapstructure:"custom_rules"`
}

// Default returns the policy with sensible defaults: metadata endpoints
// blocked, well-known credential paths blocked, shell execution blocked,
// destructive or outbound actions gated on approval.
func Default() *Policy {
	return &Policy{
		NetworkBlocklist: []string{
			"169.254.169.254",
			"metadata.google.internal",
		},
		FileBlocklist: []string{
			"/etc/shadow", "/etc/passwd", "~/.ssh/id_",
			"~/.gnupg/", "~/.aws/credentials", "~/.config/gcloud",
		},
		BlockedActions: []string{
			"shell_exec", "process_spawn", "kernel_module",
		},
		ApprovalRequired: []string{
			"email_send", "git_push", "file_delete",
		},
		UploadExtAllowlist: []string{
			".json", ".txt", ".md", ".csv", ".yaml", ".yml",
			".png", ".jpg", ".jpeg", ".gif", ".svg", ".pdf",
		},
		MaxCallsPerMinute:          60,
		MaxCallDepth:               20,
		BreakerThreshold:           5,
		BreakerTimeoutSec:          60,
		EnableDangerousPatternScan: true,
		EnableAuditLog:             true,
	}
}

// Permissive returns a policy that allows almost everything.
// Truly dangerous operations (kernel modules) stay blocked.
func Permissive() *Policy {
	p := Default()
	p.NetworkAllowlist = []string{"*"}
	p.FileReadAllow = []string{"*"}
	p.FileWriteAllow = []string{"*"}
	p.BlockedActions = []string{"kernel_module"}
	p.ApprovalRequired = nil
	p.MaxCallsPerMinute = 300
	p.MaxCallDepth = 50
	return p
}

// Strict returns a lockdown policy: writes and outbound traffic blocked,
// reads gated on approval, tight limits.
func Strict() *Policy {
	p := Default()
	p.BlockedActions = []string{
		"shell_exec", "process_spawn", "kernel_module",
		"file_delete", "file_write", "http_post",
	}
	p.ApprovalRequired = []string{
		"http_get", "file_read", "email_send", "git_push",
	}
	p.MaxCallsPerMinute = 20
	p.MaxCallDepth = 10
	p.BreakerThreshold = 3
	return p
}

// FromFile loads a policy from a JSON file. The document may either be the
// policy object itself or wrapped under the "jadegate_policy" key.
// Unknown keys are ignored.
func FromFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}

	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, fmt.Errorf("parse policy file: %w", err)
	}
	if inner, ok := wrapper[fileWrapperKey]; ok {
		data = inner
	}

	// Absent keys keep their default value, so a partial document merges
	// as an override rather than zeroing scalars.
	p := Default()
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}
	return p, nil
}

// LoadFile loads a policy file and merges it on top of the defaults, so a
// partial policy document behaves as an override rather than a replacement.
func LoadFile(path string) (*Policy, error) {
	override, err := FromFile(path)
	if err != nil {
		return nil, err
	}
	merged := Default().Merge(override)
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	return merged, nil
}

// Save writes the policy to a JSON file under the "jadegate_policy" wrapper.
func (p *Policy) Save(path string) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create policy directory: %w", err)
		}
	}
	doc := map[string]*Policy{fileWrapperKey: p}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal policy: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("write policy file: %w", err)
	}
	return nil
}

// Validate checks the structural invariants of the policy.
func (p *Policy) Validate() error {
	if err := validator.New().Struct(p); err != nil {
		return fmt.Errorf("invalid policy: %w", err)
	}
	return nil
}

// IsActionBlocked reports whether the named action is blocked outright.
func (p *Policy) IsActionBlocked(action string) bool {
	return contains(p.BlockedActions, action)
}

// NeedsApproval reports whether the named action requires human approval.
func (p *Policy) NeedsApproval(action string) bool {
	return contains(p.ApprovalRequired, action)
}

// IsDomainAllowed reports whether a host passes the network policy.
// The blocklist is checked first and always wins: a blocked host (or any
// subdomain of one) is denied even when the allowlist names it. An empty
// allowlist permits every host not in the blocklist.
func (p *Policy) IsDomainAllowed(host string) bool {
	for _, blocked := range p.NetworkBlocklist {
		if host == blocked || strings.HasSuffix(host, "."+blocked) {
			return false
		}
	}
	if len(p.NetworkAllowlist) == 0 {
		return true
	}
	for _, allowed := range p.NetworkAllowlist {
		if allowed == "*" || host == allowed {
			return true
		}
		if strings.HasPrefix(allowed, "*.") && strings.HasSuffix(host, allowed[1:]) {
			return true
		}
	}
	return false
}

// IsFilePathAllowed reports whether a file path passes the filesystem policy
// for the given access mode. Blocklist patterns match by glob or substring
// and always win. An empty mode allowlist permits every non-blocked path.
func (p *Policy) IsFilePathAllowed(path string, mode Mode) bool {
	expanded := expandPath(path)
	for _, pattern := range p.FileBlocklist {
		patExpanded := expandPath(pattern)
		if globMatch(patExpanded, expanded) || strings.Contains(expanded, patExpanded) {
			return false
		}
	}

	allowed := p.FileReadAllow
	if mode == ModeWrite {
		allowed = p.FileWriteAllow
	}
	if len(allowed) == 0 {
		return true
	}
	for _, pattern := range allowed {
		if pattern == "*" || globMatch(expandPath(pattern), expanded) {
			return true
		}
	}
	return false
}

// IsUploadAllowed reports whether a filename's extension is permitted.
// An empty allowlist permits everything.
func (p *Policy) IsUploadAllowed(filename string) bool {
	if len(p.UploadExtAllowlist) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(filename))
	return contains(p.UploadExtAllowlist, ext)
}

// Merge layers an override policy on top of p and returns the result.
// List fields are unioned with order-preserving dedup (base entries first).
// Scalar fields take the override's value only when it differs from the
// field's default, so an untouched override field never clobbers the base.
func (p *Policy) Merge(override *Policy) *Policy {
	def := Default()
	merged := &Policy{
		NetworkAllowlist:   unionLists(p.NetworkAllowlist, override.NetworkAllowlist),
		NetworkBlocklist:   unionLists(p.NetworkBlocklist, override.NetworkBlocklist),
		FileReadAllow:      unionLists(p.FileReadAllow, override.FileReadAllow),
		FileWriteAllow:     unionLists(p.FileWriteAllow, override.FileWriteAllow),
		FileBlocklist:      unionLists(p.FileBlocklist, override.FileBlocklist),
		BlockedActions:     unionLists(p.BlockedActions, override.BlockedActions),
		ApprovalRequired:   unionLists(p.ApprovalRequired, override.ApprovalRequired),
		UploadExtAllowlist: unionLists(p.UploadExtAllowlist, override.UploadExtAllowlist),

		MaxCallsPerMinute:          mergeInt(p.MaxCallsPerMinute, override.MaxCallsPerMinute, def.MaxCallsPerMinute),
		MaxCallDepth:               mergeInt(p.MaxCallDepth, override.MaxCallDepth, def.MaxCallDepth),
		BreakerThreshold:           mergeInt(p.BreakerThreshold, override.BreakerThreshold, def.BreakerThreshold),
		BreakerTimeoutSec:          mergeInt(p.BreakerTimeoutSec, override.BreakerTimeoutSec, def.BreakerTimeoutSec),
		EnableDangerousPatternScan: mergeBool(p.EnableDangerousPatternScan, override.EnableDangerousPatternScan, def.EnableDangerousPatternScan),
		EnableAuditLog:             mergeBool(p.EnableAuditLog, override.EnableAuditLog, def.EnableAuditLog),
		AuditLogPath:               mergeString(p.AuditLogPath, override.AuditLogPath, def.AuditLogPath),

		CustomRules: mergeRules(p.CustomRules, override.CustomRules),
	}
	return merged
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// unionLists merges two lists preserving order and dropping duplicates.
func unionLists(base, override []string) []string {
	seen := make(map[string]struct{}, len(base)+len(override))
	var out []string
	for _, list := range [][]string{base, override} {
		for _, v := range list {
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}

func mergeInt(base, override, def int) int {
	if override != def {
		return override
	}
	return base
}

func mergeBool(base, override, def bool) bool {
	if override != def {
		return override
	}
	return base
}

func mergeString(base, override, def string) string {
	if override != def {
		return override
	}
	return base
}

func mergeRules(base, override map[string]string) map[string]string {
	if len(base) == 0 && len(override) == 0 {
		return nil
	}
	out := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

// expandPath expands a leading "~" to the user's home directory and
// substitutes environment variables.
func expandPath(path string) string {
	path = os.ExpandEnv(path)
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = home + strings.TrimPrefix(path, "~")
		}
	}
	return path
}

// globMatch wraps filepath.Match, treating a malformed pattern as no match.
func globMatch(pattern, name string) bool {
	ok, err := filepath.Match(pattern, name)
	return err == nil && ok
}
