// Package trust maintains the local per-tool trust state: risk profiling,
// signed certificates, a filesystem-backed store, and trust-on-first-use
// baseline checking. Everything lives under the user's trust directory;
// nothing reaches a network.
package trust

import "strings"

// Risk levels, ordered low < medium < high < critical. "unknown" sorts
// below everything so any concrete assessment counts as an escalation.
const (
	RiskUnknown  = "unknown"
	RiskLow      = "low"
	RiskMedium   = "medium"
	RiskHigh     = "high"
	RiskCritical = "critical"
)

var riskOrder = map[string]int{
	RiskUnknown:  -1,
	RiskLow:      0,
	RiskMedium:   1,
	RiskHigh:     2,
	RiskCritical: 3,
}

// RiskRank returns the ordering rank of a risk level. Unrecognized levels
// rank with unknown.
func RiskRank(level string) int {
	if r, ok := riskOrder[level]; ok {
		return r
	}
	return -1
}

// RiskProfile is a capability-and-risk assessment for a tool, derived from
// its advertised metadata by keyword heuristics.
type RiskProfile struct {
	Level         string   `json:"level"`
	Capabilities  []string `json:"capabilities"`
	NetworkAccess bool     `json:"network_access"`
	FileAccess    bool     `json:"file_access"`
	ShellAccess   bool     `json:"shell_access"`
	DataExfilRisk bool     `json:"data_exfil_risk"`
}

// Keyword tables for profile derivation. Contains-match on the case-folded
// concatenation of name and description.
var (
	networkKeywords  = []string{"http", "fetch", "request", "url", "api", "webhook", "curl"}
	fileKeywords     = []string{"file", "read", "write", "path", "directory", "folder"}
	shellKeywords    = []string{"exec", "shell", "command", "run", "bash", "terminal"}
	exfilKeywords    = []string{"send", "email", "post", "upload", "push"}
	readOnlyKeywords = []string{"search", "query", "list", "get"}
)

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// ProfileFromToolInfo derives a risk profile from a tool's name and
// description. Shell access alone is critical; network plus filesystem is
// high; either network or outbound data movement is medium; filesystem
// alone is medium; anything else is low.
func ProfileFromToolInfo(name, description string) RiskProfile {
	text := strings.ToLower(name + " " + description)

	var p RiskProfile
	if containsAny(text, networkKeywords) {
		p.NetworkAccess = true
		p.Capabilities = append(p.Capabilities, "network")
	}
	if containsAny(text, fileKeywords) {
		p.FileAccess = true
		p.Capabilities = append(p.Capabilities, "filesystem")
	}
	if containsAny(text, shellKeywords) {
		p.ShellAccess = true
		p.Capabilities = append(p.Capabilities, "shell")
	}
	if containsAny(text, exfilKeywords) {
		p.DataExfilRisk = true
		p.Capabilities = append(p.Capabilities, "data_send")
	}
	if containsAny(text, readOnlyKeywords) {
		p.Capabilities = append(p.Capabilities, "read_only")
	}

	switch {
	case p.ShellAccess:
		p.Level = RiskCritical
	case p.NetworkAccess && p.FileAccess:
		p.Level = RiskHigh
	case p.NetworkAccess || p.DataExfilRisk:
		p.Level = RiskMedium
	case p.FileAccess:
		p.Level = RiskMedium
	default:
		p.Level = RiskLow
	}
	return p
}

// AddedCapabilities returns the capabilities present in newer but absent
// from p.
func (p RiskProfile) AddedCapabilities(newer RiskProfile) []string {
	have := make(map[string]struct{}, len(p.Capabilities))
	for _, c := range p.Capabilities {
		have[c] = struct{}{}
	}
	var added []string
	for _, c := range newer.Capabilities {
		if _, ok := have[c]; !ok {
			added = append(added, c)
		}
	}
	return added
}
