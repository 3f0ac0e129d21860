package trust

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Certificate describes a tool's identity, capabilities, and locally
// observed trust. Loosely modeled on X.509 but for tools: the signable
// subset can carry an Ed25519 attestation, while the trust score and
// counters are local observations outside the signature.
type Certificate struct {
	ToolID       string      `json:"tool_id"`
	ServerID     string      `json:"server_id"`
	DisplayName  string      `json:"display_name"`
	Description  string      `json:"description"`
	RiskProfile  RiskProfile `json:"risk_profile"`
	TrustScore   float64     `json:"trust_score"`
	SuccessCount int         `json:"success_count"`
	FailureCount int         `json:"failure_count"`
	FirstSeen    float64     `json:"first_seen"`
	LastSeen     float64     `json:"last_seen"`
	SignedBy     string      `json:"signed_by"`
	Signature    string      `json:"signature"`
	Version      string      `json:"version"`
}

// NewCertificate creates an unsigned certificate with the 0.5 Bayesian
// prior trust score.
func NewCertificate(toolID, serverID, displayName, description string, profile RiskProfile) *Certificate {
	now := float64(time.Now().UnixNano()) / 1e9
	return &Certificate{
		ToolID:      toolID,
		ServerID:    serverID,
		DisplayName: displayName,
		Description: description,
		RiskProfile: profile,
		TrustScore:  0.5,
		FirstSeen:   now,
		LastSeen:    now,
		Version:     "1.0",
	}
}

// signableContent canonicalizes the attested subset: sorted keys, minified,
// UTF-8. encoding/json emits map keys in sorted order, which gives the
// deterministic byte form the signature contract requires.
func (c *Certificate) signableContent() ([]byte, error) {
	subset := map[string]interface{}{
		"tool_id":      c.ToolID,
		"server_id":    c.ServerID,
		"display_name": c.DisplayName,
		"risk_profile": map[string]interface{}{
			"level":           c.RiskProfile.Level,
			"capabilities":    capsOrEmpty(c.RiskProfile.Capabilities),
			"network_access":  c.RiskProfile.NetworkAccess,
			"file_access":     c.RiskProfile.FileAccess,
			"shell_access":    c.RiskProfile.ShellAccess,
			"data_exfil_risk": c.RiskProfile.DataExfilRisk,
		},
		"version": c.Version,
	}
	return json.Marshal(subset)
}

func capsOrEmpty(caps []string) []string {
	if caps == nil {
		return []string{}
	}
	return caps
}

// Fingerprint returns the first 32 hex characters of the SHA-256 of the
// canonical signable content.
func (c *Certificate) Fingerprint() (string, error) {
	content, err := c.signableContent()
	if err != nil {
		return "", fmt.Errorf("canonicalize certificate: %w", err)
	}
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])[:32], nil
}

// Sign signs the canonical signable subset with an Ed25519 private key and
// records the signer's public key fingerprint.
func (c *Certificate) Sign(priv ed25519.PrivateKey) error {
	content, err := c.signableContent()
	if err != nil {
		return fmt.Errorf("canonicalize certificate: %w", err)
	}
	c.Signature = hex.EncodeToString(ed25519.Sign(priv, content))
	pub := priv.Public().(ed25519.PublicKey)
	pubSum := sha256.Sum256(pub)
	c.SignedBy = hex.EncodeToString(pubSum[:])[:32]
	return nil
}

// Verify re-canonicalizes the signable subset and checks the stored
// signature against the given public key. An unsigned certificate never
// verifies.
func (c *Certificate) Verify(pub ed25519.PublicKey) bool {
	if c.Signature == "" {
		return false
	}
	sig, err := hex.DecodeString(c.Signature)
	if err != nil {
		return false
	}
	content, err := c.signableContent()
	if err != nil {
		return false
	}
	return ed25519.Verify(pub, content, sig)
}

// UpdateTrust records an outcome and recomputes the trust score as the
// Laplace-smoothed posterior mean (s+1)/(s+f+2). Returns the new score.
func (c *Certificate) UpdateTrust(success bool) float64 {
	if success {
		c.SuccessCount++
	} else {
		c.FailureCount++
	}
	alpha := float64(c.SuccessCount + 1)
	beta := float64(c.FailureCount + 1)
	c.TrustScore = alpha / (alpha + beta)
	c.LastSeen = float64(time.Now().UnixNano()) / 1e9
	return c.TrustScore
}

// IsSigned reports whether the certificate carries a signature.
func (c *Certificate) IsSigned() bool {
	return c.Signature != ""
}
