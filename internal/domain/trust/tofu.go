package trust

import (
	"fmt"
	"log/slog"
	"time"
)

// TOFU alert types.
const (
	AlertNewTool          = "new_tool"
	AlertRiskEscalation   = "risk_escalation"
	AlertCapabilityChange = "capability_change"
)

// Alert is raised when a tool deviates from its recorded baseline, or on
// first sight.
type Alert struct {
	ToolID    string      `json:"tool_id"`
	Type      string      `json:"alert_type"`
	Message   string      `json:"message"`
	OldValue  interface{} `json:"old_value"`
	NewValue  interface{} `json:"new_value"`
	Timestamp time.Time   `json:"timestamp"`
}

// TOFU implements trust-on-first-use baseline checking around a Store,
// in the manner of SSH's known_hosts. The first encounter with a tool pins
// its capability baseline; later encounters are compared against it.
//
// The stored risk level is not rebaselined on escalation: the alert fires
// again on every encounter until the operator resets the baseline
// explicitly (cert reset).
type TOFU struct {
	store  *Store
	alerts []Alert
	log    *slog.Logger
}

// NewTOFU wraps a store with TOFU checking.
func NewTOFU(store *Store, log *slog.Logger) *TOFU {
	if log == nil {
		log = slog.Default()
	}
	return &TOFU{store: store, log: log}
}

// Alerts returns every alert raised so far.
func (t *TOFU) Alerts() []Alert {
	return append([]Alert(nil), t.alerts...)
}

// CheckTool compares a tool's advertised metadata against its stored
// baseline. On first sight it records a baseline certificate and emits a
// new_tool alert; afterwards it emits risk_escalation and capability_change
// alerts as applicable and bumps the certificate's last-seen time.
func (t *TOFU) CheckTool(toolID, name, description, serverID string) []Alert {
	displayName := name
	if displayName == "" {
		displayName = toolID
	}

	existing := t.store.Get(toolID)
	if existing == nil {
		profile := ProfileFromToolInfo(displayName, description)
		cert := NewCertificate(toolID, serverID, displayName, description, profile)
		if err := t.store.Save(cert); err != nil {
			t.log.Warn("failed to persist baseline certificate", "tool", toolID, "error", err)
		}
		alert := Alert{
			ToolID: toolID,
			Type:   AlertNewTool,
			Message: fmt.Sprintf("New tool '%s' seen for the first time (risk: %s)",
				displayName, profile.Level),
			NewValue:  profile.Level,
			Timestamp: time.Now(),
		}
		t.alerts = append(t.alerts, alert)
		t.log.Info("new tool baselined", "tool", toolID, "risk", profile.Level)
		return []Alert{alert}
	}

	var alerts []Alert
	newProfile := ProfileFromToolInfo(displayName, description)

	if RiskRank(newProfile.Level) > RiskRank(existing.RiskProfile.Level) {
		alerts = append(alerts, Alert{
			ToolID: toolID,
			Type:   AlertRiskEscalation,
			Message: fmt.Sprintf("Tool '%s' risk escalated: %s -> %s",
				toolID, existing.RiskProfile.Level, newProfile.Level),
			OldValue:  existing.RiskProfile.Level,
			NewValue:  newProfile.Level,
			Timestamp: time.Now(),
		})
		t.log.Warn("risk escalation",
			"tool", toolID, "old", existing.RiskProfile.Level, "new", newProfile.Level)
	}

	if added := existing.RiskProfile.AddedCapabilities(newProfile); len(added) > 0 {
		alerts = append(alerts, Alert{
			ToolID:    toolID,
			Type:      AlertCapabilityChange,
			Message:   fmt.Sprintf("Tool '%s' gained new capabilities: %v", toolID, added),
			OldValue:  existing.RiskProfile.Capabilities,
			NewValue:  newProfile.Capabilities,
			Timestamp: time.Now(),
		})
		t.log.Warn("capability change", "tool", toolID, "added", added)
	}

	existing.LastSeen = float64(time.Now().UnixNano()) / 1e9
	if err := t.store.Save(existing); err != nil {
		t.log.Warn("failed to persist certificate", "tool", toolID, "error", err)
	}

	t.alerts = append(t.alerts, alerts...)
	return alerts
}

// RecordOutcome feeds a call result into the tool's trust score. Tools
// without a pinned baseline are ignored.
func (t *TOFU) RecordOutcome(toolID string, success bool) (float64, bool) {
	return t.store.UpdateTrust(toolID, success)
}

// Baseline returns the stored baseline certificate for a tool, or nil.
func (t *TOFU) Baseline(toolID string) *Certificate {
	return t.store.Get(toolID)
}

// ResetBaseline removes a tool's baseline so the next encounter re-pins it.
func (t *TOFU) ResetBaseline(toolID string) bool {
	return t.store.Remove(toolID)
}
