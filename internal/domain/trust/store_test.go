package trust

import (
	"testing"
)

func TestStoreSaveGetReload(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenStore(dir, nil)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}

	cert := NewCertificate("srv/tool a", "srv", "Tool A", "", RiskProfile{Level: RiskMedium})
	if err := store.Save(cert); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if got := store.Get("srv/tool a"); got == nil || got.DisplayName != "Tool A" {
		t.Fatalf("Get = %+v, want Tool A", got)
	}

	// A fresh store over the same directory sees the persisted cert, even
	// though the tool id needed filename sanitization.
	reopened, err := OpenStore(dir, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got := reopened.Get("srv/tool a")
	if got == nil {
		t.Fatal("certificate not reloaded from disk")
	}
	if got.RiskProfile.Level != RiskMedium {
		t.Errorf("risk level = %s, want medium", got.RiskProfile.Level)
	}
}

func TestStoreSanitizedNamesDoNotCollide(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenStore(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Save(NewCertificate("a/b", "", "slash", "", RiskProfile{Level: RiskLow})); err != nil {
		t.Fatal(err)
	}
	if err := store.Save(NewCertificate(`a\b`, "", "backslash", "", RiskProfile{Level: RiskLow})); err != nil {
		t.Fatal(err)
	}

	reopened, err := OpenStore(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := reopened.Get("a/b"); got == nil || got.DisplayName != "slash" {
		t.Errorf("a/b = %+v, want slash", got)
	}
	if got := reopened.Get(`a\b`); got == nil || got.DisplayName != "backslash" {
		t.Errorf(`a\b = %+v, want backslash`, got)
	}
}

func TestStoreRemove(t *testing.T) {
	store, err := OpenStore(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	store.Save(NewCertificate("t", "", "T", "", RiskProfile{Level: RiskLow}))

	if !store.Remove("t") {
		t.Error("Remove should report a deleted file")
	}
	if store.Get("t") != nil {
		t.Error("certificate should be gone")
	}
	if store.Remove("t") {
		t.Error("second Remove should report nothing deleted")
	}
}

func TestStoreTrustQueries(t *testing.T) {
	store, err := OpenStore(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	cert := NewCertificate("t", "", "T", "", RiskProfile{Level: RiskLow})
	store.Save(cert)

	if store.IsTrusted("t", 0.6) {
		t.Error("fresh cert at 0.5 should not clear 0.6")
	}
	if store.IsTrusted("missing", 0.1) {
		t.Error("missing cert is never trusted")
	}

	for i := 0; i < 5; i++ {
		if _, ok := store.UpdateTrust("t", true); !ok {
			t.Fatal("UpdateTrust should find the cert")
		}
	}
	if !store.IsTrusted("t", 0.6) {
		t.Errorf("score = %v, should clear 0.6 after 5 successes", store.Get("t").TrustScore)
	}

	if _, ok := store.UpdateTrust("missing", true); ok {
		t.Error("UpdateTrust on missing cert should report false")
	}

	if store.IsSigned("t") {
		t.Error("unsigned cert reported as signed")
	}
}

func TestStoreSummary(t *testing.T) {
	store, err := OpenStore(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	store.Save(NewCertificate("low", "", "", "", RiskProfile{Level: RiskLow}))
	store.Save(NewCertificate("crit", "", "", "", RiskProfile{Level: RiskCritical}))

	high := NewCertificate("high", "", "", "", RiskProfile{Level: RiskHigh})
	for i := 0; i < 4; i++ {
		high.UpdateTrust(true)
	}
	store.Save(high)

	sum := store.Summary()
	if sum.TotalCertificates != 3 {
		t.Errorf("total = %d, want 3", sum.TotalCertificates)
	}
	if sum.HighRisk != 2 {
		t.Errorf("high risk = %d, want 2", sum.HighRisk)
	}
	if sum.Trusted != 1 {
		t.Errorf("trusted = %d, want 1", sum.Trusted)
	}
	if sum.Signed != 0 {
		t.Errorf("signed = %d, want 0", sum.Signed)
	}
}
