package breaker

import (
	"testing"
	"time"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestBreaker(threshold int, timeout time.Duration) (*Breaker, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1_000_000, 0)}
	b := New(threshold, timeout, nil)
	b.SetClock(func() time.Time { return clock.now })
	return b, clock
}

func TestUnknownToolIsClosed(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)
	if !b.CanCall("never-seen") {
		t.Error("unknown tool should be callable")
	}
}

func TestTripAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)

	for i := 0; i < 2; i++ {
		if tripped := b.RecordFailure("t"); tripped {
			t.Fatalf("tripped after %d failures, threshold is 3", i+1)
		}
		if !b.CanCall("t") {
			t.Fatalf("should still be callable after %d failures", i+1)
		}
	}
	if tripped := b.RecordFailure("t"); !tripped {
		t.Fatal("third failure should trip")
	}
	if b.CanCall("t") {
		t.Error("open breaker should deny calls")
	}
	if got := b.Status()["t"]; got.State != StateOpen || got.TripCount != 1 {
		t.Errorf("status = %+v, want open with 1 trip", got)
	}
}

func TestSuccessResetsFailureStreak(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)
	b.RecordFailure("t")
	b.RecordFailure("t")
	b.RecordSuccess("t")
	b.RecordFailure("t")
	b.RecordFailure("t")
	if !b.CanCall("t") {
		t.Error("non-consecutive failures should not trip")
	}
}

func TestHalfOpenProbe(t *testing.T) {
	b, clock := newTestBreaker(2, time.Minute)
	b.RecordFailure("t")
	b.RecordFailure("t")

	if b.CanCall("t") {
		t.Fatal("should be open before timeout")
	}
	clock.advance(59 * time.Second)
	if b.CanCall("t") {
		t.Fatal("should still be open just before timeout")
	}
	clock.advance(2 * time.Second)
	if !b.CanCall("t") {
		t.Fatal("should allow a probe after timeout")
	}
	if got := b.Status()["t"].State; got != StateHalfOpen {
		t.Errorf("state = %s, want half_open", got)
	}
}

func TestHalfOpenSuccessCloses(t *testing.T) {
	b, clock := newTestBreaker(2, time.Minute)
	b.RecordFailure("t")
	b.RecordFailure("t")
	clock.advance(2 * time.Minute)
	b.CanCall("t")

	b.RecordSuccess("t")
	got := b.Status()["t"]
	if got.State != StateClosed {
		t.Errorf("state = %s, want closed", got.State)
	}
	if got.ConsecutiveFailures != 0 {
		t.Errorf("failures = %d, want 0", got.ConsecutiveFailures)
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	b, clock := newTestBreaker(2, time.Minute)
	b.RecordFailure("t")
	b.RecordFailure("t")
	clock.advance(2 * time.Minute)
	b.CanCall("t")

	if tripped := b.RecordFailure("t"); !tripped {
		t.Fatal("failed probe should count as a trip")
	}
	if b.CanCall("t") {
		t.Error("breaker should reopen after failed probe")
	}
	if got := b.Status()["t"].TripCount; got != 2 {
		t.Errorf("trip count = %d, want 2", got)
	}
}

func TestStatusPromotesExpiredOpen(t *testing.T) {
	b, clock := newTestBreaker(1, time.Minute)
	b.RecordFailure("t")
	clock.advance(2 * time.Minute)
	if got := b.Status()["t"].State; got != StateHalfOpen {
		t.Errorf("state = %s, want half_open after cooldown", got)
	}
}

func TestResetAndResetAll(t *testing.T) {
	b, _ := newTestBreaker(1, time.Minute)
	b.RecordFailure("a")
	b.RecordFailure("b")

	b.Reset("a")
	if !b.CanCall("a") {
		t.Error("reset breaker should be callable")
	}
	if b.CanCall("b") {
		t.Error("other breaker should stay open")
	}

	b.ResetAll()
	if !b.CanCall("a") || !b.CanCall("b") {
		t.Error("reset-all breakers should be callable")
	}
	if len(b.Status()) != 2 {
		// CanCall allocated fresh CLOSED entries for a and b.
		t.Errorf("status entries = %d, want 2", len(b.Status()))
	}
	for name, s := range b.Status() {
		if s.State != StateClosed || s.TripCount != 0 {
			t.Errorf("%s after reset-all = %+v, want pristine closed", name, s)
		}
	}
}

func TestBreakersAreIndependent(t *testing.T) {
	b, _ := newTestBreaker(1, time.Minute)
	b.RecordFailure("bad")
	if b.CanCall("bad") {
		t.Error("bad tool should be open")
	}
	if !b.CanCall("good") {
		t.Error("unrelated tool should be unaffected")
	}
}
