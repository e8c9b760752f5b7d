package bruteguard

import (
	"testing"
	"time"
)

func TestAllowPassesUntilMaxFails(t *testing.T) {
	g := New(Config{MaxFails: 3, Cooldown: time.Minute, BaseBackoff: time.Millisecond, MaxBackoff: time.Second})

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		if ok, _ := g.Allow("1.2.3.4", "alice"); !ok {
			t.Fatalf("expected Allow to pass before MaxFails reached, iteration %d", i)
		}
		g.Fail("1.2.3.4", "alice")
		// Step past the below-threshold backoff (1ms, then 2ms).
		now = now.Add(time.Second)
	}

	g.Fail("1.2.3.4", "alice") // third failure hits MaxFails
	ok, wait := g.Allow("1.2.3.4", "alice")
	if ok {
		t.Fatalf("expected Allow to block after MaxFails reached")
	}
	if wait <= 0 {
		t.Fatalf("expected a positive retryAfter, got %s", wait)
	}
}

func TestSuccessClearsFailureState(t *testing.T) {
	g := New(Config{MaxFails: 2, Cooldown: time.Minute, BaseBackoff: time.Millisecond, MaxBackoff: time.Second})
	// The ip key is locked too; Success clears it only with clearIPOnSuccess.
	g.clearIPOnSuccess = true

	g.Fail("9.9.9.9", "bob")
	g.Fail("9.9.9.9", "bob")
	if ok, _ := g.Allow("9.9.9.9", "bob"); ok {
		t.Fatalf("expected to be blocked before Success clears state")
	}

	g.Success("9.9.9.9", "bob")
	if ok, _ := g.Allow("9.9.9.9", "bob"); !ok {
		t.Fatalf("expected Allow to pass after Success clears the lock")
	}
}

func TestBackoffGrowsExponentiallyAndCapsAtMaxBackoff(t *testing.T) {
	g := New(Config{MaxFails: 100, Cooldown: time.Hour, BaseBackoff: time.Second, MaxBackoff: 4 * time.Second})

	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return fixed }

	g.Fail("5.5.5.5", "carol") // fails=1, backoff=1s
	g.Fail("5.5.5.5", "carol") // fails=2, backoff=2s
	g.Fail("5.5.5.5", "carol") // fails=3, backoff=4s (capped)
	g.Fail("5.5.5.5", "carol") // fails=4, would be 8s but capped at 4s

	snap := g.Peek("5.5.5.5", "carol")
	if snap.Fails != 4 {
		t.Fatalf("expected 4 recorded fails, got %d", snap.Fails)
	}
	wantUntil := fixed.Add(4 * time.Second)
	if !snap.LockedUntil.Equal(wantUntil) {
		t.Fatalf("expected backoff capped at MaxBackoff (%s), got lockedUntil=%s", wantUntil, snap.LockedUntil)
	}
}

func TestWindowSoftResetsFailsAfterExpiry(t *testing.T) {
	g := New(Config{Window: time.Minute, MaxFails: 100, Cooldown: time.Hour, BaseBackoff: time.Second, MaxBackoff: time.Minute})

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return start }
	g.Fail("8.8.8.8", "dave")

	g.now = func() time.Time { return start.Add(2 * time.Minute) }
	snap := g.Peek("8.8.8.8", "dave")
	if snap.Fails != 0 {
		t.Fatalf("expected fails to soft-reset once Window has elapsed, got %d", snap.Fails)
	}
}

func TestGCDropsStaleEntries(t *testing.T) {
	g := New(Config{GCInterval: time.Millisecond, AliveFor: time.Second, MaxFails: 10, Cooldown: time.Minute, BaseBackoff: time.Millisecond, MaxBackoff: time.Second})

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return start }
	g.Fail("1.1.1.1", "erin")

	if keys, _ := g.Stats(); keys == 0 {
		t.Fatalf("expected at least one tracked key before GC")
	}

	g.now = func() time.Time { return start.Add(time.Hour) }
	keys, _ := g.Stats()
	if keys != 0 {
		t.Fatalf("expected GC to drop entries older than AliveFor, got %d remaining keys", keys)
	}
}
