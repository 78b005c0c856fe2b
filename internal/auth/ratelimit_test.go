package auth

import (
	"testing"
	"time"
)

func testLimiter(maxAttempts int, window, lockout time.Duration) (*LoginLimiter, *time.Time) {
	l := NewLoginLimiter(maxAttempts, window, lockout)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestLimiterLocksAfterMaxFailures(t *testing.T) {
	l, _ := testLimiter(3, 15*time.Minute, 30*time.Minute)

	for i := 0; i < 2; i++ {
		if locked := l.RecordFailure("user@example.com", "10.0.0.1"); locked {
			t.Fatalf("attempt %d: locked too early", i+1)
		}
		if d := l.Allow("user@example.com", "10.0.0.1"); !d.Allowed {
			t.Fatalf("attempt %d: expected allowed", i+1)
		}
	}
	if locked := l.RecordFailure("user@example.com", "10.0.0.1"); !locked {
		t.Fatal("expected lock transition on final failure")
	}
	d := l.Allow("user@example.com", "10.0.0.1")
	if d.Allowed {
		t.Fatal("expected lockout")
	}
	if d.RetryAfter != 30*time.Minute {
		t.Fatalf("retry after = %s, want 30m", d.RetryAfter)
	}
}

func TestLimiterLockoutExpires(t *testing.T) {
	l, now := testLimiter(2, 15*time.Minute, 30*time.Minute)

	l.RecordFailure("user@example.com", "10.0.0.1")
	l.RecordFailure("user@example.com", "10.0.0.1")
	if d := l.Allow("user@example.com", "10.0.0.1"); d.Allowed {
		t.Fatal("expected lockout")
	}

	*now = now.Add(30*time.Minute + time.Second)
	d := l.Allow("user@example.com", "10.0.0.1")
	if !d.Allowed {
		t.Fatal("expected lockout to have expired")
	}
	if d.Remaining != 2 {
		t.Fatalf("remaining = %d, want fresh budget of 2", d.Remaining)
	}
}

func TestLimiterWindowReset(t *testing.T) {
	l, now := testLimiter(3, 15*time.Minute, 30*time.Minute)

	l.RecordFailure("user@example.com", "10.0.0.1")
	l.RecordFailure("user@example.com", "10.0.0.1")

	*now = now.Add(16 * time.Minute)
	if locked := l.RecordFailure("user@example.com", "10.0.0.1"); locked {
		t.Fatal("failure in a new window must not count toward the old one")
	}
	d := l.Allow("user@example.com", "10.0.0.1")
	if !d.Allowed || d.Remaining != 2 {
		t.Fatalf("got allowed=%v remaining=%d, want fresh window with one failure", d.Allowed, d.Remaining)
	}
}

func TestLimiterKeysAreIndependent(t *testing.T) {
	l, _ := testLimiter(2, 15*time.Minute, 30*time.Minute)

	l.RecordFailure("user@example.com", "10.0.0.1")
	l.RecordFailure("user@example.com", "10.0.0.1")

	if d := l.Allow("user@example.com", "10.0.0.1"); d.Allowed {
		t.Fatal("expected lockout for the failing pair")
	}
	if d := l.Allow("user@example.com", "10.0.0.2"); !d.Allowed {
		t.Fatal("same email from another address must not be locked")
	}
	if d := l.Allow("other@example.com", "10.0.0.1"); !d.Allowed {
		t.Fatal("another email from the same address must not be locked")
	}
}

func TestLimiterClear(t *testing.T) {
	l, _ := testLimiter(3, 15*time.Minute, 30*time.Minute)

	l.RecordFailure("user@example.com", "10.0.0.1")
	l.RecordFailure("user@example.com", "10.0.0.1")
	l.Clear("user@example.com", "10.0.0.1")

	d := l.Allow("user@example.com", "10.0.0.1")
	if !d.Allowed || d.Remaining != 3 {
		t.Fatalf("got allowed=%v remaining=%d, want full budget after clear", d.Allowed, d.Remaining)
	}
}

func TestLimiterNormalizesEmail(t *testing.T) {
	l, _ := testLimiter(2, 15*time.Minute, 30*time.Minute)

	l.RecordFailure("  User@Example.COM ", "10.0.0.1")
	l.RecordFailure("user@example.com", "10.0.0.1")

	if d := l.Allow("USER@example.com", "10.0.0.1"); d.Allowed {
		t.Fatal("spellings of the same address must share one counter")
	}
}

func TestLimiterSweep(t *testing.T) {
	l, now := testLimiter(2, 15*time.Minute, 30*time.Minute)

	l.RecordFailure("stale@example.com", "10.0.0.1")
	l.RecordFailure("locked@example.com", "10.0.0.2")
	l.RecordFailure("locked@example.com", "10.0.0.2")

	if removed := l.Sweep(); removed != 0 {
		t.Fatalf("removed %d records before expiry, want 0", removed)
	}

	*now = now.Add(31 * time.Minute)
	if removed := l.Sweep(); removed != 2 {
		t.Fatalf("removed %d records, want 2", removed)
	}
	if d := l.Allow("locked@example.com", "10.0.0.2"); !d.Allowed {
		t.Fatal("swept key must be allowed again")
	}
}
