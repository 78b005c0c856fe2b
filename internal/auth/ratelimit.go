package auth

import (
	"strings"
	"sync"
	"time"
)

// Login limiter defaults.
const (
	DefaultMaxAttempts     = 5
	DefaultAttemptWindow   = 15 * time.Minute
	DefaultLockoutDuration = 30 * time.Minute
)

// Decision is the outcome of a limiter check.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

type attemptRecord struct {
	count       int
	windowStart time.Time
	lockedUntil time.Time
}

// LoginLimiter tracks failed login attempts per (normalized email, source
// address) and enforces a temporary lockout. State is process-local and
// rebuilt from zero on restart; that trade-off is deliberate. The zero
// value is not usable, construct with NewLoginLimiter and inject it into
// the login path.
type LoginLimiter struct {
	mu       sync.Mutex
	attempts map[string]*attemptRecord

	maxAttempts int
	window      time.Duration
	lockout     time.Duration
	now         func() time.Time
}

// NewLoginLimiter constructs a limiter. Non-positive arguments fall back to
// the defaults.
func NewLoginLimiter(maxAttempts int, window, lockout time.Duration) *LoginLimiter {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if window <= 0 {
		window = DefaultAttemptWindow
	}
	if lockout <= 0 {
		lockout = DefaultLockoutDuration
	}
	return &LoginLimiter{
		attempts:    make(map[string]*attemptRecord),
		maxAttempts: maxAttempts,
		window:      window,
		lockout:     lockout,
		now:         time.Now,
	}
}

func limiterKey(email, ip string) string {
	return NormalizeEmail(email) + "|" + strings.TrimSpace(ip)
}

// Allow reports whether a login attempt for the key may proceed. A lockout
// whose deadline has passed expires lazily here.
func (l *LoginLimiter) Allow(email, ip string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	rec, ok := l.attempts[limiterKey(email, ip)]
	if !ok {
		return Decision{Allowed: true, Remaining: l.maxAttempts}
	}
	if !rec.lockedUntil.IsZero() {
		if now.Before(rec.lockedUntil) {
			return Decision{RetryAfter: rec.lockedUntil.Sub(now)}
		}
		delete(l.attempts, limiterKey(email, ip))
		return Decision{Allowed: true, Remaining: l.maxAttempts}
	}
	if now.Sub(rec.windowStart) > l.window {
		delete(l.attempts, limiterKey(email, ip))
		return Decision{Allowed: true, Remaining: l.maxAttempts}
	}
	return Decision{Allowed: true, Remaining: l.maxAttempts - rec.count}
}

// RecordFailure increments the counter for the key. Reaching the maximum
// within the window transitions the key to locked and reports true.
func (l *LoginLimiter) RecordFailure(email, ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	key := limiterKey(email, ip)
	rec, ok := l.attempts[key]
	if !ok || now.Sub(rec.windowStart) > l.window || (!rec.lockedUntil.IsZero() && now.After(rec.lockedUntil)) {
		l.attempts[key] = &attemptRecord{count: 1, windowStart: now}
		return false
	}
	rec.count++
	if rec.count >= l.maxAttempts && rec.lockedUntil.IsZero() {
		rec.lockedUntil = now.Add(l.lockout)
		return true
	}
	return false
}

// Clear resets the key to its initial state. Called on successful login.
func (l *LoginLimiter) Clear(email, ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.attempts, limiterKey(email, ip))
}

// Sweep drops records whose window and lockout have both elapsed. Purely a
// memory bound; lazy expiry in Allow keeps correctness without it.
func (l *LoginLimiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for key, rec := range l.attempts {
		expired := now.Sub(rec.windowStart) > l.window
		if !rec.lockedUntil.IsZero() {
			expired = now.After(rec.lockedUntil)
		}
		if expired {
			delete(l.attempts, key)
			removed++
		}
	}
	return removed
}
