// Package auth implements the session and token lifecycle engines:
// registration with email verification, credential login behind a failed
// attempt limiter, server side sessions with rotation and concurrency caps,
// and single-use password reset tokens.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"gatehouse.org/internal/mail"
	"gatehouse.org/internal/obs"
)

const (
	defaultSessionTTL       = 7 * 24 * time.Hour
	defaultResetTTL         = time.Hour
	defaultVerificationTTL  = 24 * time.Hour
	defaultRefreshThreshold = time.Hour
	defaultMaxSessions      = 5
)

// Service wires the engines together over a Store. Safe for concurrent use.
type Service struct {
	store   Store
	limiter *LoginLimiter
	mailer  mail.Dispatcher
	now     func() time.Time

	sessionTTL       time.Duration
	resetTTL         time.Duration
	verificationTTL  time.Duration
	refreshThreshold time.Duration
	maxSessions      int
	bcryptCost       int
	autoVerify       bool
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithSessionTTL configures session lifetime.
func WithSessionTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.sessionTTL = ttl
		}
	}
}

// WithResetTTL configures password reset token lifetime.
func WithResetTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.resetTTL = ttl
		}
	}
}

// WithVerificationTTL configures email verification token lifetime.
func WithVerificationTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.verificationTTL = ttl
		}
	}
}

// WithRefreshThreshold configures how close to expiry a session must be
// before MaybeRefresh extends it.
func WithRefreshThreshold(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.refreshThreshold = d
		}
	}
}

// WithMaxSessions caps concurrent sessions per user. Zero disables the cap.
func WithMaxSessions(n int) ServiceOption {
	return func(s *Service) {
		if n >= 0 {
			s.maxSessions = n
		}
	}
}

// WithBcryptCost overrides the password hashing cost factor.
func WithBcryptCost(cost int) ServiceOption {
	return func(s *Service) {
		if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
			s.bcryptCost = cost
		}
	}
}

// WithAutoVerify marks users verified at registration and skips
// verification token issuance.
func WithAutoVerify(enabled bool) ServiceOption {
	return func(s *Service) { s.autoVerify = enabled }
}

// WithLoginLimiter injects the failed attempt limiter guarding Login.
func WithLoginLimiter(l *LoginLimiter) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.limiter = l
		}
	}
}

// WithMailer injects the mail dispatcher.
func WithMailer(d mail.Dispatcher) ServiceOption {
	return func(s *Service) {
		if d != nil {
			s.mailer = d
		}
	}
}

// NewService constructs the Service with optional configuration.
func NewService(store Store, opts ...ServiceOption) *Service {
	svc := &Service{
		store:            store,
		limiter:          NewLoginLimiter(DefaultMaxAttempts, DefaultAttemptWindow, DefaultLockoutDuration),
		mailer:           mail.LogDispatcher{},
		now:              time.Now,
		sessionTTL:       defaultSessionTTL,
		resetTTL:         defaultResetTTL,
		verificationTTL:  defaultVerificationTTL,
		refreshThreshold: defaultRefreshThreshold,
		maxSessions:      defaultMaxSessions,
		bcryptCost:       bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Limiter exposes the injected login limiter for background sweeps.
func (s *Service) Limiter() *LoginLimiter {
	return s.limiter
}

// Register creates an account and, unless auto-verify is configured, issues
// a verification token and hands it to the mail dispatcher. Mail failure
// never fails registration; verification can be resent.
func (s *Service) Register(ctx context.Context, email, password, confirm string) (*User, error) {
	email = NormalizeEmail(email)
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if password != confirm {
		return nil, fmt.Errorf("%w: passwords do not match", ErrInvalidInput)
	}
	if err := ValidatePassword(password); err != nil {
		return nil, err
	}

	hash, err := HashPassword(password, s.bcryptCost)
	if err != nil {
		return nil, err
	}
	user := &User{
		Email:        email,
		PasswordHash: hash,
		Verified:     s.autoVerify,
		Role:         RoleUser,
	}
	if err := s.store.Users(ctx).Create(ctx, user); err != nil {
		return nil, err
	}
	if !s.autoVerify {
		if err := s.issueVerification(ctx, user); err != nil {
			obs.LogRequest(map[string]any{
				"type": "auth", "event": "verification.issue_failed",
				"user_id": user.ID, "error": err.Error(),
			})
		}
	}
	return user, nil
}

// Login runs the gate: rate limiter, credential verification, then session
// creation. A successful login clears the attempt counter for the key.
func (s *Service) Login(ctx context.Context, email, password string, meta SessionMetadata) (*Credentials, error) {
	email = NormalizeEmail(email)
	decision := s.limiter.Allow(email, meta.IPAddress)
	if !decision.Allowed {
		return nil, &RateLimitedError{RetryAfter: decision.RetryAfter}
	}

	user, err := s.verifyCredentials(ctx, email, password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			if s.limiter.RecordFailure(email, meta.IPAddress) {
				obs.IncLockout()
			}
		}
		return nil, err
	}

	creds, err := s.CreateSession(ctx, user.ID, meta)
	if err != nil {
		return nil, err
	}
	s.limiter.Clear(email, meta.IPAddress)
	return creds, nil
}

// verifyCredentials checks an email/password pair. A missing account and a
// wrong password are indistinguishable to the caller; an unverified address
// is reported distinctly only after the password has been proven correct.
func (s *Service) verifyCredentials(ctx context.Context, email, password string) (*User, error) {
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	user, err := s.store.Users(ctx).FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return nil, ErrInvalidCredentials
	}
	if !user.Verified {
		return nil, ErrEmailNotVerified
	}
	return user, nil
}

// ChangePassword re-hashes the password for an authenticated user after
// verifying the current one, then revokes every other session so a stolen
// token does not outlive the change.
func (s *Service) ChangePassword(ctx context.Context, userID, current, newPassword, confirm, currentSessionID string) error {
	if newPassword != confirm {
		return fmt.Errorf("%w: passwords do not match", ErrInvalidInput)
	}
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}
	user, err := s.store.Users(ctx).Find(ctx, userID)
	if err != nil {
		return err
	}
	if err := VerifyPassword(user.PasswordHash, current); err != nil {
		return ErrInvalidCredentials
	}
	hash, err := HashPassword(newPassword, s.bcryptCost)
	if err != nil {
		return err
	}
	if err := s.store.Users(ctx).UpdatePassword(ctx, userID, hash); err != nil {
		return err
	}
	revoked, err := s.store.Sessions(ctx).RevokeAll(ctx, userID, currentSessionID, s.now())
	if err != nil {
		return err
	}
	obs.AddSessionsRevoked(revoked)
	return nil
}

// Profile returns the account for an authenticated user.
func (s *Service) Profile(ctx context.Context, userID string) (*User, error) {
	return s.store.Users(ctx).Find(ctx, userID)
}
