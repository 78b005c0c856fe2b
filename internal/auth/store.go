package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the auth engines.
// Multi-table writes that must be atomic are top-level methods so the
// implementation can wrap them in a single transaction.
type Store interface {
	Users(ctx context.Context) UserStore
	Sessions(ctx context.Context) SessionStore
	ResetTokens(ctx context.Context) ResetTokenStore
	VerificationTokens(ctx context.Context) VerificationTokenStore

	// ResetPassword updates the password hash, marks the reset token used
	// and revokes every session of the user in one transaction.
	ResetPassword(ctx context.Context, userID, passwordHash, tokenID string) error

	// ConsumeVerification flags the user verified and deletes the token in
	// one transaction.
	ConsumeVerification(ctx context.Context, userID, tokenID string) error
}

// UserStore manages user accounts.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
	MarkVerified(ctx context.Context, userID string) error
}

// SessionStore manages the session lifecycle. Lookups that decide validity
// take the caller's clock so the engine stays testable.
type SessionStore interface {
	// Create inserts a session. When maxActive > 0 and the user already
	// holds that many valid sessions, the oldest-created one is revoked
	// inside the same transaction before the insert.
	Create(ctx context.Context, s *Session, maxActive int) error

	// FindValidByTokenHash returns the session with the given token hash
	// if it has not expired or been revoked.
	FindValidByTokenHash(ctx context.Context, hash string, now time.Time) (*Session, error)

	// Touch updates the last-activity timestamp.
	Touch(ctx context.Context, id string, at time.Time) error

	// Extend moves the expiry of a still-valid session identified by its
	// token hash. Reports whether a row was updated.
	Extend(ctx context.Context, hash string, expiresAt, now time.Time) (bool, error)

	// Rotate atomically replaces the token hash and expiry of a still-valid
	// session. Returns the rotated session or ErrNotFound.
	Rotate(ctx context.Context, oldHash, newHash string, expiresAt, now time.Time) (*Session, error)

	// Revoke marks a single session of the given user revoked. Reports
	// whether a row transitioned.
	Revoke(ctx context.Context, id, userID string) (bool, error)

	// RevokeAll marks all valid sessions of the user revoked, optionally
	// sparing one. Returns the number of sessions revoked.
	RevokeAll(ctx context.Context, userID, exceptID string, now time.Time) (int64, error)

	// ListActive returns valid sessions ordered most-recently-active first.
	ListActive(ctx context.Context, userID string, now time.Time) ([]*Session, error)

	// DeleteExpired removes rows that are expired or revoked.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// ResetTokenStore manages password reset tokens.
type ResetTokenStore interface {
	// Issue marks any unused tokens of the user used and inserts t in one
	// transaction, keeping at most one live token per user.
	Issue(ctx context.Context, t *PasswordResetToken) error

	// FindByHash returns the token row regardless of its used/expired
	// state; the engine distinguishes the reason.
	FindByHash(ctx context.Context, hash string) (*PasswordResetToken, error)

	// DeleteStale removes tokens that are expired or used.
	DeleteStale(ctx context.Context, now time.Time) (int64, error)
}

// VerificationTokenStore manages email verification tokens.
type VerificationTokenStore interface {
	// Replace deletes any existing token for the user and inserts t in one
	// transaction.
	Replace(ctx context.Context, t *EmailVerificationToken) error

	FindByHash(ctx context.Context, hash string) (*EmailVerificationToken, error)

	// DeleteExpired removes expired tokens.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
