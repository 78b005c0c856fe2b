package auth

import "time"

// Roles assignable to a user account.
const (
	RoleUser      = "user"
	RoleModerator = "moderator"
	RoleAdmin     = "admin"
)

// User is an account identified by a unique normalized email.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	Verified     bool
	Role         string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Session is one authenticated client context. Only the SHA-256 digest of
// the session token is ever stored; the plaintext is returned to the client
// exactly once at creation or rotation.
type Session struct {
	ID           string
	UserID       string
	TokenHash    string
	ExpiresAt    time.Time
	Revoked      bool
	CreatedAt    time.Time
	LastActivity time.Time
	IPAddress    string
	UserAgent    string
}

// Valid reports the session validity invariant.
func (s *Session) Valid(now time.Time) bool {
	return !s.Revoked && s.ExpiresAt.After(now)
}

// PasswordResetToken is a one-shot credential recovery artifact. At most
// one usable token exists per user; issuing a new one marks prior ones used.
type PasswordResetToken struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	Used      bool
	CreatedAt time.Time
}

// Usable reports whether the token may still be consumed.
func (t *PasswordResetToken) Usable(now time.Time) bool {
	return !t.Used && t.ExpiresAt.After(now)
}

// EmailVerificationToken confirms ownership of a registered address.
// Consumed tokens are deleted rather than flagged.
type EmailVerificationToken struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// SessionMetadata is optional client context captured at login.
type SessionMetadata struct {
	IPAddress string
	UserAgent string
}

// Credentials is the material handed to a client after login or rotation.
type Credentials struct {
	SessionID string
	UserID    string
	Token     string
	ExpiresAt time.Time
}

// SessionInfo is the result of validating a presented token.
type SessionInfo struct {
	SessionID string
	UserID    string
	ExpiresAt time.Time
	IPAddress string
	UserAgent string
}

// SessionSummary is the listable view of a session. It never carries the
// token or its hash.
type SessionSummary struct {
	ID           string    `json:"id"`
	IPAddress    string    `json:"ip_address,omitempty"`
	UserAgent    string    `json:"user_agent,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	ExpiresAt    time.Time `json:"expires_at"`
	Current      bool      `json:"current"`
}

// ResetTokenInfo identifies a validated reset token.
type ResetTokenInfo struct {
	TokenID string
	UserID  string
	Email   string
}
