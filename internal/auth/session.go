package auth

import (
	"context"
	"errors"
	"time"

	"gatehouse.org/internal/obs"
	"gatehouse.org/internal/token"
)

// CreateSession mints an opaque token, stores only its digest and returns
// the plaintext to the caller exactly once. When the concurrent-session cap
// is reached the oldest-created session is revoked first.
func (s *Service) CreateSession(ctx context.Context, userID string, meta SessionMetadata) (*Credentials, error) {
	plaintext, err := token.Generate(token.SessionBytes)
	if err != nil {
		return nil, err
	}
	now := s.now()
	sess := &Session{
		UserID:       userID,
		TokenHash:    token.Hash(plaintext),
		ExpiresAt:    now.Add(s.sessionTTL),
		CreatedAt:    now,
		LastActivity: now,
		IPAddress:    meta.IPAddress,
		UserAgent:    meta.UserAgent,
	}
	if err := s.store.Sessions(ctx).Create(ctx, sess, s.maxSessions); err != nil {
		return nil, err
	}
	obs.IncSessionsCreated()
	return &Credentials{
		SessionID: sess.ID,
		UserID:    userID,
		Token:     plaintext,
		ExpiresAt: sess.ExpiresAt,
	}, nil
}

// ValidateSession resolves a presented token. Not-found, revoked and
// expired all collapse into ErrInvalidSession; a hit updates the
// last-activity timestamp.
func (s *Service) ValidateSession(ctx context.Context, plaintext string) (*SessionInfo, error) {
	if plaintext == "" {
		return nil, ErrInvalidSession
	}
	now := s.now()
	sess, err := s.store.Sessions(ctx).FindValidByTokenHash(ctx, token.Hash(plaintext), now)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidSession
		}
		return nil, err
	}
	if err := s.store.Sessions(ctx).Touch(ctx, sess.ID, now); err != nil {
		return nil, err
	}
	return &SessionInfo{
		SessionID: sess.ID,
		UserID:    sess.UserID,
		ExpiresAt: sess.ExpiresAt,
		IPAddress: sess.IPAddress,
		UserAgent: sess.UserAgent,
	}, nil
}

// RefreshSession extends a still-valid session to now + session lifetime
// without changing the token value.
func (s *Service) RefreshSession(ctx context.Context, plaintext string) (time.Time, error) {
	now := s.now()
	expiresAt := now.Add(s.sessionTTL)
	ok, err := s.store.Sessions(ctx).Extend(ctx, token.Hash(plaintext), expiresAt, now)
	if err != nil {
		return time.Time{}, err
	}
	if !ok {
		return time.Time{}, ErrInvalidSession
	}
	return expiresAt, nil
}

// MaybeRefresh extends the session behind info when it expires within the
// configured threshold. It is an explicit post-validate step; failures are
// swallowed because the refresh is advisory.
func (s *Service) MaybeRefresh(ctx context.Context, plaintext string, info *SessionInfo) (time.Time, bool) {
	if info == nil || info.ExpiresAt.Sub(s.now()) > s.refreshThreshold {
		return time.Time{}, false
	}
	expiresAt, err := s.RefreshSession(ctx, plaintext)
	if err != nil {
		return time.Time{}, false
	}
	return expiresAt, true
}

// RotateSession replaces the token of a still-valid session. The old token
// never validates again, even inside its original expiry window.
func (s *Service) RotateSession(ctx context.Context, plaintext string) (*Credentials, error) {
	fresh, err := token.Generate(token.SessionBytes)
	if err != nil {
		return nil, err
	}
	now := s.now()
	expiresAt := now.Add(s.sessionTTL)
	sess, err := s.store.Sessions(ctx).Rotate(ctx, token.Hash(plaintext), token.Hash(fresh), expiresAt, now)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidSession
		}
		return nil, err
	}
	return &Credentials{
		SessionID: sess.ID,
		UserID:    sess.UserID,
		Token:     fresh,
		ExpiresAt: expiresAt,
	}, nil
}

// RevokeSession marks one session of the user revoked. Revoking a session
// that is already gone reports ErrNotFound rather than failing.
func (s *Service) RevokeSession(ctx context.Context, sessionID, userID string) error {
	ok, err := s.store.Sessions(ctx).Revoke(ctx, sessionID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	obs.AddSessionsRevoked(1)
	return nil
}

// RevokeAllSessions revokes every valid session of the user, optionally
// sparing one. Returns the number revoked.
func (s *Service) RevokeAllSessions(ctx context.Context, userID, exceptSessionID string) (int64, error) {
	revoked, err := s.store.Sessions(ctx).RevokeAll(ctx, userID, exceptSessionID, s.now())
	if err != nil {
		return 0, err
	}
	obs.AddSessionsRevoked(revoked)
	return revoked, nil
}

// ListSessions returns the user's active sessions, most-recently-active
// first. Token material is never exposed.
func (s *Service) ListSessions(ctx context.Context, userID, currentSessionID string) ([]SessionSummary, error) {
	sessions, err := s.store.Sessions(ctx).ListActive(ctx, userID, s.now())
	if err != nil {
		return nil, err
	}
	out := make([]SessionSummary, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, SessionSummary{
			ID:           sess.ID,
			IPAddress:    sess.IPAddress,
			UserAgent:    sess.UserAgent,
			CreatedAt:    sess.CreatedAt,
			LastActivity: sess.LastActivity,
			ExpiresAt:    sess.ExpiresAt,
			Current:      sess.ID == currentSessionID,
		})
	}
	return out, nil
}

// CleanupSessions reclaims expired and revoked rows. Validity never depends
// on it; invalid rows are excluded from lookups regardless.
func (s *Service) CleanupSessions(ctx context.Context) (int64, error) {
	n, err := s.store.Sessions(ctx).DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, err
	}
	obs.AddCleanup("sessions", n)
	return n, nil
}
