package auth

import (
	"context"
	"errors"
	"fmt"

	"gatehouse.org/internal/obs"
	"gatehouse.org/internal/token"
)

// RequestPasswordReset issues a reset token for the account behind email
// and hands the plaintext to the mail dispatcher. The acknowledgement is
// uniform whether or not the account exists; issuing a new token marks any
// prior unused ones used, so at most one live token exists per user.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	email = NormalizeEmail(email)
	if err := ValidateEmail(email); err != nil {
		return err
	}
	user, err := s.store.Users(ctx).FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}

	plaintext, err := token.Generate(token.ResetBytes)
	if err != nil {
		return err
	}
	now := s.now()
	rec := &PasswordResetToken{
		UserID:    user.ID,
		TokenHash: token.Hash(plaintext),
		ExpiresAt: now.Add(s.resetTTL),
		CreatedAt: now,
	}
	if err := s.store.ResetTokens(ctx).Issue(ctx, rec); err != nil {
		return err
	}

	// The token is stored before the send, so a delivery failure is logged
	// and the request still succeeds; the user can retry.
	body := fmt.Sprintf(
		"A password reset was requested for your account.\n\nReset token: %s\n\nThe token expires in %s. If you did not request this, ignore this message.",
		plaintext, s.resetTTL)
	if err := s.mailer.Send(ctx, user.Email, "Password reset", body); err != nil {
		obs.LogRequest(map[string]any{
			"type": "auth", "event": "reset.mail_failed",
			"user_id": user.ID, "error": err.Error(),
		})
	}
	return nil
}

// ValidateResetToken resolves a presented reset token. Already-used and
// missing/expired fail with distinct internal errors; the route layer
// collapses both into one generic message.
func (s *Service) ValidateResetToken(ctx context.Context, plaintext string) (*ResetTokenInfo, error) {
	if plaintext == "" {
		return nil, ErrInvalidToken
	}
	rec, err := s.store.ResetTokens(ctx).FindByHash(ctx, token.Hash(plaintext))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	if rec.Used {
		return nil, ErrTokenUsed
	}
	if !rec.ExpiresAt.After(s.now()) {
		return nil, ErrInvalidToken
	}
	user, err := s.store.Users(ctx).Find(ctx, rec.UserID)
	if err != nil {
		return nil, err
	}
	return &ResetTokenInfo{TokenID: rec.ID, UserID: user.ID, Email: user.Email}, nil
}

// ResetPassword consumes a reset token, re-hashes the password and revokes
// every session of the user; the three writes commit or roll back together.
func (s *Service) ResetPassword(ctx context.Context, plaintext, newPassword, confirm string) error {
	if newPassword != confirm {
		return fmt.Errorf("%w: passwords do not match", ErrInvalidInput)
	}
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}
	info, err := s.ValidateResetToken(ctx, plaintext)
	if err != nil {
		return err
	}
	hash, err := HashPassword(newPassword, s.bcryptCost)
	if err != nil {
		return err
	}
	return s.store.ResetPassword(ctx, info.UserID, hash, info.TokenID)
}

// CleanupResetTokens reclaims expired and used tokens.
func (s *Service) CleanupResetTokens(ctx context.Context) (int64, error) {
	n, err := s.store.ResetTokens(ctx).DeleteStale(ctx, s.now())
	if err != nil {
		return 0, err
	}
	obs.AddCleanup("reset_tokens", n)
	return n, nil
}
