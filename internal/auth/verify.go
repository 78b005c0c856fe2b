package auth

import (
	"context"
	"errors"
	"fmt"

	"gatehouse.org/internal/obs"
	"gatehouse.org/internal/token"
)

// issueVerification replaces the user's verification token with a fresh one
// and dispatches it. Verification tokens are hashed at rest exactly like
// session and reset tokens.
func (s *Service) issueVerification(ctx context.Context, user *User) error {
	plaintext, err := token.Generate(token.SessionBytes)
	if err != nil {
		return err
	}
	now := s.now()
	rec := &EmailVerificationToken{
		UserID:    user.ID,
		TokenHash: token.Hash(plaintext),
		ExpiresAt: now.Add(s.verificationTTL),
		CreatedAt: now,
	}
	if err := s.store.VerificationTokens(ctx).Replace(ctx, rec); err != nil {
		return err
	}
	body := fmt.Sprintf(
		"Welcome! Confirm your email address with this token: %s\n\nThe token expires in %s.",
		plaintext, s.verificationTTL)
	if err := s.mailer.Send(ctx, user.Email, "Verify your email", body); err != nil {
		obs.LogRequest(map[string]any{
			"type": "auth", "event": "verification.mail_failed",
			"user_id": user.ID, "error": err.Error(),
		})
	}
	return nil
}

// ResendVerification issues a new token for the account behind email,
// deleting the old one. The acknowledgement is uniform whether the account
// exists, is missing, or is already verified.
func (s *Service) ResendVerification(ctx context.Context, email string) error {
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
	if user.Verified {
		return nil
	}
	return s.issueVerification(ctx, user)
}

// VerifyEmail consumes a verification token: the verified flag is set and
// the token deleted in one transaction. Verifying an already verified
// account is a distinct rejected outcome.
func (s *Service) VerifyEmail(ctx context.Context, plaintext string) (*User, error) {
	if plaintext == "" {
		return nil, ErrInvalidToken
	}
	rec, err := s.store.VerificationTokens(ctx).FindByHash(ctx, token.Hash(plaintext))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	if !rec.ExpiresAt.After(s.now()) {
		return nil, ErrInvalidToken
	}
	user, err := s.store.Users(ctx).Find(ctx, rec.UserID)
	if err != nil {
		return nil, err
	}
	if user.Verified {
		return nil, ErrAlreadyVerified
	}
	if err := s.store.ConsumeVerification(ctx, user.ID, rec.ID); err != nil {
		return nil, err
	}
	user.Verified = true
	return user, nil
}

// CleanupVerificationTokens reclaims expired tokens.
func (s *Service) CleanupVerificationTokens(ctx context.Context) (int64, error) {
	n, err := s.store.VerificationTokens(ctx).DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, err
	}
	obs.AddCleanup("verification_tokens", n)
	return n, nil
}
