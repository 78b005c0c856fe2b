package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestVerifyEmailConsumesToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.svc.Register(ctx, "a@example.com", "password1", "password1"); err != nil {
		t.Fatalf("register: %v", err)
	}
	plaintext := tokenFromBody(t, env.mailer.last(t).Body)

	user, err := env.svc.VerifyEmail(ctx, plaintext)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !user.Verified {
		t.Fatal("account not flagged verified")
	}

	// The token was deleted in the same step.
	if _, err := env.svc.VerifyEmail(ctx, plaintext); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("second use: got %v, want ErrInvalidToken", err)
	}
}

func TestVerifyEmailRejectsBadTokens(t *testing.T) {
	env := newTestEnv(t, WithVerificationTTL(24*time.Hour))
	ctx := context.Background()

	if _, err := env.svc.VerifyEmail(ctx, ""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("empty token: got %v", err)
	}
	if _, err := env.svc.VerifyEmail(ctx, "bogus"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("unknown token: got %v", err)
	}

	if _, err := env.svc.Register(ctx, "a@example.com", "password1", "password1"); err != nil {
		t.Fatalf("register: %v", err)
	}
	plaintext := tokenFromBody(t, env.mailer.last(t).Body)

	env.advance(24*time.Hour + time.Second)
	if _, err := env.svc.VerifyEmail(ctx, plaintext); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired token: got %v, want ErrInvalidToken", err)
	}
}

func TestVerifyEmailAlreadyVerified(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.svc.Register(ctx, "a@example.com", "password1", "password1"); err != nil {
		t.Fatalf("register: %v", err)
	}
	plaintext := tokenFromBody(t, env.mailer.last(t).Body)

	// Verified through another path while the token is still outstanding.
	user, err := env.store.Users(ctx).FindByEmail(ctx, "a@example.com")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if err := env.store.Users(ctx).MarkVerified(ctx, user.ID); err != nil {
		t.Fatalf("mark verified: %v", err)
	}

	if _, err := env.svc.VerifyEmail(ctx, plaintext); !errors.Is(err, ErrAlreadyVerified) {
		t.Fatalf("got %v, want ErrAlreadyVerified", err)
	}
}

func TestResendVerification(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.svc.Register(ctx, "a@example.com", "password1", "password1"); err != nil {
		t.Fatalf("register: %v", err)
	}
	first := tokenFromBody(t, env.mailer.last(t).Body)

	if err := env.svc.ResendVerification(ctx, "a@example.com"); err != nil {
		t.Fatalf("resend: %v", err)
	}
	second := tokenFromBody(t, env.mailer.last(t).Body)
	if first == second {
		t.Fatal("resend did not mint a fresh token")
	}

	// The superseded token is gone; the fresh one verifies.
	if _, err := env.svc.VerifyEmail(ctx, first); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("superseded token: got %v, want ErrInvalidToken", err)
	}
	if _, err := env.svc.VerifyEmail(ctx, second); err != nil {
		t.Fatalf("fresh token: %v", err)
	}
}

func TestResendVerificationUniformAck(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "verified@example.com", "password1")
	sent := env.mailer.count()

	// Unknown and already-verified accounts are acknowledged the same way
	// and neither produces mail.
	if err := env.svc.ResendVerification(ctx, "ghost@example.com"); err != nil {
		t.Fatalf("unknown account: %v", err)
	}
	if err := env.svc.ResendVerification(ctx, "verified@example.com"); err != nil {
		t.Fatalf("verified account: %v", err)
	}
	if env.mailer.count() != sent {
		t.Fatalf("dispatched %d extra mails, want none", env.mailer.count()-sent)
	}
}

func TestCleanupVerificationTokens(t *testing.T) {
	env := newTestEnv(t, WithVerificationTTL(24*time.Hour))
	ctx := context.Background()

	if _, err := env.svc.Register(ctx, "a@example.com", "password1", "password1"); err != nil {
		t.Fatalf("register: %v", err)
	}

	env.advance(12 * time.Hour)
	if _, err := env.svc.Register(ctx, "b@example.com", "password1", "password1"); err != nil {
		t.Fatalf("register: %v", err)
	}
	live := tokenFromBody(t, env.mailer.last(t).Body)

	env.advance(13 * time.Hour)
	n, err := env.svc.CleanupVerificationTokens(ctx)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if n != 1 {
		t.Fatalf("cleaned %d tokens, want 1", n)
	}
	if _, err := env.svc.VerifyEmail(ctx, live); err != nil {
		t.Fatalf("live token: %v", err)
	}
}
