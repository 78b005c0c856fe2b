package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

type capturedMail struct {
	To      string
	Subject string
	Body    string
}

// captureMailer records dispatched mail for assertions.
type captureMailer struct {
	mu       sync.Mutex
	messages []capturedMail
	fail     bool
}

func (m *captureMailer) Send(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("smtp unreachable")
	}
	m.messages = append(m.messages, capturedMail{To: to, Subject: subject, Body: body})
	return nil
}

func (m *captureMailer) last(t *testing.T) capturedMail {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.messages) == 0 {
		t.Fatal("no mail dispatched")
	}
	return m.messages[len(m.messages)-1]
}

func (m *captureMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

// tokenFromBody extracts the plaintext token the mail templates embed after
// "token: ".
func tokenFromBody(t *testing.T, body string) string {
	t.Helper()
	idx := strings.LastIndex(body, "token: ")
	if idx < 0 {
		t.Fatalf("no token in mail body %q", body)
	}
	rest := body[idx+len("token: "):]
	if end := strings.IndexAny(rest, " \n"); end >= 0 {
		rest = rest[:end]
	}
	if rest == "" {
		t.Fatalf("empty token in mail body %q", body)
	}
	return rest
}

type testEnv struct {
	svc    *Service
	store  *MemStore
	mailer *captureMailer
	now    *time.Time
}

func newTestEnv(t *testing.T, opts ...ServiceOption) *testEnv {
	t.Helper()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	env := &testEnv{
		store:  NewMemStore(),
		mailer: &captureMailer{},
		now:    &now,
	}
	clock := func() time.Time { return *env.now }
	limiter := NewLoginLimiter(DefaultMaxAttempts, DefaultAttemptWindow, DefaultLockoutDuration)
	limiter.now = clock

	base := []ServiceOption{
		WithClock(clock),
		WithBcryptCost(bcrypt.MinCost),
		WithMailer(env.mailer),
		WithLoginLimiter(limiter),
	}
	env.svc = NewService(env.store, append(base, opts...)...)
	return env
}

func (e *testEnv) advance(d time.Duration) {
	*e.now = e.now.Add(d)
}

// register creates a verified account ready for login.
func (e *testEnv) register(t *testing.T, email, password string) *User {
	t.Helper()
	ctx := context.Background()
	user, err := e.svc.Register(ctx, email, password, password)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	verifyToken := tokenFromBody(t, e.mailer.last(t).Body)
	if _, err := e.svc.VerifyEmail(ctx, verifyToken); err != nil {
		t.Fatalf("verify email: %v", err)
	}
	return user
}

func TestRegisterAndVerifyAndLogin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	meta := SessionMetadata{IPAddress: "10.0.0.1", UserAgent: "test"}

	user, err := env.svc.Register(ctx, "Alice@Example.com", "password1", "password1")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if user.Email != "alice@example.com" {
		t.Fatalf("email not normalized: %q", user.Email)
	}
	if user.Verified {
		t.Fatal("fresh account must not be verified")
	}
	if user.Role != RoleUser {
		t.Fatalf("role = %q, want %q", user.Role, RoleUser)
	}

	// Login before verification proves the password but is rejected.
	if _, err := env.svc.Login(ctx, "alice@example.com", "password1", meta); !errors.Is(err, ErrEmailNotVerified) {
		t.Fatalf("unverified login: got %v, want ErrEmailNotVerified", err)
	}

	msg := env.mailer.last(t)
	if msg.To != "alice@example.com" {
		t.Fatalf("mail to = %q", msg.To)
	}
	verified, err := env.svc.VerifyEmail(ctx, tokenFromBody(t, msg.Body))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !verified.Verified {
		t.Fatal("verify did not flag the account")
	}

	creds, err := env.svc.Login(ctx, "alice@example.com", "password1", meta)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if creds.Token == "" || creds.SessionID == "" {
		t.Fatal("login returned empty credentials")
	}
	if creds.UserID != user.ID {
		t.Fatalf("user id = %q, want %q", creds.UserID, user.ID)
	}
}

func TestRegisterRejectsBadInput(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	cases := []struct {
		name                     string
		email, password, confirm string
	}{
		{"bad email", "not-an-email", "password1", "password1"},
		{"mismatched confirmation", "a@example.com", "password1", "password2"},
		{"weak password", "a@example.com", "short1", "short1"},
		{"no digit", "a@example.com", "passwords", "passwords"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := env.svc.Register(ctx, tc.email, tc.password, tc.confirm); !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("got %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.svc.Register(ctx, "a@example.com", "password1", "password1"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := env.svc.Register(ctx, "A@Example.com", "password1", "password1"); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("got %v, want ErrAlreadyExists", err)
	}
}

func TestRegisterAutoVerify(t *testing.T) {
	env := newTestEnv(t, WithAutoVerify(true))
	ctx := context.Background()

	user, err := env.svc.Register(ctx, "a@example.com", "password1", "password1")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if !user.Verified {
		t.Fatal("auto-verify must flag the account at registration")
	}
	if env.mailer.count() != 0 {
		t.Fatalf("dispatched %d mails, want none", env.mailer.count())
	}
	if _, err := env.svc.Login(ctx, "a@example.com", "password1", SessionMetadata{IPAddress: "10.0.0.1"}); err != nil {
		t.Fatalf("login: %v", err)
	}
}

func TestRegisterSurvivesMailFailure(t *testing.T) {
	env := newTestEnv(t)
	env.mailer.fail = true
	ctx := context.Background()

	if _, err := env.svc.Register(ctx, "a@example.com", "password1", "password1"); err != nil {
		t.Fatalf("register must not fail on mail delivery: %v", err)
	}
}

func TestLoginWrongCredentialsIndistinguishable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	meta := SessionMetadata{IPAddress: "10.0.0.1"}
	env.register(t, "a@example.com", "password1")

	_, wrongPassword := env.svc.Login(ctx, "a@example.com", "nope-nope1", meta)
	_, noAccount := env.svc.Login(ctx, "ghost@example.com", "password1", meta)

	if !errors.Is(wrongPassword, ErrInvalidCredentials) || !errors.Is(noAccount, ErrInvalidCredentials) {
		t.Fatalf("got %v and %v, want ErrInvalidCredentials for both", wrongPassword, noAccount)
	}
	if wrongPassword.Error() != noAccount.Error() {
		t.Fatalf("messages differ: %q vs %q", wrongPassword, noAccount)
	}
}

func TestLoginLockoutFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	meta := SessionMetadata{IPAddress: "10.0.0.1"}
	env.register(t, "a@example.com", "password1")

	for i := 0; i < DefaultMaxAttempts; i++ {
		if _, err := env.svc.Login(ctx, "a@example.com", "wrong-pass1", meta); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: got %v, want ErrInvalidCredentials", i+1, err)
		}
	}

	// Locked now, even with the correct password.
	var limited *RateLimitedError
	if _, err := env.svc.Login(ctx, "a@example.com", "password1", meta); !errors.As(err, &limited) {
		t.Fatalf("got %v, want RateLimitedError", err)
	}
	if limited.RetryAfter <= 0 {
		t.Fatalf("retry after = %s, want positive", limited.RetryAfter)
	}

	// A different source address is unaffected.
	if _, err := env.svc.Login(ctx, "a@example.com", "password1", SessionMetadata{IPAddress: "10.0.0.9"}); err != nil {
		t.Fatalf("login from second address: %v", err)
	}

	env.advance(DefaultLockoutDuration + time.Second)
	if _, err := env.svc.Login(ctx, "a@example.com", "password1", meta); err != nil {
		t.Fatalf("login after lockout expiry: %v", err)
	}

	// Success cleared the counter; one new failure must not re-lock.
	if _, err := env.svc.Login(ctx, "a@example.com", "wrong-pass1", meta); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("got %v, want ErrInvalidCredentials after reset", err)
	}
}

func TestLockoutNotTriggeredByUnverifiedAccount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	meta := SessionMetadata{IPAddress: "10.0.0.1"}
	if _, err := env.svc.Register(ctx, "a@example.com", "password1", "password1"); err != nil {
		t.Fatalf("register: %v", err)
	}

	// Correct password against an unverified account is not a failed
	// credential attempt and must not consume the budget.
	for i := 0; i < DefaultMaxAttempts+2; i++ {
		if _, err := env.svc.Login(ctx, "a@example.com", "password1", meta); !errors.Is(err, ErrEmailNotVerified) {
			t.Fatalf("attempt %d: got %v, want ErrEmailNotVerified", i+1, err)
		}
	}
}

func TestChangePassword(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	meta := SessionMetadata{IPAddress: "10.0.0.1"}
	user := env.register(t, "a@example.com", "password1")

	current, err := env.svc.Login(ctx, "a@example.com", "password1", meta)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	other, err := env.svc.Login(ctx, "a@example.com", "password1", meta)
	if err != nil {
		t.Fatalf("second login: %v", err)
	}

	if err := env.svc.ChangePassword(ctx, user.ID, "wrong-pass1", "password2", "password2", current.SessionID); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong current password: got %v, want ErrInvalidCredentials", err)
	}
	if err := env.svc.ChangePassword(ctx, user.ID, "password1", "password2", "password2", current.SessionID); err != nil {
		t.Fatalf("change password: %v", err)
	}

	// Old password no longer logs in, new one does.
	if _, err := env.svc.Login(ctx, "a@example.com", "password1", meta); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password: got %v, want ErrInvalidCredentials", err)
	}
	if _, err := env.svc.Login(ctx, "a@example.com", "password2", meta); err != nil {
		t.Fatalf("new password: %v", err)
	}

	// The session performing the change survives, every other is revoked.
	if _, err := env.svc.ValidateSession(ctx, current.Token); err != nil {
		t.Fatalf("current session: %v", err)
	}
	if _, err := env.svc.ValidateSession(ctx, other.Token); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("other session: got %v, want ErrInvalidSession", err)
	}
}

func TestProfile(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.register(t, "a@example.com", "password1")

	got, err := env.svc.Profile(ctx, user.ID)
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if got.Email != "a@example.com" || !got.Verified {
		t.Fatalf("profile = %+v", got)
	}
	if _, err := env.svc.Profile(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing profile: got %v, want ErrNotFound", err)
	}
}
