package auth

import (
	"context"
	"sort"
	"sync"
	"time"

	"gatehouse.org/internal/ids"
	"gatehouse.org/internal/token"
)

var _ Store = (*MemStore)(nil)

// MemStore implements Store in memory. It backs handler tests and local
// development without a database; production uses PGStore.
type MemStore struct {
	mu           sync.Mutex
	users        map[string]*User
	sessions     map[string]*Session
	resetTokens  map[string]*PasswordResetToken
	verifyTokens map[string]*EmailVerificationToken
	usersByEmail map[string]string
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		users:        make(map[string]*User),
		sessions:     make(map[string]*Session),
		resetTokens:  make(map[string]*PasswordResetToken),
		verifyTokens: make(map[string]*EmailVerificationToken),
		usersByEmail: make(map[string]string),
	}
}

func (m *MemStore) Users(context.Context) UserStore       { return (*memUsers)(m) }
func (m *MemStore) Sessions(context.Context) SessionStore { return (*memSessions)(m) }
func (m *MemStore) ResetTokens(context.Context) ResetTokenStore {
	return (*memResetTokens)(m)
}
func (m *MemStore) VerificationTokens(context.Context) VerificationTokenStore {
	return (*memVerifyTokens)(m)
}

func (m *MemStore) ResetPassword(_ context.Context, userID, passwordHash, tokenID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tok, ok := m.resetTokens[tokenID]
	if !ok {
		return ErrNotFound
	}
	if tok.Used {
		return ErrTokenUsed
	}
	user, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	user.PasswordHash = passwordHash
	user.UpdatedAt = time.Now()
	tok.Used = true
	for _, sess := range m.sessions {
		if sess.UserID == userID {
			sess.Revoked = true
		}
	}
	return nil
}

func (m *MemStore) ConsumeVerification(_ context.Context, userID, tokenID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	user.Verified = true
	user.UpdatedAt = time.Now()
	delete(m.verifyTokens, tokenID)
	return nil
}

// User store ---------------------------------------------------------------
type memUsers MemStore

func (m *memUsers) Create(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.usersByEmail[u.Email]; exists {
		return ErrAlreadyExists
	}
	if u.ID == "" {
		u.ID = ids.New()
	}
	if u.Role == "" {
		u.Role = RoleUser
	}
	now := time.Now()
	u.CreatedAt = now
	u.UpdatedAt = now
	cp := *u
	m.users[u.ID] = &cp
	m.usersByEmail[u.Email] = u.ID
	return nil
}

func (m *memUsers) Find(_ context.Context, id string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) FindByEmail(_ context.Context, email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.usersByEmail[email]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.users[id]
	return &cp, nil
}

func (m *memUsers) UpdatePassword(_ context.Context, userID, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = passwordHash
	u.UpdatedAt = time.Now()
	return nil
}

func (m *memUsers) MarkVerified(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.Verified = true
	u.UpdatedAt = time.Now()
	return nil
}

// Session store ------------------------------------------------------------
type memSessions MemStore

func (m *memSessions) Create(_ context.Context, sess *Session, maxActive int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess.ID == "" {
		sess.ID = ids.New()
	}
	if maxActive > 0 {
		var active []*Session
		for _, s := range m.sessions {
			if s.UserID == sess.UserID && s.Valid(sess.CreatedAt) {
				active = append(active, s)
			}
		}
		if len(active) >= maxActive {
			sort.Slice(active, func(i, j int) bool {
				return active[i].CreatedAt.Before(active[j].CreatedAt)
			})
			active[0].Revoked = true
		}
	}
	cp := *sess
	m.sessions[sess.ID] = &cp
	return nil
}

func (m *memSessions) FindValidByTokenHash(_ context.Context, hash string, now time.Time) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if token.Equal(s.TokenHash, hash) && s.Valid(now) {
			cp := *s
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memSessions) Touch(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.LastActivity = at
	return nil
}

func (m *memSessions) Extend(_ context.Context, hash string, expiresAt, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if token.Equal(s.TokenHash, hash) && s.Valid(now) {
			s.ExpiresAt = expiresAt
			return true, nil
		}
	}
	return false, nil
}

func (m *memSessions) Rotate(_ context.Context, oldHash, newHash string, expiresAt, now time.Time) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if token.Equal(s.TokenHash, oldHash) && s.Valid(now) {
			s.TokenHash = newHash
			s.ExpiresAt = expiresAt
			cp := *s
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memSessions) Revoke(_ context.Context, id, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.UserID != userID || s.Revoked {
		return false, nil
	}
	s.Revoked = true
	return true, nil
}

func (m *memSessions) RevokeAll(_ context.Context, userID, exceptID string, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, s := range m.sessions {
		if s.UserID == userID && s.Valid(now) && s.ID != exceptID {
			s.Revoked = true
			n++
		}
	}
	return n, nil
}

func (m *memSessions) ListActive(_ context.Context, userID string, now time.Time) ([]*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []*Session
	for _, s := range m.sessions {
		if s.UserID == userID && s.Valid(now) {
			cp := *s
			res = append(res, &cp)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].LastActivity.After(res[j].LastActivity)
	})
	return res, nil
}

func (m *memSessions) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, s := range m.sessions {
		if s.Revoked || s.ExpiresAt.Before(now) {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

// Reset token store --------------------------------------------------------
type memResetTokens MemStore

func (m *memResetTokens) Issue(_ context.Context, t *PasswordResetToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == "" {
		t.ID = ids.New()
	}
	for _, existing := range m.resetTokens {
		if existing.UserID == t.UserID && !existing.Used {
			existing.Used = true
		}
	}
	cp := *t
	m.resetTokens[t.ID] = &cp
	return nil
}

func (m *memResetTokens) FindByHash(_ context.Context, hash string) (*PasswordResetToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.resetTokens {
		if token.Equal(t.TokenHash, hash) {
			cp := *t
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memResetTokens) DeleteStale(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, t := range m.resetTokens {
		if t.Used || t.ExpiresAt.Before(now) {
			delete(m.resetTokens, id)
			n++
		}
	}
	return n, nil
}

// Verification token store -------------------------------------------------
type memVerifyTokens MemStore

func (m *memVerifyTokens) Replace(_ context.Context, t *EmailVerificationToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == "" {
		t.ID = ids.New()
	}
	for id, existing := range m.verifyTokens {
		if existing.UserID == t.UserID {
			delete(m.verifyTokens, id)
		}
	}
	cp := *t
	m.verifyTokens[t.ID] = &cp
	return nil
}

func (m *memVerifyTokens) FindByHash(_ context.Context, hash string) (*EmailVerificationToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.verifyTokens {
		if token.Equal(t.TokenHash, hash) {
			cp := *t
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memVerifyTokens) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, t := range m.verifyTokens {
		if t.ExpiresAt.Before(now) {
			delete(m.verifyTokens, id)
			n++
		}
	}
	return n, nil
}
