package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"gatehouse.org/internal/ids"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Users(context.Context) UserStore       { return &userStore{db: s.db} }
func (s *PGStore) Sessions(context.Context) SessionStore { return &sessionStore{db: s.db} }
func (s *PGStore) ResetTokens(context.Context) ResetTokenStore {
	return &resetTokenStore{db: s.db}
}
func (s *PGStore) VerificationTokens(context.Context) VerificationTokenStore {
	return &verificationTokenStore{db: s.db}
}

// ResetPassword commits the password update, token consumption and mass
// session revocation together; any failure rolls the whole thing back.
func (s *PGStore) ResetPassword(ctx context.Context, userID, passwordHash, tokenID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`update users set password_hash=$2, updated_at=now() where id=$1`,
		userID, passwordHash,
	); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx,
		`update password_reset_tokens set used=true where id=$1 and not used`, tokenID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		// Lost a race with a concurrent consume of the same token.
		return ErrTokenUsed
	}
	if _, err := tx.ExecContext(ctx,
		`update sessions set revoked=true where user_id=$1 and not revoked`, userID,
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PGStore) ConsumeVerification(ctx context.Context, userID, tokenID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`update users set verified=true, updated_at=now() where id=$1`, userID,
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`delete from email_verification_tokens where id=$1`, tokenID,
	); err != nil {
		return err
	}
	return tx.Commit()
}

// User store ---------------------------------------------------------------
type userStore struct{ db *sql.DB }

func (s *userStore) Create(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	if u.Role == "" {
		u.Role = RoleUser
	}
	_, err := s.db.ExecContext(ctx,
		`insert into users(id, email, password_hash, verified, role) values($1,$2,$3,$4,$5)`,
		u.ID, u.Email, u.PasswordHash, u.Verified, u.Role,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func (s *userStore) Find(ctx context.Context, id string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select id, email, password_hash, verified, role, created_at, updated_at
		 from users where id=$1`, id))
}

func (s *userStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select id, email, password_hash, verified, role, created_at, updated_at
		 from users where email=$1`, email))
}

func (s *userStore) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx,
		`update users set password_hash=$2, updated_at=now() where id=$1`,
		userID, passwordHash,
	)
	return err
}

func (s *userStore) MarkVerified(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`update users set verified=true, updated_at=now() where id=$1`, userID)
	return err
}

func scanUser(row *sql.Row) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Verified, &u.Role, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// Session store ------------------------------------------------------------
type sessionStore struct{ db *sql.DB }

const sessionColumns = `id, user_id, token_hash, expires_at, revoked, created_at, last_activity, ip_address, user_agent`

func (s *sessionStore) Create(ctx context.Context, sess *Session, maxActive int) error {
	if sess.ID == "" {
		sess.ID = ids.New()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if maxActive > 0 {
		var active int
		err := tx.QueryRowContext(ctx,
			`select count(*) from sessions where user_id=$1 and expires_at > $2 and not revoked`,
			sess.UserID, sess.CreatedAt,
		).Scan(&active)
		if err != nil {
			return err
		}
		if active >= maxActive {
			// FIFO eviction: the oldest-created active session goes first.
			if _, err := tx.ExecContext(ctx,
				`update sessions set revoked=true where id = (
					select id from sessions
					where user_id=$1 and expires_at > $2 and not revoked
					order by created_at asc limit 1)`,
				sess.UserID, sess.CreatedAt,
			); err != nil {
				return err
			}
		}
	}

	if _, err := tx.ExecContext(ctx,
		`insert into sessions(id, user_id, token_hash, expires_at, created_at, last_activity, ip_address, user_agent)
		 values($1,$2,$3,$4,$5,$6,$7,$8)`,
		sess.ID, sess.UserID, sess.TokenHash, sess.ExpiresAt,
		sess.CreatedAt, sess.LastActivity, sess.IPAddress, sess.UserAgent,
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sessionStore) FindValidByTokenHash(ctx context.Context, hash string, now time.Time) (*Session, error) {
	return scanSession(s.db.QueryRowContext(ctx,
		`select `+sessionColumns+` from sessions
		 where token_hash=$1 and expires_at > $2 and not revoked`, hash, now))
}

func (s *sessionStore) Touch(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`update sessions set last_activity=$2 where id=$1`, id, at)
	return err
}

func (s *sessionStore) Extend(ctx context.Context, hash string, expiresAt, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`update sessions set expires_at=$2 where token_hash=$1 and expires_at > $3 and not revoked`,
		hash, expiresAt, now,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *sessionStore) Rotate(ctx context.Context, oldHash, newHash string, expiresAt, now time.Time) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`update sessions set token_hash=$2, expires_at=$3
		 where token_hash=$1 and expires_at > $4 and not revoked
		 returning `+sessionColumns,
		oldHash, newHash, expiresAt, now,
	)
	return scanSession(row)
}

func (s *sessionStore) Revoke(ctx context.Context, id, userID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`update sessions set revoked=true where id=$1 and user_id=$2 and not revoked`,
		id, userID,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *sessionStore) RevokeAll(ctx context.Context, userID, exceptID string, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`update sessions set revoked=true
		 where user_id=$1 and not revoked and expires_at > $3 and ($2 = '' or id <> $2)`,
		userID, exceptID, now,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *sessionStore) ListActive(ctx context.Context, userID string, now time.Time) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+sessionColumns+` from sessions
		 where user_id=$1 and expires_at > $2 and not revoked
		 order by last_activity desc`, userID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*Session
	for rows.Next() {
		sess, err := scanSessionRows(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, sess)
	}
	return res, rows.Err()
}

func (s *sessionStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`delete from sessions where expires_at < $1 or revoked`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanSession(row *sql.Row) (*Session, error) {
	var sess Session
	if err := row.Scan(&sess.ID, &sess.UserID, &sess.TokenHash, &sess.ExpiresAt, &sess.Revoked,
		&sess.CreatedAt, &sess.LastActivity, &sess.IPAddress, &sess.UserAgent); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &sess, nil
}

func scanSessionRows(rows *sql.Rows) (*Session, error) {
	var sess Session
	if err := rows.Scan(&sess.ID, &sess.UserID, &sess.TokenHash, &sess.ExpiresAt, &sess.Revoked,
		&sess.CreatedAt, &sess.LastActivity, &sess.IPAddress, &sess.UserAgent); err != nil {
		return nil, err
	}
	return &sess, nil
}

// Reset token store --------------------------------------------------------
type resetTokenStore struct{ db *sql.DB }

func (s *resetTokenStore) Issue(ctx context.Context, t *PasswordResetToken) error {
	if t.ID == "" {
		t.ID = ids.New()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`update password_reset_tokens set used=true where user_id=$1 and not used`, t.UserID,
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`insert into password_reset_tokens(id, user_id, token_hash, expires_at, created_at)
		 values($1,$2,$3,$4,$5)`,
		t.ID, t.UserID, t.TokenHash, t.ExpiresAt, t.CreatedAt,
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *resetTokenStore) FindByHash(ctx context.Context, hash string) (*PasswordResetToken, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, user_id, token_hash, expires_at, used, created_at
		 from password_reset_tokens where token_hash=$1`, hash)
	var t PasswordResetToken
	if err := row.Scan(&t.ID, &t.UserID, &t.TokenHash, &t.ExpiresAt, &t.Used, &t.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (s *resetTokenStore) DeleteStale(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`delete from password_reset_tokens where expires_at < $1 or used`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Verification token store -------------------------------------------------
type verificationTokenStore struct{ db *sql.DB }

func (s *verificationTokenStore) Replace(ctx context.Context, t *EmailVerificationToken) error {
	if t.ID == "" {
		t.ID = ids.New()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`delete from email_verification_tokens where user_id=$1`, t.UserID,
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`insert into email_verification_tokens(id, user_id, token_hash, expires_at, created_at)
		 values($1,$2,$3,$4,$5)`,
		t.ID, t.UserID, t.TokenHash, t.ExpiresAt, t.CreatedAt,
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *verificationTokenStore) FindByHash(ctx context.Context, hash string) (*EmailVerificationToken, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, user_id, token_hash, expires_at, created_at
		 from email_verification_tokens where token_hash=$1`, hash)
	var t EmailVerificationToken
	if err := row.Scan(&t.ID, &t.UserID, &t.TokenHash, &t.ExpiresAt, &t.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (s *verificationTokenStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`delete from email_verification_tokens where expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
