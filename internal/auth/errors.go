package auth

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound           = errors.New("auth: not found")
	ErrAlreadyExists      = errors.New("auth: already exists")
	ErrInvalidInput       = errors.New("auth: invalid input")
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrEmailNotVerified   = errors.New("auth: email not verified")
	ErrAlreadyVerified    = errors.New("auth: email already verified")
	ErrInvalidSession     = errors.New("auth: invalid session")
	ErrInvalidToken       = errors.New("auth: invalid or expired token")
	ErrTokenUsed          = errors.New("auth: token already used")
)

// RateLimitedError is returned by the login path while a key is locked out.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("auth: rate limited, retry in %s", e.RetryAfter)
}
