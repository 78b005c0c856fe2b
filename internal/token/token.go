// Package token generates opaque credentials and the digests under which
// they are stored. A token is random hex with no embedded structure; the
// database only ever sees its SHA-256 digest, so a leaked table dump does
// not yield usable tokens.
package token

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

const (
	// SessionBytes is the entropy of session and verification tokens
	// (128 hex characters on the wire).
	SessionBytes = 64
	// ResetBytes is the entropy of password reset tokens.
	ResetBytes = 32
)

// Generate returns n cryptographically random bytes, hex encoded. A failed
// read from the system entropy source is fatal to the operation; it is
// never retried.
func Generate(n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("token: invalid length %d", n)
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("token: read entropy: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Hash returns the SHA-256 digest of s as 64 hex characters. The digest is
// deterministic and is what gets written to and looked up in storage.
func Hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Equal compares two token strings in constant time.
func Equal(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
