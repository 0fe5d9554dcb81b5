package session

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"golang.org/x/crypto/bcrypt"

	"github.com/driftline/driftline/internal/ierr"
)

// HashPassword bcrypt-hashes a plaintext password for storage
// (golang.org/x/crypto/bcrypt — the teacher's own dependency, there for
// SASL SCRAM; see DESIGN.md).
func HashPassword(password string) ([]byte, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, ierr.IO(ierr.CodePersisterFailed, "hash password", err)
	}
	return hash, nil
}

// VerifyPassword reports whether password matches hash.
func VerifyPassword(hash []byte, password string) bool {
	return bcrypt.CompareHashAndPassword(hash, []byte(password)) == nil
}

// GenerateToken returns a new random personal access token, hex-encoded.
func GenerateToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", ierr.IO(ierr.CodePersisterFailed, "generate token", err)
	}
	return hex.EncodeToString(raw), nil
}

// DigestToken returns a personal access token's SHA-256 digest for
// storage (crypto/sha256, stdlib — see DESIGN.md/SPEC_FULL.md §4.8: no
// token-hashing library beyond bcrypt appears in the pack, and bcrypt's
// deliberate slowness is unsuitable for a digest checked on every
// request).
func DigestToken(token string) [32]byte {
	return sha256.Sum256([]byte(token))
}

// TokensEqual compares two token digests in constant time.
func TokensEqual(a, b [32]byte) bool {
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}
