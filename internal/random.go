package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
)

const resetTokenSize = 32

// NewResetToken returns a random URL-safe token and the hex SHA-256 digest
// that is stored in its place. Only the digest is persisted.
func NewResetToken() (raw, hash string, err error) {
	var buf [resetTokenSize]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", "", err
	}
	raw = base64.RawURLEncoding.EncodeToString(buf[:])
	return raw, HashResetToken(raw), nil
}

// HashResetToken returns the stored form of a raw reset token.
func HashResetToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
