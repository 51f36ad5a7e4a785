package password

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	// MaxBytes is the bcrypt input limit. Longer passwords are rejected rather
	// than silently truncated.
	MaxBytes         = 72
	defaultMinLength = 8
)

var (
	// ErrWeakPassword is returned by Hash and CheckPolicy when the password
	// is shorter than the configured minimum or longer than MaxBytes.
	ErrWeakPassword = errors.New("password does not meet policy")
	// ErrUnknownFormat is returned by Verify for hashes it cannot interpret.
	ErrUnknownFormat = errors.New("unrecognised password hash format")
)

// Config controls bcrypt cost and the length policy.
type Config struct {
	Cost      int
	MinLength int
}

// Hasher is safe for concurrent use.
type Hasher struct {
	cost      int
	minLength int
	dummy     []byte
}

// NewHasher validates cfg. It precomputes a throwaway hash at the configured
// cost so DummyCompare costs the same as a real comparison.
func NewHasher(cfg Config) (*Hasher, error) {
	if cfg.Cost == 0 {
		cfg.Cost = bcrypt.DefaultCost
	}
	if cfg.Cost < bcrypt.MinCost || cfg.Cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost must be within [%d, %d]", bcrypt.MinCost, bcrypt.MaxCost)
	}
	if cfg.MinLength == 0 {
		cfg.MinLength = defaultMinLength
	}
	if cfg.MinLength < 1 || cfg.MinLength > MaxBytes {
		return nil, fmt.Errorf("password min length must be within [1, %d]", MaxBytes)
	}

	dummy, err := bcrypt.GenerateFromPassword([]byte("authgate-dummy-password"), cfg.Cost)
	if err != nil {
		return nil, err
	}

	return &Hasher{cost: cfg.Cost, minLength: cfg.MinLength, dummy: dummy}, nil
}

// CheckPolicy reports ErrWeakPassword for passwords outside the length bounds.
// Length is counted in bytes, exactly as supplied.
func (h *Hasher) CheckPolicy(password string) error {
	if len(password) < h.minLength || len(password) > MaxBytes {
		return ErrWeakPassword
	}
	return nil
}

// Hash returns a bcrypt hash of password.
func (h *Hasher) Hash(password string) (string, error) {
	if err := h.CheckPolicy(password); err != nil {
		return "", err
	}
	out, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Verify compares password against a stored bcrypt or argon2id hash in
// constant time. A mismatch is (false, nil); err is reserved for hashes that
// cannot be interpreted.
func (h *Hasher) Verify(password, encoded string) (bool, error) {
	if strings.HasPrefix(encoded, "$"+argon2ID+"$") {
		return verifyArgon2(password, encoded)
	}
	if !isBcrypt(encoded) {
		return false, ErrUnknownFormat
	}

	err := bcrypt.CompareHashAndPassword([]byte(encoded), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, fmt.Errorf("%w: %v", ErrUnknownFormat, err)
	}
}

// DummyCompare burns one bcrypt comparison. Login calls it when no identity
// matched so the unknown-email path takes as long as a wrong password.
func (h *Hasher) DummyCompare(password string) {
	_ = bcrypt.CompareHashAndPassword(h.dummy, []byte(password))
}

// NeedsUpgrade reports whether encoded should be replaced by a fresh Hash:
// argon2id hashes always, bcrypt hashes when their cost is below the
// configured one.
func (h *Hasher) NeedsUpgrade(encoded string) bool {
	if strings.HasPrefix(encoded, "$"+argon2ID+"$") {
		return true
	}
	cost, err := bcrypt.Cost([]byte(encoded))
	if err != nil {
		return false
	}
	return cost < h.cost
}

func isBcrypt(encoded string) bool {
	return strings.HasPrefix(encoded, "$2a$") ||
		strings.HasPrefix(encoded, "$2b$") ||
		strings.HasPrefix(encoded, "$2y$")
}
