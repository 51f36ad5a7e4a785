package identity

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no active identity matches the lookup.
	ErrNotFound = errors.New("identity not found")
	// ErrEmailTaken is returned by Create when the email is already registered.
	ErrEmailTaken = errors.New("email already registered")
	// ErrResetTokenInvalid is returned when no identity holds a matching, unexpired reset hash.
	ErrResetTokenInvalid = errors.New("reset token invalid or expired")
)

// LoginFailure is the state after an atomically recorded failed attempt.
type LoginFailure struct {
	Attempts  int
	LockUntil *time.Time
}

// Locked reports whether the recorded failure left the identity locked at now.
func (f LoginFailure) Locked(now time.Time) bool {
	return f.LockUntil != nil && f.LockUntil.After(now)
}

// Store persists identities. Implementations are shared between service
// instances, so every mutation that depends on current state must be a
// single atomic operation in the backing store.
type Store interface {
	// GetByEmail looks up an active identity case-insensitively.
	GetByEmail(ctx context.Context, email string) (Identity, error)
	GetByID(ctx context.Context, id string) (Identity, error)
	Create(ctx context.Context, in Identity) (Identity, error)

	// RecordLoginFailure increments the failed-attempt counter and, when the
	// new value reaches threshold, sets the lock to lockUntil in the same
	// update. A lock that already expired at now restarts the counter at 1.
	RecordLoginFailure(ctx context.Context, id string, now time.Time, threshold int, lockUntil time.Time) (LoginFailure, error)
	// RecordLoginSuccess zeroes the counter, clears the lock and stamps last login.
	RecordLoginSuccess(ctx context.Context, id string, now time.Time) error
	// Unlock zeroes the counter and clears the lock without touching last login.
	Unlock(ctx context.Context, id string) error

	// UpdatePassword replaces the hash and stamps PasswordChangedAt. A zero
	// changedAt leaves PasswordChangedAt untouched (rehash on login).
	UpdatePassword(ctx context.Context, id, passwordHash string, changedAt time.Time) error
	SetResetToken(ctx context.Context, id, tokenHash string, expiresAt time.Time) error
	// ConsumeResetToken finds the identity whose reset hash equals tokenHash
	// and has not expired at now, replaces its password and clears the
	// reset fields and lockout, all in one operation.
	ConsumeResetToken(ctx context.Context, tokenHash string, now time.Time, passwordHash string) (Identity, error)

	UpdateRole(ctx context.Context, id string, role Role) error
	// Deactivate soft-deletes an identity; it stops matching lookups.
	Deactivate(ctx context.Context, id string) error
}
