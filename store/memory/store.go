// Package memory is an in-process identity.Store for tests and single-node
// development. Every method runs in one critical section, which is what
// makes RecordLoginFailure atomic here.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/erpcore/authgate/identity"
)

// Store is safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	byID    map[string]*identity.Identity
	byEmail map[string]string
}

// New returns an empty store.
func New() *Store {
	return &Store{
		byID:    make(map[string]*identity.Identity),
		byEmail: make(map[string]string),
	}
}

func (s *Store) GetByEmail(ctx context.Context, email string) (identity.Identity, error) {
	if err := ctx.Err(); err != nil {
		return identity.Identity{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byEmail[identity.NormalizeEmail(email)]
	if !ok {
		return identity.Identity{}, identity.ErrNotFound
	}
	return s.activeLocked(id)
}

func (s *Store) GetByID(ctx context.Context, id string) (identity.Identity, error) {
	if err := ctx.Err(); err != nil {
		return identity.Identity{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeLocked(id)
}

func (s *Store) Create(ctx context.Context, in identity.Identity) (identity.Identity, error) {
	if err := ctx.Err(); err != nil {
		return identity.Identity{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	in.Email = identity.NormalizeEmail(in.Email)
	if _, taken := s.byEmail[in.Email]; taken {
		return identity.Identity{}, identity.ErrEmailTaken
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now().UTC()
	}
	stored := clone(in)
	s.byID[in.ID] = &stored
	s.byEmail[in.Email] = in.ID
	return clone(stored), nil
}

func (s *Store) RecordLoginFailure(ctx context.Context, id string, now time.Time, threshold int, lockUntil time.Time) (identity.LoginFailure, error) {
	if err := ctx.Err(); err != nil {
		return identity.LoginFailure{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.mutableLocked(id)
	if err != nil {
		return identity.LoginFailure{}, err
	}

	if rec.LockUntil != nil && !rec.LockUntil.After(now) {
		rec.FailedLoginAttempts = 0
		rec.LockUntil = nil
	}
	rec.FailedLoginAttempts++
	if rec.FailedLoginAttempts >= threshold && rec.LockUntil == nil {
		lu := lockUntil
		rec.LockUntil = &lu
	}

	return identity.LoginFailure{Attempts: rec.FailedLoginAttempts, LockUntil: copyTime(rec.LockUntil)}, nil
}

func (s *Store) RecordLoginSuccess(ctx context.Context, id string, now time.Time) error {
	return s.update(ctx, id, func(rec *identity.Identity) {
		rec.FailedLoginAttempts = 0
		rec.LockUntil = nil
		rec.LastLoginAt = &now
	})
}

func (s *Store) Unlock(ctx context.Context, id string) error {
	return s.update(ctx, id, func(rec *identity.Identity) {
		rec.FailedLoginAttempts = 0
		rec.LockUntil = nil
	})
}

func (s *Store) UpdatePassword(ctx context.Context, id, passwordHash string, changedAt time.Time) error {
	return s.update(ctx, id, func(rec *identity.Identity) {
		rec.PasswordHash = passwordHash
		if !changedAt.IsZero() {
			rec.PasswordChangedAt = &changedAt
		}
	})
}

func (s *Store) SetResetToken(ctx context.Context, id, tokenHash string, expiresAt time.Time) error {
	return s.update(ctx, id, func(rec *identity.Identity) {
		rec.ResetTokenHash = tokenHash
		rec.ResetTokenExpiresAt = &expiresAt
	})
}

func (s *Store) ConsumeResetToken(ctx context.Context, tokenHash string, now time.Time, passwordHash string) (identity.Identity, error) {
	if err := ctx.Err(); err != nil {
		return identity.Identity{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if tokenHash == "" {
		return identity.Identity{}, identity.ErrResetTokenInvalid
	}
	for _, rec := range s.byID {
		if !rec.Active || rec.ResetTokenHash != tokenHash {
			continue
		}
		if rec.ResetTokenExpiresAt == nil || !rec.ResetTokenExpiresAt.After(now) {
			return identity.Identity{}, identity.ErrResetTokenInvalid
		}
		rec.PasswordHash = passwordHash
		rec.PasswordChangedAt = &now
		rec.ResetTokenHash = ""
		rec.ResetTokenExpiresAt = nil
		rec.FailedLoginAttempts = 0
		rec.LockUntil = nil
		return clone(*rec), nil
	}
	return identity.Identity{}, identity.ErrResetTokenInvalid
}

func (s *Store) UpdateRole(ctx context.Context, id string, role identity.Role) error {
	return s.update(ctx, id, func(rec *identity.Identity) {
		rec.Role = role
	})
}

func (s *Store) Deactivate(ctx context.Context, id string) error {
	return s.update(ctx, id, func(rec *identity.Identity) {
		rec.Active = false
	})
}

func (s *Store) update(ctx context.Context, id string, fn func(*identity.Identity)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.mutableLocked(id)
	if err != nil {
		return err
	}
	fn(rec)
	return nil
}

func (s *Store) mutableLocked(id string) (*identity.Identity, error) {
	rec, ok := s.byID[id]
	if !ok || !rec.Active {
		return nil, identity.ErrNotFound
	}
	return rec, nil
}

func (s *Store) activeLocked(id string) (identity.Identity, error) {
	rec, err := s.mutableLocked(id)
	if err != nil {
		return identity.Identity{}, err
	}
	return clone(*rec), nil
}

// clone deep-copies the pointer fields so callers never alias stored state.
func clone(in identity.Identity) identity.Identity {
	in.LockUntil = copyTime(in.LockUntil)
	in.LastLoginAt = copyTime(in.LastLoginAt)
	in.PasswordChangedAt = copyTime(in.PasswordChangedAt)
	in.ResetTokenExpiresAt = copyTime(in.ResetTokenExpiresAt)
	return in
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

var _ identity.Store = (*Store)(nil)
