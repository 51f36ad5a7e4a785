// Package identity holds the authenticatable principal and the contract of
// the credential store that persists it.
package identity

import (
	"errors"
	"strings"
	"time"
)

// Role is the enumerated principal role.
type Role string

const (
	RoleUser    Role = "user"
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleVendor  Role = "vendor"
)

// ErrInvalidRole is returned by ParseRole for values outside the enumeration.
var ErrInvalidRole = errors.New("invalid role")

// Roles lists every valid role.
func Roles() []Role {
	return []Role{RoleUser, RoleAdmin, RoleManager, RoleVendor}
}

// Valid reports whether r is one of the enumerated roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAdmin, RoleManager, RoleVendor:
		return true
	default:
		return false
	}
}

// ParseRole normalizes and validates a role string.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", ErrInvalidRole
	}
	return r, nil
}

// Identity is the stored principal. PasswordHash and the lockout/reset
// fields are internal; use Public for anything that leaves the service.
type Identity struct {
	ID                  string
	Email               string
	Name                string
	PasswordHash        string
	Role                Role
	Active              bool
	FailedLoginAttempts int
	LockUntil           *time.Time
	LastLoginAt         *time.Time
	PasswordChangedAt   *time.Time
	ResetTokenHash      string
	ResetTokenExpiresAt *time.Time
	CreatedAt           time.Time
}

// Locked reports whether the identity is locked at now.
func (i Identity) Locked(now time.Time) bool {
	return i.LockUntil != nil && i.LockUntil.After(now)
}

// Public is the client-facing projection of an Identity.
type Public struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  Role   `json:"role"`
}

// Public returns the minimal projection. It never carries the password hash,
// counters or reset material.
func (i Identity) Public() Public {
	return Public{
		ID:    i.ID,
		Email: i.Email,
		Name:  i.Name,
		Role:  i.Role,
	}
}

// NormalizeEmail lowercases and trims an email address so lookups are
// case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
