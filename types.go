package authgate

import (
	"context"
	"slices"
	"time"

	"github.com/erpcore/authgate/identity"
)

// Principal is the identity context attached to an authenticated request.
type Principal struct {
	Subject     string
	Role        identity.Role
	Permissions []string
	// Token is the raw access token, kept so a handler can revoke it mid-flight.
	Token     string
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// HasRole reports whether the principal's role is one of roles.
func (p *Principal) HasRole(roles ...identity.Role) bool {
	if p == nil {
		return false
	}
	return slices.Contains(roles, p.Role)
}

// HasPermission reports whether perm is in the principal's permission set.
func (p *Principal) HasPermission(perm string) bool {
	if p == nil {
		return false
	}
	return slices.Contains(p.Permissions, perm)
}

// LoginResult is returned by Login and Refresh. RefreshToken belongs in a
// cookie, never in a response body.
type LoginResult struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	User             identity.Public
}

// RegisterRequest is the self-service registration input.
type RegisterRequest struct {
	Email    string
	Name     string
	Password string
}

// ResetNotice carries a raw password-reset token to its delivery channel.
// It is the only value that ever holds the raw token.
type ResetNotice struct {
	Identity  identity.Public
	Token     string
	ResetURL  string
	ExpiresAt time.Time
}

// Notifier delivers password-reset notices, typically by email.
type Notifier interface {
	Notify(ctx context.Context, notice ResetNotice) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, notice ResetNotice) error

func (f NotifierFunc) Notify(ctx context.Context, notice ResetNotice) error {
	return f(ctx, notice)
}

// RevocationStore marks tokens revoked until their natural expiry. A store
// that also implements Claim(ctx, token, ttl) (bool, error) gets atomic
// single-winner refresh rotation.
type RevocationStore interface {
	Revoke(ctx context.Context, token string, ttl time.Duration) error
	IsRevoked(ctx context.Context, token string) (bool, error)
}
