package flows

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/erpcore/authgate/autherr"
	"github.com/erpcore/authgate/internal/audit"
	"github.com/erpcore/authgate/jwt"
)

// TokenService is the subset of *jwt.Manager the flows use.
type TokenService interface {
	Issue(subject, role string, permissions []string) (jwt.Pair, error)
	VerifyAccess(token string) (*jwt.Claims, error)
	VerifyRefresh(token string) (*jwt.Claims, error)
	Remaining(claims *jwt.Claims) time.Duration
}

// PasswordHasher is the subset of *password.Hasher the flows use.
type PasswordHasher interface {
	CheckPolicy(password string) error
	Hash(password string) (string, error)
	Verify(password, encoded string) (bool, error)
	NeedsUpgrade(encoded string) bool
	DummyCompare(password string)
}

// Revoker is the revocation store. A nil Revoker disables revocation.
type Revoker interface {
	Revoke(ctx context.Context, token string, ttl time.Duration) error
	IsRevoked(ctx context.Context, token string) (bool, error)
}

// Claimer is an optional Revoker extension: revoke only if not yet revoked,
// reporting whether this caller won.
type Claimer interface {
	Claim(ctx context.Context, token string, ttl time.Duration) (bool, error)
}

// MetricIDs carries the host's metric identifiers so flows can count
// without importing the root package.
type MetricIDs struct {
	LoginSuccess          int
	LoginFailure          int
	LoginLocked           int
	LockoutTriggered      int
	LoginRateLimited      int
	RefreshSuccess        int
	RefreshFailure        int
	Logout                int
	ValidateSuccess       int
	ValidateFailure       int
	TokenRevoked          int
	RevocationUnavailable int
	ResetRequest          int
	ResetComplete         int
	ResetFailure          int
	Register              int
	PasswordChange        int
}

// Observer carries the ambient hooks shared by every flow. Nil fields fall
// back to no-ops.
type Observer struct {
	Logger    *zap.Logger
	Audit     func(context.Context, audit.Event)
	MetricInc func(int)
	Metrics   MetricIDs
	Now       func() time.Time
	ClientIP  func(context.Context) string
	UserAgent func(context.Context) string
	RequestID func(context.Context) string
}

func (o Observer) normalize() Observer {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Audit == nil {
		o.Audit = func(context.Context, audit.Event) {}
	}
	if o.MetricInc == nil {
		o.MetricInc = func(int) {}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	empty := func(context.Context) string { return "" }
	if o.ClientIP == nil {
		o.ClientIP = empty
	}
	if o.UserAgent == nil {
		o.UserAgent = empty
	}
	if o.RequestID == nil {
		o.RequestID = empty
	}
	return o
}

func (o Observer) emit(ctx context.Context, ev audit.Event) {
	ev.Timestamp = o.Now().UTC()
	ev.IP = o.ClientIP(ctx)
	ev.UserAgent = o.UserAgent(ctx)
	ev.RequestID = o.RequestID(ctx)
	o.Audit(ctx, ev)
}

// storeError maps a credential-store failure. Deadline and cancellation
// become AUTH_UNAVAILABLE; anything else is INTERNAL_ERROR.
func storeError(err error) *autherr.Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return autherr.Unavailable(err)
	}
	return autherr.Internal(err)
}

// tokenError maps a jwt verification error onto the taxonomy.
func tokenError(err error) *autherr.Error {
	if errors.Is(err, jwt.ErrTokenExpired) {
		return autherr.ErrTokenExpired.Wrap(err)
	}
	return autherr.ErrInvalidToken.Wrap(err)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// checkRevoked consults r under timeout. Any backend failure, including
// the timeout, fails closed as AUTH_UNAVAILABLE.
func checkRevoked(ctx context.Context, r Revoker, token string, timeout time.Duration) error {
	if r == nil {
		return nil
	}
	rctx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	revoked, err := r.IsRevoked(rctx, token)
	if err != nil {
		return autherr.Unavailable(err)
	}
	if revoked {
		return autherr.ErrTokenRevoked
	}
	return nil
}
