package flows

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/erpcore/authgate/autherr"
	"github.com/erpcore/authgate/identity"
	"github.com/erpcore/authgate/internal/audit"
	"github.com/erpcore/authgate/internal/rate"
)

// LoginLimiter throttles failed logins per client IP.
type LoginLimiter interface {
	CheckLogin(ctx context.Context, ip string) error
	RecordLoginFailure(ctx context.Context, ip string) error
}

// LoginResult is the flow-local login and refresh response.
type LoginResult struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	User             identity.Public
}

// LoginDeps captures login dependencies.
type LoginDeps struct {
	Store            identity.Store
	Tokens           TokenService
	Hasher           PasswordHasher
	Permissions      func(role string) []string
	Limiter          LoginLimiter
	LockoutThreshold int
	LockoutDuration  time.Duration
	UpgradeHashes    bool
	StoreTimeout     time.Duration
	Observer         Observer
}

// RunLogin authenticates email/password. The lock is checked before the
// password so a locked account never touches the counter. Unknown emails
// and wrong passwords both cost one hash comparison and both return
// INVALID_CREDENTIALS.
func RunLogin(ctx context.Context, email, password string, deps LoginDeps) (*LoginResult, error) {
	obs := deps.Observer.normalize()
	ip := obs.ClientIP(ctx)
	email = identity.NormalizeEmail(email)

	if deps.Limiter != nil {
		if err := deps.Limiter.CheckLogin(ctx, ip); err != nil {
			if errors.Is(err, rate.ErrRateLimited) {
				obs.MetricInc(obs.Metrics.LoginRateLimited)
				obs.emit(ctx, audit.Event{EventType: audit.EventLoginRateLimited, Email: email})
				return nil, autherr.ErrRateLimited
			}
			obs.Logger.Warn("login rate limiter unavailable", zap.Error(err))
		}
	}

	sctx, cancel := withTimeout(ctx, deps.StoreTimeout)
	ident, err := deps.Store.GetByEmail(sctx, email)
	cancel()
	if err != nil {
		if !errors.Is(err, identity.ErrNotFound) {
			obs.Logger.Error("login lookup failed", zap.Error(err))
			return nil, storeError(err)
		}
		deps.Hasher.DummyCompare(password)
		recordLimiterFailure(ctx, deps.Limiter, ip, obs)
		obs.MetricInc(obs.Metrics.LoginFailure)
		obs.emit(ctx, audit.Event{EventType: audit.EventLoginFailure, Email: email, Reason: audit.ReasonUnknownIdentity})
		return nil, autherr.ErrInvalidCredentials
	}

	now := obs.Now()
	if ident.Locked(now) {
		obs.MetricInc(obs.Metrics.LoginLocked)
		obs.emit(ctx, audit.Event{EventType: audit.EventLoginLocked, UserID: ident.ID, Email: email})
		return nil, autherr.ErrAccountLocked
	}

	ok, err := deps.Hasher.Verify(password, ident.PasswordHash)
	if err != nil {
		obs.Logger.Error("stored password hash unreadable", zap.String("user_id", ident.ID), zap.Error(err))
		return nil, autherr.Internal(err)
	}

	if !ok {
		sctx, cancel := withTimeout(ctx, deps.StoreTimeout)
		failure, err := deps.Store.RecordLoginFailure(sctx, ident.ID, now, deps.LockoutThreshold, now.Add(deps.LockoutDuration))
		cancel()
		if err != nil {
			obs.Logger.Error("record login failure", zap.String("user_id", ident.ID), zap.Error(err))
			return nil, storeError(err)
		}
		recordLimiterFailure(ctx, deps.Limiter, ip, obs)
		obs.MetricInc(obs.Metrics.LoginFailure)
		obs.emit(ctx, audit.Event{EventType: audit.EventLoginFailure, UserID: ident.ID, Email: email, Reason: audit.ReasonPasswordMismatch})

		if failure.Attempts == deps.LockoutThreshold && failure.Locked(now) {
			obs.MetricInc(obs.Metrics.LockoutTriggered)
			obs.emit(ctx, audit.Event{
				EventType: audit.EventAccountLocked,
				UserID:    ident.ID,
				Success:   true,
				Metadata:  map[string]string{"lock_until": failure.LockUntil.UTC().Format(time.RFC3339)},
			})
		}
		return nil, autherr.ErrInvalidCredentials
	}

	sctx, cancel = withTimeout(ctx, deps.StoreTimeout)
	err = deps.Store.RecordLoginSuccess(sctx, ident.ID, now)
	cancel()
	if err != nil {
		obs.Logger.Error("record login success", zap.String("user_id", ident.ID), zap.Error(err))
		return nil, storeError(err)
	}

	if deps.UpgradeHashes && deps.Hasher.NeedsUpgrade(ident.PasswordHash) {
		upgradeHash(ctx, deps, ident, password, obs)
	}

	result, err := issue(deps.Tokens, deps.Permissions, ident)
	if err != nil {
		obs.Logger.Error("issue tokens", zap.String("user_id", ident.ID), zap.Error(err))
		return nil, autherr.Internal(err)
	}

	obs.MetricInc(obs.Metrics.LoginSuccess)
	obs.emit(ctx, audit.Event{EventType: audit.EventLoginSuccess, UserID: ident.ID, Email: email, Success: true})
	return result, nil
}

// upgradeHash re-hashes a legacy or low-cost hash after a successful login.
// It does not stamp PasswordChangedAt, so existing refresh tokens stay valid.
func upgradeHash(ctx context.Context, deps LoginDeps, ident identity.Identity, password string, obs Observer) {
	hash, err := deps.Hasher.Hash(password)
	if err != nil {
		obs.Logger.Warn("password rehash skipped", zap.String("user_id", ident.ID), zap.Error(err))
		return
	}
	sctx, cancel := withTimeout(ctx, deps.StoreTimeout)
	defer cancel()
	if err := deps.Store.UpdatePassword(sctx, ident.ID, hash, time.Time{}); err != nil {
		obs.Logger.Warn("password rehash not stored", zap.String("user_id", ident.ID), zap.Error(err))
	}
}

func recordLimiterFailure(ctx context.Context, l LoginLimiter, ip string, obs Observer) {
	if l == nil {
		return
	}
	if err := l.RecordLoginFailure(ctx, ip); err != nil {
		obs.Logger.Warn("login rate limiter unavailable", zap.Error(err))
	}
}

func issue(tokens TokenService, permissions func(string) []string, ident identity.Identity) (*LoginResult, error) {
	var perms []string
	if permissions != nil {
		perms = permissions(string(ident.Role))
	}
	pair, err := tokens.Issue(ident.ID, string(ident.Role), perms)
	if err != nil {
		return nil, err
	}
	return &LoginResult{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
		User:             ident.Public(),
	}, nil
}
