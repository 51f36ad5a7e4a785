package flows

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/erpcore/authgate/autherr"
	"github.com/erpcore/authgate/identity"
	"github.com/erpcore/authgate/internal"
	"github.com/erpcore/authgate/internal/audit"
	"github.com/erpcore/authgate/internal/rate"
	"github.com/erpcore/authgate/password"
)

// ResetLimiter throttles forgot-password requests per client IP.
type ResetLimiter interface {
	AllowReset(ctx context.Context, ip string) error
}

// ResetDeps captures password-reset dependencies.
type ResetDeps struct {
	Store        identity.Store
	Hasher       PasswordHasher
	Limiter      ResetLimiter
	TokenTTL     time.Duration
	StoreTimeout time.Duration
	// Notify hands the raw token to the delivery channel. It is the only
	// place the raw token ever goes.
	Notify   func(ctx context.Context, ident identity.Identity, rawToken string, expiresAt time.Time) error
	Observer Observer
}

// RunRequestReset issues a reset token for email if it belongs to an active
// identity. The caller sees the same nil result whether or not it does.
func RunRequestReset(ctx context.Context, email string, deps ResetDeps) error {
	obs := deps.Observer.normalize()
	email = identity.NormalizeEmail(email)

	if deps.Limiter != nil {
		if err := deps.Limiter.AllowReset(ctx, obs.ClientIP(ctx)); err != nil {
			if errors.Is(err, rate.ErrRateLimited) {
				return autherr.ErrRateLimited
			}
			obs.Logger.Warn("reset rate limiter unavailable", zap.Error(err))
		}
	}

	obs.MetricInc(obs.Metrics.ResetRequest)

	sctx, cancel := withTimeout(ctx, deps.StoreTimeout)
	ident, err := deps.Store.GetByEmail(sctx, email)
	cancel()
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			obs.emit(ctx, audit.Event{EventType: audit.EventPasswordResetRequest, Email: email, Reason: audit.ReasonUnknownIdentity})
			return nil
		}
		obs.Logger.Error("reset lookup failed", zap.Error(err))
		return storeError(err)
	}

	raw, hash, err := internal.NewResetToken()
	if err != nil {
		return autherr.Internal(err)
	}
	expiresAt := obs.Now().Add(deps.TokenTTL)

	sctx, cancel = withTimeout(ctx, deps.StoreTimeout)
	err = deps.Store.SetResetToken(sctx, ident.ID, hash, expiresAt)
	cancel()
	if err != nil {
		obs.Logger.Error("store reset token", zap.String("user_id", ident.ID), zap.Error(err))
		return storeError(err)
	}

	if deps.Notify != nil {
		if err := deps.Notify(ctx, ident, raw, expiresAt); err != nil {
			obs.Logger.Error("reset notification failed", zap.String("user_id", ident.ID), zap.Error(err))
		}
	}

	obs.emit(ctx, audit.Event{EventType: audit.EventPasswordResetRequest, UserID: ident.ID, Email: email, Success: true})
	return nil
}

// RunCompleteReset sets a new password for the holder of rawToken. The
// token is single use: the store clears it in the same update.
func RunCompleteReset(ctx context.Context, rawToken, newPassword string, deps ResetDeps) error {
	obs := deps.Observer.normalize()

	if rawToken == "" {
		obs.MetricInc(obs.Metrics.ResetFailure)
		return autherr.ErrInvalidResetToken
	}

	hash, err := deps.Hasher.Hash(newPassword)
	if err != nil {
		obs.MetricInc(obs.Metrics.ResetFailure)
		return passwordError(err)
	}

	sctx, cancel := withTimeout(ctx, deps.StoreTimeout)
	ident, err := deps.Store.ConsumeResetToken(sctx, internal.HashResetToken(rawToken), obs.Now(), hash)
	cancel()
	if err != nil {
		obs.MetricInc(obs.Metrics.ResetFailure)
		if errors.Is(err, identity.ErrResetTokenInvalid) {
			return autherr.ErrInvalidResetToken
		}
		obs.Logger.Error("consume reset token", zap.Error(err))
		return storeError(err)
	}

	obs.MetricInc(obs.Metrics.ResetComplete)
	obs.emit(ctx, audit.Event{EventType: audit.EventPasswordResetComplete, UserID: ident.ID, Success: true})
	return nil
}

func passwordError(err error) error {
	if errors.Is(err, password.ErrWeakPassword) {
		return autherr.ErrWeakPassword
	}
	return autherr.Internal(err)
}
