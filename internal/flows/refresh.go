package flows

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/erpcore/authgate/autherr"
	"github.com/erpcore/authgate/identity"
	"github.com/erpcore/authgate/internal/audit"
)

// RefreshDeps captures refresh dependencies.
type RefreshDeps struct {
	Store             identity.Store
	Tokens            TokenService
	Permissions       func(role string) []string
	Revoker           Revoker
	StoreTimeout      time.Duration
	RevocationTimeout time.Duration
	Observer          Observer
}

// RunRefresh exchanges a refresh token for a new pair. Role and permissions
// are re-derived from the stored identity, so a role change takes effect on
// the next refresh. With a revocation store the presented token is revoked
// once the new pair is minted; a store that can Claim does so atomically
// before minting, so only one concurrent rotation succeeds.
func RunRefresh(ctx context.Context, refreshToken string, deps RefreshDeps) (*LoginResult, error) {
	obs := deps.Observer.normalize()

	fail := func(userID, reason string, err *autherr.Error) (*LoginResult, error) {
		obs.MetricInc(obs.Metrics.RefreshFailure)
		obs.emit(ctx, audit.Event{EventType: audit.EventRefreshFailure, UserID: userID, Reason: reason})
		return nil, err
	}

	if refreshToken == "" {
		return fail("", audit.ReasonInvalidToken, autherr.ErrNoToken)
	}

	claims, err := deps.Tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return fail("", audit.ReasonInvalidToken, tokenError(err))
	}

	if err := checkRevoked(ctx, deps.Revoker, refreshToken, deps.RevocationTimeout); err != nil {
		if errors.Is(err, autherr.ErrUnavailable) {
			obs.MetricInc(obs.Metrics.RevocationUnavailable)
			obs.Logger.Error("revocation check failed", zap.Error(err))
		}
		return fail(claims.Subject, audit.ReasonRevoked, autherr.From(err))
	}

	sctx, cancel := withTimeout(ctx, deps.StoreTimeout)
	ident, err := deps.Store.GetByID(sctx, claims.Subject)
	cancel()
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return fail(claims.Subject, audit.ReasonInvalidToken, autherr.ErrInvalidToken)
		}
		obs.Logger.Error("refresh lookup failed", zap.Error(err))
		return nil, storeError(err)
	}

	var issuedAt time.Time
	if claims.IssuedAt != nil {
		issuedAt = claims.IssuedAt.Time
	}
	if issuedBeforePasswordChange(issuedAt, ident.PasswordChangedAt) {
		return fail(ident.ID, audit.ReasonStalePassword, autherr.ErrInvalidToken)
	}

	if claimer, ok := deps.Revoker.(Claimer); ok {
		// Past exp and admitted only by leeway: nothing left to revoke it
		// for, so it cannot be claimed and is not rotated.
		remaining := deps.Tokens.Remaining(claims)
		if remaining <= 0 {
			return fail(ident.ID, audit.ReasonInvalidToken, autherr.ErrTokenExpired)
		}
		rctx, cancel := withTimeout(ctx, deps.RevocationTimeout)
		won, err := claimer.Claim(rctx, refreshToken, remaining)
		cancel()
		if err != nil {
			obs.MetricInc(obs.Metrics.RevocationUnavailable)
			obs.Logger.Error("claim refresh token", zap.String("user_id", ident.ID), zap.Error(err))
			return fail(ident.ID, audit.ReasonRevoked, autherr.Unavailable(err))
		}
		if !won {
			return fail(ident.ID, audit.ReasonRevoked, autherr.ErrTokenRevoked)
		}
	}

	result, err := issue(deps.Tokens, deps.Permissions, ident)
	if err != nil {
		obs.Logger.Error("issue tokens", zap.String("user_id", ident.ID), zap.Error(err))
		return nil, autherr.Internal(err)
	}

	if _, claimed := deps.Revoker.(Claimer); !claimed && deps.Revoker != nil {
		rctx, cancel := withTimeout(ctx, deps.RevocationTimeout)
		if err := deps.Revoker.Revoke(rctx, refreshToken, deps.Tokens.Remaining(claims)); err != nil {
			obs.Logger.Warn("revoke rotated refresh token", zap.String("user_id", ident.ID), zap.Error(err))
		}
		cancel()
	}

	obs.MetricInc(obs.Metrics.RefreshSuccess)
	obs.emit(ctx, audit.Event{EventType: audit.EventRefreshSuccess, UserID: ident.ID, Success: true})
	return result, nil
}

// issuedBeforePasswordChange compares at second precision, which is all a
// JWT iat carries.
func issuedBeforePasswordChange(issuedAt time.Time, changedAt *time.Time) bool {
	if changedAt == nil || changedAt.IsZero() {
		return false
	}
	return issuedAt.Before(changedAt.Truncate(time.Second))
}
