package flows

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/erpcore/authgate/internal/audit"
	"github.com/erpcore/authgate/jwt"
)

// LogoutDeps captures logout dependencies.
type LogoutDeps struct {
	Tokens            TokenService
	Revoker           Revoker
	RevocationTimeout time.Duration
	Observer          Observer
}

// RunLogout revokes whichever of the two tokens still verify, each for its
// remaining lifetime. Expired or garbage tokens are skipped. It never fails:
// without a revocation store, logout is only the cookie clear done by the
// caller.
func RunLogout(ctx context.Context, accessToken, refreshToken string, deps LogoutDeps) {
	obs := deps.Observer.normalize()

	var subject string
	if accessToken != "" {
		if claims, err := deps.Tokens.VerifyAccess(accessToken); err == nil {
			subject = claims.Subject
			revoke(ctx, deps, accessToken, claims, obs)
		}
	}
	if refreshToken != "" {
		if claims, err := deps.Tokens.VerifyRefresh(refreshToken); err == nil {
			if subject == "" {
				subject = claims.Subject
			}
			revoke(ctx, deps, refreshToken, claims, obs)
		}
	}

	obs.MetricInc(obs.Metrics.Logout)
	obs.emit(ctx, audit.Event{EventType: audit.EventLogout, UserID: subject, Success: true})
}

func revoke(ctx context.Context, deps LogoutDeps, token string, claims *jwt.Claims, obs Observer) {
	if deps.Revoker == nil {
		return
	}
	rctx, cancel := withTimeout(ctx, deps.RevocationTimeout)
	defer cancel()
	if err := deps.Revoker.Revoke(rctx, token, deps.Tokens.Remaining(claims)); err != nil {
		obs.Logger.Warn("logout revocation failed", zap.String("user_id", claims.Subject), zap.Error(err))
	}
}
