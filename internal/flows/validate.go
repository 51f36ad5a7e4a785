package flows

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/erpcore/authgate/autherr"
	"github.com/erpcore/authgate/jwt"
)

// ValidateDeps captures access-token validation dependencies.
type ValidateDeps struct {
	Tokens            TokenService
	Revoker           Revoker
	RevocationTimeout time.Duration
	Observer          Observer
}

// RunValidate checks revocation first, then signature and expiry. A revoked
// token is TOKEN_REVOKED even if it has since expired. A revocation backend
// failure rejects the request.
func RunValidate(ctx context.Context, token string, deps ValidateDeps) (*jwt.Claims, error) {
	obs := deps.Observer.normalize()

	if token == "" {
		obs.MetricInc(obs.Metrics.ValidateFailure)
		return nil, autherr.ErrNoToken
	}

	if err := checkRevoked(ctx, deps.Revoker, token, deps.RevocationTimeout); err != nil {
		obs.MetricInc(obs.Metrics.ValidateFailure)
		if errors.Is(err, autherr.ErrUnavailable) {
			obs.MetricInc(obs.Metrics.RevocationUnavailable)
			obs.Logger.Error("revocation check failed", zap.Error(err))
		} else {
			obs.MetricInc(obs.Metrics.TokenRevoked)
		}
		return nil, err
	}

	claims, err := deps.Tokens.VerifyAccess(token)
	if err != nil {
		obs.MetricInc(obs.Metrics.ValidateFailure)
		return nil, tokenError(err)
	}

	obs.MetricInc(obs.Metrics.ValidateSuccess)
	return claims, nil
}
