package authgate

import (
	"context"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/erpcore/authgate/autherr"
	"github.com/erpcore/authgate/identity"
	"github.com/erpcore/authgate/internal/audit"
	"github.com/erpcore/authgate/internal/flows"
	"github.com/erpcore/authgate/jwt"
	"github.com/erpcore/authgate/password"
	"github.com/erpcore/authgate/permission"
)

// Engine is the constructed auth service. All methods are safe for
// concurrent use after Build. It keeps no identity or token state of its
// own; everything shared lives in the credential and revocation stores.
type Engine struct {
	config       Config
	store        identity.Store
	revocation   RevocationStore
	loginLimiter flows.LoginLimiter
	resetLimiter flows.ResetLimiter
	roles        *permission.RoleManager
	hasher       *password.Hasher
	tokens       *jwt.Manager
	notifier     Notifier
	audit        *audit.Dispatcher
	metrics      *Metrics
	logger       *zap.Logger
	tracer       trace.Tracer
	now          func() time.Time

	loginDeps    flows.LoginDeps
	refreshDeps  flows.RefreshDeps
	logoutDeps   flows.LogoutDeps
	validateDeps flows.ValidateDeps
	resetDeps    flows.ResetDeps
	accountDeps  flows.AccountDeps
}

func (e *Engine) wireFlows() {
	obs := flows.Observer{
		Logger:    e.logger,
		Audit:     e.audit.Emit,
		MetricInc: func(id int) { e.metrics.Inc(MetricID(id)) },
		Metrics: flows.MetricIDs{
			LoginSuccess:          int(MetricLoginSuccess),
			LoginFailure:          int(MetricLoginFailure),
			LoginLocked:           int(MetricLoginLocked),
			LockoutTriggered:      int(MetricLockoutTriggered),
			LoginRateLimited:      int(MetricLoginRateLimited),
			RefreshSuccess:        int(MetricRefreshSuccess),
			RefreshFailure:        int(MetricRefreshFailure),
			Logout:                int(MetricLogout),
			ValidateSuccess:       int(MetricValidateSuccess),
			ValidateFailure:       int(MetricValidateFailure),
			TokenRevoked:          int(MetricTokenRevoked),
			RevocationUnavailable: int(MetricRevocationUnavailable),
			ResetRequest:          int(MetricPasswordResetRequest),
			ResetComplete:         int(MetricPasswordResetComplete),
			ResetFailure:          int(MetricPasswordResetFailure),
			Register:              int(MetricRegister),
			PasswordChange:        int(MetricPasswordChange),
		},
		Now:       e.now,
		ClientIP:  ClientIPFromContext,
		UserAgent: userAgentFromContext,
		RequestID: RequestIDFromContext,
	}

	var revoker flows.Revoker
	if e.revocation != nil {
		revoker = e.revocation
	}
	cfg := e.config

	e.loginDeps = flows.LoginDeps{
		Store:            e.store,
		Tokens:           e.tokens,
		Hasher:           e.hasher,
		Permissions:      e.roles.Permissions,
		Limiter:          e.loginLimiter,
		LockoutThreshold: cfg.Lockout.Threshold,
		LockoutDuration:  cfg.Lockout.Duration,
		UpgradeHashes:    cfg.Password.UpgradeLegacyOnLogin,
		StoreTimeout:     cfg.Timeouts.Store,
		Observer:         obs,
	}
	e.refreshDeps = flows.RefreshDeps{
		Store:             e.store,
		Tokens:            e.tokens,
		Permissions:       e.roles.Permissions,
		Revoker:           revoker,
		StoreTimeout:      cfg.Timeouts.Store,
		RevocationTimeout: cfg.Timeouts.Revocation,
		Observer:          obs,
	}
	e.logoutDeps = flows.LogoutDeps{
		Tokens:            e.tokens,
		Revoker:           revoker,
		RevocationTimeout: cfg.Timeouts.Revocation,
		Observer:          obs,
	}
	e.validateDeps = flows.ValidateDeps{
		Tokens:            e.tokens,
		Revoker:           revoker,
		RevocationTimeout: cfg.Timeouts.Revocation,
		Observer:          obs,
	}
	e.resetDeps = flows.ResetDeps{
		Store:        e.store,
		Hasher:       e.hasher,
		Limiter:      e.resetLimiter,
		TokenTTL:     cfg.PasswordReset.TokenTTL,
		StoreTimeout: cfg.Timeouts.Store,
		Notify:       e.notify,
		Observer:     obs,
	}
	e.accountDeps = flows.AccountDeps{
		Store:            e.store,
		Hasher:           e.hasher,
		LockoutThreshold: cfg.Lockout.Threshold,
		LockoutDuration:  cfg.Lockout.Duration,
		StoreTimeout:     cfg.Timeouts.Store,
		Observer:         obs,
	}
}

// Config returns a copy of the validated configuration.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

// RevocationEnabled reports whether logout and refresh rotation revoke
// tokens server-side.
func (e *Engine) RevocationEnabled() bool {
	return e != nil && e.revocation != nil
}

// Close drains the audit dispatcher. The engine must not be used after.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

// AuditDropped returns how many audit events were discarded because the
// buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

/*
====================================
SESSION OPERATIONS
====================================
*/

// Login authenticates email and password. Unknown emails, deactivated
// identities and wrong passwords all return ErrInvalidCredentials. A
// locked identity returns ErrAccountLocked whatever the password.
func (e *Engine) Login(ctx context.Context, email, password string) (result *LoginResult, err error) {
	ctx, span := e.tracer.Start(ctx, "authgate.Login")
	defer func() { finishSpan(span, err) }()

	res, err := flows.RunLogin(ctx, email, password, e.loginDeps)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("authgate.user_id", res.User.ID))
	return toLoginResult(res), nil
}

// Refresh exchanges a refresh token for a new pair, re-reading the role
// from the credential store.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (result *LoginResult, err error) {
	ctx, span := e.tracer.Start(ctx, "authgate.Refresh")
	defer func() { finishSpan(span, err) }()

	res, err := flows.RunRefresh(ctx, refreshToken, e.refreshDeps)
	if err != nil {
		return nil, err
	}
	return toLoginResult(res), nil
}

// Logout revokes both tokens when a revocation store is configured. It is
// idempotent and never fails; invalid or empty tokens are ignored.
func (e *Engine) Logout(ctx context.Context, accessToken, refreshToken string) {
	ctx, span := e.tracer.Start(ctx, "authgate.Logout")
	defer span.End()

	flows.RunLogout(ctx, accessToken, refreshToken, e.logoutDeps)
}

// Validate checks an access token: revocation first when configured, then
// signature and expiry.
func (e *Engine) Validate(ctx context.Context, accessToken string) (principal *Principal, err error) {
	ctx, span := e.tracer.Start(ctx, "authgate.Validate")
	defer func() { finishSpan(span, err) }()

	start := time.Now()
	claims, err := flows.RunValidate(ctx, accessToken, e.validateDeps)
	e.metrics.Observe(MetricValidateLatency, time.Since(start))
	if err != nil {
		return nil, err
	}
	return principalFromClaims(accessToken, claims), nil
}

// Revoke revokes a single token for its remaining lifetime. Used to kill an
// access token mid-flight. Without a revocation store it is a no-op.
func (e *Engine) Revoke(ctx context.Context, p *Principal) error {
	if e.revocation == nil || p == nil || p.Token == "" {
		return nil
	}
	ttl := p.ExpiresAt.Sub(e.now())
	if ttl <= 0 {
		return nil
	}
	rctx, cancel := withTimeout(ctx, e.config.Timeouts.Revocation)
	defer cancel()
	if err := e.revocation.Revoke(rctx, p.Token, ttl); err != nil {
		return autherr.Unavailable(err)
	}
	e.metrics.Inc(MetricTokenRevoked)
	return nil
}

/*
====================================
PASSWORD RESET
====================================
*/

// RequestPasswordReset issues a reset token for email. It returns nil
// whether or not the email belongs to an identity.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) (err error) {
	ctx, span := e.tracer.Start(ctx, "authgate.RequestPasswordReset")
	defer func() { finishSpan(span, err) }()

	return flows.RunRequestReset(ctx, email, e.resetDeps)
}

// CompletePasswordReset sets a new password for the holder of rawToken.
// Access tokens issued before the reset stay valid until they expire;
// refresh tokens issued before it are rejected.
func (e *Engine) CompletePasswordReset(ctx context.Context, rawToken, newPassword string) (err error) {
	ctx, span := e.tracer.Start(ctx, "authgate.CompletePasswordReset")
	defer func() { finishSpan(span, err) }()

	return flows.RunCompleteReset(ctx, rawToken, newPassword, e.resetDeps)
}

func (e *Engine) notify(ctx context.Context, ident identity.Identity, rawToken string, expiresAt time.Time) error {
	return e.notifier.Notify(ctx, ResetNotice{
		Identity:  ident.Public(),
		Token:     rawToken,
		ResetURL:  resetLink(e.config.PasswordReset.ResetURL, rawToken),
		ExpiresAt: expiresAt,
	})
}

func resetLink(base, token string) string {
	if base == "" {
		return ""
	}
	u, err := url.Parse(base)
	if err != nil {
		return ""
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}

type logNotifier struct {
	logger *zap.Logger
}

func (n logNotifier) Notify(_ context.Context, notice ResetNotice) error {
	n.logger.Warn("password reset requested but no notifier is configured",
		zap.String("user_id", notice.Identity.ID),
	)
	return nil
}

/*
====================================
ACCOUNT OPERATIONS
====================================
*/

// Register creates an active identity with role user.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (user identity.Public, err error) {
	ctx, span := e.tracer.Start(ctx, "authgate.Register")
	defer func() { finishSpan(span, err) }()

	return flows.RunRegister(ctx, flows.RegisterInput{
		Email:    req.Email,
		Name:     req.Name,
		Password: req.Password,
	}, e.accountDeps)
}

// Profile returns the public projection of subjectID.
func (e *Engine) Profile(ctx context.Context, subjectID string) (user identity.Public, err error) {
	ctx, span := e.tracer.Start(ctx, "authgate.Profile")
	defer func() { finishSpan(span, err) }()

	return flows.RunProfile(ctx, subjectID, e.accountDeps)
}

// ChangePassword replaces the password of subjectID after checking the
// current one.
func (e *Engine) ChangePassword(ctx context.Context, subjectID, currentPassword, newPassword string) (err error) {
	ctx, span := e.tracer.Start(ctx, "authgate.ChangePassword")
	defer func() { finishSpan(span, err) }()

	return flows.RunChangePassword(ctx, subjectID, currentPassword, newPassword, e.accountDeps)
}

// UnlockAccount clears the lockout of id. The acting principal, if any, is
// taken from ctx for the audit record.
func (e *Engine) UnlockAccount(ctx context.Context, id string) (err error) {
	ctx, span := e.tracer.Start(ctx, "authgate.UnlockAccount")
	defer func() { finishSpan(span, err) }()

	return flows.RunUnlock(ctx, actorFromContext(ctx), id, e.accountDeps)
}

func (e *Engine) SetRole(ctx context.Context, id string, role identity.Role) (err error) {
	ctx, span := e.tracer.Start(ctx, "authgate.SetRole")
	defer func() { finishSpan(span, err) }()

	return flows.RunSetRole(ctx, actorFromContext(ctx), id, string(role), e.accountDeps)
}

// Deactivate soft-deletes id. Its tokens stop refreshing immediately.
func (e *Engine) Deactivate(ctx context.Context, id string) (err error) {
	ctx, span := e.tracer.Start(ctx, "authgate.Deactivate")
	defer func() { finishSpan(span, err) }()

	return flows.RunDeactivate(ctx, actorFromContext(ctx), id, e.accountDeps)
}

func toLoginResult(res *flows.LoginResult) *LoginResult {
	return &LoginResult{
		AccessToken:      res.AccessToken,
		RefreshToken:     res.RefreshToken,
		AccessExpiresAt:  res.AccessExpiresAt,
		RefreshExpiresAt: res.RefreshExpiresAt,
		User:             res.User,
	}
}

func principalFromClaims(token string, claims *jwt.Claims) *Principal {
	p := &Principal{
		Subject:     claims.Subject,
		Role:        identity.Role(claims.Role),
		Permissions: claims.Permissions,
		Token:       token,
		TokenID:     claims.ID,
	}
	if p.Permissions == nil {
		p.Permissions = []string{}
	}
	if claims.IssuedAt != nil {
		p.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		p.ExpiresAt = claims.ExpiresAt.Time
	}
	return p
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func finishSpan(span trace.Span, err error) {
	if err != nil {
		ae := autherr.From(err)
		span.SetAttributes(attribute.String("authgate.error_code", string(ae.Code)))
		if ae.Status >= 500 {
			span.RecordError(err)
		}
		span.SetStatus(codes.Error, string(ae.Code))
	}
	span.End()
}
