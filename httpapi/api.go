// Package httpapi exposes an authgate Engine over HTTP: the /auth routes,
// admin account management, and health and metrics endpoints.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/erpcore/authgate"
	"github.com/erpcore/authgate/identity"
	"github.com/erpcore/authgate/middleware"
)

// ReadyCheck is one dependency probed by /readyz.
type ReadyCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Options configures the HTTP layer.
type Options struct {
	Logger *zap.Logger
	// TrustProxy honors X-Forwarded-For for the client address.
	TrustProxy bool
	// ErrorDetail adds error causes to responses. Never enable in production.
	ErrorDetail bool
	Ready       []ReadyCheck
	// ReadyTimeout bounds each readiness check. Defaults to 2s.
	ReadyTimeout time.Duration
	// Metrics serves /metrics when set.
	Metrics http.Handler
	Version string
}

// API is the HTTP surface of one Engine.
type API struct {
	engine *authgate.Engine
	opts   Options
	cookie authgate.CookieConfig
	// refreshTTL is the refresh cookie max-age.
	refreshTTL time.Duration
	mux        *http.ServeMux
}

// New registers every route on a fresh mux.
func New(engine *authgate.Engine, opts Options) *API {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = 2 * time.Second
	}

	cfg := engine.Config()
	a := &API{
		engine:     engine,
		opts:       opts,
		cookie:     cfg.Cookie,
		refreshTTL: cfg.JWT.RefreshTTL,
		mux:        http.NewServeMux(),
	}
	a.routes()
	return a
}

func (a *API) routes() {
	guard := middleware.Guard(a.engine, middleware.WithErrorDetail(a.opts.ErrorDetail))
	admin := func(h http.HandlerFunc, extra ...middleware.Middleware) http.Handler {
		mws := append([]middleware.Middleware{guard, middleware.RequireRole(identity.RoleAdmin)}, extra...)
		return middleware.Chain(h, mws...)
	}

	a.mux.HandleFunc("GET /healthz", a.healthz)
	a.mux.HandleFunc("GET /readyz", a.readyz)
	if a.opts.Metrics != nil {
		a.mux.Handle("GET /metrics", a.opts.Metrics)
	}

	a.mux.HandleFunc("POST /auth/login", a.login)
	a.mux.HandleFunc("POST /auth/refresh", a.refresh)
	a.mux.HandleFunc("POST /auth/logout", a.logout)
	a.mux.HandleFunc("POST /auth/forgot-password", a.forgotPassword)
	a.mux.HandleFunc("POST /auth/reset-password", a.resetPassword)
	a.mux.HandleFunc("POST /auth/register", a.register)
	a.mux.Handle("GET /auth/me", guard(http.HandlerFunc(a.me)))
	a.mux.Handle("POST /auth/change-password", guard(http.HandlerFunc(a.changePassword)))

	a.mux.Handle("POST /admin/users/{id}/unlock", admin(a.unlockUser))
	a.mux.Handle("PUT /admin/users/{id}/role", admin(a.setUserRole, middleware.RequirePermission("users:manage")))
	a.mux.Handle("DELETE /admin/users/{id}", admin(a.deactivateUser))
}

// Handler returns the mux wrapped in the standard middleware chain.
func (a *API) Handler() http.Handler {
	return middleware.Chain(a.mux,
		middleware.Recover(a.opts.Logger),
		middleware.RequestID,
		middleware.ClientInfo(a.opts.TrustProxy),
		middleware.AccessLog(a.opts.Logger),
		middleware.SecurityHeaders,
	)
}

func (a *API) healthz(w http.ResponseWriter, _ *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": a.opts.Version,
	})
}

func (a *API) readyz(w http.ResponseWriter, r *http.Request) {
	failed := map[string]string{}
	for _, rc := range a.opts.Ready {
		ctx, cancel := context.WithTimeout(r.Context(), a.opts.ReadyTimeout)
		err := rc.Check(ctx)
		cancel()
		if err != nil {
			a.opts.Logger.Warn("readiness check failed", zap.String("check", rc.Name), zap.Error(err))
			failed[rc.Name] = "unavailable"
		}
	}

	if len(failed) > 0 {
		middleware.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"checks": failed,
		})
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}
