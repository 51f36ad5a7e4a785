package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/erpcore/authgate"
	"github.com/erpcore/authgate/autherr"
)

// Validator is the subset of *authgate.Engine the guard needs.
type Validator interface {
	Validate(ctx context.Context, accessToken string) (*authgate.Principal, error)
}

// GuardOption customizes Guard.
type GuardOption func(*guardOptions)

type guardOptions struct {
	detail bool
}

// WithErrorDetail includes error causes in rejections. Development only.
func WithErrorDetail(enabled bool) GuardOption {
	return func(o *guardOptions) { o.detail = enabled }
}

// Guard rejects requests without a valid bearer access token and attaches
// the resulting principal to the request context. Hardening headers are set
// on every response it touches, accepted or not.
func Guard(engine Validator, opts ...GuardOption) func(http.Handler) http.Handler {
	var o guardOptions
	for _, opt := range opts {
		opt(&o)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			setSecurityHeaders(w.Header())

			if engine == nil {
				WriteError(w, autherr.ErrUnavailable, false)
				return
			}

			token, err := BearerToken(r.Header.Get("Authorization"))
			if err != nil {
				WriteError(w, err, o.detail)
				return
			}

			principal, err := engine.Validate(r.Context(), token)
			if err != nil {
				WriteError(w, err, o.detail)
				return
			}

			next.ServeHTTP(w, r.WithContext(authgate.WithPrincipal(r.Context(), principal)))
		})
	}
}

// BearerToken extracts the token from an Authorization header value. An
// absent header is NO_TOKEN; any other scheme or an empty token is
// INVALID_FORMAT.
func BearerToken(value string) (string, error) {
	if value == "" {
		return "", autherr.ErrNoToken
	}

	const prefix = "bearer "
	if len(value) < len(prefix) || !strings.EqualFold(value[:len(prefix)], prefix) {
		return "", autherr.ErrInvalidFormat
	}

	token := strings.TrimSpace(value[len(prefix):])
	if token == "" || strings.ContainsAny(token, " \t") {
		return "", autherr.ErrInvalidFormat
	}

	return token, nil
}
