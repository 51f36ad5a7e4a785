package middleware

import (
	"net/http"

	"github.com/erpcore/authgate"
	"github.com/erpcore/authgate/autherr"
	"github.com/erpcore/authgate/identity"
)

// RequireRole admits principals whose role is one of roles. With no
// principal in the context it rejects NO_ROLE rather than letting the
// request through.
func RequireRole(roles ...identity.Role) func(http.Handler) http.Handler {
	allowed := make(map[identity.Role]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}

	return gate(func(p *authgate.Principal) bool {
		_, ok := allowed[p.Role]
		return ok
	})
}

// RequirePermission admits principals whose permission set contains perm.
func RequirePermission(perm string) func(http.Handler) http.Handler {
	return gate(func(p *authgate.Principal) bool {
		return p.HasPermission(perm)
	})
}

func gate(allow func(*authgate.Principal) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := authgate.PrincipalFromContext(r.Context())
			if !ok {
				WriteError(w, autherr.ErrNoRole, false)
				return
			}
			if !allow(p) {
				WriteError(w, autherr.ErrInvalidRole, false)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
