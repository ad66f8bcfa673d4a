package middlewares

import (
	"net/http"
	"strings"

	httperrors "github.com/dropDatabas3/aether/internal/http/errors"
)

// RequireRole exige que las claims tengan al menos uno de roles, respetando
// la jerarquía admin ⊇ writer ⊇ reader. Va después de RequireAuth.
func RequireRole(roles ...string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetClaims(r.Context())
			if claims == nil {
				httperrors.WriteError(w, httperrors.ErrUnauthorized)
				return
			}
			if !hasAny(claims.HasRole, roles) {
				httperrors.WriteError(w, httperrors.ErrForbidden.WithDetail("requires one of: "+strings.Join(roles, ",")))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func hasAny(has func(string) bool, needles []string) bool {
	for _, n := range needles {
		if has(n) {
			return true
		}
	}
	return false
}
