package middlewares

import (
	"errors"
	"net/http"
	"strings"

	httperrors "github.com/dropDatabas3/aether/internal/http/errors"
	"github.com/dropDatabas3/aether/internal/jwt"
	"github.com/dropDatabas3/aether/internal/observability/logger"
)

// TokenParser valida un access token. Lo implementa *jwt.Issuer.
type TokenParser interface {
	Parse(token string) (*jwt.AccessClaims, error)
}

// RequireAuth exige "Authorization: Bearer <jwt>" e inyecta las claims y un
// logger con el subject en el contexto.
func RequireAuth(p TokenParser) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r)
			if !ok {
				w.Header().Set("WWW-Authenticate", `Bearer realm="aether"`)
				httperrors.WriteError(w, httperrors.ErrUnauthorized)
				return
			}
			claims, err := p.Parse(raw)
			if err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
				if errors.Is(err, jwt.ErrExpired) {
					httperrors.WriteError(w, httperrors.ErrTokenExpired)
				} else {
					httperrors.WriteError(w, httperrors.ErrTokenInvalid.WithCause(err))
				}
				return
			}
			ctx := WithClaims(r.Context(), claims)
			ctx = logger.ToContext(ctx, logger.From(ctx).With(logger.Subject(claims.Subject)))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return "", false
	}
	tok := strings.TrimSpace(h[7:])
	return tok, tok != ""
}
