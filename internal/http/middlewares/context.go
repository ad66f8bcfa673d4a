package middlewares

import (
	"context"

	"github.com/dropDatabas3/aether/internal/jwt"
)

// ─── Context keys ───

type ctxKey string

const (
	ctxClaimsKey    ctxKey = "claims"
	ctxRequestIDKey ctxKey = "request_id"
)

// WithClaims inyecta las claims del access token en el contexto.
func WithClaims(ctx context.Context, c *jwt.AccessClaims) context.Context {
	return context.WithValue(ctx, ctxClaimsKey, c)
}

func setRequestID(ctx context.Context, rid string) context.Context {
	return context.WithValue(ctx, ctxRequestIDKey, rid)
}

// GetClaims retorna nil si el request no pasó por RequireAuth.
func GetClaims(ctx context.Context) *jwt.AccessClaims {
	c, _ := ctx.Value(ctxClaimsKey).(*jwt.AccessClaims)
	return c
}

// GetSubject retorna el sub del token o "".
func GetSubject(ctx context.Context) string {
	if c := GetClaims(ctx); c != nil {
		return c.Subject
	}
	return ""
}

func GetRequestID(ctx context.Context) string {
	rid, _ := ctx.Value(ctxRequestIDKey).(string)
	return rid
}
