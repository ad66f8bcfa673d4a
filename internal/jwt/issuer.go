package jwt

import (
	"errors"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Issuer firma y valida access tokens HS256 con un secreto compartido por
// todos los nodos del cluster (cualquier nodo valida lo que firmó otro).
type Issuer struct {
	Iss       string        // "iss"
	AccessTTL time.Duration // TTL por defecto (ej: 15m)

	secret []byte
	now    func() time.Time
}

func NewIssuer(iss string, secret []byte, ttl time.Duration) (*Issuer, error) {
	if len(secret) < 16 {
		return nil, errors.New("jwt: secret must be at least 16 bytes")
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Issuer{Iss: iss, AccessTTL: ttl, secret: append([]byte(nil), secret...), now: time.Now}, nil
}

// IssueAccess firma un token para sub con roles. Retorna el token y su exp.
func (i *Issuer) IssueAccess(sub string, roles []string) (string, time.Time, error) {
	now := i.now()
	exp := now.Add(i.AccessTTL)
	claims := AccessClaims{
		Roles: roles,
		RegisteredClaims: jwtv5.RegisteredClaims{
			Issuer:    i.Iss,
			Subject:   sub,
			IssuedAt:  jwtv5.NewNumericDate(now),
			NotBefore: jwtv5.NewNumericDate(now),
			ExpiresAt: jwtv5.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	tk := jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, claims)
	tk.Header["typ"] = "JWT"
	signed, err := tk.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Keyfunc retorna el secreto; solo acepta HMAC.
func (i *Issuer) Keyfunc() jwtv5.Keyfunc {
	return func(t *jwtv5.Token) (any, error) {
		if _, ok := t.Method.(*jwtv5.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return i.secret, nil
	}
}
