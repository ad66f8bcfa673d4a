package jwt

import (
	"errors"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
)

// Parse valida firma (HS256), iss y exp/nbf con una pequeña tolerancia.
func (i *Issuer) Parse(token string) (*AccessClaims, error) {
	var claims AccessClaims
	tok, err := jwtv5.ParseWithClaims(token, &claims, i.Keyfunc(),
		jwtv5.WithValidMethods([]string{jwtv5.SigningMethodHS256.Alg()}),
		jwtv5.WithLeeway(30*time.Second),
		jwtv5.WithTimeFunc(i.now),
		jwtv5.WithIssuer(i.Iss),
		jwtv5.WithExpirationRequired(),
	)
	switch {
	case errors.Is(err, jwtv5.ErrTokenExpired):
		return nil, ErrExpired
	case errors.Is(err, jwtv5.ErrTokenInvalidIssuer):
		return nil, ErrInvalidIssuer
	case err != nil || !tok.Valid:
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return &claims, nil
}
