package jwt

import (
	"errors"
	"slices"

	jwtv5 "github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken  = errors.New("invalid_jwt")
	ErrInvalidIssuer = errors.New("invalid_issuer")
	ErrExpired       = errors.New("expired")
)

// Roles del admin API.
const (
	RoleReader = "reader"
	RoleWriter = "writer"
	RoleAdmin  = "admin"
)

// AccessClaims son los claims del access token de operador.
type AccessClaims struct {
	Roles []string `json:"roles"`
	jwtv5.RegisteredClaims
}

// HasRole reporta si el token lleva role. admin implica writer y reader;
// writer implica reader.
func (c *AccessClaims) HasRole(role string) bool {
	switch {
	case slices.Contains(c.Roles, RoleAdmin):
		return true
	case slices.Contains(c.Roles, RoleWriter):
		return role == RoleWriter || role == RoleReader
	}
	return slices.Contains(c.Roles, role)
}
