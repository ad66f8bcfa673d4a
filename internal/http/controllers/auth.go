// Package controllers implementa los handlers del admin API.
package controllers

import (
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	httperrors "github.com/dropDatabas3/aether/internal/http/errors"
	"github.com/dropDatabas3/aether/internal/http/helpers"
	"github.com/dropDatabas3/aether/internal/observability/logger"
)

// Credential es un operador habilitado. PasswordHash es bcrypt.
type Credential struct {
	Username     string
	PasswordHash string
	Roles        []string
}

// TokenIssuer emite access tokens. Lo implementa *jwt.Issuer.
type TokenIssuer interface {
	IssueAccess(sub string, roles []string) (string, time.Time, error)
}

// AuthController maneja POST /v1/auth/login.
type AuthController struct {
	users  map[string]Credential
	issuer TokenIssuer
	// dummy iguala el costo de bcrypt cuando el usuario no existe
	dummy []byte
}

func NewAuthController(users []Credential, issuer TokenIssuer) *AuthController {
	m := make(map[string]Credential, len(users))
	for _, u := range users {
		m[strings.ToLower(u.Username)] = u
	}
	dummy, _ := bcrypt.GenerateFromPassword([]byte("aether-dummy-password"), bcrypt.MinCost)
	return &AuthController{users: m, issuer: issuer, dummy: dummy}
}

// Login valida usuario/contraseña y emite un JWT con los roles del usuario.
func (c *AuthController) Login(w http.ResponseWriter, r *http.Request) {
	log := logger.From(r.Context()).With(logger.Component("auth"), logger.Op("Login"))

	var req LoginRequest
	if !helpers.ReadJSON(w, r, &req) {
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		httperrors.WriteError(w, httperrors.ErrBadRequest.WithDetail("username and password are required"))
		return
	}

	u, ok := c.users[strings.ToLower(req.Username)]
	hash := c.dummy
	if ok {
		hash = []byte(u.PasswordHash)
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(req.Password)); err != nil || !ok {
		log.Warn("login rejected", logger.Subject(req.Username))
		httperrors.WriteError(w, httperrors.ErrInvalidCredentials)
		return
	}

	token, exp, err := c.issuer.IssueAccess(u.Username, u.Roles)
	if err != nil {
		log.Error("issue token failed", logger.Err(err))
		httperrors.WriteError(w, httperrors.ErrInternalServerError.WithCause(err))
		return
	}

	log.Info("operator logged in", logger.Subject(u.Username))
	helpers.WriteJSON(w, http.StatusOK, LoginResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresAt:   exp,
		Roles:       u.Roles,
	})
}
