package errors

import (
	"fmt"
	"net/http"

	"github.com/dropDatabas3/aether/internal/controlplane"
)

// AppError es el error estándar del admin API.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Detail     string `json:"detail,omitempty"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // causa original, solo para logs

	// Violations se serializa en 422 (validación de schema).
	Violations []controlplane.Violation `json:"violations,omitempty"`

	// Header extra que WriteError agrega a la respuesta (ej: X-Leader).
	Header http.Header `json:"-"`
}

// Error implementa la interfaz error
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap permite acceder al error original
func (e *AppError) Unwrap() error {
	return e.Err
}

// New crea un nuevo AppError
func New(status int, code, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: status,
	}
}

// Wrap crea un AppError envolviendo un error existente
func Wrap(err error, status int, code, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: status,
		Err:        err,
	}
}

// WithDetail devuelve una COPIA con detalle, sin mutar las variables base.
func (e *AppError) WithDetail(detail string) *AppError {
	cp := e.clone()
	cp.Detail = detail
	return cp
}

// WithCause devuelve una COPIA con la causa original.
func (e *AppError) WithCause(err error) *AppError {
	cp := e.clone()
	cp.Err = err
	return cp
}

// WithHeader devuelve una COPIA que agrega k: v a la respuesta.
func (e *AppError) WithHeader(k, v string) *AppError {
	cp := e.clone()
	cp.Header = cp.Header.Clone()
	if cp.Header == nil {
		cp.Header = http.Header{}
	}
	cp.Header.Set(k, v)
	return cp
}

func (e *AppError) clone() *AppError {
	cp := *e
	return &cp
}

// ─── Errores predefinidos ───

var (
	ErrBadRequest          = New(http.StatusBadRequest, "BAD_REQUEST", "La solicitud es inválida")
	ErrInvalidJSON         = New(http.StatusBadRequest, "INVALID_JSON", "El cuerpo no es JSON válido")
	ErrUnauthorized        = New(http.StatusUnauthorized, "UNAUTHORIZED", "Autenticación requerida")
	ErrInvalidCredentials  = New(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Usuario o contraseña inválidos")
	ErrTokenInvalid        = New(http.StatusUnauthorized, "TOKEN_INVALID", "Token inválido")
	ErrTokenExpired        = New(http.StatusUnauthorized, "TOKEN_EXPIRED", "El token expiró")
	ErrForbidden           = New(http.StatusForbidden, "FORBIDDEN", "Permisos insuficientes")
	ErrNotFound            = New(http.StatusNotFound, "NOT_FOUND", "Recurso no encontrado")
	ErrMethodNotAllowed    = New(http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Método no permitido")
	ErrConflict            = New(http.StatusConflict, "CONFLICT", "Conflicto de estado")
	ErrVersionConflict     = New(http.StatusConflict, "VERSION_CONFLICT", "La versión esperada no coincide")
	ErrNotLeader           = New(http.StatusConflict, "NOT_LEADER", "Este nodo no es el líder")
	ErrSchemaValidation    = New(http.StatusUnprocessableEntity, "SCHEMA_VALIDATION", "El payload no cumple el schema")
	ErrUnknownSchema       = New(http.StatusUnprocessableEntity, "UNKNOWN_SCHEMA", "Schema desconocido")
	ErrPayloadTooLarge     = New(http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "El cuerpo excede el límite")
	ErrTooManyRequests     = New(http.StatusTooManyRequests, "TOO_MANY_REQUESTS", "Demasiados intentos, reintentar más tarde")
	ErrInternalServerError = New(http.StatusInternalServerError, "INTERNAL_ERROR", "Error interno del servidor")
	ErrServiceUnavailable  = New(http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "Servicio no disponible")
	ErrProposalTimeout     = New(http.StatusGatewayTimeout, "PROPOSAL_TIMEOUT", "La propuesta no se confirmó a tiempo")
)
