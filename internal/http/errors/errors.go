// Package errors define el formato de error del admin API y el mapeo desde
// los errores de las capas cluster, store y controlplane.
package errors

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dropDatabas3/aether/internal/cluster"
	"github.com/dropDatabas3/aether/internal/controlplane"
	"github.com/dropDatabas3/aether/internal/store"
)

// HeaderLeader lleva el ID del líder conocido en respuestas NOT_LEADER.
const HeaderLeader = "X-Leader"

type errorResponse struct {
	Code       string                   `json:"code"`
	Message    string                   `json:"message"`
	Detail     string                   `json:"detail,omitempty"`
	Violations []controlplane.Violation `json:"violations,omitempty"`
}

// FromError convierte errores de otras capas en un AppError. Lo que no se
// reconoce es un 500 que conserva la causa.
func FromError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	var (
		sve *controlplane.SchemaValidationError
		vce *store.VersionConflictError
		nle *cluster.NotLeaderError
	)
	switch {
	case err == nil:
		return ErrInternalServerError
	case errors.As(err, &sve):
		e := ErrSchemaValidation.WithDetail("schema " + sve.SchemaID).WithCause(err)
		e.Violations = sve.Violations
		return e
	case errors.Is(err, controlplane.ErrUnknownSchema):
		return ErrUnknownSchema.WithDetail(err.Error()).WithCause(err)
	case errors.Is(err, controlplane.ErrBadInput), errors.Is(err, store.ErrInvalidEntry):
		return ErrBadRequest.WithDetail(err.Error()).WithCause(err)
	case errors.As(err, &vce):
		return ErrVersionConflict.WithDetail(vce.Error()).WithCause(err)
	case errors.Is(err, store.ErrVersionConflict):
		return ErrVersionConflict.WithCause(err)
	case errors.Is(err, store.ErrNotFound):
		return ErrNotFound.WithCause(err)
	case errors.As(err, &nle):
		e := ErrNotLeader.WithCause(err)
		if nle.LeaderID != "" {
			e = e.WithHeader(HeaderLeader, nle.LeaderID).WithDetail("leader is " + nle.LeaderID)
		}
		return e
	case errors.Is(err, cluster.ErrNotLeader):
		return ErrNotLeader.WithCause(err)
	case errors.Is(err, cluster.ErrProposalTimeout):
		return ErrProposalTimeout.WithDetail("the change may still be applied; re-read before retrying").WithCause(err)
	case errors.Is(err, cluster.ErrLeadershipLost):
		return ErrServiceUnavailable.WithDetail("leadership lost before commit").WithCause(err)
	case errors.Is(err, cluster.ErrNodeStopped), errors.Is(err, cluster.ErrNodeFailed),
		errors.Is(err, store.ErrUnavailable):
		return ErrServiceUnavailable.WithCause(err)
	}
	return ErrInternalServerError.WithCause(err)
}

// WriteError escribe la respuesta JSON {code, message, detail} para err.
func WriteError(w http.ResponseWriter, err error) {
	appErr := FromError(err)

	for k, vs := range appErr.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(appErr.HTTPStatus)

	_ = json.NewEncoder(w).Encode(errorResponse{
		Code:       appErr.Code,
		Message:    appErr.Message,
		Detail:     appErr.Detail,
		Violations: appErr.Violations,
	})
}
