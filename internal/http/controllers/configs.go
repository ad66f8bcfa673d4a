package controllers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/aether/internal/controlplane"
	httperrors "github.com/dropDatabas3/aether/internal/http/errors"
	"github.com/dropDatabas3/aether/internal/http/helpers"
	mw "github.com/dropDatabas3/aether/internal/http/middlewares"
	"github.com/dropDatabas3/aether/internal/observability/logger"
	"github.com/dropDatabas3/aether/internal/store"
)

// ConfigService es la parte del config manager que usa el controller.
type ConfigService interface {
	Get(ctx context.Context, name string, version uint64) (*store.ConfigEntry, error)
	ListVersions(ctx context.Context, name string) ([]store.ConfigMeta, error)
	Create(ctx context.Context, in controlplane.CreateInput) (*store.ConfigEntry, error)
	Update(ctx context.Context, in controlplane.UpdateInput) (*store.ConfigEntry, error)
	Schemas() *controlplane.Registry
}

// ConfigsController maneja /v1/configs.
type ConfigsController struct {
	svc ConfigService
}

func NewConfigsController(svc ConfigService) *ConfigsController {
	return &ConfigsController{svc: svc}
}

// Get maneja GET /v1/configs/{name}[?version=N].
func (c *ConfigsController) Get(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var version uint64
	if v := r.URL.Query().Get("version"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil || n == 0 {
			httperrors.WriteError(w, httperrors.ErrBadRequest.WithDetail("version must be a positive integer"))
			return
		}
		version = n
	}

	entry, err := c.svc.Get(r.Context(), name, version)
	if err != nil {
		httperrors.WriteError(w, err)
		return
	}
	w.Header().Set("ETag", etag(entry.Version))
	helpers.WriteJSON(w, http.StatusOK, entry)
}

// Versions maneja GET /v1/configs/{name}/versions.
func (c *ConfigsController) Versions(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	metas, err := c.svc.ListVersions(r.Context(), name)
	if err != nil {
		httperrors.WriteError(w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, VersionsResponse{Name: name, Versions: metas})
}

// Create maneja POST /v1/configs.
func (c *ConfigsController) Create(w http.ResponseWriter, r *http.Request) {
	log := logger.From(r.Context()).With(logger.Component("configs"), logger.Op("Create"))

	var req CreateConfigRequest
	if !helpers.ReadJSON(w, r, &req) {
		return
	}
	if len(req.Payload) == 0 {
		httperrors.WriteError(w, httperrors.ErrBadRequest.WithDetail("payload is required"))
		return
	}

	entry, err := c.svc.Create(r.Context(), controlplane.CreateInput{
		Name:     req.Name,
		SchemaID: req.SchemaID,
		Payload:  req.Payload,
		Author:   mw.GetSubject(r.Context()),
	})
	if err != nil {
		log.Debug("create rejected", logger.ConfigName(req.Name), logger.Err(err))
		httperrors.WriteError(w, err)
		return
	}

	w.Header().Set("Location", "/v1/configs/"+entry.Name)
	w.Header().Set("ETag", etag(entry.Version))
	helpers.WriteJSON(w, http.StatusCreated, entry)
}

// Update maneja PUT /v1/configs/{name}. La versión esperada viene en el
// body (expectedVersion) o en If-Match; sin ninguna se usa la última local.
func (c *ConfigsController) Update(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	log := logger.From(r.Context()).With(logger.Component("configs"), logger.Op("Update"), logger.ConfigName(name))

	var req UpdateConfigRequest
	if !helpers.ReadJSON(w, r, &req) {
		return
	}
	if len(req.Payload) == 0 {
		httperrors.WriteError(w, httperrors.ErrBadRequest.WithDetail("payload is required"))
		return
	}
	if req.ExpectedVersion == nil {
		if v, ok, err := parseIfMatch(r.Header.Get("If-Match")); err != nil {
			httperrors.WriteError(w, httperrors.ErrBadRequest.WithDetail("If-Match must be a version"))
			return
		} else if ok {
			req.ExpectedVersion = &v
		}
	}

	entry, err := c.svc.Update(r.Context(), controlplane.UpdateInput{
		Name:            name,
		Payload:         req.Payload,
		Author:          mw.GetSubject(r.Context()),
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		log.Debug("update rejected", logger.Err(err))
		httperrors.WriteError(w, err)
		return
	}
	w.Header().Set("ETag", etag(entry.Version))
	helpers.WriteJSON(w, http.StatusOK, entry)
}

// Schemas maneja GET /v1/schemas.
func (c *ConfigsController) Schemas(w http.ResponseWriter, r *http.Request) {
	helpers.WriteJSON(w, http.StatusOK, SchemasResponse{Schemas: c.svc.Schemas().IDs()})
}

func etag(v uint64) string { return `"` + strconv.FormatUint(v, 10) + `"` }

func parseIfMatch(h string) (uint64, bool, error) {
	h = strings.TrimSpace(h)
	if h == "" || h == "*" {
		return 0, false, nil
	}
	h = strings.TrimPrefix(h, "W/")
	v, err := strconv.ParseUint(strings.Trim(h, `"`), 10, 64)
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}
