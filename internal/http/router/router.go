// Package router arma las rutas del admin API sobre chi.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/aether/internal/http/controllers"
	httperrors "github.com/dropDatabas3/aether/internal/http/errors"
	mw "github.com/dropDatabas3/aether/internal/http/middlewares"
	"github.com/dropDatabas3/aether/internal/jwt"
	"github.com/dropDatabas3/aether/internal/rate"
)

// Node es lo que el router necesita del nodo de consenso.
type Node interface {
	mw.LeaderView
	controllers.NodeState
}

// Deps contiene las dependencias del router.
type Deps struct {
	Node   Node
	Tokens mw.TokenParser

	Auth    *controllers.AuthController
	Configs *controllers.ConfigsController
	Watch   *controllers.WatchController
	Cluster *controllers.ClusterController
	Health  *controllers.HealthController

	// LoginLimiter acota intentos de login por IP; nil = sin límite.
	LoginLimiter rate.Limiter

	// nodeID -> base URL del admin API de ese nodo
	LeaderRedirects map[string]string

	// Metrics sirve /metrics; nil = sin endpoint.
	Metrics http.Handler
}

// New construye el handler raíz.
//
//	POST /v1/auth/login
//	GET  /v1/schemas                     reader
//	POST /v1/configs                     writer, líder
//	GET  /v1/configs/{name}              reader
//	PUT  /v1/configs/{name}              writer, líder
//	GET  /v1/configs/{name}/versions     reader
//	GET  /v1/configs/{name}/watch        reader (SSE)
//	GET  /v1/cluster/status              reader
//	GET  /healthz | /readyz | /metrics
func New(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(mw.WithRecover(), mw.WithRequestID(), mw.WithLogging(), mw.WithMetrics())

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httperrors.WriteError(w, httperrors.ErrNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		httperrors.WriteError(w, httperrors.ErrMethodNotAllowed)
	})

	r.Get("/healthz", d.Health.Healthz)
	r.Get("/readyz", d.Health.Readyz)
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.With(mw.WithRateLimit(d.LoginLimiter, "login")).Post("/auth/login", d.Auth.Login)

		r.Group(func(r chi.Router) {
			r.Use(mw.RequireAuth(d.Tokens))

			r.Group(func(r chi.Router) {
				r.Use(mw.RequireRole(jwt.RoleReader))
				r.Get("/schemas", d.Configs.Schemas)
				r.Get("/configs/{name}", d.Configs.Get)
				r.Get("/configs/{name}/versions", d.Configs.Versions)
				r.Get("/configs/{name}/watch", d.Watch.Watch)
				r.Get("/cluster/status", d.Cluster.Status)
			})

			r.Group(func(r chi.Router) {
				r.Use(mw.RequireRole(jwt.RoleWriter), mw.RequireLeader(d.Node, d.LeaderRedirects))
				r.Post("/configs", d.Configs.Create)
				r.Put("/configs/{name}", d.Configs.Update)
			})
		})
	})
	return r
}
