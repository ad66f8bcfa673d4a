package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/dropDatabas3/aether/internal/cluster"
	"github.com/dropDatabas3/aether/internal/http/helpers"
)

// NodeState es la vista del nodo de consenso que exponen status y readyz.
type NodeState interface {
	Status() cluster.NodeStatus
	View() cluster.ClusterView
}

// Pinger lo implementan store.Backend y cache.Client.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ClusterController maneja GET /v1/cluster/status.
type ClusterController struct {
	node NodeState
}

func NewClusterController(node NodeState) *ClusterController {
	return &ClusterController{node: node}
}

func (c *ClusterController) Status(w http.ResponseWriter, r *http.Request) {
	helpers.WriteJSON(w, http.StatusOK, ClusterStatusResponse{
		Node: c.node.Status(),
		View: c.node.View(),
	})
}

// HealthController maneja /healthz (proceso vivo) y /readyz (puede servir).
type HealthController struct {
	node    NodeState
	checks  map[string]Pinger
	timeout time.Duration
}

// NewHealthController recibe los componentes a chequear en readyz por nombre
// (ej: "storage", "cache").
func NewHealthController(node NodeState, checks map[string]Pinger) *HealthController {
	return &HealthController{node: node, checks: checks, timeout: 2 * time.Second}
}

func (c *HealthController) Healthz(w http.ResponseWriter, r *http.Request) {
	helpers.WriteJSON(w, http.StatusOK, HealthResponse{Status: "ok", NodeID: c.node.Status().ID})
}

// Readyz responde 503 si el nodo falló, no conoce líder o algún componente
// no responde al ping.
func (c *HealthController) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), c.timeout)
	defer cancel()

	st := c.node.Status()
	resp := HealthResponse{Status: "ready", NodeID: st.ID, Leader: st.LeaderID, Components: map[string]string{}}
	ready := true

	switch {
	case st.Failed != "":
		resp.Components["consensus"] = "failed: " + st.Failed
		ready = false
	case st.LeaderID == "":
		resp.Components["consensus"] = "no leader"
		ready = false
	default:
		resp.Components["consensus"] = st.Role.String()
	}
	for name, p := range c.checks {
		if p == nil {
			continue
		}
		if err := p.Ping(ctx); err != nil {
			resp.Components[name] = "down: " + err.Error()
			ready = false
			continue
		}
		resp.Components[name] = "ok"
	}

	status := http.StatusOK
	if !ready {
		resp.Status = "unavailable"
		status = http.StatusServiceUnavailable
	}
	helpers.WriteJSON(w, status, resp)
}
