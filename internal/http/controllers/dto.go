package controllers

import (
	"encoding/json"
	"time"

	"github.com/dropDatabas3/aether/internal/cluster"
	"github.com/dropDatabas3/aether/internal/store"
)

// ─── Auth ───

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	Roles       []string  `json:"roles"`
}

// ─── Configs ───

type CreateConfigRequest struct {
	Name     string          `json:"name"`
	SchemaID string          `json:"schemaId,omitempty"`
	Payload  json.RawMessage `json:"payload"`
}

type UpdateConfigRequest struct {
	Payload         json.RawMessage `json:"payload"`
	ExpectedVersion *uint64         `json:"expectedVersion,omitempty"`
}

type VersionsResponse struct {
	Name     string             `json:"name"`
	Versions []store.ConfigMeta `json:"versions"`
}

type SchemasResponse struct {
	Schemas []string `json:"schemas"`
}

// ─── Cluster / health ───

type ClusterStatusResponse struct {
	Node cluster.NodeStatus  `json:"node"`
	View cluster.ClusterView `json:"view"`
}

type HealthResponse struct {
	Status     string            `json:"status"` // ok | ready | unavailable
	NodeID     string            `json:"nodeId,omitempty"`
	Leader     string            `json:"leader,omitempty"`
	Components map[string]string `json:"components,omitempty"`
}
