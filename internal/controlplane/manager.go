// Package controlplane es el config manager: CRUD versionado y validado por
// schema sobre configuraciones, con el orden de las escrituras decidido por
// el log replicado (cluster) y el resultado guardado en un store.Backend.
//
// Flujo de una mutación:
//
//	Manager.Create/Update
//	   │ valida schema, arma Mutation{expectedVersion, payload, checksum}
//	   ▼
//	cluster.Node.Apply ──► replica, commit por quorum
//	   │
//	   ▼
//	Applier.Apply (en cada nodo, en orden de log)
//	   │ CompareAndSetLatest(name, expectedVersion, entry)
//	   ▼
//	Dispatcher ──► notify.Notifier (watchers)
//
// Las lecturas (Get, ListVersions) van directo al backend local.
package controlplane

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dropDatabas3/aether/internal/cluster"
	"github.com/dropDatabas3/aether/internal/metrics"
	"github.com/dropDatabas3/aether/internal/observability/logger"
	"github.com/dropDatabas3/aether/internal/store"
)

// Proposer es la parte del nodo de consenso que usa el manager.
type Proposer interface {
	Apply(ctx context.Context, id string, cmd []byte) (any, error)
}

// CreateInput datos para crear una configuración.
type CreateInput struct {
	Name     string
	SchemaID string // vacío = SchemaAny
	Payload  json.RawMessage
	Author   string
}

// UpdateInput datos para publicar una nueva versión.
type UpdateInput struct {
	Name    string
	Payload json.RawMessage
	Author  string
	// ExpectedVersion nil = la última versión leída localmente.
	ExpectedVersion *uint64
}

// Manager implementa get/create/update/listVersions.
type Manager struct {
	node    Proposer
	backend store.Backend
	schemas *Registry
	log     *zap.Logger
	now     func() time.Time
}

func NewManager(node Proposer, backend store.Backend, schemas *Registry, log *zap.Logger) *Manager {
	if log == nil {
		log = logger.L()
	}
	if schemas == nil {
		schemas, _ = NewRegistry()
	}
	return &Manager{
		node:    node,
		backend: backend,
		schemas: schemas,
		log:     log.With(logger.Component("config_manager")),
		now:     time.Now,
	}
}

// Schemas retorna el registry en uso.
func (m *Manager) Schemas() *Registry { return m.schemas }

// Get retorna una versión puntual, o la última si version == 0.
func (m *Manager) Get(ctx context.Context, name string, version uint64) (*store.ConfigEntry, error) {
	if !ValidateName(name) {
		return nil, fmt.Errorf("%w: invalid name %q", ErrBadInput, name)
	}
	if version == 0 {
		return m.backend.GetLatest(ctx, name)
	}
	return m.backend.Get(ctx, name, version)
}

// ListVersions retorna la metadata de todas las versiones, en orden.
func (m *Manager) ListVersions(ctx context.Context, name string) ([]store.ConfigMeta, error) {
	if !ValidateName(name) {
		return nil, fmt.Errorf("%w: invalid name %q", ErrBadInput, name)
	}
	metas, err := m.backend.ListVersions(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(metas) == 0 {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, name)
	}
	return metas, nil
}

// Create publica la versión 1 de name.
func (m *Manager) Create(ctx context.Context, in CreateInput) (*store.ConfigEntry, error) {
	if !ValidateName(in.Name) {
		return nil, m.reject(OpCreate, "invalid", fmt.Errorf("%w: invalid name %q", ErrBadInput, in.Name))
	}
	schemaID := in.SchemaID
	if schemaID == "" {
		schemaID = SchemaAny
	}
	// conflicto seguro: las versiones solo crecen
	if latest, err := m.backend.GetLatest(ctx, in.Name); err == nil {
		return nil, m.reject(OpCreate, "conflict", &store.VersionConflictError{Name: in.Name, Expected: 0, Actual: latest.Version})
	} else if !store.IsNotFound(err) {
		return nil, m.reject(OpCreate, "error", err)
	}
	return m.propose(ctx, OpCreate, in.Name, schemaID, 0, in.Payload, in.Author)
}

// Update publica una nueva versión sobre ExpectedVersion. El schema es el de
// la versión vigente.
func (m *Manager) Update(ctx context.Context, in UpdateInput) (*store.ConfigEntry, error) {
	if !ValidateName(in.Name) {
		return nil, m.reject(OpUpdate, "invalid", fmt.Errorf("%w: invalid name %q", ErrBadInput, in.Name))
	}
	latest, err := m.backend.GetLatest(ctx, in.Name)
	if err != nil {
		result := "error"
		if store.IsNotFound(err) {
			result = "not_found"
		}
		return nil, m.reject(OpUpdate, result, err)
	}
	expected := latest.Version
	if in.ExpectedVersion != nil {
		expected = *in.ExpectedVersion
		if expected < latest.Version {
			return nil, m.reject(OpUpdate, "conflict", &store.VersionConflictError{Name: in.Name, Expected: expected, Actual: latest.Version})
		}
	}
	return m.propose(ctx, OpUpdate, in.Name, latest.SchemaID, expected, in.Payload, in.Author)
}

func (m *Manager) propose(ctx context.Context, op Op, name, schemaID string, expected uint64, payload json.RawMessage, author string) (*store.ConfigEntry, error) {
	if err := m.schemas.Validate(schemaID, payload); err != nil {
		return nil, m.reject(op, "invalid", err)
	}
	// el log guarda el payload compacto; el checksum se calcula sobre esos bytes
	var buf bytes.Buffer
	if err := json.Compact(&buf, payload); err != nil {
		return nil, m.reject(op, "invalid", fmt.Errorf("%w: payload: %v", ErrBadInput, err))
	}

	mut := &Mutation{
		ID:              uuid.NewString(),
		Op:              op,
		Name:            name,
		SchemaID:        schemaID,
		ExpectedVersion: expected,
		Payload:         buf.Bytes(),
		Checksum:        Checksum(buf.Bytes()),
		Author:          author,
		TsUnixMilli:     m.now().UnixMilli(),
	}
	cmd, err := mut.Encode()
	if err != nil {
		return nil, m.reject(op, "error", err)
	}

	log := m.log.With(logger.Op(string(op)), logger.ConfigName(name), logger.ProposalID(mut.ID))
	resp, err := m.node.Apply(ctx, mut.ID, cmd)
	if err != nil {
		result := "error"
		switch {
		case errors.Is(err, cluster.ErrNotLeader):
			result = "not_leader"
		case errors.Is(err, cluster.ErrProposalTimeout):
			result = "timeout"
			log.Warn("proposal timed out", logger.Err(err))
		default:
			log.Error("proposal failed", logger.Err(err))
		}
		return nil, m.reject(op, result, err)
	}

	res, ok := resp.(*ApplyResult)
	if !ok {
		return nil, m.reject(op, "error", fmt.Errorf("control plane: unexpected apply response %T", resp))
	}
	if res.Err != nil {
		result := "error"
		if store.IsVersionConflict(res.Err) {
			result = "conflict"
		}
		return nil, m.reject(op, result, res.Err)
	}
	metrics.ConfigProposals.WithLabelValues(string(op), "ok").Inc()
	log.Info("config committed", logger.Version(res.Entry.Version))
	return res.Entry.Clone(), nil
}

func (m *Manager) reject(op Op, result string, err error) error {
	metrics.ConfigProposals.WithLabelValues(string(op), result).Inc()
	return err
}
