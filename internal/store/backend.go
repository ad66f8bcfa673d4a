// Package store define el contrato StorageBackend y el registry de adapters.
//
// Un backend guarda versiones inmutables de configuraciones y un puntero
// "latest" por nombre. La única operación de escritura es CompareAndSetLatest,
// que debe ser atómica respecto de lectores concurrentes: Get/GetLatest ven la
// versión vieja o la nueva, nunca una escritura a medias.
//
// Adapters disponibles (se registran en init()):
//   - memory:   map protegido por RWMutex
//   - redis:    WATCH/MULTI sobre go-redis
//   - postgres: transacción con SELECT ... FOR UPDATE sobre pgxpool
//
// El decorator cached agrega read-through cache sobre cualquiera de ellos.
package store

import (
	"context"
	"encoding/json"
	"time"
)

// ConfigEntry es una versión inmutable de una configuración.
type ConfigEntry struct {
	Name       string          `json:"name"`
	Version    uint64          `json:"version"`
	SchemaID   string          `json:"schemaId"`
	Payload    json.RawMessage `json:"payload"`
	Checksum   string          `json:"checksum"`
	CreatedAt  time.Time       `json:"createdAt"`
	Author     string          `json:"author,omitempty"`
	ProposalID string          `json:"proposalId,omitempty"`
}

// ConfigMeta es la metadata de una versión (sin payload).
type ConfigMeta struct {
	Name      string    `json:"name"`
	Version   uint64    `json:"version"`
	SchemaID  string    `json:"schemaId"`
	Checksum  string    `json:"checksum"`
	CreatedAt time.Time `json:"createdAt"`
	Author    string    `json:"author,omitempty"`
}

// Meta proyecta la entrada a su metadata.
func (e *ConfigEntry) Meta() ConfigMeta {
	return ConfigMeta{
		Name:      e.Name,
		Version:   e.Version,
		SchemaID:  e.SchemaID,
		Checksum:  e.Checksum,
		CreatedAt: e.CreatedAt,
		Author:    e.Author,
	}
}

// Clone retorna una copia profunda (el payload no se comparte).
func (e *ConfigEntry) Clone() *ConfigEntry {
	if e == nil {
		return nil
	}
	c := *e
	c.Payload = append(json.RawMessage(nil), e.Payload...)
	return &c
}

// Backend es el contrato de almacenamiento durable de versiones.
type Backend interface {
	// Name retorna el nombre del driver ("memory", "redis", "postgres", ...).
	Name() string

	// Get retorna una versión puntual. ErrNotFound si el nombre o la versión no existen.
	Get(ctx context.Context, name string, version uint64) (*ConfigEntry, error)

	// GetLatest retorna la última versión. ErrNotFound si el nombre no existe.
	GetLatest(ctx context.Context, name string) (*ConfigEntry, error)

	// ListVersions retorna la metadata de todas las versiones en orden creciente.
	// Un nombre desconocido devuelve un slice vacío.
	ListVersions(ctx context.Context, name string) ([]ConfigMeta, error)

	// CompareAndSetLatest guarda entry como nueva última versión sii la
	// versión actual de name es expected (0 = el nombre no existe).
	// entry.Version debe ser expected+1. Si la versión actual difiere
	// retorna *VersionConflictError.
	CompareAndSetLatest(ctx context.Context, name string, expected uint64, entry *ConfigEntry) error

	Ping(ctx context.Context) error
	Close() error
}

// CheckCAS valida los argumentos comunes de CompareAndSetLatest.
func CheckCAS(name string, expected uint64, entry *ConfigEntry) error {
	if entry == nil || name == "" || entry.Name != name {
		return ErrInvalidEntry
	}
	if entry.Version != expected+1 {
		return ErrInvalidEntry
	}
	return nil
}
