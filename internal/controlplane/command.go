package controlplane

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/dropDatabas3/aether/internal/store"
)

// Op es el tipo de mutación.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
)

// reName: nombres tipo "db.timeout", "payments/retry-policy".
var reName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._/\-]{0,254}$`)

// ValidateName reporta si name es un nombre de configuración válido.
func ValidateName(name string) bool { return reName.MatchString(name) }

// Mutation es el comando que viaja por el log replicado. Todo lo que el
// applier necesita está aquí: aplicar la misma Mutation en cualquier nodo
// produce exactamente la misma ConfigEntry.
type Mutation struct {
	ID              string          `json:"id"`
	Op              Op              `json:"op"`
	Name            string          `json:"name"`
	SchemaID        string          `json:"schemaId"`
	ExpectedVersion uint64          `json:"expectedVersion"`
	Payload         json.RawMessage `json:"payload"`
	Checksum        string          `json:"checksum"`
	Author          string          `json:"author,omitempty"`
	TsUnixMilli     int64           `json:"ts"`
}

// Checksum retorna el sha256 hex del payload tal como se guarda.
func Checksum(payload []byte) string { return store.Checksum(payload) }

// Encode serializa la mutación para proponerla. El payload viaja byte a byte.
func (m *Mutation) Encode() ([]byte, error) { return store.Marshal(m) }

// DecodeMutation parsea y verifica un comando del log.
func DecodeMutation(b []byte) (*Mutation, error) {
	var m Mutation
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("%w: decode mutation: %v", store.ErrInvalidEntry, err)
	}
	if m.ID == "" || !ValidateName(m.Name) {
		return nil, fmt.Errorf("%w: mutation without id or with invalid name", store.ErrInvalidEntry)
	}
	if m.Op != OpCreate && m.Op != OpUpdate {
		return nil, fmt.Errorf("%w: unknown op %q", store.ErrInvalidEntry, m.Op)
	}
	if Checksum(m.Payload) != m.Checksum {
		return nil, fmt.Errorf("%w: checksum mismatch for %s", store.ErrInvalidEntry, m.Name)
	}
	return &m, nil
}

// Entry construye la ConfigEntry que resulta de aplicar la mutación.
func (m *Mutation) Entry() *store.ConfigEntry {
	return &store.ConfigEntry{
		Name:       m.Name,
		Version:    m.ExpectedVersion + 1,
		SchemaID:   m.SchemaID,
		Payload:    append(json.RawMessage(nil), m.Payload...),
		Checksum:   m.Checksum,
		CreatedAt:  time.UnixMilli(m.TsUnixMilli).UTC(),
		Author:     m.Author,
		ProposalID: m.ID,
	}
}
