package controlplane

import (
	"errors"
	"fmt"
	"strings"
)

// ─── Errors ───

var (
	ErrBadInput      = errors.New("control plane: bad input")
	ErrUnknownSchema = errors.New("control plane: unknown schema")

	// ErrSchemaValidation lo matchea todo *SchemaValidationError.
	ErrSchemaValidation = errors.New("control plane: schema validation failed")
)

// Violation es una restricción violada por un payload.
type Violation struct {
	Field   string `json:"field"` // path con puntos; "" = el objeto raíz
	Rule    string `json:"rule"`  // required|type|min|max|enum|pattern|additional_properties
	Message string `json:"message"`
}

func (v Violation) String() string {
	if v.Field == "" {
		return v.Rule + ": " + v.Message
	}
	return v.Field + ": " + v.Rule + ": " + v.Message
}

// SchemaValidationError lista todas las restricciones violadas.
type SchemaValidationError struct {
	SchemaID   string      `json:"schemaId"`
	Violations []Violation `json:"violations"`
}

func (e *SchemaValidationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.String()
	}
	return fmt.Sprintf("control plane: payload violates schema %q: %s", e.SchemaID, strings.Join(parts, "; "))
}

func (e *SchemaValidationError) Is(target error) bool { return target == ErrSchemaValidation }

func IsSchemaValidation(err error) bool { return errors.Is(err, ErrSchemaValidation) }
