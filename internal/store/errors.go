package store

import (
	"errors"
	"fmt"
)

// Errores comunes de los backends.
var (
	// ErrNotFound indica que el nombre o la versión no existen.
	ErrNotFound = errors.New("store: not found")

	// ErrVersionConflict indica fallo de control de concurrencia optimista.
	ErrVersionConflict = errors.New("store: version conflict")

	// ErrUnavailable indica que el backend no responde (reintentable).
	ErrUnavailable = errors.New("store: backend unavailable")

	// ErrInvalidEntry indica argumentos inválidos en CompareAndSetLatest.
	ErrInvalidEntry = errors.New("store: invalid entry")
)

// VersionConflictError detalla un CompareAndSetLatest rechazado.
type VersionConflictError struct {
	Name     string
	Expected uint64
	Actual   uint64
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("store: version conflict on %q: expected %d, current %d", e.Name, e.Expected, e.Actual)
}

// Is permite errors.Is(err, ErrVersionConflict).
func (e *VersionConflictError) Is(target error) bool { return target == ErrVersionConflict }

// Unavailable envuelve un error de I/O como ErrUnavailable conservando la causa.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}

func IsNotFound(err error) bool        { return errors.Is(err, ErrNotFound) }
func IsVersionConflict(err error) bool { return errors.Is(err, ErrVersionConflict) }
func IsUnavailable(err error) bool     { return errors.Is(err, ErrUnavailable) }
