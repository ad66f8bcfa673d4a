// Package notify entrega eventos "config X avanzó a versión V" a watchers.
//
// La entrega es at-least-once: un consumidor puede ver el mismo evento más de
// una vez y debe tolerarlo comparando versiones.
package notify

import (
	"context"
	"errors"
	"time"
)

// Event anuncia una nueva versión committed de una configuración.
type Event struct {
	Name       string    `json:"name"`
	Version    uint64    `json:"version"`
	Checksum   string    `json:"checksum,omitempty"`
	CommitAt   time.Time `json:"commitAt"`
	ProposalID string    `json:"proposalId,omitempty"`
}

// Notifier recibe eventos. Un error indica que el evento debe reintentarse.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// NotifierFunc adapta una función a Notifier.
type NotifierFunc func(ctx context.Context, ev Event) error

func (f NotifierFunc) Notify(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Multi reparte cada evento a todos los notifiers. Un fallo en uno no impide
// la entrega al resto; el error combinado provoca el reintento de todos.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, ev Event) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop descarta los eventos.
var Nop Notifier = NotifierFunc(func(context.Context, Event) error { return nil })
