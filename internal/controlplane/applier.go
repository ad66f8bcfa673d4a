package controlplane

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/dropDatabas3/aether/internal/cluster"
	"github.com/dropDatabas3/aether/internal/metrics"
	"github.com/dropDatabas3/aether/internal/notify"
	"github.com/dropDatabas3/aether/internal/observability/logger"
	"github.com/dropDatabas3/aether/internal/store"
)

// ApplyResult es la respuesta del applier que recibe quien propuso.
// Err != nil es un rechazo determinístico (conflicto, comando inválido):
// la entrada quedó committed pero no modificó el storage.
type ApplyResult struct {
	Entry *store.ConfigEntry
	Err   error
}

// Applier es el cluster.FSM del config manager: aplica cada Mutation
// committed con CompareAndSetLatest y encola la notificación.
type Applier struct {
	backend    store.Backend
	dispatcher *Dispatcher
	log        *zap.Logger
}

var _ cluster.FSM = (*Applier)(nil)

func NewApplier(backend store.Backend, d *Dispatcher, log *zap.Logger) *Applier {
	if log == nil {
		log = logger.L()
	}
	return &Applier{backend: backend, dispatcher: d, log: log.With(logger.Component("applier"))}
}

// Apply implementa cluster.FSM. Solo los errores de storage se devuelven
// como error (el nodo reintenta); el resto viaja en *ApplyResult.
func (a *Applier) Apply(ctx context.Context, e *cluster.LogEntry) (any, error) {
	m, err := DecodeMutation(e.Command)
	if err != nil {
		metrics.ConfigApplied.WithLabelValues("invalid").Inc()
		a.log.Error("skipping invalid command", logger.Index(e.Index), logger.ProposalID(e.ID), logger.Err(err))
		return &ApplyResult{Err: err}, nil
	}
	entry := m.Entry()
	log := a.log.With(logger.ConfigName(m.Name), logger.Version(entry.Version), logger.ProposalID(m.ID), logger.Index(e.Index))

	err = a.backend.CompareAndSetLatest(ctx, m.Name, m.ExpectedVersion, entry)
	switch {
	case err == nil:
		metrics.ConfigApplied.WithLabelValues("ok").Inc()
		log.Info("config applied", logger.SchemaID(m.SchemaID))
		a.enqueue(entry)
		return &ApplyResult{Entry: entry}, nil

	case store.IsVersionConflict(err):
		// replay de una entrada ya aplicada (crash antes de persistir
		// lastApplied, o backend compartido): misma propuesta = éxito
		if existing, gerr := a.backend.Get(ctx, m.Name, entry.Version); gerr == nil && existing.ProposalID == m.ID {
			metrics.ConfigApplied.WithLabelValues("duplicate").Inc()
			log.Debug("config already applied")
			a.enqueue(existing)
			return &ApplyResult{Entry: existing}, nil
		} else if gerr != nil && !store.IsNotFound(gerr) {
			return nil, gerr
		}
		metrics.ConfigApplied.WithLabelValues("conflict").Inc()
		log.Info("config rejected", logger.Err(err))
		return &ApplyResult{Err: err}, nil

	case errors.Is(err, store.ErrInvalidEntry):
		metrics.ConfigApplied.WithLabelValues("invalid").Inc()
		log.Error("config rejected by backend", logger.Err(err))
		return &ApplyResult{Err: err}, nil

	default:
		log.Warn("apply failed, will retry", logger.Err(err))
		return nil, err
	}
}

// el evento se reenvía en duplicados: at-least-once
func (a *Applier) enqueue(e *store.ConfigEntry) {
	if a.dispatcher == nil {
		return
	}
	a.dispatcher.Enqueue(notify.Event{
		Name:       e.Name,
		Version:    e.Version,
		Checksum:   e.Checksum,
		CommitAt:   e.CreatedAt,
		ProposalID: e.ProposalID,
	})
}
