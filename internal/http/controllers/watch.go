package controllers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/aether/internal/controlplane"
	httperrors "github.com/dropDatabas3/aether/internal/http/errors"
	"github.com/dropDatabas3/aether/internal/metrics"
	"github.com/dropDatabas3/aether/internal/notify"
	"github.com/dropDatabas3/aether/internal/observability/logger"
	"github.com/dropDatabas3/aether/internal/store"
)

// Subscriber entrega eventos por nombre. Lo implementa *notify.Hub.
type Subscriber interface {
	Subscribe(name string) *notify.Subscription
}

// WatchController maneja GET /v1/configs/{name}/watch como server-sent events.
//
//	event: config
//	id: <version>
//	data: {"name":"db","version":3,...}
//
// Con ?since=N (o Last-Event-ID) primero se reenvían las versiones > N que ya
// están en el storage local. Después solo salen eventos con versión mayor a
// la última enviada, así los duplicados de la entrega at-least-once no llegan
// al cliente.
type WatchController struct {
	svc       ConfigService
	sub       Subscriber
	heartbeat time.Duration
}

func NewWatchController(svc ConfigService, sub Subscriber, heartbeat time.Duration) *WatchController {
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	return &WatchController{svc: svc, sub: sub, heartbeat: heartbeat}
}

func (c *WatchController) Watch(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	log := logger.From(r.Context()).With(logger.Component("watch"), logger.ConfigName(name))

	if !controlplane.ValidateName(name) {
		httperrors.WriteError(w, httperrors.ErrBadRequest.WithDetail("invalid config name"))
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		httperrors.WriteError(w, httperrors.ErrInternalServerError.WithDetail("streaming unsupported"))
		return
	}
	since, err := parseSince(r)
	if err != nil {
		httperrors.WriteError(w, httperrors.ErrBadRequest.WithDetail("since must be a version"))
		return
	}

	// suscribir antes de leer el storage para no perder commits intermedios
	sub := c.sub.Subscribe(name)
	defer sub.Close()

	var backlog []store.ConfigMeta
	if since > 0 {
		metas, err := c.svc.ListVersions(r.Context(), name)
		if err != nil && !store.IsNotFound(err) {
			httperrors.WriteError(w, err)
			return
		}
		for _, m := range metas {
			if m.Version > since {
				backlog = append(backlog, m)
			}
		}
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	metrics.WatchStreams.Inc()
	defer metrics.WatchStreams.Dec()
	log.Debug("watch opened", logger.Version(since))

	last := since
	for _, m := range backlog {
		ev := notify.Event{Name: m.Name, Version: m.Version, Checksum: m.Checksum, CommitAt: m.CreatedAt}
		if err := writeEvent(w, ev); err != nil {
			return
		}
		last = m.Version
	}
	flusher.Flush()

	tick := time.NewTicker(c.heartbeat)
	defer tick.Stop()
	for {
		select {
		case <-r.Context().Done():
			log.Debug("watch closed by client")
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			if ev.Version <= last {
				continue
			}
			if err := writeEvent(w, ev); err != nil {
				return
			}
			last = ev.Version
			flusher.Flush()
		case <-tick.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, ev notify.Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: config\nid: %d\ndata: %s\n\n", ev.Version, b)
	return err
}

func parseSince(r *http.Request) (uint64, error) {
	v := strings.TrimSpace(r.URL.Query().Get("since"))
	if v == "" {
		v = strings.TrimSpace(r.Header.Get("Last-Event-ID"))
	}
	if v == "" {
		return 0, nil
	}
	return strconv.ParseUint(v, 10, 64)
}
