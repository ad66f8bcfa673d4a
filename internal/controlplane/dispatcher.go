package controlplane

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dropDatabas3/aether/internal/metrics"
	"github.com/dropDatabas3/aether/internal/notify"
	"github.com/dropDatabas3/aether/internal/observability/logger"
)

// DispatcherOptions configura la entrega de eventos.
type DispatcherOptions struct {
	// MaxAttempts por evento antes de descartarlo (default 5).
	MaxAttempts int
	// Backoff inicial entre intentos; se duplica hasta MaxBackoff.
	Backoff    time.Duration
	MaxBackoff time.Duration
	Logger     *zap.Logger
}

// Dispatcher desacopla el apply de los watchers: Enqueue nunca bloquea y un
// único goroutine entrega los eventos en orden de commit.
type Dispatcher struct {
	n    notify.Notifier
	opts DispatcherOptions
	log  *zap.Logger

	mu      sync.Mutex
	queue   []notify.Event
	signal  chan struct{}
	stopCh  chan struct{}
	done    chan struct{}
	started bool
}

func NewDispatcher(n notify.Notifier, opts DispatcherOptions) *Dispatcher {
	if n == nil {
		n = notify.Nop
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 50 * time.Millisecond
	}
	if opts.MaxBackoff < opts.Backoff {
		opts.MaxBackoff = 2 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logger.L()
	}
	return &Dispatcher{
		n:      n,
		opts:   opts,
		log:    opts.Logger.With(logger.Component("notify")),
		signal: make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start lanza el goroutine de entrega.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	d.started = true
	go d.run()
}

// Stop detiene la entrega. Los eventos pendientes se pierden: los watchers
// se resincronizan leyendo la última versión.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	started := d.started
	select {
	case <-d.stopCh:
	default:
		close(d.stopCh)
	}
	d.mu.Unlock()
	if started {
		<-d.done
	}
}

// Enqueue agrega un evento a la cola. No bloquea.
func (d *Dispatcher) Enqueue(ev notify.Event) {
	d.mu.Lock()
	d.queue = append(d.queue, ev)
	metrics.ConfigNotifyQueue.Set(float64(len(d.queue)))
	d.mu.Unlock()
	select {
	case d.signal <- struct{}{}:
	default:
	}
}

// Pending retorna la cantidad de eventos en cola.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

func (d *Dispatcher) run() {
	defer close(d.done)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-d.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		ev, ok := d.next()
		if !ok {
			select {
			case <-d.stopCh:
				return
			case <-d.signal:
				continue
			}
		}
		if !d.deliver(ctx, ev) {
			return
		}
	}
}

func (d *Dispatcher) next() (notify.Event, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queue) == 0 {
		return notify.Event{}, false
	}
	ev := d.queue[0]
	d.queue[0] = notify.Event{}
	d.queue = d.queue[1:]
	metrics.ConfigNotifyQueue.Set(float64(len(d.queue)))
	return ev, true
}

// deliver reintenta con backoff. Retorna false si el dispatcher se detuvo.
func (d *Dispatcher) deliver(ctx context.Context, ev notify.Event) bool {
	backoff := d.opts.Backoff
	for attempt := 1; ; attempt++ {
		err := d.n.Notify(ctx, ev)
		if err == nil {
			metrics.ConfigNotifications.WithLabelValues("ok").Inc()
			return true
		}
		if attempt >= d.opts.MaxAttempts {
			metrics.ConfigNotifications.WithLabelValues("dropped").Inc()
			d.log.Error("notification dropped",
				logger.ConfigName(ev.Name), logger.Version(ev.Version), logger.Int("attempts", attempt), logger.Err(err))
			return true
		}
		metrics.ConfigNotifications.WithLabelValues("retry").Inc()
		d.log.Warn("notification failed, retrying",
			logger.ConfigName(ev.Name), logger.Version(ev.Version), logger.Int("attempt", attempt), logger.Err(err))

		t := time.NewTimer(backoff)
		select {
		case <-d.stopCh:
			t.Stop()
			return false
		case <-t.C:
		}
		backoff = min(backoff*2, d.opts.MaxBackoff)
	}
}
