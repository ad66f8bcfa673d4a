package controlplane

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/dropDatabas3/aether/internal/notify"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
	fail   int // próximas N entregas fallan
	block  chan struct{}
}

func (r *recordingNotifier) Notify(ctx context.Context, ev notify.Event) error {
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail > 0 {
		r.fail--
		return errors.New("watcher down")
	}
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingNotifier) versions() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]uint64, len(r.events))
	for i, e := range r.events {
		out[i] = e.Version
	}
	return out
}

func fastOpts() DispatcherOptions {
	return DispatcherOptions{Backoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond, Logger: zap.NewNop()}
}

func TestDispatcherDeliversInOrderWithRetry(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	n := &recordingNotifier{fail: 3}
	d := NewDispatcher(n, fastOpts())
	d.Start()
	defer d.Stop()

	for v := uint64(1); v <= 10; v++ {
		d.Enqueue(notify.Event{Name: "x", Version: v})
	}
	require.Eventually(t, func() bool { return len(n.versions()) == 10 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, []uint64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, n.versions())
	assert.Equal(t, 0, d.Pending())
}

func TestDispatcherDropsAfterMaxAttempts(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	n := &recordingNotifier{fail: 2}
	opts := fastOpts()
	opts.MaxAttempts = 2
	d := NewDispatcher(n, opts)
	d.Start()
	defer d.Stop()

	d.Enqueue(notify.Event{Name: "x", Version: 1})
	d.Enqueue(notify.Event{Name: "x", Version: 2})
	require.Eventually(t, func() bool { return len(n.versions()) == 1 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, []uint64{2}, n.versions())
}

func TestDispatcherEnqueueNeverBlocks(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	n := &recordingNotifier{block: make(chan struct{})}
	d := NewDispatcher(n, fastOpts())
	d.Start()

	done := make(chan struct{})
	go func() {
		for v := uint64(1); v <= 1000; v++ {
			d.Enqueue(notify.Event{Name: "x", Version: v})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("enqueue blocked on a stuck watcher")
	}
	assert.GreaterOrEqual(t, d.Pending(), 999)
	d.Stop() // cancela la entrega en curso
}
