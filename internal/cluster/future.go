package cluster

import (
	"context"
	"sync"
)

// ApplyFuture se resuelve cuando la entrada propuesta fue committed y
// aplicada en este nodo, o cuando se sabe que nunca lo será.
type ApplyFuture struct {
	index uint64
	term  uint64
	id    string

	once sync.Once
	done chan struct{}
	resp any
	err  error
}

func newFuture(index, term uint64, id string) *ApplyFuture {
	return &ApplyFuture{index: index, term: term, id: id, done: make(chan struct{})}
}

// Index es el índice asignado en el log.
func (f *ApplyFuture) Index() uint64 { return f.index }

// Term es el término en que se propuso.
func (f *ApplyFuture) Term() uint64 { return f.term }

// ID es el id de la propuesta.
func (f *ApplyFuture) ID() string { return f.id }

// Done se cierra al resolverse.
func (f *ApplyFuture) Done() <-chan struct{} { return f.done }

// Wait bloquea hasta la resolución o ctx.Done().
func (f *ApplyFuture) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.resp, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *ApplyFuture) respond(resp any) {
	f.once.Do(func() {
		f.resp = resp
		close(f.done)
	})
}

func (f *ApplyFuture) fail(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}
