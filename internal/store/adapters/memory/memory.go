// Package memory implementa un StorageBackend en memoria.
// Cada nodo tiene el suyo; útil para desarrollo y tests de cluster.
package memory

import (
	"context"
	"sync"

	"github.com/dropDatabas3/aether/internal/store"
)

func init() {
	store.RegisterAdapter(adapter{})
}

type adapter struct{}

func (adapter) Name() string { return "memory" }

func (adapter) Open(context.Context, store.AdapterConfig) (store.Backend, error) {
	return New(), nil
}

// Backend guarda las versiones en un map por nombre. El slice de versiones
// es append-only: versions[i].Version == i+1.
type Backend struct {
	mu      sync.RWMutex
	configs map[string][]*store.ConfigEntry
	closed  bool
}

// New crea un backend vacío.
func New() *Backend {
	return &Backend{configs: make(map[string][]*store.ConfigEntry)}
}

func (b *Backend) Name() string { return "memory" }

func (b *Backend) Get(_ context.Context, name string, version uint64) (*store.ConfigEntry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, store.ErrUnavailable
	}
	vs := b.configs[name]
	if version == 0 || version > uint64(len(vs)) {
		return nil, store.ErrNotFound
	}
	return vs[version-1].Clone(), nil
}

func (b *Backend) GetLatest(_ context.Context, name string) (*store.ConfigEntry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, store.ErrUnavailable
	}
	vs := b.configs[name]
	if len(vs) == 0 {
		return nil, store.ErrNotFound
	}
	return vs[len(vs)-1].Clone(), nil
}

func (b *Backend) ListVersions(_ context.Context, name string) ([]store.ConfigMeta, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, store.ErrUnavailable
	}
	vs := b.configs[name]
	out := make([]store.ConfigMeta, 0, len(vs))
	for _, e := range vs {
		out = append(out, e.Meta())
	}
	return out, nil
}

func (b *Backend) CompareAndSetLatest(_ context.Context, name string, expected uint64, entry *store.ConfigEntry) error {
	if err := store.CheckCAS(name, expected, entry); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return store.ErrUnavailable
	}
	vs := b.configs[name]
	if cur := uint64(len(vs)); cur != expected {
		return &store.VersionConflictError{Name: name, Expected: expected, Actual: cur}
	}
	b.configs[name] = append(vs, entry.Clone())
	return nil
}

func (b *Backend) Ping(context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return store.ErrUnavailable
	}
	return nil
}

func (b *Backend) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}
