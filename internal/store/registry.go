package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Adapter crea backends de un driver concreto.
type Adapter interface {
	// Name retorna el nombre del driver (ej: "memory", "redis", "postgres").
	Name() string

	// Open establece conexión con el almacenamiento.
	Open(ctx context.Context, cfg AdapterConfig) (Backend, error)
}

// AdapterConfig configuración para abrir un backend.
type AdapterConfig struct {
	// Driver: "memory" | "redis" | "postgres"
	Driver string

	// DSN connection string (postgres) o URL redis://.
	DSN string

	// Redis (si DSN está vacío)
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	KeyPrefix     string

	// Pool settings (postgres)
	MaxConns int32
	MinConns int32

	// Migrate crea las tablas al abrir (postgres).
	Migrate bool

	ConnectTimeout time.Duration
}

// ─── Registry Global ───

var (
	registryMu sync.RWMutex
	adapters   = make(map[string]Adapter)
)

// RegisterAdapter registra un adapter en el registry global.
// Llamar en init() de cada adapter.
func RegisterAdapter(a Adapter) {
	registryMu.Lock()
	defer registryMu.Unlock()

	name := a.Name()
	if _, exists := adapters[name]; exists {
		panic(fmt.Sprintf("store: adapter %q already registered", name))
	}
	adapters[name] = a
}

// GetAdapter obtiene un adapter por nombre.
func GetAdapter(name string) (Adapter, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	a, ok := adapters[name]
	return a, ok
}

// ListAdapters retorna los nombres registrados, ordenados.
func ListAdapters() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(adapters))
	for name := range adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open abre un backend usando el adapter indicado en cfg.Driver.
func Open(ctx context.Context, cfg AdapterConfig) (Backend, error) {
	a, ok := GetAdapter(cfg.Driver)
	if !ok {
		return nil, fmt.Errorf("store: adapter %q not registered (available: %v)", cfg.Driver, ListAdapters())
	}
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}
	return a.Open(ctx, cfg)
}
