// Package cache provee un cliente de cache clave/valor con dos backends:
//
//   - memory: in-process sobre patrickmn/go-cache (desarrollo, nodo único)
//   - redis: compartido entre nodos sobre go-redis
//
// Lo usa store/adapters/cached como read-through delante del StorageBackend.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Client define las operaciones de cache.
type Client interface {
	// Get obtiene un valor. Retorna ErrNotFound si no existe o expiró.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set guarda un valor. ttl == 0 significa sin expiración.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete elimina una o más keys. Borrar una key inexistente no es error.
	Delete(ctx context.Context, keys ...string) error

	Ping(ctx context.Context) error
	Close() error
	Stats(ctx context.Context) (Stats, error)
}

// Stats contiene estadísticas del cache.
type Stats struct {
	Driver string `json:"driver"`
	Keys   int64  `json:"keys"`
	Hits   int64  `json:"hits"`
	Misses int64  `json:"misses"`
}

// Config configuración para crear un cliente de cache.
type Config struct {
	Driver   string // "memory" | "redis"
	Addr     string // host:port (redis)
	Password string
	DB       int
	Prefix   string // Prefijo para todas las keys

	// CleanupInterval es la frecuencia de purga de expirados (memory).
	CleanupInterval time.Duration
}

// ErrNotFound indica que la key no existe en cache.
var ErrNotFound = errors.New("cache: key not found")

// IsNotFound verifica si el error es porque la key no existe.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// New crea un cliente según cfg.Driver.
func New(ctx context.Context, cfg Config) (Client, error) {
	switch cfg.Driver {
	case "memory", "":
		return NewMemory(cfg.Prefix, cfg.CleanupInterval), nil
	case "redis":
		return NewRedis(ctx, cfg)
	default:
		return nil, fmt.Errorf("cache: unknown driver %q", cfg.Driver)
	}
}

func prefixed(prefix, k string) string {
	if prefix == "" {
		return k
	}
	return prefix + ":" + k
}
