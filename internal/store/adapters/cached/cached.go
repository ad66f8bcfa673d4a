// Package cached decora un store.Backend con un read-through cache.
//
// Las versiones puntuales son inmutables y se cachean sin TTL. El puntero
// "latest" se cachea con TTL y se invalida en cada CompareAndSetLatest local;
// con un cache compartido (redis) la invalidación alcanza a todos los nodos.
// Las misses concurrentes de una misma key se colapsan con singleflight.
package cached

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/dropDatabas3/aether/internal/cache"
	"github.com/dropDatabas3/aether/internal/observability/logger"
	"github.com/dropDatabas3/aether/internal/store"
)

// Backend implementa store.Backend sobre otro Backend.
type Backend struct {
	inner     store.Backend
	cache     cache.Client
	latestTTL time.Duration
	group     singleflight.Group
	log       *zap.Logger
}

// New envuelve inner. latestTTL <= 0 usa 5s.
func New(inner store.Backend, c cache.Client, latestTTL time.Duration) *Backend {
	if latestTTL <= 0 {
		latestTTL = 5 * time.Second
	}
	return &Backend{
		inner:     inner,
		cache:     c,
		latestTTL: latestTTL,
		log:       logger.Named("store.cached").With(logger.String("inner", inner.Name())),
	}
}

func (b *Backend) Name() string { return "cached+" + b.inner.Name() }

func versionKey(name string, v uint64) string { return "cfg:" + name + ":v:" + strconv.FormatUint(v, 10) }
func latestKey(name string) string            { return "cfg:" + name + ":latest" }

func (b *Backend) Get(ctx context.Context, name string, version uint64) (*store.ConfigEntry, error) {
	return b.load(ctx, versionKey(name, version), 0, func() (*store.ConfigEntry, error) {
		return b.inner.Get(ctx, name, version)
	})
}

func (b *Backend) GetLatest(ctx context.Context, name string) (*store.ConfigEntry, error) {
	return b.load(ctx, latestKey(name), b.latestTTL, func() (*store.ConfigEntry, error) {
		return b.inner.GetLatest(ctx, name)
	})
}

// ListVersions no se cachea: es barato en todos los backends y crece con cada versión.
func (b *Backend) ListVersions(ctx context.Context, name string) ([]store.ConfigMeta, error) {
	return b.inner.ListVersions(ctx, name)
}

func (b *Backend) CompareAndSetLatest(ctx context.Context, name string, expected uint64, entry *store.ConfigEntry) error {
	err := b.inner.CompareAndSetLatest(ctx, name, expected, entry)
	if err == nil || store.IsVersionConflict(err) {
		if derr := b.cache.Delete(ctx, latestKey(name)); derr != nil {
			b.log.Warn("cache invalidation failed", logger.ConfigName(name), logger.Err(derr))
		}
	}
	if err == nil {
		b.put(ctx, versionKey(name, entry.Version), entry, 0)
	}
	return err
}

func (b *Backend) Ping(ctx context.Context) error {
	if err := b.inner.Ping(ctx); err != nil {
		return err
	}
	return b.cache.Ping(ctx)
}

func (b *Backend) Close() error {
	cerr := b.cache.Close()
	if err := b.inner.Close(); err != nil {
		return err
	}
	return cerr
}

func (b *Backend) load(ctx context.Context, key string, ttl time.Duration, fetch func() (*store.ConfigEntry, error)) (*store.ConfigEntry, error) {
	if raw, err := b.cache.Get(ctx, key); err == nil {
		var e store.ConfigEntry
		if json.Unmarshal(raw, &e) == nil {
			return &e, nil
		}
		// entrada corrupta: se descarta y se recarga
		_ = b.cache.Delete(ctx, key)
	} else if !cache.IsNotFound(err) {
		b.log.Debug("cache get failed", logger.Key(key), logger.Err(err))
	}

	v, err, _ := b.group.Do(key, func() (any, error) {
		e, err := fetch()
		if err != nil {
			return nil, err
		}
		b.put(ctx, key, e, ttl)
		return e, nil
	})
	if err != nil {
		return nil, err
	}
	// cada caller recibe su propia copia
	return v.(*store.ConfigEntry).Clone(), nil
}

func (b *Backend) put(ctx context.Context, key string, e *store.ConfigEntry, ttl time.Duration) {
	raw, err := store.Marshal(e)
	if err != nil {
		return
	}
	if err := b.cache.Set(ctx, key, raw, ttl); err != nil {
		b.log.Debug("cache set failed", logger.Key(key), logger.Err(err))
	}
}
