// Package redis implementa un StorageBackend sobre Redis.
//
// Layout de keys por nombre de configuración:
//
//	<prefix>cfg:{<name>}:latest    STRING  última versión
//	<prefix>cfg:{<name>}:versions  HASH    version -> ConfigEntry JSON
//
// El hash tag {<name>} mantiene ambas keys en el mismo slot (Redis Cluster).
// CompareAndSetLatest usa WATCH sobre :latest + MULTI/EXEC.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	goredis "github.com/redis/go-redis/v9"

	"github.com/dropDatabas3/aether/internal/store"
)

func init() {
	store.RegisterAdapter(adapter{})
}

type adapter struct{}

func (adapter) Name() string { return "redis" }

func (adapter) Open(ctx context.Context, cfg store.AdapterConfig) (store.Backend, error) {
	var opts *goredis.Options
	if cfg.DSN != "" {
		o, err := goredis.ParseURL(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("redis: parse dsn: %w", err)
		}
		opts = o
	} else {
		addr := cfg.RedisAddr
		if addr == "" {
			addr = "localhost:6379"
		}
		opts = &goredis.Options{Addr: addr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	}
	rdb := goredis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, store.Unavailable("redis ping", err)
	}
	return New(rdb, cfg.KeyPrefix), nil
}

// maxWatchRetries acota los reintentos cuando EXEC aborta por un WATCH.
const maxWatchRetries = 5

// Backend guarda versiones en Redis.
type Backend struct {
	rdb    *goredis.Client
	prefix string
}

// New envuelve un cliente existente. El backend toma ownership (Close lo cierra).
func New(rdb *goredis.Client, prefix string) *Backend {
	return &Backend{rdb: rdb, prefix: prefix}
}

func (b *Backend) Name() string { return "redis" }

func (b *Backend) latestKey(name string) string   { return b.prefix + "cfg:{" + name + "}:latest" }
func (b *Backend) versionsKey(name string) string { return b.prefix + "cfg:{" + name + "}:versions" }

func (b *Backend) Get(ctx context.Context, name string, version uint64) (*store.ConfigEntry, error) {
	raw, err := b.rdb.HGet(ctx, b.versionsKey(name), strconv.FormatUint(version, 10)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, store.Unavailable("redis hget", err)
	}
	return decode(raw)
}

func (b *Backend) GetLatest(ctx context.Context, name string) (*store.ConfigEntry, error) {
	v, err := b.rdb.Get(ctx, b.latestKey(name)).Uint64()
	if errors.Is(err, goredis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, store.Unavailable("redis get", err)
	}
	// Las versiones son inmutables y :latest solo avanza dentro del mismo
	// EXEC que escribe el hash, así que la versión leída siempre existe.
	return b.Get(ctx, name, v)
}

func (b *Backend) ListVersions(ctx context.Context, name string) ([]store.ConfigMeta, error) {
	vals, err := b.rdb.HVals(ctx, b.versionsKey(name)).Result()
	if err != nil {
		return nil, store.Unavailable("redis hvals", err)
	}
	out := make([]store.ConfigMeta, 0, len(vals))
	for _, raw := range vals {
		e, err := decode([]byte(raw))
		if err != nil {
			return nil, err
		}
		out = append(out, e.Meta())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func (b *Backend) CompareAndSetLatest(ctx context.Context, name string, expected uint64, entry *store.ConfigEntry) error {
	if err := store.CheckCAS(name, expected, entry); err != nil {
		return err
	}
	data, err := store.Marshal(entry)
	if err != nil {
		return fmt.Errorf("redis: encode entry: %w", err)
	}
	latest := b.latestKey(name)

	txf := func(tx *goredis.Tx) error {
		cur, err := tx.Get(ctx, latest).Uint64()
		if errors.Is(err, goredis.Nil) {
			cur = 0
		} else if err != nil {
			return store.Unavailable("redis get", err)
		}
		if cur != expected {
			return &store.VersionConflictError{Name: name, Expected: expected, Actual: cur}
		}
		_, err = tx.TxPipelined(ctx, func(p goredis.Pipeliner) error {
			p.HSet(ctx, b.versionsKey(name), strconv.FormatUint(entry.Version, 10), data)
			p.Set(ctx, latest, entry.Version, 0)
			return nil
		})
		return err
	}

	for i := 0; i < maxWatchRetries; i++ {
		err = b.rdb.Watch(ctx, txf, latest)
		if !errors.Is(err, goredis.TxFailedErr) {
			break
		}
	}
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrVersionConflict), errors.Is(err, store.ErrUnavailable):
		return err
	case errors.Is(err, goredis.TxFailedErr):
		// Otro writer ganó todas las rondas; reportar el estado actual.
		cur, _ := b.rdb.Get(ctx, latest).Uint64()
		return &store.VersionConflictError{Name: name, Expected: expected, Actual: cur}
	default:
		return store.Unavailable("redis exec", err)
	}
}

func (b *Backend) Ping(ctx context.Context) error {
	if err := b.rdb.Ping(ctx).Err(); err != nil {
		return store.Unavailable("redis ping", err)
	}
	return nil
}

func (b *Backend) Close() error { return b.rdb.Close() }

func decode(raw []byte) (*store.ConfigEntry, error) {
	var e store.ConfigEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("redis: decode entry: %w", err)
	}
	return &e, nil
}
