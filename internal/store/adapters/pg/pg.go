// Package pg implementa un StorageBackend PostgreSQL sobre pgxpool.
//
// Tablas (ver migrations/postgres):
//   - config_entries(name, version) PK: versiones inmutables
//   - config_heads(name) PK: puntero latest_version, bloqueado durante el CAS
package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/aether/internal/store"
)

func init() {
	store.RegisterAdapter(adapter{})
}

type adapter struct{}

func (adapter) Name() string { return "postgres" }

func (adapter) Open(ctx context.Context, cfg store.AdapterConfig) (store.Backend, error) {
	if cfg.DSN == "" {
		return nil, errors.New("pg: dsn is required")
	}
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("pg: parse dsn: %w", err)
	}
	pcfg.MaxConns = 10
	pcfg.MinConns = 2
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pcfg.MinConns = cfg.MinConns
	}
	pcfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, store.Unavailable("pg connect", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, store.Unavailable("pg ping", err)
	}
	if cfg.Migrate {
		if _, err := Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return New(pool), nil
}

// uniqueViolation es el SQLSTATE de clave duplicada.
const uniqueViolation = "23505"

// Backend guarda versiones en PostgreSQL.
type Backend struct {
	pool *pgxpool.Pool
}

// New envuelve un pool existente. Close cierra el pool.
func New(pool *pgxpool.Pool) *Backend { return &Backend{pool: pool} }

func (b *Backend) Name() string { return "postgres" }

const selectEntry = `
	SELECT name, version, schema_id, payload, checksum, created_at, author, proposal_id
	FROM config_entries`

func scanEntry(row pgx.Row) (*store.ConfigEntry, error) {
	var (
		e       store.ConfigEntry
		version int64
		payload []byte
	)
	err := row.Scan(&e.Name, &version, &e.SchemaID, &payload, &e.Checksum, &e.CreatedAt, &e.Author, &e.ProposalID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, store.Unavailable("pg scan", err)
	}
	e.Version = uint64(version)
	e.Payload = payload
	e.CreatedAt = e.CreatedAt.UTC()
	return &e, nil
}

func (b *Backend) Get(ctx context.Context, name string, version uint64) (*store.ConfigEntry, error) {
	row := b.pool.QueryRow(ctx, selectEntry+` WHERE name = $1 AND version = $2`, name, int64(version))
	return scanEntry(row)
}

func (b *Backend) GetLatest(ctx context.Context, name string) (*store.ConfigEntry, error) {
	row := b.pool.QueryRow(ctx, selectEntry+`
		WHERE name = $1
		  AND version = (SELECT latest_version FROM config_heads WHERE name = $1)`, name)
	return scanEntry(row)
}

func (b *Backend) ListVersions(ctx context.Context, name string) ([]store.ConfigMeta, error) {
	rows, err := b.pool.Query(ctx, `
		SELECT name, version, schema_id, checksum, created_at, author
		FROM config_entries WHERE name = $1 ORDER BY version`, name)
	if err != nil {
		return nil, store.Unavailable("pg query", err)
	}
	defer rows.Close()

	out := []store.ConfigMeta{}
	for rows.Next() {
		var (
			m       store.ConfigMeta
			version int64
		)
		if err := rows.Scan(&m.Name, &version, &m.SchemaID, &m.Checksum, &m.CreatedAt, &m.Author); err != nil {
			return nil, store.Unavailable("pg scan", err)
		}
		m.Version = uint64(version)
		m.CreatedAt = m.CreatedAt.UTC()
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Unavailable("pg rows", err)
	}
	return out, nil
}

func (b *Backend) CompareAndSetLatest(ctx context.Context, name string, expected uint64, entry *store.ConfigEntry) error {
	if err := store.CheckCAS(name, expected, entry); err != nil {
		return err
	}
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return store.Unavailable("pg begin", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var cur int64
	err = tx.QueryRow(ctx, `SELECT latest_version FROM config_heads WHERE name = $1 FOR UPDATE`, name).Scan(&cur)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return store.Unavailable("pg select head", err)
	}
	if uint64(cur) != expected {
		return &store.VersionConflictError{Name: name, Expected: expected, Actual: uint64(cur)}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO config_entries (name, version, schema_id, payload, checksum, created_at, author, proposal_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		name, int64(entry.Version), entry.SchemaID, string(entry.Payload), entry.Checksum,
		entry.CreatedAt, entry.Author, entry.ProposalID)
	if err != nil {
		return b.mapWriteErr(ctx, name, expected, err)
	}

	if expected == 0 {
		_, err = tx.Exec(ctx, `INSERT INTO config_heads (name, latest_version) VALUES ($1, $2)`, name, int64(entry.Version))
	} else {
		_, err = tx.Exec(ctx, `UPDATE config_heads SET latest_version = $2 WHERE name = $1`, name, int64(entry.Version))
	}
	if err != nil {
		return b.mapWriteErr(ctx, name, expected, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return b.mapWriteErr(ctx, name, expected, err)
	}
	return nil
}

// mapWriteErr traduce una clave duplicada (dos creates concurrentes: no hay
// fila en config_heads que bloquear) a VersionConflictError.
func (b *Backend) mapWriteErr(ctx context.Context, name string, expected uint64, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		var cur int64
		_ = b.pool.QueryRow(ctx, `SELECT latest_version FROM config_heads WHERE name = $1`, name).Scan(&cur)
		if uint64(cur) == expected {
			cur = int64(expected) + 1
		}
		return &store.VersionConflictError{Name: name, Expected: expected, Actual: uint64(cur)}
	}
	return store.Unavailable("pg write", err)
}

func (b *Backend) Ping(ctx context.Context) error {
	if err := b.pool.Ping(ctx); err != nil {
		return store.Unavailable("pg ping", err)
	}
	return nil
}

func (b *Backend) Close() error {
	b.pool.Close()
	return nil
}
