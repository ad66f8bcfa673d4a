// Package storetest contiene la batería de conformidad que todo
// store.Backend debe pasar. Cada adapter la invoca desde su _test.go.
package storetest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/aether/internal/store"
)

// Factory crea un backend vacío y aislado para un subtest.
type Factory func(t *testing.T) store.Backend

// Entry arma una ConfigEntry válida para tests.
func Entry(name string, version uint64, payload string) *store.ConfigEntry {
	return &store.ConfigEntry{
		Name:       name,
		Version:    version,
		SchemaID:   "test",
		Payload:    json.RawMessage(payload),
		Checksum:   fmt.Sprintf("sum-%d", version),
		CreatedAt:  time.Unix(1700000000+int64(version), 0).UTC(),
		Author:     "tester",
		ProposalID: fmt.Sprintf("p-%s-%d", name, version),
	}
}

// Run ejecuta la batería completa.
func Run(t *testing.T, newBackend Factory) {
	t.Run("GetMissing", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		_, err := b.GetLatest(ctx, "nope")
		assert.ErrorIs(t, err, store.ErrNotFound)
		_, err = b.Get(ctx, "nope", 1)
		assert.ErrorIs(t, err, store.ErrNotFound)
		vs, err := b.ListVersions(ctx, "nope")
		require.NoError(t, err)
		assert.Empty(t, vs)
	})

	t.Run("CreateAndAdvance", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		require.NoError(t, b.CompareAndSetLatest(ctx, "db.timeout", 0, Entry("db.timeout", 1, `{"ms":100}`)))
		require.NoError(t, b.CompareAndSetLatest(ctx, "db.timeout", 1, Entry("db.timeout", 2, `{"ms":200}`)))

		latest, err := b.GetLatest(ctx, "db.timeout")
		require.NoError(t, err)
		assert.Equal(t, uint64(2), latest.Version)
		assert.JSONEq(t, `{"ms":200}`, string(latest.Payload))
		assert.Equal(t, "p-db.timeout-2", latest.ProposalID)

		v1, err := b.Get(ctx, "db.timeout", 1)
		require.NoError(t, err)
		assert.JSONEq(t, `{"ms":100}`, string(v1.Payload))
		assert.True(t, v1.CreatedAt.Equal(Entry("x", 1, "{}").CreatedAt))

		_, err = b.Get(ctx, "db.timeout", 3)
		assert.ErrorIs(t, err, store.ErrNotFound)

		vs, err := b.ListVersions(ctx, "db.timeout")
		require.NoError(t, err)
		require.Len(t, vs, 2)
		assert.Equal(t, uint64(1), vs[0].Version)
		assert.Equal(t, uint64(2), vs[1].Version)
		assert.Equal(t, "tester", vs[1].Author)
	})

	t.Run("ConflictOnStaleExpected", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		require.NoError(t, b.CompareAndSetLatest(ctx, "x", 0, Entry("x", 1, `{}`)))

		err := b.CompareAndSetLatest(ctx, "x", 0, Entry("x", 1, `{"again":true}`))
		require.ErrorIs(t, err, store.ErrVersionConflict)
		var vc *store.VersionConflictError
		require.ErrorAs(t, err, &vc)
		assert.Equal(t, uint64(0), vc.Expected)
		assert.Equal(t, uint64(1), vc.Actual)

		latest, err := b.GetLatest(ctx, "x")
		require.NoError(t, err)
		assert.JSONEq(t, `{}`, string(latest.Payload))
	})

	t.Run("PayloadBytesMatchChecksum", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		payload := `{"url":"https://x/?a=1&b=2","tpl":"<p>hola</p>"}`
		e := Entry("svc.url", 1, payload)
		e.Checksum = store.Checksum([]byte(payload))
		require.NoError(t, b.CompareAndSetLatest(ctx, "svc.url", 0, e))

		// dos lecturas: la segunda puede venir de un cache
		for i := 0; i < 2; i++ {
			latest, err := b.GetLatest(ctx, "svc.url")
			require.NoError(t, err)
			assert.Equal(t, payload, string(latest.Payload))
			assert.Equal(t, latest.Checksum, store.Checksum(latest.Payload))

			v1, err := b.Get(ctx, "svc.url", 1)
			require.NoError(t, err)
			assert.Equal(t, v1.Checksum, store.Checksum(v1.Payload))
		}
	})

	t.Run("RejectsGap", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		err := b.CompareAndSetLatest(ctx, "x", 0, Entry("x", 2, `{}`))
		assert.ErrorIs(t, err, store.ErrInvalidEntry)
	})

	t.Run("ConcurrentCASSingleWinner", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		require.NoError(t, b.CompareAndSetLatest(ctx, "race", 0, Entry("race", 1, `{}`)))

		const n = 8
		var wg sync.WaitGroup
		errs := make([]error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs[i] = b.CompareAndSetLatest(ctx, "race", 1, Entry("race", 2, fmt.Sprintf(`{"w":%d}`, i)))
			}(i)
		}
		wg.Wait()

		wins := 0
		for _, err := range errs {
			if err == nil {
				wins++
				continue
			}
			assert.ErrorIs(t, err, store.ErrVersionConflict)
		}
		assert.Equal(t, 1, wins)

		vs, err := b.ListVersions(ctx, "race")
		require.NoError(t, err)
		assert.Len(t, vs, 2)
	})

	t.Run("ReturnedEntriesAreCopies", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		e := Entry("c", 1, `{"a":1}`)
		require.NoError(t, b.CompareAndSetLatest(ctx, "c", 0, e))
		e.Payload[2] = 'Z'

		got, err := b.GetLatest(ctx, "c")
		require.NoError(t, err)
		assert.JSONEq(t, `{"a":1}`, string(got.Payload))
	})
}
