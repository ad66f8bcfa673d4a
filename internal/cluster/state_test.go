package cluster

import (
	"errors"
	"testing"

	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHardStateEmpty(t *testing.T) {
	h, err := LoadHardState(raft.NewInmemStore())
	require.NoError(t, err)
	assert.Equal(t, uint64(0), h.Term())
	assert.Equal(t, "", h.VotedFor())
	assert.Equal(t, uint64(0), h.LastApplied())
}

func TestHardStatePersists(t *testing.T) {
	dir := t.TempDir()
	bs, err := OpenBoltStore(dir)
	require.NoError(t, err)

	h, err := LoadHardState(bs)
	require.NoError(t, err)
	require.NoError(t, h.SetTermVote(3, "n2"))
	require.NoError(t, h.SetLastApplied(7))
	assert.Error(t, h.SetTermVote(2, ""), "term never goes back")
	require.NoError(t, bs.Close())

	bs, err = OpenBoltStore(dir)
	require.NoError(t, err)
	defer bs.Close()
	h, err = LoadHardState(bs)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), h.Term())
	assert.Equal(t, "n2", h.VotedFor())
	assert.Equal(t, uint64(7), h.LastApplied())

	require.NoError(t, h.ResetLastApplied())
	assert.Equal(t, uint64(0), h.LastApplied())
}

// brokenStable falla cada lectura con un error que solo se parece a "key ausente".
type brokenStable struct{ raft.StableStore }

func (brokenStable) Get([]byte) ([]byte, error)       { return nil, errors.New("not found") }
func (brokenStable) GetUint64([]byte) (uint64, error) { return 0, errors.New("not found") }

func TestHardStateKeyMissing(t *testing.T) {
	bs, err := OpenBoltStore(t.TempDir())
	require.NoError(t, err)
	defer bs.Close()

	h, err := LoadHardState(bs)
	require.NoError(t, err, "empty bolt store starts at zero")
	assert.Equal(t, uint64(0), h.Term())

	_, err = LoadHardState(brokenStable{})
	assert.Error(t, err, "only the store's own missing-key error is tolerated")
}
