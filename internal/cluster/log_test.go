package cluster

import (
	"testing"

	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entries(term uint64, from, to uint64) []LogEntry {
	var out []LogEntry
	for i := from; i <= to; i++ {
		out = append(out, LogEntry{Index: i, Term: term, Type: EntryCommand, ID: "p", Command: []byte{byte(i)}})
	}
	return out
}

func TestReplicationLogAppendAndRead(t *testing.T) {
	l, err := NewReplicationLog(raft.NewInmemStore())
	require.NoError(t, err)
	assert.Equal(t, uint64(0), l.LastIndex())
	assert.Equal(t, uint64(0), l.LastTerm())

	term, err := l.Term(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), term)

	require.NoError(t, l.Append(entries(1, 1, 3)...))
	require.NoError(t, l.Append(LogEntry{Index: 4, Term: 2, Type: EntryNoop}))
	assert.Equal(t, uint64(4), l.LastIndex())
	assert.Equal(t, uint64(2), l.LastTerm())

	e, err := l.Get(2)
	require.NoError(t, err)
	assert.Equal(t, EntryCommand, e.Type)
	assert.Equal(t, "p", e.ID)
	assert.Equal(t, []byte{2}, e.Command)

	noop, err := l.Get(4)
	require.NoError(t, err)
	assert.Equal(t, EntryNoop, noop.Type)

	_, err = l.Get(5)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)

	batch, err := l.Entries(2, 2)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, uint64(2), batch[0].Index)
	assert.Equal(t, uint64(3), batch[1].Index)

	tail, err := l.Entries(5, 10)
	require.NoError(t, err)
	assert.Empty(t, tail)
}

func TestReplicationLogRejectsGapsAndRegressions(t *testing.T) {
	l, err := NewReplicationLog(raft.NewInmemStore())
	require.NoError(t, err)
	require.NoError(t, l.Append(entries(2, 1, 2)...))

	assert.Error(t, l.Append(LogEntry{Index: 4, Term: 2}))
	assert.Error(t, l.Append(LogEntry{Index: 3, Term: 1}))
	assert.Equal(t, uint64(2), l.LastIndex())
}

func TestReplicationLogTruncate(t *testing.T) {
	l, err := NewReplicationLog(raft.NewInmemStore())
	require.NoError(t, err)
	require.NoError(t, l.Append(entries(1, 1, 2)...))
	require.NoError(t, l.Append(entries(2, 3, 5)...))

	require.NoError(t, l.TruncateFrom(3))
	assert.Equal(t, uint64(2), l.LastIndex())
	assert.Equal(t, uint64(1), l.LastTerm())
	_, err = l.Get(3)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)

	require.NoError(t, l.Append(entries(3, 3, 3)...))
	assert.True(t, l.Matches(3, 3))
	assert.False(t, l.Matches(3, 2))
	assert.False(t, l.Matches(9, 3))
	assert.Error(t, l.TruncateFrom(0))
}

func TestReplicationLogUpToDateAndConflictHint(t *testing.T) {
	l, err := NewReplicationLog(raft.NewInmemStore())
	require.NoError(t, err)
	require.NoError(t, l.Append(entries(1, 1, 2)...))
	require.NoError(t, l.Append(entries(3, 3, 5)...))

	assert.True(t, l.IsUpToDate(3, 5))
	assert.True(t, l.IsUpToDate(3, 9))
	assert.True(t, l.IsUpToDate(4, 1))
	assert.False(t, l.IsUpToDate(3, 4))
	assert.False(t, l.IsUpToDate(2, 100))

	first, err := l.FirstIndexOfTerm(5)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), first)
	first, err = l.FirstIndexOfTerm(2)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), first)
}

func TestReplicationLogSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	bs, err := OpenBoltStore(dir)
	require.NoError(t, err)
	l, err := NewReplicationLog(bs)
	require.NoError(t, err)
	require.NoError(t, l.Append(LogEntry{Index: 1, Term: 4, Type: EntryCommand, ID: "abc", Command: []byte(`{"x":1}`)}))
	require.NoError(t, bs.Close())

	bs, err = OpenBoltStore(dir)
	require.NoError(t, err)
	defer bs.Close()
	l, err = NewReplicationLog(bs)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), l.LastIndex())
	assert.Equal(t, uint64(4), l.LastTerm())
	e, err := l.Get(1)
	require.NoError(t, err)
	assert.Equal(t, "abc", e.ID)
	assert.JSONEq(t, `{"x":1}`, string(e.Command))
}
