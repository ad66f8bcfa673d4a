package cluster

import (
	"errors"
	"fmt"

	"github.com/hashicorp/raft"
)

// ReplicationLog es el log append-only del nodo sobre un raft.LogStore
// (BoltDB en producción, raft.InmemStore en tests). El índice 0 es un
// centinela virtual con término 0.
//
// No es thread-safe: lo usa solo el Node, bajo su mutex.
type ReplicationLog struct {
	store     raft.LogStore
	lastIndex uint64
	lastTerm  uint64
}

// NewReplicationLog abre el log y carga el último índice/término persistidos.
func NewReplicationLog(s raft.LogStore) (*ReplicationLog, error) {
	l := &ReplicationLog{store: s}
	last, err := s.LastIndex()
	if err != nil {
		return nil, fmt.Errorf("log: last index: %w", err)
	}
	if last > 0 {
		var rl raft.Log
		if err := s.GetLog(last, &rl); err != nil {
			return nil, fmt.Errorf("log: read %d: %w", last, err)
		}
		l.lastIndex, l.lastTerm = rl.Index, rl.Term
	}
	return l, nil
}

func (l *ReplicationLog) LastIndex() uint64 { return l.lastIndex }
func (l *ReplicationLog) LastTerm() uint64  { return l.lastTerm }

// Term retorna el término de la entrada i (0 para i == 0).
func (l *ReplicationLog) Term(i uint64) (uint64, error) {
	if i == 0 {
		return 0, nil
	}
	if i == l.lastIndex {
		return l.lastTerm, nil
	}
	e, err := l.Get(i)
	if err != nil {
		return 0, err
	}
	return e.Term, nil
}

// Get lee la entrada i.
func (l *ReplicationLog) Get(i uint64) (LogEntry, error) {
	if i == 0 || i > l.lastIndex {
		return LogEntry{}, ErrIndexOutOfRange
	}
	var rl raft.Log
	if err := l.store.GetLog(i, &rl); err != nil {
		if errors.Is(err, raft.ErrLogNotFound) {
			return LogEntry{}, ErrIndexOutOfRange
		}
		return LogEntry{}, fmt.Errorf("log: read %d: %w", i, err)
	}
	return fromRaftLog(&rl), nil
}

// Entries retorna hasta max entradas desde from (inclusive).
func (l *ReplicationLog) Entries(from uint64, max int) ([]LogEntry, error) {
	if from == 0 || from > l.lastIndex || max <= 0 {
		return nil, nil
	}
	to := l.lastIndex
	if n := uint64(max); to-from+1 > n {
		to = from + n - 1
	}
	out := make([]LogEntry, 0, to-from+1)
	for i := from; i <= to; i++ {
		e, err := l.Get(i)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// Append persiste entradas contiguas a continuación de la última.
func (l *ReplicationLog) Append(entries ...LogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	logs := make([]*raft.Log, len(entries))
	prevIdx, prevTerm := l.lastIndex, l.lastTerm
	for i := range entries {
		e := &entries[i]
		if e.Index != prevIdx+1 {
			return fmt.Errorf("log: non-contiguous append: index %d after %d", e.Index, prevIdx)
		}
		if e.Term < prevTerm {
			return fmt.Errorf("log: term regression at %d: %d < %d", e.Index, e.Term, prevTerm)
		}
		logs[i] = toRaftLog(e)
		prevIdx, prevTerm = e.Index, e.Term
	}
	if err := l.store.StoreLogs(logs); err != nil {
		return fmt.Errorf("log: store: %w", err)
	}
	l.lastIndex, l.lastTerm = prevIdx, prevTerm
	return nil
}

// TruncateFrom borra las entradas [i, lastIndex].
func (l *ReplicationLog) TruncateFrom(i uint64) error {
	if i == 0 {
		return fmt.Errorf("log: cannot truncate sentinel")
	}
	if i > l.lastIndex {
		return nil
	}
	newLastTerm, err := l.Term(i - 1)
	if err != nil {
		return err
	}
	if err := l.store.DeleteRange(i, l.lastIndex); err != nil {
		return fmt.Errorf("log: delete [%d,%d]: %w", i, l.lastIndex, err)
	}
	l.lastIndex, l.lastTerm = i-1, newLastTerm
	return nil
}

// Matches indica si el log tiene una entrada en index con ese término.
func (l *ReplicationLog) Matches(index, term uint64) bool {
	if index > l.lastIndex {
		return false
	}
	t, err := l.Term(index)
	return err == nil && t == term
}

// FirstIndexOfTerm retorna el primer índice del tramo de términos iguales
// que contiene a i. Se usa como hint de conflicto.
func (l *ReplicationLog) FirstIndexOfTerm(i uint64) (uint64, error) {
	term, err := l.Term(i)
	if err != nil {
		return 0, err
	}
	for i > 1 {
		t, err := l.Term(i - 1)
		if err != nil {
			return 0, err
		}
		if t != term {
			break
		}
		i--
	}
	return i, nil
}

// IsUpToDate compara (lastTerm, lastIndex) de un candidato contra el log
// local de forma lexicográfica.
func (l *ReplicationLog) IsUpToDate(lastTerm, lastIndex uint64) bool {
	if lastTerm != l.lastTerm {
		return lastTerm > l.lastTerm
	}
	return lastIndex >= l.lastIndex
}

func toRaftLog(e *LogEntry) *raft.Log {
	t := raft.LogCommand
	if e.Type == EntryNoop {
		t = raft.LogNoop
	}
	return &raft.Log{
		Index:      e.Index,
		Term:       e.Term,
		Type:       t,
		Data:       e.Command,
		Extensions: []byte(e.ID),
	}
}

func fromRaftLog(rl *raft.Log) LogEntry {
	t := EntryCommand
	if rl.Type == raft.LogNoop {
		t = EntryNoop
	}
	return LogEntry{
		Index:   rl.Index,
		Term:    rl.Term,
		Type:    t,
		ID:      string(rl.Extensions),
		Command: rl.Data,
	}
}
