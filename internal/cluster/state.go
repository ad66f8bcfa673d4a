package cluster

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
)

var (
	keyHardState = []byte("aether/hardstate")
	keyLastApply = []byte("aether/lastApplied")
)

// inmemKeyMissing es el texto de raft.InmemStore.Get para una key ausente;
// el error no está exportado.
const inmemKeyMissing = "not found"

// isKeyMissing reporta si err es el "key ausente" de un StableStore.
func isKeyMissing(s raft.StableStore, err error) bool {
	if errors.Is(err, raftboltdb.ErrKeyNotFound) {
		return true
	}
	_, inmem := s.(*raft.InmemStore)
	return inmem && err.Error() == inmemKeyMissing
}

// HardState persiste currentTerm + votedFor (en una sola key, para que un
// crash nunca deje un voto asociado al término equivocado) y lastApplied.
//
// Cada setter vuelve cuando el StableStore confirmó la escritura; el Node
// no responde ningún RPC antes de eso.
type HardState struct {
	store       raft.StableStore
	term        uint64
	votedFor    string
	lastApplied uint64
}

type hardStateRecord struct {
	Term     uint64 `json:"term"`
	VotedFor string `json:"votedFor,omitempty"`
}

// LoadHardState lee el estado persistido; un store vacío arranca en cero.
func LoadHardState(s raft.StableStore) (*HardState, error) {
	h := &HardState{store: s}

	raw, err := s.Get(keyHardState)
	switch {
	case err != nil && !isKeyMissing(s, err):
		return nil, fmt.Errorf("state: read term/vote: %w", err)
	case err == nil && len(raw) > 0:
		var rec hardStateRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("state: decode term/vote: %w", err)
		}
		h.term, h.votedFor = rec.Term, rec.VotedFor
	}

	la, err := s.GetUint64(keyLastApply)
	if err != nil && !isKeyMissing(s, err) {
		return nil, fmt.Errorf("state: read lastApplied: %w", err)
	}
	h.lastApplied = la
	return h, nil
}

func (h *HardState) Term() uint64        { return h.term }
func (h *HardState) VotedFor() string    { return h.votedFor }
func (h *HardState) LastApplied() uint64 { return h.lastApplied }

// SetTermVote persiste término y voto de forma atómica.
func (h *HardState) SetTermVote(term uint64, votedFor string) error {
	if term < h.term {
		return fmt.Errorf("state: term regression %d -> %d", h.term, term)
	}
	raw, err := json.Marshal(hardStateRecord{Term: term, VotedFor: votedFor})
	if err != nil {
		return fmt.Errorf("state: encode term/vote: %w", err)
	}
	if err := h.store.Set(keyHardState, raw); err != nil {
		return fmt.Errorf("state: write term/vote: %w", err)
	}
	h.term, h.votedFor = term, votedFor
	return nil
}

// SetLastApplied persiste el último índice aplicado al FSM.
func (h *HardState) SetLastApplied(i uint64) error {
	if err := h.store.SetUint64(keyLastApply, i); err != nil {
		return fmt.Errorf("state: write lastApplied: %w", err)
	}
	h.lastApplied = i
	return nil
}

// ResetLastApplied fuerza lastApplied a 0 (FSM volátil que se reconstruye
// desde el log al arrancar).
func (h *HardState) ResetLastApplied() error { return h.SetLastApplied(0) }
