package cluster

import (
	"context"
	"fmt"
	"time"
)

// Role es el rol de un nodo dentro de su término actual.
type Role uint8

const (
	Follower Role = iota
	Candidate
	Leader
)

func (r Role) String() string {
	switch r {
	case Follower:
		return "follower"
	case Candidate:
		return "candidate"
	case Leader:
		return "leader"
	default:
		return "unknown"
	}
}

// MarshalText permite serializar Role como string en JSON.
func (r Role) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

// EntryType distingue comandos del state machine de entradas internas.
type EntryType uint8

const (
	// EntryCommand lleva un comando opaco para el FSM.
	EntryCommand EntryType = iota
	// EntryNoop la agrega cada líder al asumir; nunca llega al FSM.
	EntryNoop
)

// LogEntry es una entrada inmutable del log replicado. Index es 1-based y
// contiguo. El estado "committed" no se guarda: es Index <= commitIndex.
type LogEntry struct {
	Index   uint64    `json:"index"`
	Term    uint64    `json:"term"`
	Type    EntryType `json:"type"`
	ID      string    `json:"id,omitempty"` // id de la propuesta que la originó
	Command []byte    `json:"command,omitempty"`
}

// FSM es el state machine replicado. Apply se invoca una vez por entrada
// EntryCommand committed, en orden de índice, desde una única goroutine.
//
// Un error no nil es transitorio: el nodo reintenta la misma entrada con
// backoff y no avanza lastApplied. Un rechazo determinístico (ej: conflicto
// de versión) se devuelve como valor de respuesta, no como error.
type FSM interface {
	Apply(ctx context.Context, e *LogEntry) (any, error)
}

// FSMFunc adapta una función a FSM.
type FSMFunc func(ctx context.Context, e *LogEntry) (any, error)

func (f FSMFunc) Apply(ctx context.Context, e *LogEntry) (any, error) { return f(ctx, e) }

// ─── RPC ───

type RequestVoteRequest struct {
	Term         uint64 `json:"term"`
	CandidateID  string `json:"candidateId"`
	LastLogIndex uint64 `json:"lastLogIndex"`
	LastLogTerm  uint64 `json:"lastLogTerm"`
}

type RequestVoteResponse struct {
	Term        uint64 `json:"term"`
	VoteGranted bool   `json:"voteGranted"`
}

type AppendEntriesRequest struct {
	Term         uint64     `json:"term"`
	LeaderID     string     `json:"leaderId"`
	PrevLogIndex uint64     `json:"prevLogIndex"`
	PrevLogTerm  uint64     `json:"prevLogTerm"`
	Entries      []LogEntry `json:"entries,omitempty"`
	LeaderCommit uint64     `json:"leaderCommit"`
}

type AppendEntriesResponse struct {
	Term    uint64 `json:"term"`
	Success bool   `json:"success"`
	// MatchIndex es el último índice que el follower sabe idéntico al del líder.
	MatchIndex uint64 `json:"matchIndex"`
	// ConflictIndex (solo en rechazos) sugiere desde dónde reintentar.
	ConflictIndex uint64 `json:"conflictIndex,omitempty"`
}

// ─── Vistas ───

// Member es un nodo del cluster.
type Member struct {
	ID   string `json:"id"`
	Addr string `json:"addr"`
}

// ClusterView es la vista best-effort del cluster. LeaderID es un hint,
// nunca autoritativo.
type ClusterView struct {
	Self       string   `json:"self"`
	Members    []Member `json:"members"`
	LeaderID   string   `json:"leaderId,omitempty"`
	LeaderAddr string   `json:"leaderAddr,omitempty"`
}

// PeerStatus es el progreso de replicación de un peer visto por el líder.
type PeerStatus struct {
	ID          string    `json:"id"`
	Addr        string    `json:"addr"`
	MatchIndex  uint64    `json:"matchIndex"`
	NextIndex   uint64    `json:"nextIndex"`
	LastContact time.Time `json:"lastContact,omitempty"`
}

// NodeStatus es una foto del estado del nodo.
type NodeStatus struct {
	ID           string       `json:"id"`
	Role         Role         `json:"role"`
	Term         uint64       `json:"term"`
	VotedFor     string       `json:"votedFor,omitempty"`
	LeaderID     string       `json:"leaderId,omitempty"`
	CommitIndex  uint64       `json:"commitIndex"`
	LastApplied  uint64       `json:"lastApplied"`
	LastLogIndex uint64       `json:"lastLogIndex"`
	LastLogTerm  uint64       `json:"lastLogTerm"`
	Peers        []PeerStatus `json:"peers,omitempty"` // solo en el líder
	Failed       string       `json:"failed,omitempty"`
}

// Event se emite en cada cambio de término, rol o líder conocido.
type Event struct {
	NodeID   string
	Term     uint64
	Role     Role
	LeaderID string
}

// UnmarshalText es la inversa de MarshalText.
func (r *Role) UnmarshalText(b []byte) error {
	switch string(b) {
	case "follower":
		*r = Follower
	case "candidate":
		*r = Candidate
	case "leader":
		*r = Leader
	default:
		return fmt.Errorf("cluster: unknown role %q", b)
	}
	return nil
}
