package cluster

import (
	"errors"
	"fmt"
)

var (
	// ErrNotLeader indica que la operación requiere ser líder.
	ErrNotLeader = errors.New("cluster: not leader")

	// ErrProposalTimeout indica que la propuesta no se aplicó a tiempo.
	// Puede aplicarse más tarde: el caller debe re-verificar y reintentar
	// de forma idempotente.
	ErrProposalTimeout = errors.New("cluster: proposal timeout")

	// ErrLeadershipLost indica que la entrada propuesta fue reemplazada
	// por la de otro líder.
	ErrLeadershipLost = errors.New("cluster: leadership lost before commit")

	// ErrNodeStopped indica que el nodo fue detenido.
	ErrNodeStopped = errors.New("cluster: node stopped")

	// ErrNodeFailed indica que el nodo no pudo persistir su estado y dejó
	// de participar del protocolo.
	ErrNodeFailed = errors.New("cluster: node failed")

	// ErrUnreachable indica que el peer no es alcanzable.
	ErrUnreachable = errors.New("cluster: peer unreachable")

	// ErrIndexOutOfRange indica un índice fuera del log.
	ErrIndexOutOfRange = errors.New("cluster: log index out of range")
)

// NotLeaderError lleva el líder conocido para redirigir.
type NotLeaderError struct {
	LeaderID   string
	LeaderAddr string
}

func (e *NotLeaderError) Error() string {
	if e.LeaderID == "" {
		return "cluster: not leader (leader unknown)"
	}
	return fmt.Sprintf("cluster: not leader (leader=%s addr=%s)", e.LeaderID, e.LeaderAddr)
}

// Is permite errors.Is(err, ErrNotLeader).
func (e *NotLeaderError) Is(target error) bool { return target == ErrNotLeader }

func IsNotLeader(err error) bool { return errors.Is(err, ErrNotLeader) }
