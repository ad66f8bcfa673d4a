// Package cluster implementa el motor de consenso: elección de líder,
// heartbeats, replicación del log y commit por quórum.
//
// Todo el estado de un Node (término, voto, rol, log, commitIndex) vive bajo
// un único mutex. Los handlers RPC persisten término/voto/log antes de
// responder; una falla de persistencia deja al nodo en estado failed y no
// vuelve a responder.
//
// Las entradas committed se entregan al FSM desde una goroutine aparte, en
// orden de índice, fuera del lock de consenso.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/raft"
	"go.uber.org/zap"

	"github.com/dropDatabas3/aether/internal/metrics"
	"github.com/dropDatabas3/aether/internal/observability/logger"
)

// Options configura un Node.
type Options struct {
	NodeID  string
	Members map[string]string // nodeID -> addr, incluye al nodo local

	LogStore    raft.LogStore    // BoltStore en producción
	StableStore raft.StableStore // idem
	Transport   Transport
	FSM         FSM

	// ElectionTimeoutMin/Max acotan el timeout aleatorio de cada follower.
	// HeartbeatInterval debe ser menor que ElectionTimeoutMin.
	ElectionTimeoutMin time.Duration
	ElectionTimeoutMax time.Duration
	HeartbeatInterval  time.Duration
	RPCTimeout         time.Duration
	ProposalTimeout    time.Duration
	MaxAppendEntries   int

	// ReplayOnStart ignora el lastApplied persistido. Para FSMs cuyo estado
	// no sobrevive al proceso (storage en memoria).
	ReplayOnStart bool

	// Observer recibe cada cambio de término, rol o líder. Se invoca bajo el
	// lock del nodo: no debe bloquear ni llamar al Node.
	Observer func(Event)

	Logger *zap.Logger
}

func (o *Options) setDefaults() {
	if o.ElectionTimeoutMin <= 0 {
		o.ElectionTimeoutMin = 150 * time.Millisecond
	}
	if o.ElectionTimeoutMax < o.ElectionTimeoutMin {
		o.ElectionTimeoutMax = 2 * o.ElectionTimeoutMin
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = o.ElectionTimeoutMin / 3
	}
	if o.RPCTimeout <= 0 {
		o.RPCTimeout = o.ElectionTimeoutMin
	}
	if o.ProposalTimeout <= 0 {
		o.ProposalTimeout = 5 * time.Second
	}
	if o.MaxAppendEntries <= 0 {
		o.MaxAppendEntries = 64
	}
}

func (o *Options) validate() error {
	_, self := o.Members[o.NodeID]
	switch {
	case o.NodeID == "":
		return errors.New("cluster: NodeID is required")
	case !self:
		return fmt.Errorf("cluster: members must include local node %q", o.NodeID)
	case o.LogStore == nil || o.StableStore == nil:
		return errors.New("cluster: LogStore and StableStore are required")
	case o.FSM == nil:
		return errors.New("cluster: FSM is required")
	case o.Transport == nil && len(o.Members) > 1:
		return errors.New("cluster: Transport is required for multi-node clusters")
	case o.HeartbeatInterval >= o.ElectionTimeoutMin:
		return fmt.Errorf("cluster: heartbeat %s must be shorter than election timeout %s",
			o.HeartbeatInterval, o.ElectionTimeoutMin)
	}
	return nil
}

// Node es una réplica del log. Crear con NewNode y arrancar con Start.
type Node struct {
	id      string
	members map[string]string
	peers   []string
	quorum  int
	opts    Options

	rlog  *ReplicationLog
	hs    *HardState
	trans Transport
	fsm   FSM
	log   *zap.Logger

	mu          sync.Mutex
	role        Role
	leaderID    string
	commitIndex uint64
	deadline    time.Time
	votes       map[string]bool
	nextIndex   map[string]uint64
	matchIndex  map[string]uint64
	lastContact map[string]time.Time
	triggers    map[string]chan struct{}
	futures     map[uint64]*ApplyFuture
	failed      error
	started     bool

	applyCh  chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewNode carga el estado persistido (término, voto, log, lastApplied) y
// arma el nodo como Follower. No arranca timers: ver Start.
func NewNode(opts Options) (*Node, error) {
	opts.setDefaults()
	if len(opts.Members) == 0 {
		opts.Members = map[string]string{opts.NodeID: ""}
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}

	rlog, err := NewReplicationLog(opts.LogStore)
	if err != nil {
		return nil, err
	}
	hs, err := LoadHardState(opts.StableStore)
	if err != nil {
		return nil, err
	}
	if opts.ReplayOnStart && hs.LastApplied() > 0 {
		if err := hs.ResetLastApplied(); err != nil {
			return nil, err
		}
	}
	if hs.LastApplied() > rlog.LastIndex() {
		return nil, fmt.Errorf("cluster: lastApplied %d beyond last log index %d", hs.LastApplied(), rlog.LastIndex())
	}

	members := make(map[string]string, len(opts.Members))
	peers := make([]string, 0, len(opts.Members))
	for id, addr := range opts.Members {
		members[id] = addr
		if id != opts.NodeID {
			peers = append(peers, id)
		}
	}
	sort.Strings(peers)

	l := opts.Logger
	if l == nil {
		l = logger.Named("raft")
	}
	ctx, cancel := context.WithCancel(context.Background())

	n := &Node{
		id:          opts.NodeID,
		members:     members,
		peers:       peers,
		quorum:      len(members)/2 + 1,
		opts:        opts,
		rlog:        rlog,
		hs:          hs,
		trans:       opts.Transport,
		fsm:         opts.FSM,
		log:         l.With(logger.NodeID(opts.NodeID)),
		role:        Follower,
		commitIndex: hs.LastApplied(),
		futures:     make(map[uint64]*ApplyFuture),
		applyCh:     make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
	}
	n.log.Info("node loaded",
		logger.Term(hs.Term()),
		logger.Index(rlog.LastIndex()),
		logger.Any("last_applied", hs.LastApplied()),
		logger.Count(len(members)),
	)
	return n, nil
}

// Start arranca el timer de elección y el loop de apply. Idempotente.
func (n *Node) Start() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.started || n.isStoppedLocked() {
		return
	}
	n.started = true
	n.resetDeadlineLocked()
	metrics.RaftTerm.Set(float64(n.hs.Term()))

	n.wg.Add(2)
	go n.run()
	go n.applyLoop()
}

// Stop detiene el nodo y espera a sus goroutines. Las propuestas pendientes
// fallan con ErrNodeStopped.
func (n *Node) Stop() {
	n.stopOnce.Do(func() {
		close(n.stopCh)
		n.cancel()
	})
	n.wg.Wait()

	n.mu.Lock()
	defer n.mu.Unlock()
	for idx, f := range n.futures {
		f.fail(ErrNodeStopped)
		delete(n.futures, idx)
	}
	n.triggers = nil
}

// Done se cierra cuando el nodo se detiene (Stop o falla de persistencia).
func (n *Node) Done() <-chan struct{} { return n.stopCh }

// Err retorna la falla de persistencia que detuvo al nodo, si la hubo.
func (n *Node) Err() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.failed
}

func (n *Node) ID() string { return n.id }

// Propose agrega cmd al log si el nodo es líder y retorna un future que se
// resuelve con la respuesta del FSM local. id identifica la propuesta
// (vacío = se genera uno); permite detectar que la entrada fue reemplazada.
func (n *Node) Propose(id string, cmd []byte) (*ApplyFuture, error) {
	if id == "" {
		id = uuid.NewString()
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.availableLocked(); err != nil {
		return nil, err
	}
	if n.role != Leader {
		return nil, n.notLeaderLocked()
	}

	term := n.hs.Term()
	e := LogEntry{Index: n.rlog.LastIndex() + 1, Term: term, Type: EntryCommand, ID: id, Command: cmd}
	if err := n.rlog.Append(e); err != nil {
		n.failLocked(err)
		return nil, n.failed
	}
	f := newFuture(e.Index, term, id)
	n.futures[e.Index] = f

	n.triggerAllLocked()
	n.advanceCommitLocked()
	return f, nil
}

// Apply propone cmd y espera a que se aplique, hasta ProposalTimeout.
// Un timeout no implica que la entrada se haya perdido: puede aplicarse más
// tarde, por eso el caller debe reintentar de forma idempotente.
func (n *Node) Apply(ctx context.Context, id string, cmd []byte) (any, error) {
	start := time.Now()
	f, err := n.Propose(id, cmd)
	if err != nil {
		return nil, err
	}
	wctx, cancel := context.WithTimeout(ctx, n.opts.ProposalTimeout)
	defer cancel()

	resp, err := f.Wait(wctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: index %d", ErrProposalTimeout, f.Index())
		}
		return nil, err
	}
	metrics.RaftApplyLatency.Observe(float64(time.Since(start).Milliseconds()))
	return resp, nil
}

// IsLeader indica si el nodo se cree líder de su término actual.
func (n *Node) IsLeader() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.role == Leader && n.failed == nil
}

// View retorna la vista best-effort de miembros y líder.
func (n *Node) View() ClusterView {
	n.mu.Lock()
	defer n.mu.Unlock()
	v := ClusterView{Self: n.id, LeaderID: n.leaderID, LeaderAddr: n.members[n.leaderID]}
	for id, addr := range n.members {
		v.Members = append(v.Members, Member{ID: id, Addr: addr})
	}
	sort.Slice(v.Members, func(i, j int) bool { return v.Members[i].ID < v.Members[j].ID })
	return v
}

// Status retorna una foto del estado del nodo.
func (n *Node) Status() NodeStatus {
	n.mu.Lock()
	defer n.mu.Unlock()
	st := NodeStatus{
		ID:           n.id,
		Role:         n.role,
		Term:         n.hs.Term(),
		VotedFor:     n.hs.VotedFor(),
		LeaderID:     n.leaderID,
		CommitIndex:  n.commitIndex,
		LastApplied:  n.hs.LastApplied(),
		LastLogIndex: n.rlog.LastIndex(),
		LastLogTerm:  n.rlog.LastTerm(),
	}
	if n.failed != nil {
		st.Failed = n.failed.Error()
	}
	if n.role == Leader {
		for _, p := range n.peers {
			st.Peers = append(st.Peers, PeerStatus{
				ID:          p,
				Addr:        n.members[p],
				MatchIndex:  n.matchIndex[p],
				NextIndex:   n.nextIndex[p],
				LastContact: n.lastContact[p],
			})
		}
	}
	return st
}

// ─── helpers (requieren n.mu) ───

func (n *Node) isStoppedLocked() bool {
	select {
	case <-n.stopCh:
		return true
	default:
		return false
	}
}

func (n *Node) availableLocked() error {
	if n.failed != nil {
		return n.failed
	}
	if n.isStoppedLocked() {
		return ErrNodeStopped
	}
	return nil
}

func (n *Node) notLeaderLocked() error {
	return &NotLeaderError{LeaderID: n.leaderID, LeaderAddr: n.members[n.leaderID]}
}

func (n *Node) resetDeadlineLocked() {
	d := n.opts.ElectionTimeoutMin
	if spread := n.opts.ElectionTimeoutMax - n.opts.ElectionTimeoutMin; spread > 0 {
		d += time.Duration(rand.Int63n(int64(spread)))
	}
	n.deadline = time.Now().Add(d)
}

func (n *Node) emitLocked() {
	if n.opts.Observer != nil {
		n.opts.Observer(Event{NodeID: n.id, Term: n.hs.Term(), Role: n.role, LeaderID: n.leaderID})
	}
}

// failLocked marca al nodo como failed tras un error de persistencia: deja
// de votar, de replicar y de aceptar propuestas.
func (n *Node) failLocked(err error) {
	if n.failed != nil {
		return
	}
	n.failed = fmt.Errorf("%w: %v", ErrNodeFailed, err)
	n.log.Error("persistence failure, node halted", logger.Term(n.hs.Term()), logger.Err(err))
	n.role = Follower
	n.leaderID = ""
	n.triggers = nil
	for idx, f := range n.futures {
		f.fail(n.failed)
		delete(n.futures, idx)
	}
	n.stopOnce.Do(func() {
		close(n.stopCh)
		n.cancel()
	})
	n.emitLocked()
}
