package cluster

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestNewNodeValidation(t *testing.T) {
	s := raft.NewInmemStore()
	fsm := &recordingFSM{}

	_, err := NewNode(Options{LogStore: s, StableStore: s, FSM: fsm})
	assert.Error(t, err, "node id required")

	_, err = NewNode(Options{NodeID: "n1", Members: map[string]string{"n2": "x"}, LogStore: s, StableStore: s, FSM: fsm})
	assert.Error(t, err, "members must include self")

	_, err = NewNode(Options{NodeID: "n1", Members: map[string]string{"n1": "a", "n2": "b"}, LogStore: s, StableStore: s, FSM: fsm})
	assert.Error(t, err, "transport required with peers")

	_, err = NewNode(Options{
		NodeID: "n1", LogStore: s, StableStore: s, FSM: fsm,
		ElectionTimeoutMin: 10 * time.Millisecond, HeartbeatInterval: 20 * time.Millisecond,
	})
	assert.Error(t, err, "heartbeat must be shorter than election timeout")
}

func TestSingleNodeProposeApply(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	c := newTestCluster(t, 1, nil)
	defer c.shutdown()

	leader := c.waitLeader()
	resp, err := c.apply(leader, "a")
	require.NoError(t, err)
	assert.Equal(t, "ok:a", resp)

	st := c.nodes[leader].Status()
	assert.Equal(t, Leader, st.Role)
	assert.Equal(t, st.LastLogIndex, st.CommitIndex)
	assert.Equal(t, st.CommitIndex, st.LastApplied)
	c.waitApplied([]string{"a"})
}

func TestElectionSafetyAndTermMonotonicity(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	c := newTestCluster(t, 5, nil)
	defer c.shutdown()

	// provocar varias elecciones aislando al líder de turno
	for i := 0; i < 3; i++ {
		leader := c.waitLeader()
		c.net.Isolate(leader)
		c.waitLeader(c.followers(leader)...)
		c.net.Heal()
	}
	c.waitLeader()
	c.obs.check(t)
}

func TestReplicatesInOrderToAllNodes(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	c := newTestCluster(t, 3, nil)
	defer c.shutdown()

	leader := c.waitLeader()
	var want []string
	for i := 1; i <= 20; i++ {
		cmd := fmt.Sprintf("c%02d", i)
		want = append(want, cmd)
		_, err := c.apply(leader, cmd)
		require.NoError(t, err)
	}
	c.waitApplied(want)

	require.Eventually(t, func() bool {
		ls := c.nodes[leader].Status()
		for _, id := range c.ids {
			st := c.nodes[id].Status()
			if st.CommitIndex != ls.CommitIndex || st.LastLogIndex != ls.LastLogIndex {
				return false
			}
		}
		return true
	}, 2*time.Second, 5*time.Millisecond)
}

func TestConcurrentProposals(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	c := newTestCluster(t, 3, nil)
	defer c.shutdown()
	leader := c.waitLeader()

	const n = 30
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			_, err := c.nodes[leader].Apply(context.Background(), "", []byte(fmt.Sprintf("p%d", i)))
			errs <- err
		}(i)
	}
	for i := 0; i < n; i++ {
		require.NoError(t, <-errs)
	}
	// todos los nodos aplican la misma secuencia
	require.Eventually(t, func() bool { return len(c.fsms["n1"].commands()) == n }, 2*time.Second, 5*time.Millisecond)
	c.waitApplied(c.fsms["n1"].commands())
}

func TestFollowerReturnsNotLeader(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	c := newTestCluster(t, 3, nil)
	defer c.shutdown()

	leader := c.waitLeader()
	follower := c.followers(leader)[0]
	require.Eventually(t, func() bool { return c.nodes[follower].View().LeaderID == leader }, time.Second, 5*time.Millisecond)

	_, err := c.apply(follower, "x")
	require.ErrorIs(t, err, ErrNotLeader)
	var nle *NotLeaderError
	require.ErrorAs(t, err, &nle)
	assert.Equal(t, leader, nle.LeaderID)
	assert.Equal(t, c.members[leader], nle.LeaderAddr)
}

func TestMinorityLeaderTimesOutWithoutSteppingDown(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	c := newTestCluster(t, 3, func(o *Options) { o.ProposalTimeout = 200 * time.Millisecond })
	defer c.shutdown()

	leader := c.waitLeader()
	c.net.Isolate(leader)

	_, err := c.apply(leader, "lost")
	require.ErrorIs(t, err, ErrProposalTimeout)
	assert.True(t, c.nodes[leader].IsLeader(), "a partitioned leader does not self-demote")
}

// Líder aislado tras commitear 5 versiones; la mayoría elige otro líder y
// commitea la 6; al sanar, el viejo líder descarta su sufijo especulativo.
func TestPartitionedLeaderRollsBackSpeculativeEntries(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	c := newTestCluster(t, 3, nil)
	defer c.shutdown()

	old := c.waitLeader()
	var want []string
	for i := 1; i <= 5; i++ {
		cmd := fmt.Sprintf("db.timeout=v%d", i)
		want = append(want, cmd)
		_, err := c.apply(old, cmd)
		require.NoError(t, err)
	}
	c.waitApplied(want)

	c.net.Isolate(old)
	speculative, err := c.nodes[old].Propose("", []byte("db.timeout=spec"))
	require.NoError(t, err)

	majority := c.followers(old)
	newLeader := c.waitLeader(majority...)
	_, err = c.apply(newLeader, "db.timeout=v6")
	require.NoError(t, err)
	want = append(want, "db.timeout=v6")
	c.waitApplied(want, majority...)

	c.net.Heal()
	c.waitApplied(want)

	_, err = speculative.Wait(context.Background())
	assert.ErrorIs(t, err, ErrLeadershipLost)
	assert.False(t, c.nodes[old].IsLeader())

	ls := c.nodes[newLeader].Status()
	os := c.nodes[old].Status()
	assert.Equal(t, ls.LastLogIndex, os.LastLogIndex)
	assert.Equal(t, ls.LastLogTerm, os.LastLogTerm)
}

func TestLeaderCompletenessAfterLeaderCrash(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	c := newTestCluster(t, 3, nil)
	defer c.shutdown()

	old := c.waitLeader()
	for i := 1; i <= 5; i++ {
		_, err := c.apply(old, fmt.Sprintf("k%d", i))
		require.NoError(t, err)
	}
	ol := c.nodes[old]
	ol.mu.Lock()
	var before []LogEntry
	for i := uint64(1); i <= ol.commitIndex; i++ {
		e, err := ol.rlog.Get(i)
		require.NoError(t, err)
		before = append(before, e)
	}
	ol.mu.Unlock()

	// crash a mitad de replicación: una propuesta más que puede no llegar
	_, _ = c.nodes[old].Propose("", []byte("in-flight"))
	c.stop(old)

	newLeader := c.waitLeader(c.followers(old)...)
	nl := c.nodes[newLeader]
	nl.mu.Lock()
	defer nl.mu.Unlock()
	for _, e := range before {
		got, err := nl.rlog.Get(e.Index)
		require.NoError(t, err)
		assert.Equal(t, e.Term, got.Term, "index %d", e.Index)
		assert.Equal(t, e.ID, got.ID, "index %d", e.Index)
	}
}

func TestRestartKeepsTermLogAndDoesNotReapply(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	c := newTestCluster(t, 3, nil)
	defer c.shutdown()

	leader := c.waitLeader()
	for _, cmd := range []string{"a", "b", "c"} {
		_, err := c.apply(leader, cmd)
		require.NoError(t, err)
	}
	c.waitApplied([]string{"a", "b", "c"})

	terms := map[string]uint64{}
	for _, id := range c.ids {
		terms[id] = c.nodes[id].Status().Term
		c.stop(id)
		c.fsms[id] = &recordingFSM{} // FSM durable: no debe volver a recibir a, b, c
	}
	for _, id := range c.ids {
		c.start(id)
		assert.GreaterOrEqual(t, c.nodes[id].Status().Term, terms[id])
	}

	leader = c.waitLeader()
	_, err := c.apply(leader, "d")
	require.NoError(t, err)
	c.waitApplied([]string{"d"})
}

func TestReplayOnStartRebuildsVolatileFSM(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	c := newTestCluster(t, 1, func(o *Options) { o.ReplayOnStart = true })
	defer c.shutdown()

	leader := c.waitLeader()
	for _, cmd := range []string{"a", "b"} {
		_, err := c.apply(leader, cmd)
		require.NoError(t, err)
	}
	c.stop(leader)
	c.fsms[leader] = &recordingFSM{}
	c.start(leader)

	c.waitLeader()
	c.waitApplied([]string{"a", "b"})
}

func TestTransientApplyErrorsAreRetried(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	c := newTestCluster(t, 1, nil)
	defer c.shutdown()
	leader := c.waitLeader()

	c.fsms[leader].mu.Lock()
	c.fsms[leader].failures = 2
	c.fsms[leader].mu.Unlock()

	resp, err := c.apply(leader, "x")
	require.NoError(t, err)
	assert.Equal(t, "ok:x", resp)
	c.waitApplied([]string{"x"})
}

// failingStable simula un disco que deja de aceptar escrituras.
type failingStable struct {
	raft.StableStore
	broken atomic.Bool
}

func (f *failingStable) Set(k, v []byte) error {
	if f.broken.Load() {
		return errors.New("disk full")
	}
	return f.StableStore.Set(k, v)
}

func (f *failingStable) SetUint64(k []byte, v uint64) error {
	if f.broken.Load() {
		return errors.New("disk full")
	}
	return f.StableStore.SetUint64(k, v)
}

func TestPersistenceFailureHaltsNode(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	store := raft.NewInmemStore()
	stable := &failingStable{StableStore: store}
	n, err := NewNode(Options{
		NodeID:             "solo",
		LogStore:           store,
		StableStore:        stable,
		FSM:                &recordingFSM{},
		ElectionTimeoutMin: 30 * time.Millisecond,
		ElectionTimeoutMax: 60 * time.Millisecond,
		HeartbeatInterval:  5 * time.Millisecond,
		Logger:             zap.NewNop(),
	})
	require.NoError(t, err)
	n.Start()
	defer n.Stop()

	require.Eventually(t, n.IsLeader, 2*time.Second, 5*time.Millisecond)
	stable.broken.Store(true)

	_, err = n.Apply(context.Background(), "", []byte("x"))
	require.ErrorIs(t, err, ErrNodeFailed)

	select {
	case <-n.Done():
	case <-time.After(time.Second):
		t.Fatal("node did not halt")
	}
	assert.False(t, n.IsLeader())
	assert.ErrorIs(t, n.Err(), ErrNodeFailed)

	_, err = n.Propose("", []byte("y"))
	assert.ErrorIs(t, err, ErrNodeFailed)
	_, err = n.HandleRequestVote(context.Background(), &RequestVoteRequest{Term: 99, CandidateID: "x"})
	assert.ErrorIs(t, err, ErrNodeFailed)
}

func TestVoteRules(t *testing.T) {
	store := raft.NewInmemStore()
	n, err := NewNode(Options{
		NodeID:      "n1",
		Members:     map[string]string{"n1": "a", "n2": "b", "n3": "c"},
		LogStore:    store,
		StableStore: store,
		Transport:   NewInmemNetwork().Transport("n1"),
		FSM:         &recordingFSM{},
		Logger:      zap.NewNop(),
	})
	require.NoError(t, err)
	require.NoError(t, n.rlog.Append(LogEntry{Index: 1, Term: 2}, LogEntry{Index: 2, Term: 2}))
	ctx := context.Background()

	// candidato con log atrasado: no
	resp, err := n.HandleRequestVote(ctx, &RequestVoteRequest{Term: 3, CandidateID: "n2", LastLogIndex: 5, LastLogTerm: 1})
	require.NoError(t, err)
	assert.False(t, resp.VoteGranted)
	assert.Equal(t, uint64(3), resp.Term, "higher term is adopted even when refusing")

	// log al día: sí
	resp, err = n.HandleRequestVote(ctx, &RequestVoteRequest{Term: 3, CandidateID: "n2", LastLogIndex: 2, LastLogTerm: 2})
	require.NoError(t, err)
	assert.True(t, resp.VoteGranted)

	// mismo término, otro candidato: no
	resp, err = n.HandleRequestVote(ctx, &RequestVoteRequest{Term: 3, CandidateID: "n3", LastLogIndex: 9, LastLogTerm: 9})
	require.NoError(t, err)
	assert.False(t, resp.VoteGranted)

	// repetir al mismo candidato: sí (idempotente)
	resp, err = n.HandleRequestVote(ctx, &RequestVoteRequest{Term: 3, CandidateID: "n2", LastLogIndex: 2, LastLogTerm: 2})
	require.NoError(t, err)
	assert.True(t, resp.VoteGranted)

	// término viejo: no
	resp, err = n.HandleRequestVote(ctx, &RequestVoteRequest{Term: 2, CandidateID: "n3", LastLogIndex: 9, LastLogTerm: 9})
	require.NoError(t, err)
	assert.False(t, resp.VoteGranted)

	// el voto quedó persistido
	h, err := LoadHardState(store)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), h.Term())
	assert.Equal(t, "n2", h.VotedFor())
}

func TestAppendEntriesConsistencyCheck(t *testing.T) {
	store := raft.NewInmemStore()
	n, err := NewNode(Options{NodeID: "f", LogStore: store, StableStore: store, FSM: &recordingFSM{}, Logger: zap.NewNop()})
	require.NoError(t, err)
	ctx := context.Background()

	// prev inexistente: rechazo con hint = lastIndex+1
	resp, err := n.HandleAppendEntries(ctx, &AppendEntriesRequest{Term: 1, LeaderID: "L", PrevLogIndex: 3, PrevLogTerm: 1})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, uint64(1), resp.ConflictIndex)

	resp, err = n.HandleAppendEntries(ctx, &AppendEntriesRequest{
		Term: 1, LeaderID: "L", Entries: entries(1, 1, 3), LeaderCommit: 2,
	})
	require.NoError(t, err)
	require.True(t, resp.Success)
	assert.Equal(t, uint64(3), resp.MatchIndex)
	assert.Equal(t, uint64(2), n.Status().CommitIndex)

	// un nuevo líder de término 2 reemplaza el sufijo no committed [3]
	resp, err = n.HandleAppendEntries(ctx, &AppendEntriesRequest{
		Term: 2, LeaderID: "L2", PrevLogIndex: 2, PrevLogTerm: 1,
		Entries: entries(2, 3, 4), LeaderCommit: 10,
	})
	require.NoError(t, err)
	require.True(t, resp.Success)
	st := n.Status()
	assert.Equal(t, uint64(4), st.LastLogIndex)
	assert.Equal(t, uint64(2), st.LastLogTerm)
	assert.Equal(t, uint64(4), st.CommitIndex, "commit = min(leaderCommit, last new index)")
	assert.Equal(t, "L2", st.LeaderID)

	// término viejo: rechazo sin tocar nada
	resp, err = n.HandleAppendEntries(ctx, &AppendEntriesRequest{Term: 1, LeaderID: "L", PrevLogIndex: 4, PrevLogTerm: 2})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, uint64(2), resp.Term)

	// prev con término distinto: hint al inicio de ese término
	resp, err = n.HandleAppendEntries(ctx, &AppendEntriesRequest{Term: 3, LeaderID: "L3", PrevLogIndex: 4, PrevLogTerm: 3})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, uint64(3), resp.ConflictIndex)

	// heartbeat repetido (entradas ya presentes) no trunca
	resp, err = n.HandleAppendEntries(ctx, &AppendEntriesRequest{
		Term: 3, LeaderID: "L3", PrevLogIndex: 2, PrevLogTerm: 1, Entries: entries(2, 3, 3),
	})
	require.NoError(t, err)
	require.True(t, resp.Success)
	assert.Equal(t, uint64(4), n.Status().LastLogIndex)
}
