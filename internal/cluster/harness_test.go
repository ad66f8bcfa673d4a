package cluster

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// recordingFSM guarda los comandos aplicados, en orden.
type recordingFSM struct {
	mu       sync.Mutex
	applied  []LogEntry
	failures int // próximas N llamadas fallan (transitorio)
}

func (f *recordingFSM) Apply(_ context.Context, e *LogEntry) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return nil, fmt.Errorf("storage unavailable")
	}
	f.applied = append(f.applied, *e)
	return "ok:" + string(e.Command), nil
}

func (f *recordingFSM) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.applied))
	for i, e := range f.applied {
		out[i] = string(e.Command)
	}
	return out
}

// safetyObserver verifica en línea que haya a lo sumo un líder por término
// y que el término de cada nodo nunca retroceda.
type safetyObserver struct {
	mu         sync.Mutex
	leaders    map[uint64]string
	terms      map[string]uint64
	violations []string
}

func newSafetyObserver() *safetyObserver {
	return &safetyObserver{leaders: map[uint64]string{}, terms: map[string]uint64{}}
}

func (o *safetyObserver) observe(e Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if prev := o.terms[e.NodeID]; e.Term < prev {
		o.violations = append(o.violations, fmt.Sprintf("%s term went back %d -> %d", e.NodeID, prev, e.Term))
	}
	o.terms[e.NodeID] = e.Term
	if e.Role == Leader {
		if other, ok := o.leaders[e.Term]; ok && other != e.NodeID {
			o.violations = append(o.violations, fmt.Sprintf("term %d has two leaders: %s and %s", e.Term, other, e.NodeID))
		}
		o.leaders[e.Term] = e.NodeID
	}
}

func (o *safetyObserver) check(t *testing.T) {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	require.Empty(t, o.violations)
}

type testCluster struct {
	t       *testing.T
	net     *InmemNetwork
	ids     []string
	members map[string]string
	stores  map[string]*raft.InmemStore
	stables map[string]raft.StableStore
	fsms    map[string]*recordingFSM
	nodes   map[string]*Node
	obs     *safetyObserver
	tweak   func(*Options)
}

func newTestCluster(t *testing.T, size int, tweak func(*Options)) *testCluster {
	c := &testCluster{
		t:       t,
		net:     NewInmemNetwork(),
		members: map[string]string{},
		stores:  map[string]*raft.InmemStore{},
		stables: map[string]raft.StableStore{},
		fsms:    map[string]*recordingFSM{},
		nodes:   map[string]*Node{},
		obs:     newSafetyObserver(),
		tweak:   tweak,
	}
	for i := 1; i <= size; i++ {
		id := fmt.Sprintf("n%d", i)
		c.ids = append(c.ids, id)
		c.members[id] = id + ".local:7000"
		c.stores[id] = raft.NewInmemStore()
		c.stables[id] = c.stores[id]
	}
	for _, id := range c.ids {
		c.start(id)
	}
	return c
}

func (c *testCluster) options(id string) Options {
	o := Options{
		NodeID:             id,
		Members:            c.members,
		LogStore:           c.stores[id],
		StableStore:        c.stables[id],
		Transport:          c.net.Transport(id),
		FSM:                c.fsms[id],
		ElectionTimeoutMin: 60 * time.Millisecond,
		ElectionTimeoutMax: 120 * time.Millisecond,
		HeartbeatInterval:  10 * time.Millisecond,
		RPCTimeout:         30 * time.Millisecond,
		ProposalTimeout:    2 * time.Second,
		Observer:           c.obs.observe,
		Logger:             zap.NewNop(),
	}
	if c.tweak != nil {
		c.tweak(&o)
	}
	return o
}

// start crea (o re-crea, tras stop) el nodo sobre sus stores persistentes.
func (c *testCluster) start(id string) *Node {
	if c.fsms[id] == nil {
		c.fsms[id] = &recordingFSM{}
	}
	n, err := NewNode(c.options(id))
	require.NoError(c.t, err)
	c.nodes[id] = n
	c.net.Register(id, n)
	n.Start()
	return n
}

// stop simula un crash: el nodo deja la red y se detiene. Sus stores quedan.
func (c *testCluster) stop(id string) {
	c.net.Unregister(id)
	if n := c.nodes[id]; n != nil {
		n.Stop()
	}
	delete(c.nodes, id)
}

func (c *testCluster) shutdown() {
	for _, id := range c.ids {
		c.stop(id)
	}
	c.obs.check(c.t)
}

// waitLeader espera a que exactamente uno de ids se crea líder y lo retorna.
func (c *testCluster) waitLeader(ids ...string) string {
	c.t.Helper()
	if len(ids) == 0 {
		ids = c.ids
	}
	var leader string
	require.Eventually(c.t, func() bool {
		var found []string
		for _, id := range ids {
			if n := c.nodes[id]; n != nil && n.IsLeader() {
				found = append(found, id)
			}
		}
		if len(found) != 1 {
			return false
		}
		leader = found[0]
		return true
	}, 3*time.Second, 5*time.Millisecond, "no single leader among %v", ids)
	return leader
}

func (c *testCluster) followers(leader string) []string {
	var out []string
	for _, id := range c.ids {
		if id != leader {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func (c *testCluster) apply(id, cmd string) (any, error) {
	return c.nodes[id].Apply(context.Background(), "", []byte(cmd))
}

// waitApplied espera a que cada nodo en ids haya aplicado exactamente want.
func (c *testCluster) waitApplied(want []string, ids ...string) {
	c.t.Helper()
	if len(ids) == 0 {
		ids = c.ids
	}
	require.Eventually(c.t, func() bool {
		for _, id := range ids {
			got := c.fsms[id].commands()
			if len(got) != len(want) {
				return false
			}
			for i := range got {
				if got[i] != want[i] {
					return false
				}
			}
		}
		return true
	}, 3*time.Second, 5*time.Millisecond, "nodes %v did not converge on %v", ids, want)
}
