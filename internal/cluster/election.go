package cluster

import (
	"context"
	"time"

	"github.com/dropDatabas3/aether/internal/metrics"
	"github.com/dropDatabas3/aether/internal/observability/logger"
)

// run es el loop de timers: dispara elecciones cuando vence el deadline.
// Los heartbeats los emiten los replicadores del líder.
func (n *Node) run() {
	defer n.wg.Done()
	tick := n.opts.ElectionTimeoutMin / 10
	if tick < time.Millisecond {
		tick = time.Millisecond
	}
	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-n.stopCh:
			return
		case now := <-t.C:
			n.mu.Lock()
			if n.failed == nil && n.role != Leader && now.After(n.deadline) {
				n.startElectionLocked()
			}
			n.mu.Unlock()
		}
	}
}

func (n *Node) startElectionLocked() {
	term := n.hs.Term() + 1
	if err := n.hs.SetTermVote(term, n.id); err != nil {
		n.failLocked(err)
		return
	}
	metrics.RaftTerm.Set(float64(term))
	n.role = Candidate
	n.leaderID = ""
	n.votes = map[string]bool{n.id: true}
	n.resetDeadlineLocked()
	n.emitLocked()
	n.log.Debug("election started", logger.Term(term))

	if len(n.votes) >= n.quorum {
		n.becomeLeaderLocked()
		return
	}
	req := &RequestVoteRequest{
		Term:         term,
		CandidateID:  n.id,
		LastLogIndex: n.rlog.LastIndex(),
		LastLogTerm:  n.rlog.LastTerm(),
	}
	for _, p := range n.peers {
		n.wg.Add(1)
		go n.requestVote(p, req)
	}
}

func (n *Node) requestVote(peer string, req *RequestVoteRequest) {
	defer n.wg.Done()
	ctx, cancel := context.WithTimeout(n.ctx, n.opts.RPCTimeout)
	resp, err := n.trans.RequestVote(ctx, peer, req)
	cancel()
	if err != nil {
		n.log.Debug("request vote failed", logger.Peer(peer), logger.Term(req.Term), logger.Err(err))
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failed != nil {
		return
	}
	if resp.Term > n.hs.Term() {
		n.stepDownLocked(resp.Term, "")
		return
	}
	if n.role != Candidate || n.hs.Term() != req.Term || !resp.VoteGranted {
		return
	}
	n.votes[peer] = true
	if len(n.votes) >= n.quorum {
		n.becomeLeaderLocked()
	}
}

// stepDownLocked pasa a Follower, adoptando term si es mayor. Retorna false
// si no se pudo persistir el término.
func (n *Node) stepDownLocked(term uint64, leader string) bool {
	if term > n.hs.Term() {
		if err := n.hs.SetTermVote(term, ""); err != nil {
			n.failLocked(err)
			return false
		}
		metrics.RaftTerm.Set(float64(term))
	}
	if n.role == Leader {
		n.log.Info("stepping down", logger.Term(n.hs.Term()), logger.Leader(leader))
	}
	if n.role != Follower {
		n.resetDeadlineLocked()
	}
	n.role = Follower
	n.leaderID = leader
	n.votes = nil
	n.triggers = nil
	n.emitLocked()
	return true
}

func (n *Node) becomeLeaderLocked() {
	term := n.hs.Term()
	n.role = Leader
	n.leaderID = n.id
	n.votes = nil

	// no-op del término: permite commitear las entradas de términos previos
	noop := LogEntry{Index: n.rlog.LastIndex() + 1, Term: term, Type: EntryNoop}
	if err := n.rlog.Append(noop); err != nil {
		n.failLocked(err)
		return
	}

	n.nextIndex = make(map[string]uint64, len(n.peers))
	n.matchIndex = make(map[string]uint64, len(n.peers))
	n.lastContact = make(map[string]time.Time, len(n.peers))
	n.triggers = make(map[string]chan struct{}, len(n.peers))
	for _, p := range n.peers {
		n.nextIndex[p] = noop.Index
		ch := make(chan struct{}, 1)
		n.triggers[p] = ch
		n.wg.Add(1)
		go n.replicate(p, term, ch)
	}

	metrics.RaftLeadershipChanges.Inc()
	n.log.Info("became leader", logger.Term(term), logger.Index(noop.Index))
	n.emitLocked()
	n.advanceCommitLocked()
}

// HandleRequestVote implementa RPCHandler.
func (n *Node) HandleRequestVote(_ context.Context, req *RequestVoteRequest) (*RequestVoteResponse, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.availableLocked(); err != nil {
		return nil, err
	}
	if req.Term > n.hs.Term() && !n.stepDownLocked(req.Term, "") {
		return nil, n.failed
	}

	term := n.hs.Term()
	resp := &RequestVoteResponse{Term: term}
	if req.Term < term {
		return resp, nil
	}
	voted := n.hs.VotedFor()
	if voted != "" && voted != req.CandidateID {
		return resp, nil
	}
	if !n.rlog.IsUpToDate(req.LastLogTerm, req.LastLogIndex) {
		n.log.Debug("vote refused: candidate log behind", logger.Peer(req.CandidateID), logger.Term(term))
		return resp, nil
	}
	if voted == "" {
		if err := n.hs.SetTermVote(term, req.CandidateID); err != nil {
			n.failLocked(err)
			return nil, n.failed
		}
	}
	resp.VoteGranted = true
	n.resetDeadlineLocked()
	return resp, nil
}
