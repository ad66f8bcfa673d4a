package cluster

import (
	"context"
	"fmt"
	"time"

	"github.com/dropDatabas3/aether/internal/metrics"
	"github.com/dropDatabas3/aether/internal/observability/logger"
)

// replicate es el loop del líder hacia un peer para un término. Hay a lo
// sumo un AppendEntries en vuelo por peer. Sale cuando el nodo deja de ser
// líder de term.
func (n *Node) replicate(peer string, term uint64, trigger <-chan struct{}) {
	defer n.wg.Done()
	hb := time.NewTicker(n.opts.HeartbeatInterval)
	defer hb.Stop()

	for {
		n.mu.Lock()
		req, ok := n.buildAppendLocked(peer, term)
		n.mu.Unlock()
		if !ok {
			return
		}

		ctx, cancel := context.WithTimeout(n.ctx, n.opts.RPCTimeout)
		resp, err := n.trans.AppendEntries(ctx, peer, req)
		cancel()

		more := false
		if err != nil {
			n.log.Debug("append entries failed", logger.Peer(peer), logger.Term(term), logger.Err(err))
		} else {
			n.mu.Lock()
			more = n.handleAppendResponseLocked(peer, term, req, resp)
			n.mu.Unlock()
		}
		if more {
			continue
		}

		select {
		case <-n.stopCh:
			return
		case <-trigger:
		case <-hb.C:
		}
	}
}

func (n *Node) buildAppendLocked(peer string, term uint64) (*AppendEntriesRequest, bool) {
	if n.failed != nil || n.role != Leader || n.hs.Term() != term || n.isStoppedLocked() {
		return nil, false
	}
	next := n.nextIndex[peer]
	if next == 0 {
		next = 1
	}
	prevTerm, err := n.rlog.Term(next - 1)
	if err != nil {
		n.failLocked(err)
		return nil, false
	}
	entries, err := n.rlog.Entries(next, n.opts.MaxAppendEntries)
	if err != nil {
		n.failLocked(err)
		return nil, false
	}
	return &AppendEntriesRequest{
		Term:         term,
		LeaderID:     n.id,
		PrevLogIndex: next - 1,
		PrevLogTerm:  prevTerm,
		Entries:      entries,
		LeaderCommit: n.commitIndex,
	}, true
}

// handleAppendResponseLocked retorna true si conviene reenviar ya (quedan
// entradas o hubo que retroceder nextIndex).
func (n *Node) handleAppendResponseLocked(peer string, term uint64, req *AppendEntriesRequest, resp *AppendEntriesResponse) bool {
	if n.failed != nil {
		return false
	}
	if resp.Term > n.hs.Term() {
		n.stepDownLocked(resp.Term, "")
		return false
	}
	if n.role != Leader || n.hs.Term() != term {
		return false
	}
	n.lastContact[peer] = time.Now()

	if resp.Success {
		match := req.PrevLogIndex + uint64(len(req.Entries))
		if match > n.matchIndex[peer] {
			n.matchIndex[peer] = match
		}
		n.nextIndex[peer] = n.matchIndex[peer] + 1
		n.advanceCommitLocked()
		return n.nextIndex[peer] <= n.rlog.LastIndex()
	}

	// rechazo por log inconsistente: retroceder hasta un prefijo común
	next := req.PrevLogIndex
	if resp.ConflictIndex > 0 && resp.ConflictIndex < next {
		next = resp.ConflictIndex
	}
	if next <= n.matchIndex[peer] {
		next = n.matchIndex[peer] + 1
	}
	if next < 1 {
		next = 1
	}
	n.nextIndex[peer] = next
	n.log.Debug("append rejected, backing off", logger.Peer(peer), logger.Index(next))
	return true
}

// advanceCommitLocked avanza commitIndex al mayor índice del término actual
// replicado en una mayoría estricta.
func (n *Node) advanceCommitLocked() {
	if n.role != Leader {
		return
	}
	term := n.hs.Term()
	for idx := n.rlog.LastIndex(); idx > n.commitIndex; idx-- {
		t, err := n.rlog.Term(idx)
		if err != nil {
			n.failLocked(err)
			return
		}
		if t < term {
			// nunca se commitea una entrada de un término anterior por conteo
			return
		}
		count := 1
		for _, p := range n.peers {
			if n.matchIndex[p] >= idx {
				count++
			}
		}
		if count >= n.quorum {
			n.setCommitLocked(idx)
			return
		}
	}
}

func (n *Node) setCommitLocked(idx uint64) {
	if idx <= n.commitIndex {
		return
	}
	n.commitIndex = idx
	metrics.RaftCommitIndex.Set(float64(idx))
	select {
	case n.applyCh <- struct{}{}:
	default:
	}
}

func (n *Node) triggerAllLocked() {
	for _, ch := range n.triggers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// HandleAppendEntries implementa RPCHandler.
func (n *Node) HandleAppendEntries(_ context.Context, req *AppendEntriesRequest) (*AppendEntriesResponse, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.availableLocked(); err != nil {
		return nil, err
	}

	if req.Term < n.hs.Term() {
		return &AppendEntriesResponse{Term: n.hs.Term()}, nil
	}
	if req.Term > n.hs.Term() || n.role != Follower || n.leaderID != req.LeaderID {
		if !n.stepDownLocked(req.Term, req.LeaderID) {
			return nil, n.failed
		}
	}
	n.resetDeadlineLocked()
	resp := &AppendEntriesResponse{Term: req.Term}

	// log-matching: exigir entrada en prevLogIndex con prevLogTerm
	last := n.rlog.LastIndex()
	if req.PrevLogIndex > last {
		resp.ConflictIndex = last + 1
		return resp, nil
	}
	prevTerm, err := n.rlog.Term(req.PrevLogIndex)
	if err != nil {
		n.failLocked(err)
		return nil, n.failed
	}
	if prevTerm != req.PrevLogTerm {
		ci, err := n.rlog.FirstIndexOfTerm(req.PrevLogIndex)
		if err != nil {
			n.failLocked(err)
			return nil, n.failed
		}
		resp.ConflictIndex = ci
		return resp, nil
	}

	for i, e := range req.Entries {
		if e.Index <= n.rlog.LastIndex() {
			t, err := n.rlog.Term(e.Index)
			if err != nil {
				n.failLocked(err)
				return nil, n.failed
			}
			if t == e.Term {
				continue
			}
			if e.Index <= n.commitIndex {
				n.failLocked(fmt.Errorf("leader %s conflicts with committed index %d", req.LeaderID, e.Index))
				return nil, n.failed
			}
			if err := n.rlog.TruncateFrom(e.Index); err != nil {
				n.failLocked(err)
				return nil, n.failed
			}
			n.failFuturesFromLocked(e.Index)
			n.log.Info("truncated conflicting suffix", logger.Index(e.Index), logger.Leader(req.LeaderID))
		}
		if err := n.rlog.Append(req.Entries[i:]...); err != nil {
			n.failLocked(err)
			return nil, n.failed
		}
		break
	}

	lastNew := req.PrevLogIndex + uint64(len(req.Entries))
	if req.LeaderCommit > n.commitIndex {
		n.setCommitLocked(min(req.LeaderCommit, lastNew))
	}
	resp.Success = true
	resp.MatchIndex = lastNew
	return resp, nil
}

// failFuturesFromLocked resuelve con ErrLeadershipLost las propuestas cuyas
// entradas fueron truncadas.
func (n *Node) failFuturesFromLocked(from uint64) {
	for idx, f := range n.futures {
		if idx >= from {
			f.fail(ErrLeadershipLost)
			delete(n.futures, idx)
		}
	}
}
