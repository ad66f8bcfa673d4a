package cluster

import (
	"time"

	"github.com/dropDatabas3/aether/internal/metrics"
	"github.com/dropDatabas3/aether/internal/observability/logger"
)

const (
	applyBackoffMin = 10 * time.Millisecond
	applyBackoffMax = time.Second
)

// applyLoop entrega las entradas committed al FSM en orden, de a una, y
// persiste lastApplied después de cada una.
func (n *Node) applyLoop() {
	defer n.wg.Done()
	// un restart puede haber dejado commitIndex > lastApplied
	n.signalApply()
	for {
		select {
		case <-n.stopCh:
			return
		case <-n.applyCh:
		}
		for {
			e, ok := n.nextToApply()
			if !ok {
				break
			}
			resp, ok := n.applyEntry(&e)
			if !ok {
				return
			}
			if !n.markApplied(&e, resp) {
				return
			}
		}
	}
}

func (n *Node) signalApply() {
	select {
	case n.applyCh <- struct{}{}:
	default:
	}
}

func (n *Node) nextToApply() (LogEntry, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failed != nil || n.hs.LastApplied() >= n.commitIndex {
		return LogEntry{}, false
	}
	e, err := n.rlog.Get(n.hs.LastApplied() + 1)
	if err != nil {
		n.failLocked(err)
		return LogEntry{}, false
	}
	return e, true
}

// applyEntry reintenta errores transitorios del FSM hasta que la entrada se
// aplique o el nodo se detenga. Los no-op no llegan al FSM.
func (n *Node) applyEntry(e *LogEntry) (any, bool) {
	if e.Type == EntryNoop {
		return nil, true
	}
	backoff := applyBackoffMin
	for {
		resp, err := n.fsm.Apply(n.ctx, e)
		if err == nil {
			return resp, true
		}
		if n.ctx.Err() != nil {
			return nil, false
		}
		metrics.RaftApplyRetries.Inc()
		n.log.Warn("apply failed, retrying", logger.Index(e.Index), logger.Duration(backoff), logger.Err(err))
		select {
		case <-n.stopCh:
			return nil, false
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, applyBackoffMax)
	}
}

func (n *Node) markApplied(e *LogEntry, resp any) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failed != nil {
		return false
	}
	if err := n.hs.SetLastApplied(e.Index); err != nil {
		n.failLocked(err)
		return false
	}
	if f, ok := n.futures[e.Index]; ok {
		delete(n.futures, e.Index)
		if f.id == e.ID && e.Type == EntryCommand {
			f.respond(resp)
		} else {
			f.fail(ErrLeadershipLost)
		}
	}
	return true
}
