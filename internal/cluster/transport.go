package cluster

import (
	"context"
	"sync"
)

// Transport envía RPCs a otros nodos, identificados por id.
// Los errores de red se reintentan en el loop de replicación; nunca suben
// al config manager.
type Transport interface {
	RequestVote(ctx context.Context, target string, req *RequestVoteRequest) (*RequestVoteResponse, error)
	AppendEntries(ctx context.Context, target string, req *AppendEntriesRequest) (*AppendEntriesResponse, error)
}

// RPCHandler es el lado receptor; lo implementa *Node.
type RPCHandler interface {
	HandleRequestVote(ctx context.Context, req *RequestVoteRequest) (*RequestVoteResponse, error)
	HandleAppendEntries(ctx context.Context, req *AppendEntriesRequest) (*AppendEntriesResponse, error)
}

// ─── Red en memoria ───

// InmemNetwork conecta nodos del mismo proceso con control de particiones.
// Solo para tests y demos: los mensajes cruzan por llamada directa.
type InmemNetwork struct {
	mu       sync.RWMutex
	handlers map[string]RPCHandler
	group    map[string]int // id -> partición; ausente = grupo 0
	cut      map[string]bool
}

func NewInmemNetwork() *InmemNetwork {
	return &InmemNetwork{
		handlers: make(map[string]RPCHandler),
		group:    make(map[string]int),
		cut:      make(map[string]bool),
	}
}

// Register asocia id a un handler (reemplaza el anterior: restart).
func (n *InmemNetwork) Register(id string, h RPCHandler) {
	n.mu.Lock()
	n.handlers[id] = h
	n.mu.Unlock()
}

// Unregister quita el nodo (crash): los RPCs hacia él fallan.
func (n *InmemNetwork) Unregister(id string) {
	n.mu.Lock()
	delete(n.handlers, id)
	n.mu.Unlock()
}

// Transport retorna el transporte visto desde el nodo from.
func (n *InmemNetwork) Transport(from string) Transport {
	return &inmemTransport{net: n, from: from}
}

// Partition separa los nodos en grupos; solo se comunican dentro de su grupo.
// Los nodos no listados quedan juntos en un grupo aparte.
func (n *InmemNetwork) Partition(groups ...[]string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.group = make(map[string]int)
	for i, g := range groups {
		for _, id := range g {
			n.group[id] = i + 1
		}
	}
}

// Isolate corta todo el tráfico desde y hacia id.
func (n *InmemNetwork) Isolate(id string) {
	n.mu.Lock()
	n.cut[id] = true
	n.mu.Unlock()
}

// Heal elimina particiones y aislamientos.
func (n *InmemNetwork) Heal() {
	n.mu.Lock()
	n.group = make(map[string]int)
	n.cut = make(map[string]bool)
	n.mu.Unlock()
}

func (n *InmemNetwork) route(from, to string) (RPCHandler, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.cut[from] || n.cut[to] || n.group[from] != n.group[to] {
		return nil, false
	}
	h, ok := n.handlers[to]
	return h, ok
}

type inmemTransport struct {
	net  *InmemNetwork
	from string
}

func (t *inmemTransport) RequestVote(ctx context.Context, target string, req *RequestVoteRequest) (*RequestVoteResponse, error) {
	h, ok := t.net.route(t.from, target)
	if !ok {
		return nil, ErrUnreachable
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cp := *req
	resp, err := h.HandleRequestVote(ctx, &cp)
	if err != nil {
		return nil, err
	}
	// la respuesta también puede perderse si la red se cortó en el medio
	if _, ok := t.net.route(target, t.from); !ok {
		return nil, ErrUnreachable
	}
	return resp, nil
}

func (t *inmemTransport) AppendEntries(ctx context.Context, target string, req *AppendEntriesRequest) (*AppendEntriesResponse, error) {
	h, ok := t.net.route(t.from, target)
	if !ok {
		return nil, ErrUnreachable
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cp := *req
	cp.Entries = append([]LogEntry(nil), req.Entries...)
	resp, err := h.HandleAppendEntries(ctx, &cp)
	if err != nil {
		return nil, err
	}
	if _, ok := t.net.route(target, t.from); !ok {
		return nil, ErrUnreachable
	}
	return resp, nil
}
