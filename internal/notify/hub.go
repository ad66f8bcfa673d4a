package notify

import (
	"context"
	"sync"
	"sync/atomic"
)

// Wildcard suscribe a todos los nombres.
const Wildcard = "*"

// Hub es el notifier en proceso: fan-out por nombre de config a canales
// suscriptos. Un suscriptor lento pierde eventos (TryPub) y nunca bloquea
// al dispatcher.
type Hub struct {
	mu       sync.RWMutex
	capacity int
	subs     map[string]map[*Subscription]struct{}
	closed   bool
}

// Subscription es una suscripción activa. C se cierra en Close o Hub.Close.
type Subscription struct {
	C     <-chan Event
	ch    chan Event
	topic string
	hub   *Hub
	once  sync.Once
	drops atomic.Uint64
}

// Dropped retorna cuántos eventos se perdieron por buffer lleno.
func (s *Subscription) Dropped() uint64 { return s.drops.Load() }

// NewHub crea un Hub. capacity es el buffer por suscriptor.
func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 16
	}
	return &Hub{capacity: capacity, subs: make(map[string]map[*Subscription]struct{})}
}

// Subscribe registra un suscriptor para name (o Wildcard).
func (h *Hub) Subscribe(name string) *Subscription {
	ch := make(chan Event, h.capacity)
	s := &Subscription{C: ch, ch: ch, topic: name, hub: h}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return s
	}
	set, ok := h.subs[name]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[name] = set
	}
	set[s] = struct{}{}
	return s
}

// Notify implementa Notifier. Nunca falla.
func (h *Hub) Notify(_ context.Context, ev Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return nil
	}
	h.publishLocked(h.subs[ev.Name], ev)
	if ev.Name != Wildcard {
		h.publishLocked(h.subs[Wildcard], ev)
	}
	return nil
}

func (h *Hub) publishLocked(set map[*Subscription]struct{}, ev Event) {
	for s := range set {
		select {
		case s.ch <- ev:
		default:
			s.drops.Add(1)
		}
	}
}

// Subscribers retorna la cantidad de suscriptores activos.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.subs {
		n += len(set)
	}
	return n
}

// Close cierra todas las suscripciones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for topic, set := range h.subs {
		for s := range set {
			s.once.Do(func() { close(s.ch) })
		}
		delete(h.subs, topic)
	}
}

// Close da de baja la suscripción.
func (s *Subscription) Close() {
	h := s.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.subs[s.topic]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(h.subs, s.topic)
		}
	}
	s.once.Do(func() { close(s.ch) })
}
