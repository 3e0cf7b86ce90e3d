package transport

import (
	"context"
	"fmt"
	"sync"
)

// loopbackHub wires a set of Loopback engines together in-process so
// gossip publishes and requests reach every other registered engine,
// without any real network I/O. It exists for tests and single-node
// operation.
type loopbackHub struct {
	mu      sync.Mutex
	engines map[string]*Loopback
}

func newLoopbackHub() *loopbackHub {
	return &loopbackHub{engines: make(map[string]*Loopback)}
}

func (h *loopbackHub) register(e *Loopback) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.engines[e.id] = e
}

func (h *loopbackHub) unregister(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.engines, id)
}

func (h *loopbackHub) peer(id string) (*Loopback, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.engines[id]
	return e, ok
}

func (h *loopbackHub) all(except string) []*Loopback {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*Loopback, 0, len(h.engines))
	for id, e := range h.engines {
		if id != except {
			out = append(out, e)
		}
	}
	return out
}

// NewLoopbackNetwork returns a constructor that builds Loopback engines
// sharing the same in-process hub, so gossip and requests published by
// one reach the others. Useful for multi-node tests without a real
// transport.
func NewLoopbackNetwork() func(id string) *Loopback {
	hub := newLoopbackHub()
	return func(id string) *Loopback {
		e := &Loopback{
			id:     id,
			hub:    hub,
			events: make(chan Event, 32),
		}
		hub.register(e)
		return e
	}
}

// Loopback is an in-process Engine double: gossip publishes and
// requests are delivered synchronously to sibling engines sharing the
// same hub, rather than over a real network. A Loopback used alone
// (outside NewLoopbackNetwork) behaves as a single isolated node whose
// gossip and requests have no peers to reach.
type Loopback struct {
	id  string
	hub *loopbackHub

	mu     sync.Mutex
	events chan Event
	closed bool
}

// NewLoopback returns a standalone Loopback engine with no peers,
// suitable for single-node operation or isolated unit tests.
func NewLoopback(id string) *Loopback {
	return &Loopback{id: id, hub: newLoopbackHub(), events: make(chan Event, 32)}
}

func (l *Loopback) ID() string { return l.id }

func (l *Loopback) Addrs() []string { return []string{"loopback://" + l.id} }

// Connect is a no-op: Loopback peers are always reachable once
// registered on the same hub.
func (l *Loopback) Connect(_ context.Context, _, _ string) error { return nil }

// PublishGossip delivers data to every other engine on the same hub as
// an EventGossipMessage.
func (l *Loopback) PublishGossip(_ context.Context, data []byte) error {
	for _, peer := range l.hub.all(l.id) {
		peer.deliver(Event{Kind: EventGossipMessage, PeerID: l.id, Data: data})
	}
	return nil
}

// SendRequest delivers data to peerID as an EventRequestReceived and
// blocks until that peer's Respond callback is invoked.
func (l *Loopback) SendRequest(ctx context.Context, peerID string, data []byte) ([]byte, error) {
	peer, ok := l.hub.peer(peerID)
	if !ok {
		return nil, fmt.Errorf("transport: loopback peer %q not registered", peerID)
	}

	reply := make(chan []byte, 1)
	peer.deliver(Event{
		Kind:   EventRequestReceived,
		PeerID: l.id,
		Data:   data,
		Respond: func(resp []byte) error {
			reply <- resp
			return nil
		},
	})

	select {
	case resp := <-reply:
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Events returns this engine's event stream.
func (l *Loopback) Events() <-chan Event { return l.events }

// Close unregisters this engine from its hub and closes its event
// stream.
func (l *Loopback) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	l.hub.unregister(l.id)
	close(l.events)
	return nil
}

func (l *Loopback) deliver(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	select {
	case l.events <- ev:
	default:
	}
}
