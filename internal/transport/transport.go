// Package transport abstracts the peer-to-peer capabilities the
// orchestrator consumes: identity, connection management, gossip
// pub/sub, and a request/response protocol for file transfer. The
// libp2p-backed Engine is the production implementation; Loopback is an
// in-process double used by tests and single-node operation.
package transport

import "context"

// EventKind classifies a value delivered on an Engine's event stream.
type EventKind int

const (
	// EventGossipMessage carries a published message received on the
	// gossip topic.
	EventGossipMessage EventKind = iota
	// EventRequestReceived carries an inbound request/response stream
	// message; Respond must be called exactly once.
	EventRequestReceived
	// EventPeerConnected reports a new peer connection.
	EventPeerConnected
	// EventPeerDisconnected reports a peer connection closing.
	EventPeerDisconnected
	// EventListenAddrBound reports a local listen address becoming
	// active.
	EventListenAddrBound
)

// Event is one item from an Engine's unified event stream.
type Event struct {
	Kind EventKind

	// PeerID is set for EventGossipMessage, EventRequestReceived,
	// EventPeerConnected, and EventPeerDisconnected.
	PeerID string

	// Data is the raw message payload for EventGossipMessage and
	// EventRequestReceived.
	Data []byte

	// Addr is set for EventListenAddrBound.
	Addr string

	// Respond delivers data back to the peer that issued the request
	// carried by an EventRequestReceived. It is nil for every other
	// event kind.
	Respond func(data []byte) error
}

// Engine is the P2P transport surface the orchestrator depends on. It
// captures peer identity and secure channel establishment, peer
// discovery, a signed-authenticity gossip pub/sub, and a
// request/response protocol carrying typed messages, per spec.md §6.
type Engine interface {
	// ID returns this node's peer identity as a string.
	ID() string

	// Addrs returns the node's currently bound listen addresses.
	Addrs() []string

	// Connect dials a peer at addr, identified by peerID, and adds it
	// to the peer set.
	Connect(ctx context.Context, peerID, addr string) error

	// PublishGossip publishes data on the fixed gossip topic.
	PublishGossip(ctx context.Context, data []byte) error

	// SendRequest opens a request/response stream to peerID, writes
	// data, and returns the single response payload.
	SendRequest(ctx context.Context, peerID string, data []byte) ([]byte, error)

	// Events returns the engine's unified event stream: gossip
	// messages, inbound requests, peer connection changes, and listen
	// address bindings.
	Events() <-chan Event

	// Close shuts down the engine and releases its resources.
	Close() error
}
