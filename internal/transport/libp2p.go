package transport

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/libp2p/go-libp2p"
	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/keagster/syndactyl/internal/logging"
	sproto "github.com/keagster/syndactyl/internal/protocol"
)

// maxMessageSize bounds a single request/response frame. It comfortably
// exceeds one CHUNK_SIZE chunk plus CBOR framing overhead.
const maxMessageSize = sproto.ChunkSize + 64*1024

// LibP2PEngine is the production Engine, backed by a libp2p host for
// identity and secure channels, go-libp2p-pubsub for gossip, and a
// length-prefixed request/response stream protocol.
type LibP2PEngine struct {
	host  host.Host
	pubsub *pubsub.PubSub
	topic  *pubsub.Topic
	sub    *pubsub.Subscription

	log *logging.Logger

	events chan Event

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewLibP2P constructs an Engine listening on listenAddr (a multiaddr
// string, e.g. "/ip4/0.0.0.0/tcp/4001") using the given identity key, and
// joins the fixed gossip topic.
func NewLibP2P(ctx context.Context, listenAddr string, identity libp2pcrypto.PrivKey, log *logging.Logger) (*LibP2PEngine, error) {
	if log == nil {
		log = logging.Default()
	}
	log = log.WithComponent("transport")

	h, err := libp2p.New(
		libp2p.Identity(identity),
		libp2p.ListenAddrStrings(listenAddr),
	)
	if err != nil {
		return nil, fmt.Errorf("transport: create libp2p host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("transport: create gossipsub: %w", err)
	}

	topic, err := ps.Join(sproto.GossipTopic)
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("transport: join topic %s: %w", sproto.GossipTopic, err)
	}

	sub, err := topic.Subscribe()
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("transport: subscribe topic %s: %w", sproto.GossipTopic, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	e := &LibP2PEngine{
		host:   h,
		pubsub: ps,
		topic:  topic,
		sub:    sub,
		log:    log,
		events: make(chan Event, 32),
		ctx:    runCtx,
		cancel: cancel,
	}

	h.SetStreamHandler(protocol.ID(sproto.ProtocolID), e.handleStream)

	h.Network().Notify(&network.NotifyBundle{
		ConnectedF: func(_ network.Network, conn network.Conn) {
			e.emit(Event{Kind: EventPeerConnected, PeerID: conn.RemotePeer().String()})
		},
		DisconnectedF: func(_ network.Network, conn network.Conn) {
			e.emit(Event{Kind: EventPeerDisconnected, PeerID: conn.RemotePeer().String()})
		},
	})

	e.wg.Add(1)
	go e.readGossip()

	for _, addr := range h.Addrs() {
		e.emit(Event{Kind: EventListenAddrBound, Addr: addr.String()})
	}

	return e, nil
}

// ID returns the libp2p peer ID string.
func (e *LibP2PEngine) ID() string { return e.host.ID().String() }

// Addrs returns the host's bound listen addresses as strings.
func (e *LibP2PEngine) Addrs() []string {
	addrs := e.host.Addrs()
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.String()
	}
	return out
}

// Connect dials a peer given its peer ID and a multiaddr.
func (e *LibP2PEngine) Connect(ctx context.Context, peerID, addr string) error {
	pid, err := peer.Decode(peerID)
	if err != nil {
		return fmt.Errorf("transport: decode peer id %q: %w", peerID, err)
	}
	maddr, err := ma.NewMultiaddr(addr)
	if err != nil {
		return fmt.Errorf("transport: parse multiaddr %q: %w", addr, err)
	}
	info := peer.AddrInfo{ID: pid, Addrs: []ma.Multiaddr{maddr}}
	if err := e.host.Connect(ctx, info); err != nil {
		return fmt.Errorf("transport: connect to %s: %w", peerID, err)
	}
	return nil
}

// PublishGossip publishes data on the fixed gossip topic.
func (e *LibP2PEngine) PublishGossip(ctx context.Context, data []byte) error {
	return e.topic.Publish(ctx, data)
}

// SendRequest opens a fresh stream to peerID under the file-transfer
// protocol, writes a length-prefixed request, and reads back one
// length-prefixed response.
func (e *LibP2PEngine) SendRequest(ctx context.Context, peerID string, data []byte) ([]byte, error) {
	pid, err := peer.Decode(peerID)
	if err != nil {
		return nil, fmt.Errorf("transport: decode peer id %q: %w", peerID, err)
	}

	stream, err := e.host.NewStream(ctx, pid, protocol.ID(sproto.ProtocolID))
	if err != nil {
		return nil, fmt.Errorf("transport: open stream to %s: %w", peerID, err)
	}
	defer stream.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = stream.SetDeadline(deadline)
	}

	if err := writeFrame(stream, data); err != nil {
		return nil, fmt.Errorf("transport: write request to %s: %w", peerID, err)
	}
	if err := stream.CloseWrite(); err != nil {
		return nil, fmt.Errorf("transport: close write to %s: %w", peerID, err)
	}

	resp, err := readFrame(stream)
	if err != nil {
		return nil, fmt.Errorf("transport: read response from %s: %w", peerID, err)
	}
	return resp, nil
}

// Events returns the engine's unified event stream.
func (e *LibP2PEngine) Events() <-chan Event { return e.events }

// Close tears down the gossip subscription and host.
func (e *LibP2PEngine) Close() error {
	e.cancel()
	e.sub.Cancel()
	e.wg.Wait()
	close(e.events)
	return e.host.Close()
}

// handleStream serves one inbound request/response stream: read the
// request frame, surface it as an EventRequestReceived whose Respond
// callback writes the reply frame and closes the stream.
func (e *LibP2PEngine) handleStream(stream network.Stream) {
	req, err := readFrame(stream)
	if err != nil {
		e.log.Debug("failed to read inbound request", "peer", stream.Conn().RemotePeer(), "error", err)
		stream.Reset()
		return
	}

	remote := stream.Conn().RemotePeer().String()
	e.emit(Event{
		Kind:   EventRequestReceived,
		PeerID: remote,
		Data:   req,
		Respond: func(data []byte) error {
			defer stream.Close()
			return writeFrame(stream, data)
		},
	})
}

// readGossip pumps subscription messages onto the event stream until
// the engine's context is cancelled.
func (e *LibP2PEngine) readGossip() {
	defer e.wg.Done()
	for {
		msg, err := e.sub.Next(e.ctx)
		if err != nil {
			if e.ctx.Err() != nil {
				return
			}
			e.log.Warn("gossip subscription error", "error", err)
			return
		}
		if msg.ReceivedFrom == e.host.ID() {
			continue
		}
		e.emit(Event{
			Kind:   EventGossipMessage,
			PeerID: msg.ReceivedFrom.String(),
			Data:   msg.Data,
		})
	}
}

// emit enqueues an event, dropping it if the consumer is not keeping up
// and the engine is shutting down.
func (e *LibP2PEngine) emit(ev Event) {
	select {
	case e.events <- ev:
	case <-e.ctx.Done():
	}
}

// writeFrame writes a 4-byte big-endian length prefix followed by data.
func writeFrame(w io.Writer, data []byte) error {
	if len(data) > maxMessageSize {
		return fmt.Errorf("transport: frame of %d bytes exceeds limit %d", len(data), maxMessageSize)
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(data)))
	bw := bufio.NewWriter(w)
	if _, err := bw.Write(header[:]); err != nil {
		return err
	}
	if _, err := bw.Write(data); err != nil {
		return err
	}
	return bw.Flush()
}

// readFrame reads a 4-byte big-endian length prefix followed by that
// many bytes.
func readFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(header[:])
	if size > maxMessageSize {
		return nil, fmt.Errorf("transport: frame of %d bytes exceeds limit %d", size, maxMessageSize)
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
