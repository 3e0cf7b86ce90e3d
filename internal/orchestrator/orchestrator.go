// Package orchestrator implements the single-threaded cooperative
// reactor that bridges the watcher, the transfer tracker, and the P2P
// transport: attaching authentication tags to outbound announcements,
// verifying and acting on inbound ones, serving file requests, and
// driving inbound transfers to completion one chunk at a time.
package orchestrator

import (
	"context"
	"sync"

	"github.com/keagster/syndactyl/internal/auth"
	"github.com/keagster/syndactyl/internal/config"
	"github.com/keagster/syndactyl/internal/fsstore"
	"github.com/keagster/syndactyl/internal/logging"
	"github.com/keagster/syndactyl/internal/protocol"
	"github.com/keagster/syndactyl/internal/transfer"
	"github.com/keagster/syndactyl/internal/transport"
)

// responseResult carries the outcome of an asynchronous SendRequest
// call back into the single reactor goroutine.
type responseResult struct {
	key    transfer.Key
	peerID string
	data   []byte
	err    error
}

// inflight remembers which peer is currently serving a transfer, so the
// response-processing pipeline knows where to send the next chunk
// request.
type inflight struct {
	peerID string
}

// Orchestrator is the reactor described in spec.md §4.E. All mutable
// engine state (tracker, peer set, in-flight requests) is owned
// exclusively by the goroutine running Run; other goroutines only feed
// it events over channels.
type Orchestrator struct {
	cfg     *config.Config
	tracker *transfer.Tracker
	engine  transport.Engine
	watcher <-chan protocol.Announcement
	log     *logging.Logger

	responses chan responseResult

	// peers is read by Peers() from other goroutines, so it is the one
	// piece of state behind a mutex rather than confined to Run.
	peersMu sync.RWMutex
	peers   map[string]struct{}

	inflightMu sync.Mutex
	inflight   map[transfer.Key]inflight
}

// New constructs an Orchestrator. watcherCh is the bounded, multi-
// producer channel the watcher package publishes announcements on.
func New(cfg *config.Config, tracker *transfer.Tracker, engine transport.Engine, watcherCh <-chan protocol.Announcement, log *logging.Logger) *Orchestrator {
	if log == nil {
		log = logging.Default()
	}
	return &Orchestrator{
		cfg:       cfg,
		tracker:   tracker,
		engine:    engine,
		watcher:   watcherCh,
		log:       log.WithComponent("orchestrator"),
		responses: make(chan responseResult, 32),
		peers:     make(map[string]struct{}),
		inflight:  make(map[transfer.Key]inflight),
	}
}

// Peers returns the currently connected peer IDs. Safe to call from any
// goroutine.
func (o *Orchestrator) Peers() []string {
	o.peersMu.RLock()
	defer o.peersMu.RUnlock()
	out := make([]string, 0, len(o.peers))
	for id := range o.peers {
		out = append(out, id)
	}
	return out
}

// Run multiplexes the watcher channel, the transport's event stream,
// and async response results until ctx is cancelled. It returns nil on
// clean shutdown.
func (o *Orchestrator) Run(ctx context.Context) error {
	events := o.engine.Events()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ann, ok := <-o.watcher:
			if !ok {
				o.watcher = nil
				continue
			}
			o.handleOutbound(ctx, ann)

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			o.handleTransportEvent(ctx, ev)

		case res := <-o.responses:
			o.handleResponseResult(ctx, res)
		}
	}
}

// handleOutbound implements the outbound pipeline: attach a tag if the
// observer has a shared secret, encode as JSON, and publish on the
// gossip topic.
func (o *Orchestrator) handleOutbound(ctx context.Context, ann protocol.Announcement) {
	if obs, ok := o.cfg.Observer(ann.Observer); ok {
		if secret := obs.Secret(); secret != nil {
			ann = auth.Sign(secret, ann)
		}
	}

	payload, err := protocol.EncodeAnnouncement(ann)
	if err != nil {
		o.log.Warn("failed to encode outbound announcement", "error", err)
		return
	}
	if err := o.engine.PublishGossip(ctx, payload); err != nil {
		o.log.Warn("failed to publish announcement", "error", err)
	}
}

// handleTransportEvent dispatches one transport event to the gossip
// receive, request-serving, or peer bookkeeping pipeline.
func (o *Orchestrator) handleTransportEvent(ctx context.Context, ev transport.Event) {
	switch ev.Kind {
	case transport.EventGossipMessage:
		o.handleGossip(ctx, ev)
	case transport.EventRequestReceived:
		o.handleRequest(ev)
	case transport.EventPeerConnected:
		o.peersMu.Lock()
		o.peers[ev.PeerID] = struct{}{}
		o.peersMu.Unlock()
	case transport.EventPeerDisconnected:
		o.peersMu.Lock()
		delete(o.peers, ev.PeerID)
		o.peersMu.Unlock()
	case transport.EventListenAddrBound:
		o.log.Info("listening", "addr", ev.Addr)
	}
}

// handleGossip implements the gossip-receive pipeline of spec.md §4.E.
func (o *Orchestrator) handleGossip(ctx context.Context, ev transport.Event) {
	plog := o.log.WithPeer(ev.PeerID)

	ann, err := protocol.DecodeAnnouncement(ev.Data)
	if err != nil {
		plog.Debug("dropping undecodable gossip message", "error", err)
		return
	}

	obs, ok := o.cfg.Observer(ann.Observer)
	if !ok {
		return
	}

	if !o.verifyAnnouncement(obs, ann) {
		plog.Warn("dropping announcement with invalid or missing signature")
		return
	}

	switch ann.Kind {
	case protocol.EventCreate, protocol.EventModify:
		o.maybeFetch(ctx, obs, ann, ev.PeerID)
	default:
		// Remove/Other are informational only; see non-goals.
	}
}

// verifyAnnouncement applies the signature policy from spec.md §4.E and
// the require_signed resolution recorded in DESIGN.md.
func (o *Orchestrator) verifyAnnouncement(obs config.Observer, ann protocol.Announcement) bool {
	secret := obs.Secret()
	if secret == nil {
		// Insecure mode: this node has no secret configured for the
		// observer, so it cannot and does not require a tag.
		return true
	}
	if ann.Tag == "" {
		return !obs.RequiresSignature()
	}
	return auth.Verify(secret, ann, ann.Tag)
}

// maybeFetch decides whether to request the file named by ann, per the
// hash-parity shortcut in spec.md §4.E.
func (o *Orchestrator) maybeFetch(ctx context.Context, obs config.Observer, ann protocol.Announcement, peerID string) {
	if ann.Size == nil || ann.Hash == "" {
		return
	}

	absolute := fsstore.ToAbsolute(ann.Path, obs.Path)
	if localHash, err := fsstore.Hash(absolute); err == nil && localHash == ann.Hash {
		return
	}

	key := transfer.Key{Observer: obs.Name, Path: ann.Path}
	o.tracker.StartTransfer(key, *ann.Size, ann.Hash, obs.Path)

	o.inflightMu.Lock()
	o.inflight[key] = inflight{peerID: peerID}
	o.inflightMu.Unlock()

	req := protocol.Request{Transfer: &protocol.TransferRequest{
		Observer:     obs.Name,
		Path:         ann.Path,
		ExpectedHash: ann.Hash,
	}}
	o.sendRequestAsync(ctx, peerID, key, req)
}

// handleRequest implements the request-serving pipeline of spec.md
// §4.E: serve the first chunk for a TransferRequest, or the chunk at
// the requested offset for a ChunkRequest. Oversized files and unknown
// observers/files are dropped with no response; the client recovers
// via timeout.
func (o *Orchestrator) handleRequest(ev transport.Event) {
	plog := o.log.WithPeer(ev.PeerID)

	req, err := protocol.DecodeRequest(ev.Data)
	if err != nil {
		plog.Debug("dropping undecodable request", "error", err)
		return
	}

	var observerName, relPath, expectedHash string
	var offset int64
	switch {
	case req.Transfer != nil:
		observerName, relPath, expectedHash = req.Transfer.Observer, req.Transfer.Path, req.Transfer.ExpectedHash
		offset = 0
	case req.Chunk != nil:
		observerName, relPath, expectedHash = req.Chunk.Observer, req.Chunk.Path, req.Chunk.ExpectedHash
		offset = req.Chunk.Offset
	default:
		return
	}

	obs, ok := o.cfg.Observer(observerName)
	if !ok {
		return
	}
	olog := plog.WithObserver(obs.Name)

	// Authorization intent: a secret-bearing observer should only serve
	// peers that presented a valid tag in the triggering announcement.
	// Not enforced yet; see the peer-allowlist open question in
	// DESIGN.md.
	if obs.Secret() != nil {
		olog.Debug("serving request without peer allowlist enforcement")
	}

	absolute := fsstore.ToAbsolute(relPath, obs.Path)
	totalSize, _, err := fsstore.Metadata(absolute)
	if err != nil {
		return
	}
	if totalSize > protocol.MaxFileSize {
		olog.Warn("dropping request for oversized file", "path", relPath, "size", totalSize)
		return
	}

	readSize := protocol.ChunkSize
	if remaining := totalSize - offset; remaining < int64(readSize) {
		readSize = int(remaining)
	}
	if readSize < 0 {
		readSize = 0
	}

	data, err := fsstore.ReadChunk(absolute, offset, readSize)
	if err != nil {
		return
	}

	resp := protocol.ChunkResponse{
		Observer:     obs.Name,
		Path:         relPath,
		Data:         data,
		Offset:       offset,
		TotalSize:    totalSize,
		ExpectedHash: expectedHash,
		IsLast:       offset+int64(len(data)) >= totalSize,
	}
	payload, err := protocol.EncodeResponse(resp)
	if err != nil {
		o.log.Warn("failed to encode chunk response", "error", err)
		return
	}
	if ev.Respond != nil {
		if err := ev.Respond(payload); err != nil {
			plog.Debug("failed to send chunk response", "error", err)
		}
	}
}

// sendRequestAsync issues a request on a helper goroutine and funnels
// the result back into Run's select loop, keeping all tracker and
// in-flight-map mutation confined to the reactor goroutine.
func (o *Orchestrator) sendRequestAsync(ctx context.Context, peerID string, key transfer.Key, req protocol.Request) {
	payload, err := protocol.EncodeRequest(req)
	if err != nil {
		o.log.Warn("failed to encode request", "error", err)
		return
	}

	go func() {
		data, err := o.engine.SendRequest(ctx, peerID, payload)
		select {
		case o.responses <- responseResult{key: key, peerID: peerID, data: data, err: err}:
		case <-ctx.Done():
		}
	}()
}

// handleResponseResult implements the response-processing pipeline of
// spec.md §4.E: feed the chunk into the tracker, and if the transfer
// isn't done yet, request the next chunk from the same peer.
func (o *Orchestrator) handleResponseResult(ctx context.Context, res responseResult) {
	plog := o.log.WithPeer(res.peerID).WithObserver(res.key.Observer)

	if res.err != nil {
		plog.Warn("outbound request failed; transfer will retry on next announcement", "error", res.err)
		return
	}

	resp, err := protocol.DecodeResponse(res.data)
	if err != nil {
		plog.Debug("dropping undecodable response", "error", err)
		return
	}

	state, reason, err := o.tracker.AddChunk(res.key, resp.Offset, resp.Data, resp.IsLast)
	if err != nil {
		plog.Debug("response for unknown transfer", "path", res.key.Path, "error", err)
		return
	}

	switch state {
	case transfer.Done:
		plog.Info("transfer completed", "path", res.key.Path)
		o.clearInflight(res.key)
	case transfer.Failed:
		plog.Warn("transfer failed", "path", res.key.Path, "reason", reason.String())
		o.clearInflight(res.key)
	case transfer.Assembling:
		if !resp.IsLast {
			next := protocol.Request{Chunk: &protocol.ChunkRequest{
				TransferRequest: protocol.TransferRequest{
					Observer:     res.key.Observer,
					Path:         res.key.Path,
					ExpectedHash: resp.ExpectedHash,
				},
				Offset: resp.Offset + int64(len(resp.Data)),
			}}
			o.sendRequestAsync(ctx, res.peerID, res.key, next)
		}
	}
}

func (o *Orchestrator) clearInflight(key transfer.Key) {
	o.inflightMu.Lock()
	delete(o.inflight, key)
	o.inflightMu.Unlock()
}
