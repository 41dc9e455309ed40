// Package client implements the uni-client side of the point-to-point
// RPC runtime: a ROUTER-bound peer that accepts exactly one worker
// connection and drives request/reply RPC, streamed partial replies, and
// inbound async emits against it.
package client

import (
	"log"
	"sync"
	"time"

	"github.com/xero-rpc/uniproto/codec"
	"github.com/xero-rpc/uniproto/eventloop"
	"github.com/xero-rpc/uniproto/message"
	"github.com/xero-rpc/uniproto/protocol"
	"github.com/xero-rpc/uniproto/transport"
	"github.com/xero-rpc/uniproto/xeroerr"
	"github.com/xero-rpc/uniproto/xsync"
)

// peerRecord tracks the single connected worker. It is only ever touched
// from the event loop goroutine.
type peerRecord struct {
	identity string
	liveness int
}

type replyMsg struct {
	value any
	err   error
}

// Peer is the uni-client side of the runtime. Exactly one worker may be
// registered to it at a time, per the protocol's single-peer invariant.
type Peer struct {
	endpoint string
	opts     options
	sock     transport.Socket
	loop     *eventloop.Loop
	codec    *codec.Codec

	// event-loop-goroutine-only state
	peer         *peerRecord
	pendingReply chan replyMsg

	// cross-goroutine state
	callMu    sync.Mutex
	connected *xsync.Event
	emitCh    chan any

	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a Peer bound to endpoint. The Peer does not start accepting
// traffic until Start is called.
func New(endpoint string, opts ...Option) (*Peer, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	sock, err := o.newSocket(endpoint)
	if err != nil {
		return nil, err
	}
	return &Peer{
		endpoint:  endpoint,
		opts:      o,
		sock:      sock,
		loop:      eventloop.New(),
		codec:     codec.New(),
		connected: xsync.NewEvent(),
		emitCh:    make(chan any, 256),
	}, nil
}

// Start runs the event loop until Stop is called. Call it in its own
// goroutine, e.g. `go peer.Start()`.
func (p *Peer) Start() {
	p.wg.Add(1)
	go p.recvLoop()
	p.loop.Post(p.scheduleHeartbeat)
	p.loop.Start()
	p.wg.Wait()
}

// Stop releases the loop and the transport. Idempotent.
func (p *Peer) Stop() {
	p.stopOnce.Do(func() {
		p.loop.Stop()
		<-p.loop.Done()
		p.sock.Close()
		p.wg.Wait()
	})
}

// IsConnected reports, without blocking, whether a worker is currently
// registered.
func (p *Peer) IsConnected() bool {
	return p.connected.IsSet()
}

// WaitForConnected blocks until a worker registers or timeout elapses.
func (p *Peer) WaitForConnected(timeout time.Duration) error {
	if p.connected.Wait(timeout) {
		return nil
	}
	return xeroerr.ErrLostPeer
}

// RPC sends a REQUEST and blocks for its terminal reply. Only one RPC may
// be in flight at a time; concurrent callers serialize on callMu, mirroring
// the protocol's single pending-call-slot invariant. A timeout of zero or
// less falls back to the Peer's configured default (see WithDefaultTimeout).
func (p *Peer) RPC(method string, args []any, kwargs map[string]any, timeout time.Duration) (any, error) {
	if timeout <= 0 {
		timeout = p.opts.rpcTimeout
	}
	p.callMu.Lock()
	defer p.callMu.Unlock()

	replyCh := make(chan replyMsg, 1)
	sendErrCh := make(chan error, 1)
	p.loop.Post(func() {
		if p.peer == nil {
			sendErrCh <- xeroerr.ErrLostPeer
			return
		}
		packedArgs, err := p.codec.Pack(args)
		if err != nil {
			sendErrCh <- err
			return
		}
		packedKwargs, err := p.codec.Pack(kwargs)
		if err != nil {
			sendErrCh <- err
			return
		}
		frame := prepend(p.peer.identity, protocol.ClientRequestFrame(method, packedArgs, packedKwargs))
		if err := p.sock.Send(frame); err != nil {
			sendErrCh <- err
			return
		}
		p.pendingReply = replyCh
		sendErrCh <- nil
	})

	if err := <-sendErrCh; err != nil {
		return nil, err
	}

	select {
	case r := <-replyCh:
		if r.err != nil {
			return nil, r.err
		}
		return r.value, nil
	case <-time.After(timeout):
		done := make(chan struct{})
		p.loop.Post(func() {
			p.unregisterPeer()
			p.pendingReply = nil
			close(done)
		})
		<-done
		return nil, xeroerr.ErrLostPeer
	}
}

// GetEmit blocks until one EMIT payload arrives or timeout elapses.
func (p *Peer) GetEmit(timeout time.Duration) (any, error) {
	select {
	case v := <-p.emitCh:
		return v, nil
	case <-time.After(timeout):
		return nil, xeroerr.ErrTimeout
	}
}

// DrainEmits repeatedly calls GetEmit with timeout until one call fails,
// returning everything collected.
func (p *Peer) DrainEmits(timeout time.Duration) []any {
	var out []any
	for {
		v, err := p.GetEmit(timeout)
		if err != nil {
			return out
		}
		out = append(out, v)
	}
}

func (p *Peer) recvLoop() {
	defer p.wg.Done()
	for {
		parts, err := p.sock.Recv()
		if err != nil {
			return
		}
		frame := parts
		p.loop.Post(func() { p.handleInbound(frame) })
	}
}

func (p *Peer) handleInbound(parts [][]byte) {
	if len(parts) < 2 {
		log.Printf("client: short inbound frame, dropping")
		return
	}
	identity := string(parts[0])
	msgType, rest, err := protocol.ParseBareFrame(parts[1:])
	if err != nil {
		log.Printf("client: %v", err)
		return
	}
	switch msgType {
	case protocol.Ready:
		p.onReady(identity)
	case protocol.PartialReply:
		p.onPartialReply(rest)
	case protocol.FinalReply, protocol.Exception:
		p.onFinalReply(identity, msgType, rest)
	case protocol.Emit:
		p.onEmit(rest)
	case protocol.Heartbeat:
		p.onHeartbeat(identity)
	case protocol.Disconnect:
		p.onDisconnect(identity)
	default:
		log.Printf("client: unknown message type %v from %q, dropping", msgType, identity)
	}
}

func (p *Peer) onReady(identity string) {
	if p.peer == nil {
		p.peer = &peerRecord{identity: identity, liveness: p.opts.hbLiveness}
		p.connected.Set()
		return
	}
	if p.peer.identity == identity {
		return
	}
	log.Printf("client: ignoring READY from %q, already connected to %q", identity, p.peer.identity)
}

func (p *Peer) onPartialReply(rest [][]byte) {
	if len(rest) < 2 {
		log.Printf("client: malformed partial reply, dropping")
		return
	}
	decoded, err := p.codec.Unpack(rest[1])
	if err != nil {
		log.Printf("client: failed to decode partial reply, delivering raw bytes: %v", err)
		if p.opts.onPartial != nil {
			p.opts.onPartial(rest[1])
		}
		return
	}
	if p.opts.onPartial != nil {
		p.opts.onPartial(decoded)
	}
}

func (p *Peer) onFinalReply(identity string, msgType protocol.MsgType, rest [][]byte) {
	// Strict identity check: a reply from any worker other than the one
	// currently registered is discarded.
	if p.peer == nil || p.peer.identity != identity {
		log.Printf("client: final reply from unknown worker %q, discarding", identity)
		return
	}
	p.peer.liveness = p.opts.hbLiveness
	if len(rest) < 2 {
		p.deliverReply(replyMsg{err: &protocol.ErrShortFrame{Context: "final reply", Got: len(rest)}})
		return
	}
	decoded, err := p.codec.Unpack(rest[1])
	if err != nil {
		p.deliverReply(replyMsg{err: err})
		return
	}
	if msgType == protocol.Exception {
		p.deliverReply(replyMsg{err: remoteErrorFrom(decoded)})
		return
	}
	p.deliverReply(replyMsg{value: decoded})
}

func (p *Peer) onEmit(rest [][]byte) {
	// Looser check than onFinalReply: liveness refreshes for an EMIT from
	// any registered peer without re-verifying its identity (see
	// DESIGN.md Open Question).
	if p.peer != nil {
		p.peer.liveness = p.opts.hbLiveness
	}
	if len(rest) < 2 {
		log.Printf("client: malformed emit, dropping")
		return
	}
	decoded, err := p.codec.Unpack(rest[1])
	if err != nil {
		log.Printf("client: failed to decode emit: %v", err)
		return
	}
	select {
	case p.emitCh <- decoded:
	default:
		log.Printf("client: emit queue full, dropping message")
	}
}

func (p *Peer) onHeartbeat(identity string) {
	if p.peer == nil {
		return
	}
	if p.peer.identity == identity {
		p.peer.liveness = p.opts.hbLiveness
		return
	}
	log.Printf("client: heartbeat from unknown worker %q, dropping", identity)
}

func (p *Peer) onDisconnect(identity string) {
	if p.peer != nil && p.peer.identity == identity {
		p.unregisterPeer()
	}
}

func (p *Peer) deliverReply(r replyMsg) {
	if p.pendingReply == nil {
		return
	}
	select {
	case p.pendingReply <- r:
	default:
	}
	p.pendingReply = nil
}

func (p *Peer) unregisterPeer() {
	p.peer = nil
	p.connected.Clear()
}

func (p *Peer) scheduleHeartbeat() {
	p.loop.ScheduleAfter(p.opts.hbInterval, p.onHeartbeatTick)
}

func (p *Peer) onHeartbeatTick() {
	if p.peer != nil {
		p.peer.liveness--
		if p.peer.liveness <= 0 {
			p.unregisterPeer()
		} else {
			frame := prepend(p.peer.identity, protocol.ClientHeartbeatFrame())
			if err := p.sock.Send(frame); err != nil {
				log.Printf("client: heartbeat send failed: %v", err)
			}
		}
	}
	p.scheduleHeartbeat()
}

func remoteErrorFrom(v any) *xeroerr.RemoteError {
	if exc, ok := v.(message.RemoteException); ok {
		return &xeroerr.RemoteError{Class: exc.Class, Message: exc.Message, Traceback: exc.Traceback}
	}
	m, _ := v.(map[string]any)
	get := func(k string) string {
		s, _ := m[k].(string)
		return s
	}
	return &xeroerr.RemoteError{Class: get("class"), Message: get("message"), Traceback: get("traceback")}
}

func prepend(identity string, parts [][]byte) [][]byte {
	out := make([][]byte, 0, len(parts)+1)
	out = append(out, []byte(identity))
	out = append(out, parts...)
	return out
}
