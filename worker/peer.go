// Package worker implements the uni-worker side of the point-to-point RPC
// runtime: a DEALER-connected peer that performs the READY handshake,
// answers REQUEST frames by running a user handler through a middleware
// chain, and emits unsolicited async messages.
package worker

import (
	"context"
	"log"
	"sync"

	"github.com/xero-rpc/uniproto/codec"
	"github.com/xero-rpc/uniproto/eventloop"
	"github.com/xero-rpc/uniproto/message"
	"github.com/xero-rpc/uniproto/middleware"
	"github.com/xero-rpc/uniproto/protocol"
	"github.com/xero-rpc/uniproto/transport"
	"github.com/xero-rpc/uniproto/xeroerr"
	"github.com/xero-rpc/uniproto/xsync"
)

// Handler answers one decoded request. It may call reply with
// message.ReplyPartial any number of times, and is expected to call it
// exactly once with message.ReplyFinal or message.ReplyException before
// returning. Long-running handlers must offload work to a goroutine of
// their own — reply is safe to call from any goroutine, so the offloaded
// work can call it once it's done, but the Handler call itself must not
// block the event loop.
type Handler func(name string, args []any, kwargs map[string]any, reply middleware.ReplyFunc)

// Peer is the uni-worker side of the runtime.
type Peer struct {
	endpoint string
	opts     options
	sock     transport.Socket
	loop     *eventloop.Loop
	codec    *codec.Codec
	chain    middleware.HandlerFunc

	// event-loop-goroutine-only state
	liveness         int
	handshakePending bool

	connected *xsync.Event

	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a Peer connected to endpoint, dispatching requests to
// handler through any middleware registered via Options.
func New(endpoint string, handler Handler, opts ...Option) (*Peer, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	sock, err := o.newSocket(endpoint)
	if err != nil {
		return nil, err
	}
	p := &Peer{
		endpoint:         endpoint,
		opts:             o,
		sock:             sock,
		loop:             eventloop.New(),
		codec:            codec.New(),
		liveness:         o.hbLiveness,
		handshakePending: true,
		connected:        xsync.NewEvent(),
	}
	base := func(ctx context.Context, req *message.Request, reply middleware.ReplyFunc) {
		handler(req.Method, req.Args, req.Kwargs, reply)
	}
	var chain middleware.HandlerFunc
	p.chain = func(ctx context.Context, req *message.Request, reply middleware.ReplyFunc) {
		// Built on the first dispatch, so middleware added with Use
		// before Start is part of the chain.
		if chain == nil {
			chain = middleware.Chain(p.opts.middlewares...)(base)
		}
		chain(ctx, req, reply)
	}
	return p, nil
}

// Use appends more middleware after construction. Must be called before
// Start; the chain is frozen once Start begins dispatching requests.
func (p *Peer) Use(mw middleware.Middleware) {
	p.opts.middlewares = append(p.opts.middlewares, mw)
}

// Start runs the event loop until Stop is called. Call it in its own
// goroutine, e.g. `go peer.Start()`.
func (p *Peer) Start() {
	p.wg.Add(1)
	go p.recvLoop()
	p.loop.Post(func() {
		p.sendReady()
		p.scheduleHeartbeat()
	})
	p.loop.Start()
	p.wg.Wait()
}

// Stop sends DISCONNECT, releases the loop, and closes the transport.
// Idempotent.
func (p *Peer) Stop() {
	p.stopOnce.Do(func() {
		done := make(chan struct{})
		p.loop.Post(func() {
			if err := p.sock.Send(protocol.WorkerDisconnectFrame()); err != nil {
				log.Printf("worker: failed to send disconnect: %v", err)
			}
			close(done)
		})
		select {
		case <-done:
		case <-p.loop.Done():
		}
		p.loop.Stop()
		<-p.loop.Done()
		p.sock.Close()
		p.wg.Wait()
	})
}

// IsConnected reports whether the handshake with the client is currently
// established (a READY, REQUEST, HEARTBEAT, or any other valid frame was
// seen recently enough to keep liveness positive).
func (p *Peer) IsConnected() bool {
	return p.connected.IsSet()
}

// SendReply sends one reply frame for whichever request is currently
// being answered. Safe to call from the handler itself or from any
// goroutine it spawns.
func (p *Peer) SendReply(payload any, kind message.ReplyKind) {
	p.loop.Post(func() {
		packed, err := p.codec.Pack(payload)
		if err != nil {
			log.Printf("worker: failed to encode reply payload: %v", err)
			return
		}
		mt := replyMsgType(kind)
		if err := p.sock.Send(protocol.WorkerReplyFrame(mt, packed)); err != nil {
			log.Printf("worker: failed to send reply: %v", err)
		}
	})
}

// Emit sends an unsolicited EMIT frame to the client. Returns
// xeroerr.ErrLostPeer immediately, without sending anything, if the
// handshake isn't currently established.
func (p *Peer) Emit(payload any) error {
	if !p.connected.IsSet() {
		return xeroerr.ErrLostPeer
	}
	p.loop.Post(func() {
		packed, err := p.codec.Pack(payload)
		if err != nil {
			log.Printf("worker: failed to encode emit payload: %v", err)
			return
		}
		if err := p.sock.Send(protocol.WorkerEmitFrame(packed)); err != nil {
			log.Printf("worker: failed to send emit: %v", err)
		}
	})
	return nil
}

func replyMsgType(kind message.ReplyKind) protocol.MsgType {
	switch kind {
	case message.ReplyPartial:
		return protocol.PartialReply
	case message.ReplyException:
		return protocol.Exception
	default:
		return protocol.FinalReply
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
	msgType, rest, err := protocol.ParseClientHeader(parts)
	if err != nil {
		log.Printf("worker: %v", err)
		return
	}

	p.liveness = p.opts.hbLiveness
	if p.handshakePending {
		p.handshakePending = false
		p.connected.Set()
	}

	switch msgType {
	case protocol.Request:
		p.onRequest(rest)
	case protocol.Heartbeat:
		// liveness already refreshed above; nothing else to do.
	case protocol.Disconnect:
		p.liveness = 0
		p.handshakePending = true
		p.connected.Clear()
	default:
		log.Printf("worker: unknown message type %v, dropping", msgType)
	}
}

func (p *Peer) onRequest(rest [][]byte) {
	if len(rest) < 3 {
		log.Printf("worker: malformed request frame, dropping")
		return
	}
	name := string(rest[0])
	argsAny, err := p.codec.Unpack(rest[1])
	if err != nil {
		log.Printf("worker: failed to decode args for %q: %v", name, err)
		return
	}
	kwargsAny, err := p.codec.Unpack(rest[2])
	if err != nil {
		log.Printf("worker: failed to decode kwargs for %q: %v", name, err)
		return
	}
	args, _ := argsAny.([]any)
	kwargs, _ := kwargsAny.(map[string]any)
	req := &message.Request{Method: name, Args: args, Kwargs: kwargs}
	p.chain(context.Background(), req, func(payload any, kind message.ReplyKind) {
		p.SendReply(payload, kind)
	})
}

func (p *Peer) sendReady() {
	if err := p.sock.Send(protocol.WorkerReadyFrame()); err != nil {
		log.Printf("worker: failed to send READY: %v", err)
	}
}

func (p *Peer) scheduleHeartbeat() {
	p.loop.ScheduleAfter(p.opts.hbInterval, p.onHeartbeatTick)
}

func (p *Peer) onHeartbeatTick() {
	// Decrementing at liveness==0 lets it go to -1, so the next tick's
	// "default" branch re-sends READY instead of re-declaring the
	// connection dead every tick.
	if p.liveness >= 0 {
		p.liveness--
	}
	switch {
	case p.liveness > 0:
		if err := p.sock.Send(protocol.WorkerHeartbeatFrame()); err != nil {
			log.Printf("worker: heartbeat send failed: %v", err)
		}
	case p.liveness == 0:
		if !p.handshakePending {
			p.handshakePending = true
			p.connected.Clear()
		}
	default:
		p.sendReady()
	}
	p.scheduleHeartbeat()
}
