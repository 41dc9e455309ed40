package worker

import (
	"testing"
	"time"

	"github.com/xero-rpc/uniproto/codec"
	"github.com/xero-rpc/uniproto/message"
	"github.com/xero-rpc/uniproto/middleware"
	"github.com/xero-rpc/uniproto/protocol"
	"github.com/xero-rpc/uniproto/transport"
)

func newTestWorker(t *testing.T, handler Handler, opts ...Option) (*Peer, *transport.MemoryRouter) {
	t.Helper()
	router, dealer := transport.NewMemoryPair("worker-1")
	base := []Option{
		WithSocketFactory(func(string) (transport.Socket, error) { return dealer, nil }),
		WithHeartbeatInterval(20 * time.Millisecond),
		WithLiveness(3),
	}
	p, err := New("memory://test", handler, append(base, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	go p.Start()
	t.Cleanup(func() {
		p.Stop()
		router.Close()
	})
	return p, router
}

// recvFromWorker reads frames from router until one that isn't a bare
// HEARTBEAT arrives, since the worker ticks heartbeats on its own schedule
// independent of whatever a test is waiting for.
func recvFromWorker(t *testing.T, router *transport.MemoryRouter) (protocol.MsgType, [][]byte, string) {
	t.Helper()
	for {
		parts, err := router.Recv()
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		identity := string(parts[0])
		msgType, rest, err := protocol.ParseBareFrame(parts[1:])
		if err != nil {
			t.Fatalf("ParseBareFrame: %v", err)
		}
		if msgType == protocol.Heartbeat {
			continue
		}
		return msgType, rest, identity
	}
}

func sendToWorker(t *testing.T, router *transport.MemoryRouter, identity string, parts [][]byte) {
	t.Helper()
	framed := append([][]byte{[]byte(identity)}, parts...)
	if err := router.Send(framed); err != nil {
		t.Fatalf("Send: %v", err)
	}
}

func TestWorkerSendsReadyOnStart(t *testing.T) {
	_, router := newTestWorker(t, func(string, []any, map[string]any, middleware.ReplyFunc) {})
	msgType, _, _ := recvFromWorker(t, router)
	if msgType != protocol.Ready {
		t.Fatalf("msgType = %v, want READY", msgType)
	}
}

func TestWorkerBecomesConnectedAfterClientFrame(t *testing.T) {
	p, router := newTestWorker(t, func(string, []any, map[string]any, middleware.ReplyFunc) {})
	recvFromWorker(t, router) // READY

	if p.IsConnected() {
		t.Fatal("expected not connected before any client frame")
	}
	sendToWorker(t, router, "worker-1", protocol.ClientHeartbeatFrame())

	deadline := time.Now().Add(time.Second)
	for !p.IsConnected() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !p.IsConnected() {
		t.Fatal("expected connected after client heartbeat")
	}
}

func TestWorkerDispatchesRequestAndRepliesFinal(t *testing.T) {
	c := codec.New()
	handler := func(name string, args []any, kwargs map[string]any, reply middleware.ReplyFunc) {
		if name != "add" {
			t.Errorf("name = %q, want add", name)
		}
		reply(42, message.ReplyFinal)
	}
	_, router := newTestWorker(t, handler)
	recvFromWorker(t, router) // READY

	packedArgs, _ := c.Pack([]any{1, 2})
	packedKwargs, _ := c.Pack(map[string]any{})
	sendToWorker(t, router, "worker-1", protocol.ClientRequestFrame("add", packedArgs, packedKwargs))

	msgType, rest, _ := recvFromWorker(t, router)
	if msgType != protocol.FinalReply {
		t.Fatalf("msgType = %v, want FINAL_REPLY", msgType)
	}
	decoded, err := c.Unpack(rest[1])
	if err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	if asInt64(t, decoded) != 42 {
		t.Fatalf("decoded = %v, want 42", decoded)
	}
}

func asInt64(t *testing.T, v any) int64 {
	t.Helper()
	switch n := v.(type) {
	case int64:
		return n
	case int8:
		return int64(n)
	case int16:
		return int64(n)
	case int32:
		return int64(n)
	case uint64:
		return int64(n)
	default:
		t.Fatalf("value %v is not a recognized integer type: %T", v, v)
		return 0
	}
}

func TestWorkerStreamsPartialsBeforeFinal(t *testing.T) {
	c := codec.New()
	handler := func(name string, args []any, kwargs map[string]any, reply middleware.ReplyFunc) {
		reply("step1", message.ReplyPartial)
		reply("done", message.ReplyFinal)
	}
	_, router := newTestWorker(t, handler)
	recvFromWorker(t, router) // READY

	packedArgs, _ := c.Pack(nil)
	packedKwargs, _ := c.Pack(map[string]any{})
	sendToWorker(t, router, "worker-1", protocol.ClientRequestFrame("work", packedArgs, packedKwargs))

	msgType1, rest1, _ := recvFromWorker(t, router)
	if msgType1 != protocol.PartialReply {
		t.Fatalf("msgType1 = %v, want PARTIAL_REPLY", msgType1)
	}
	v1, _ := c.Unpack(rest1[1])
	if v1 != "step1" {
		t.Fatalf("v1 = %v, want step1", v1)
	}

	msgType2, rest2, _ := recvFromWorker(t, router)
	if msgType2 != protocol.FinalReply {
		t.Fatalf("msgType2 = %v, want FINAL_REPLY", msgType2)
	}
	v2, _ := c.Unpack(rest2[1])
	if v2 != "done" {
		t.Fatalf("v2 = %v, want done", v2)
	}
}

func TestWorkerHandlerPanicConvertsToExceptionViaRecoverMiddleware(t *testing.T) {
	c := codec.New()
	handler := func(string, []any, map[string]any, middleware.ReplyFunc) {
		panic("boom")
	}
	_, router := newTestWorker(t, handler, WithMiddleware(middleware.RecoverMiddleware()))
	recvFromWorker(t, router) // READY

	packedArgs, _ := c.Pack(nil)
	packedKwargs, _ := c.Pack(map[string]any{})
	sendToWorker(t, router, "worker-1", protocol.ClientRequestFrame("boom", packedArgs, packedKwargs))

	msgType, rest, _ := recvFromWorker(t, router)
	if msgType != protocol.Exception {
		t.Fatalf("msgType = %v, want EXCEPTION", msgType)
	}
	decoded, err := c.Unpack(rest[1])
	if err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	m, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("decoded = %v (%T), want map", decoded, decoded)
	}
	if m["class"] != "panic" {
		t.Fatalf("class = %v, want panic", m["class"])
	}
}

func TestWorkerEmit(t *testing.T) {
	c := codec.New()
	p, router := newTestWorker(t, func(string, []any, map[string]any, middleware.ReplyFunc) {})
	recvFromWorker(t, router) // READY
	sendToWorker(t, router, "worker-1", protocol.ClientHeartbeatFrame())

	deadline := time.Now().Add(time.Second)
	for !p.IsConnected() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !p.IsConnected() {
		t.Fatal("expected connected")
	}

	if err := p.Emit("tick"); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	msgType, rest, _ := recvFromWorker(t, router)
	if msgType != protocol.Emit {
		t.Fatalf("msgType = %v, want EMIT", msgType)
	}
	v, _ := c.Unpack(rest[1])
	if v != "tick" {
		t.Fatalf("v = %v, want tick", v)
	}
}

func TestWorkerEmitFailsWhenNotConnected(t *testing.T) {
	p, router := newTestWorker(t, func(string, []any, map[string]any, middleware.ReplyFunc) {})
	recvFromWorker(t, router) // READY

	if err := p.Emit("tick"); err == nil {
		t.Fatal("expected error emitting before handshake completes")
	}
}

func TestWorkerDisconnectsAfterHeartbeatLoss(t *testing.T) {
	p, router := newTestWorker(t, func(string, []any, map[string]any, middleware.ReplyFunc) {}, WithHeartbeatInterval(10*time.Millisecond), WithLiveness(2))
	recvFromWorker(t, router) // READY
	sendToWorker(t, router, "worker-1", protocol.ClientHeartbeatFrame())

	deadline := time.Now().Add(time.Second)
	for !p.IsConnected() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !p.IsConnected() {
		t.Fatal("expected connected")
	}

	deadline = time.Now().Add(time.Second)
	for p.IsConnected() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if p.IsConnected() {
		t.Fatal("expected disconnected after missed heartbeats")
	}
}
