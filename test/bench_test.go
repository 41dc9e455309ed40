package test

import (
	"testing"
	"time"

	"github.com/xero-rpc/uniproto/client"
	"github.com/xero-rpc/uniproto/codec"
	"github.com/xero-rpc/uniproto/message"
	"github.com/xero-rpc/uniproto/middleware"
	"github.com/xero-rpc/uniproto/transport"
	"github.com/xero-rpc/uniproto/worker"
)

func setupBenchPair(b *testing.B) *client.Peer {
	b.Helper()
	router, dealer := transport.NewMemoryPair("worker-1")
	c, err := client.New("memory://bench",
		client.WithSocketFactory(func(string) (transport.Socket, error) { return router, nil }),
	)
	if err != nil {
		b.Fatalf("client.New: %v", err)
	}
	w, err := worker.New("memory://bench",
		func(name string, args []any, kwargs map[string]any, reply middleware.ReplyFunc) {
			reply(args, message.ReplyFinal)
		},
		worker.WithSocketFactory(func(string) (transport.Socket, error) { return dealer, nil }),
	)
	if err != nil {
		b.Fatalf("worker.New: %v", err)
	}
	go c.Start()
	go w.Start()
	b.Cleanup(func() { c.Stop(); w.Stop() })
	if err := c.WaitForConnected(time.Second); err != nil {
		b.Fatalf("WaitForConnected: %v", err)
	}
	return c
}

// BenchmarkSerialRPC measures single-goroutine request/reply throughput
// over the in-memory transport. There is only ever one pending call at a
// time by design, so this is not a multiplexed-connection benchmark.
func BenchmarkSerialRPC(b *testing.B) {
	c := setupBenchPair(b)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := c.RPC("echo", []any{1, 2}, nil, time.Second); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkCodecPack measures msgpack pack/unpack cost for a representative
// payload.
func BenchmarkCodecPack(b *testing.B) {
	c := codec.New()
	payload := map[string]any{"a": 1, "b": 2, "op": "add"}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		data, err := c.Pack(payload)
		if err != nil {
			b.Fatal(err)
		}
		if _, err := c.Unpack(data); err != nil {
			b.Fatal(err)
		}
	}
}
