package client

import (
	"time"

	"github.com/xero-rpc/uniproto/protocol"
	"github.com/xero-rpc/uniproto/transport"
)

type options struct {
	hbInterval time.Duration
	hbLiveness int
	rpcTimeout time.Duration
	onPartial  func(any)
	newSocket  func(endpoint string) (transport.Socket, error)
}

func defaultOptions() options {
	return options{
		hbInterval: protocol.HBInterval,
		hbLiveness: protocol.HBLiveness,
		rpcTimeout: protocol.RPCTimeout,
		newSocket: func(endpoint string) (transport.Socket, error) {
			return transport.NewRouterTransport(endpoint)
		},
	}
}

// Option configures a Peer at construction time.
type Option func(*options)

// WithPartialHandler registers a callback invoked (on the event loop
// goroutine) for every PARTIAL_REPLY received. Without one, partial
// replies are decoded and then discarded.
func WithPartialHandler(fn func(any)) Option {
	return func(o *options) { o.onPartial = fn }
}

// WithHeartbeatInterval overrides the default heartbeat tick interval.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(o *options) { o.hbInterval = d }
}

// WithLiveness overrides the default liveness threshold (ticks tolerated
// before declaring the peer lost).
func WithLiveness(n int) Option {
	return func(o *options) { o.hbLiveness = n }
}

// WithDefaultTimeout overrides the RPC timeout used when a caller passes
// zero or a negative duration to Peer.RPC.
func WithDefaultTimeout(d time.Duration) Option {
	return func(o *options) { o.rpcTimeout = d }
}

// WithSocketFactory overrides how the Peer obtains its transport.Socket,
// primarily for tests that want an in-memory transport.Socket instead of
// a real ZeroMQ ROUTER.
func WithSocketFactory(factory func(endpoint string) (transport.Socket, error)) Option {
	return func(o *options) { o.newSocket = factory }
}
