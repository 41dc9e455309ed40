package worker

import (
	"time"

	"github.com/xero-rpc/uniproto/middleware"
	"github.com/xero-rpc/uniproto/protocol"
	"github.com/xero-rpc/uniproto/transport"
)

type options struct {
	hbInterval   time.Duration
	hbLiveness   int
	middlewares  []middleware.Middleware
	newSocket    func(endpoint string) (transport.Socket, error)
}

func defaultOptions() options {
	return options{
		hbInterval: protocol.HBInterval,
		hbLiveness: protocol.HBLiveness,
		newSocket: func(endpoint string) (transport.Socket, error) {
			return transport.NewDealerTransport(endpoint)
		},
	}
}

// Option configures a Peer at construction time.
type Option func(*options)

// WithHeartbeatInterval overrides the default heartbeat tick interval.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(o *options) { o.hbInterval = d }
}

// WithLiveness overrides the default liveness threshold.
func WithLiveness(n int) Option {
	return func(o *options) { o.hbLiveness = n }
}

// WithMiddleware appends middleware to the dispatch chain, applied
// outermost-first in the order given across all WithMiddleware calls.
func WithMiddleware(mw ...middleware.Middleware) Option {
	return func(o *options) { o.middlewares = append(o.middlewares, mw...) }
}

// WithRateLimit is shorthand for WithMiddleware(middleware.RateLimitMiddleware(r, burst)).
func WithRateLimit(r float64, burst int) Option {
	return func(o *options) { o.middlewares = append(o.middlewares, middleware.RateLimitMiddleware(r, burst)) }
}

// WithSocketFactory overrides how the Peer obtains its transport.Socket,
// primarily for tests.
func WithSocketFactory(factory func(endpoint string) (transport.Socket, error)) Option {
	return func(o *options) { o.newSocket = factory }
}
