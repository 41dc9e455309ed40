package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/xero-rpc/uniproto/message"
)

// TimeOutMiddleware enforces a maximum duration for the handler. If it
// hasn't sent a terminal reply (ReplyFinal or ReplyException) within
// timeout, a synthetic EXCEPTION reply is sent immediately instead.
//
// Implementation:
//  1. Create a context with timeout (ctx.Done() fires when timeout expires)
//  2. Run the next handler in a goroutine, watching for its terminal reply
//  3. Select between that signal and ctx.Done()
//
// Note: the handler goroutine is NOT cancelled — it continues running in
// the background, and if it calls reply after this middleware already
// sent the timeout reply, that later call still reaches the real
// ReplyFunc. For true cancellation, the handler must check ctx.Done()
// internally. Using this middleware also means the handler no longer
// runs on the event loop goroutine, which is the offload pattern the
// worker's "handler must not block the loop" rule calls for.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request, reply ReplyFunc) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan struct{})
			var once sync.Once
			go next(ctx, req, func(payload any, kind message.ReplyKind) {
				reply(payload, kind)
				if kind != message.ReplyPartial {
					once.Do(func() { close(done) })
				}
			})

			select {
			case <-done:
			case <-ctx.Done():
				reply(map[string]any{
					"class":   "Timeout",
					"message": "request timed out",
				}, message.ReplyException)
			}
		}
	}
}
