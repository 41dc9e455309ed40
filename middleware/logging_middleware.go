package middleware

import (
	"context"
	"log"
	"time"

	"github.com/xero-rpc/uniproto/message"
)

// LoggingMiddleware records the method name, duration, and terminal reply
// kind for each request. It captures the start time before calling next,
// and logs once the terminal reply (ReplyFinal or ReplyException) has
// been observed.
//
// Example output:
//
//	method=add duration=42µs kind=final
func LoggingMiddleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request, reply ReplyFunc) {
			start := time.Now()
			next(ctx, req, func(payload any, kind message.ReplyKind) {
				if kind != message.ReplyPartial {
					log.Printf("method=%s duration=%s kind=%s", req.Method, time.Since(start), kind)
				}
				reply(payload, kind)
			})
		}
	}
}
