package middleware

import (
	"context"
	"fmt"
	"runtime"

	"github.com/xero-rpc/uniproto/message"
)

// RecoverMiddleware recovers a handler panic and converts it into an
// EXCEPTION reply instead of tearing down the worker, generalizing the
// "handler exceptions are captured and sent as an EXCEPTION frame" rule
// to Go's panic/recover idiom alongside handlers that just return
// normally after calling reply themselves.
func RecoverMiddleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request, reply ReplyFunc) {
			defer func() {
				if r := recover(); r != nil {
					buf := make([]byte, 4096)
					n := runtime.Stack(buf, false)
					reply(map[string]any{
						"class":     "panic",
						"message":   fmt.Sprint(r),
						"traceback": string(buf[:n]),
					}, message.ReplyException)
				}
			}()
			next(ctx, req, reply)
		}
	}
}
