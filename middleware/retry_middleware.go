package middleware

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/xero-rpc/uniproto/message"
)

// RetryMiddleware re-invokes the handler when its terminal reply is a
// ReplyException whose message looks transient, up to maxRetries times
// with exponential backoff.
//
// The worker's HandlerFunc has no return value, so retrying means
// intercepting the reply the handler sends rather than one it returns.
// Partial replies are forwarded immediately regardless of attempt, since
// they're progress reports, not outcomes to retry on — a retried
// attempt's partials were already delivered to the caller.
func RetryMiddleware(maxRetries int, baseDelay time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request, reply ReplyFunc) {
			for i := 0; ; i++ {
				kind, payload := runOnce(ctx, req, next, reply)
				if kind != message.ReplyException || !isRetryable(payload) || i >= maxRetries {
					reply(payload, kind)
					return
				}
				log.Printf("Retry attempt %d for %s due to transient error", i+1, req.Method)
				time.Sleep(baseDelay * time.Duration(1<<i)) // Exponential backoff
			}
		}
	}
}

func runOnce(ctx context.Context, req *message.Request, next HandlerFunc, reply ReplyFunc) (message.ReplyKind, any) {
	var kind message.ReplyKind
	var payload any
	next(ctx, req, func(p any, k message.ReplyKind) {
		if k == message.ReplyPartial {
			reply(p, k)
			return
		}
		kind, payload = k, p
	})
	return kind, payload
}

func isRetryable(payload any) bool {
	m, ok := payload.(map[string]any)
	if !ok {
		return false
	}
	msg, _ := m["message"].(string)
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "connection refused")
}
