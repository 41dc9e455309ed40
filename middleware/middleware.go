// Package middleware implements the onion model middleware chain for the
// uni-worker's request dispatch, carried over from mini-RPC's
// reflect-dispatched service handler.
//
// Onion model execution order:
//
//	Chain(A, B, C)(handler)  →  A(B(C(handler)))
//
//	Request:   A.before → B.before → C.before → handler
//	Response:  handler → C.after → B.after → A.after
//
// Each middleware can:
//   - Do pre-processing (before calling next)
//   - Call next(ctx, req, reply) to pass to the next layer
//   - Do post-processing (after next returns)
//   - Short-circuit by returning early without calling next (e.g., rate limiting)
package middleware

import (
	"context"

	"github.com/xero-rpc/uniproto/message"
)

// ReplyFunc sends one reply frame for the request currently being
// dispatched. A handler may call it zero or more times with ReplyPartial,
// and is expected to call it exactly once with ReplyFinal or
// ReplyException before returning.
type ReplyFunc func(payload any, kind message.ReplyKind)

// HandlerFunc is the function signature for the worker's request
// handlers: the business handler and every middleware-wrapped handler
// share this signature.
type HandlerFunc func(ctx context.Context, req *message.Request, reply ReplyFunc)

// Middleware takes a handler and returns a new handler that wraps it.
type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes multiple middlewares into a single middleware, built
// right to left so the first middleware in the list is the outermost
// layer (executed first on request, last on response).
//
// Example:
//
//	chain := Chain(Logging, Recover, RateLimit)
//	handler := chain(businessHandler)
//	// Execution: Logging → Recover → RateLimit → businessHandler → RateLimit → Recover → Logging
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
