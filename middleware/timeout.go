package middleware

import (
	"context"
	"time"

	"github.com/felixgeelhaar/msgpack-rpc/protocol"
)

// Timeout returns middleware that enforces a per-call deadline.
// Handlers observe it through ctx; a handler that ignores ctx still runs to
// completion.
func Timeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *protocol.Request) (any, error) {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, req)
		}
	}
}
