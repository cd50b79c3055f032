package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/msgpack-rpc/protocol"
)

type contextKey string

const requestIDKey contextKey = "requestID"

// RequestID returns middleware that injects a trace id into the context.
// The trace id is independent of the wire correlation id: notifications get
// one too. An id already present in the context is preserved.
func RequestID() Middleware {
	return RequestIDWithGenerator(uuid.NewString)
}

// RequestIDWithGenerator returns middleware that uses a custom ID generator.
func RequestIDWithGenerator(generator func() string) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *protocol.Request) (any, error) {
			if existing := RequestIDFromContext(ctx); existing != "" {
				return next(ctx, req)
			}
			return next(ContextWithRequestID(ctx, generator()), req)
		}
	}
}

// RequestIDFromContext returns the request ID from the context, or empty string if not set.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// ContextWithRequestID returns a new context with the request ID set.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}
