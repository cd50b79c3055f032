// Package transport provides MSGPACK-RPC transport implementations.
package transport

import "context"

// Handler processes one encoded message and returns the encoded reply.
// A nil reply means nothing is sent back.
type Handler interface {
	HandleMessage(ctx context.Context, data []byte) []byte
}

// HandlerFunc is an adapter to allow ordinary functions as handlers.
type HandlerFunc func(ctx context.Context, data []byte) []byte

// HandleMessage calls f(ctx, data).
func (f HandlerFunc) HandleMessage(ctx context.Context, data []byte) []byte {
	return f(ctx, data)
}

// Transport defines the communication layer interface.
type Transport interface {
	// Serve starts the transport, blocking until ctx is canceled or an error occurs.
	Serve(ctx context.Context, handler Handler) error

	// Addr returns the transport's address description.
	Addr() string
}

// DefaultMaxMessageSize bounds a single encoded message.
const DefaultMaxMessageSize = 4 << 20
