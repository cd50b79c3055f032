// Package transport provides MSGPACK-RPC transport implementations.
//
// Transports move encoded messages between peers and hand each one to a
// Handler, which returns the encoded reply or nil when nothing may be sent
// back. The server package's Server is the usual Handler.
//
// # Stream Transports
//
// MessagePack objects are self-delimiting, so stream transports need no
// extra framing: requests and replies are written back to back. NewStdio
// serves stdin/stdout, NewTCP accepts TCP connections and ServeConn serves a
// single net.Conn:
//
//	t := transport.NewTCP(":9000")
//	err := t.Serve(ctx, srv)
//
// # HTTP Transport
//
// Every POST to the endpoint (default /rpc) carries one message with
// Content-Type application/msgpack. Calls are answered with 200 and the
// encoded reply; notifications with 204 No Content.
//
//	t := transport.NewHTTP(":8080",
//	    transport.WithReadTimeout(30*time.Second),
//	    transport.WithMaxMessageSize(1<<20),
//	)
//	err := t.Serve(ctx, srv)
//
// GET /health reports liveness.
//
// # WebSocket Transport
//
// Each binary WebSocket message carries one message; replies are sent on
// the same connection, possibly out of order with respect to other calls.
package transport
