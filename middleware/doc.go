// Package middleware wraps MSGPACK-RPC method handlers.
//
// A Middleware receives the decoded request and the next handler in the
// chain. Whatever the chain returns is turned into a reply by the server:
// a result becomes a success reply and an error is mapped with
// protocol.CodeAndMessage. Notifications run through the same chain; their
// results are discarded.
//
//	chain := middleware.Chain(
//	    middleware.Recover(),
//	    middleware.RequestID(),
//	    middleware.Logging(logger),
//	)
//	handler := chain(baseHandler)
//
// # Available Middleware
//
//   - Recover: converts handler panics to internal errors
//   - RequestID: injects a trace id into the context
//   - Timeout: enforces a per-call deadline
//   - Logging: logs method, correlation id, duration and error code
//   - RateLimit: token bucket limiting, globally, per method or per peer
//   - OTel: OpenTelemetry spans and metrics
//
// DefaultStack and DefaultStackWithTimeout return the recommended order.
package middleware
