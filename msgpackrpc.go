// Package msgpackrpc provides a framework for building MSGPACK-RPC servers
// and clients.
//
// MSGPACK-RPC messages are MessagePack arrays: a call is [0, id, method, args],
// a notification is [2, method, args] and a reply is [1, id, error, result].
// This package ties together:
//   - the wire codec and error taxonomy (package protocol)
//   - a method dispatcher with middleware chains (package server)
//   - stream, TCP, HTTP and WebSocket transports (package transport)
//   - a client with pluggable transports (package client)
//
// Basic usage:
//
//	srv := msgpackrpc.NewServer()
//	srv.Register("add", func(ctx context.Context, args []any) (any, error) {
//	    a, err := server.Int(args, 0)
//	    if err != nil {
//	        return nil, err
//	    }
//	    b, err := server.Int(args, 1)
//	    if err != nil {
//	        return nil, err
//	    }
//	    return a + b, nil
//	})
//
//	msgpackrpc.ServeTCP(ctx, srv, ":18800")
package msgpackrpc

import (
	"context"
	"time"

	"github.com/felixgeelhaar/msgpack-rpc/client"
	"github.com/felixgeelhaar/msgpack-rpc/middleware"
	"github.com/felixgeelhaar/msgpack-rpc/protocol"
	"github.com/felixgeelhaar/msgpack-rpc/server"
	"github.com/felixgeelhaar/msgpack-rpc/transport"
)

// Re-export core types for convenience

// Server dispatches MSGPACK-RPC requests to registered methods.
type Server = server.Server

// Method is a registered server method.
type Method = server.Method

// Option configures a Server.
type Option = server.Option

// Client calls methods on a remote server.
type Client = client.Client

// ClientOption configures a Client.
type ClientOption = client.Option

// Protocol types
type Protocol = protocol.Protocol
type Request = protocol.Request
type Response = protocol.Response
type Error = protocol.Error

// Error codes.
const (
	CodeParseError     = protocol.CodeParseError
	CodeInvalidRequest = protocol.CodeInvalidRequest
	CodeMethodNotFound = protocol.CodeMethodNotFound
	CodeInvalidParams  = protocol.CodeInvalidParams
	CodeInternalError  = protocol.CodeInternalError
	CodeServerError    = protocol.CodeServerError
	CodeUnauthorized   = protocol.CodeUnauthorized
	CodeRateLimited    = protocol.CodeRateLimited
)

// Error constructors re-exported for method implementations.
var (
	NewInvalidParams = protocol.NewInvalidParams
	NewInternalError = protocol.NewInternalError
	NewServerError   = protocol.NewServerError
)

// NewProtocol creates a protocol facade for building and parsing messages.
var NewProtocol = protocol.New

// Middleware types
type Middleware = middleware.Middleware
type MiddlewareHandlerFunc = middleware.HandlerFunc
type Logger = middleware.Logger
type LogField = middleware.Field
type RateLimitOption = middleware.RateLimitOption
type OTelOption = middleware.OTelOption
type Identity = middleware.Identity
type Authenticator = middleware.Authenticator
type AuthOption = middleware.AuthOption

// RateLimit re-exports for convenience.
var (
	RateLimit            = middleware.RateLimit
	RateLimitByMethod    = middleware.RateLimitByMethod
	RateLimitByPeer      = middleware.RateLimitByPeer
	WithRateLimitKeyFunc = middleware.WithRateLimitKeyFunc
	WithRateLimitLogger  = middleware.WithRateLimitLogger
)

// Auth re-exports for convenience.
var (
	Auth                     = middleware.Auth
	APIKeyAuthenticator      = middleware.APIKeyAuthenticator
	BearerTokenAuthenticator = middleware.BearerTokenAuthenticator
	ChainAuthenticators      = middleware.ChainAuthenticators
	StaticAPIKeys            = middleware.StaticAPIKeys
	StaticTokens             = middleware.StaticTokens
	IdentityFromContext      = middleware.IdentityFromContext
	WithAuthSkipMethods      = middleware.WithAuthSkipMethods
	WithAuthErrorMessage     = middleware.WithAuthErrorMessage
	WithAuthLogger           = middleware.WithAuthLogger
)

// OTel re-exports for convenience.
var (
	OTel               = middleware.OTel
	WithTracerProvider = middleware.WithTracerProvider
	WithMeterProvider  = middleware.WithMeterProvider
)

// HTTPOption configures the HTTP transport.
type HTTPOption = transport.HTTPOption

// WebSocketOption configures the WebSocket transport.
type WebSocketOption = transport.WebSocketOption

// ServeOption configures how the server is run.
type ServeOption func(*serveOptions)

type serveOptions struct {
	middleware []Middleware
	logger     Logger
}

// WithMiddleware adds middleware to the server's chain before serving.
func WithMiddleware(m ...Middleware) ServeOption {
	return func(o *serveOptions) {
		o.middleware = append(o.middleware, m...)
	}
}

// WithLogger sets the logger used by the transport.
func WithLogger(l Logger) ServeOption {
	return func(o *serveOptions) {
		o.logger = l
	}
}

func newServeOptions(srv *Server, opts []ServeOption) *serveOptions {
	options := &serveOptions{logger: middleware.NopLogger{}}
	for _, opt := range opts {
		opt(options)
	}
	if len(options.middleware) > 0 {
		srv.Use(options.middleware...)
	}
	return options
}

// NewServer creates a new server with the given options.
func NewServer(opts ...Option) *Server {
	return server.New(opts...)
}

// ServeStdio runs the server on stdin and stdout.
// This blocks until the context is canceled, stdin ends or an error occurs.
func ServeStdio(ctx context.Context, srv *Server, opts ...ServeOption) error {
	options := newServeOptions(srv, opts)
	t := transport.NewStdio(transport.WithStreamLogger(options.logger))
	return t.Serve(ctx, srv)
}

// ServeTCP runs the server on a TCP listener, one stream per connection.
// This blocks until the context is canceled or an error occurs.
func ServeTCP(ctx context.Context, srv *Server, addr string, opts ...ServeOption) error {
	options := newServeOptions(srv, opts)
	t := transport.NewTCP(addr, transport.WithStreamLogger(options.logger))
	return t.Serve(ctx, srv)
}

// ServeHTTP runs the server using HTTP transport, one message per POST.
// This blocks until the context is canceled or an error occurs.
func ServeHTTP(ctx context.Context, srv *Server, addr string, opts ...HTTPOption) error {
	t := transport.NewHTTP(addr, opts...)
	return t.Serve(ctx, srv)
}

// ServeHTTPWithMiddleware runs the server using HTTP transport with middleware support.
func ServeHTTPWithMiddleware(ctx context.Context, srv *Server, addr string, httpOpts []HTTPOption, serveOpts ...ServeOption) error {
	options := newServeOptions(srv, serveOpts)
	httpOpts = append([]HTTPOption{transport.WithHTTPLogger(options.logger)}, httpOpts...)
	return ServeHTTP(ctx, srv, addr, httpOpts...)
}

// WithReadTimeout sets the read timeout for HTTP requests.
func WithReadTimeout(d time.Duration) HTTPOption {
	return transport.WithReadTimeout(d)
}

// WithWriteTimeout sets the write timeout for HTTP responses.
func WithWriteTimeout(d time.Duration) HTTPOption {
	return transport.WithWriteTimeout(d)
}

// ServeWebSocket runs the server using WebSocket transport.
// This blocks until the context is canceled or an error occurs.
func ServeWebSocket(ctx context.Context, srv *Server, addr string, opts ...WebSocketOption) error {
	t := transport.NewWebSocket(addr, opts...)
	return t.Serve(ctx, srv)
}

// ServeWebSocketWithMiddleware runs the server using WebSocket transport with middleware support.
func ServeWebSocketWithMiddleware(ctx context.Context, srv *Server, addr string, wsOpts []WebSocketOption, serveOpts ...ServeOption) error {
	options := newServeOptions(srv, serveOpts)
	wsOpts = append([]WebSocketOption{transport.WithWebSocketLogger(options.logger)}, wsOpts...)
	return ServeWebSocket(ctx, srv, addr, wsOpts...)
}

// WithWebSocketReadTimeout sets the read timeout for WebSocket messages.
func WithWebSocketReadTimeout(d time.Duration) WebSocketOption {
	return transport.WithWebSocketReadTimeout(d)
}

// WithWebSocketWriteTimeout sets the write timeout for WebSocket messages.
func WithWebSocketWriteTimeout(d time.Duration) WebSocketOption {
	return transport.WithWebSocketWriteTimeout(d)
}

// Dial connects a client to a TCP server.
func Dial(ctx context.Context, addr string, opts ...ClientOption) (*Client, error) {
	t, err := client.Dial(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return client.New(t, opts...), nil
}

// DialHTTP creates a client posting to url.
func DialHTTP(url string, opts ...ClientOption) *Client {
	return client.New(client.NewHTTPTransport(url), opts...)
}

// DialWebSocket connects a client to a WebSocket server.
func DialWebSocket(ctx context.Context, url string, opts ...ClientOption) (*Client, error) {
	t, err := client.DialWebSocket(ctx, url)
	if err != nil {
		return nil, err
	}
	return client.New(t, opts...), nil
}

// Middleware re-exports

// Chain composes multiple middleware into a single middleware.
func Chain(middlewares ...Middleware) Middleware {
	return middleware.Chain(middlewares...)
}

// Recover returns middleware that catches panics and converts them to internal errors.
func Recover() Middleware {
	return middleware.Recover()
}

// RecoverWithHandler returns middleware that catches panics and calls the provided handler.
func RecoverWithHandler(handler middleware.PanicHandler) Middleware {
	return middleware.RecoverWithHandler(handler)
}

// Timeout returns middleware that enforces a request deadline.
func Timeout(d time.Duration) Middleware {
	return middleware.Timeout(d)
}

// RequestID returns middleware that injects a unique request ID into the context.
func RequestID() Middleware {
	return middleware.RequestID()
}

// RequestIDFromContext returns the request ID from the context, or empty string if not set.
func RequestIDFromContext(ctx context.Context) string {
	return middleware.RequestIDFromContext(ctx)
}

// Logging returns middleware that logs request details.
func Logging(logger Logger) Middleware {
	return middleware.Logging(logger)
}

// DefaultMiddleware returns the recommended production middleware stack.
func DefaultMiddleware(logger Logger) []Middleware {
	return middleware.DefaultStack(logger)
}

// DefaultMiddlewareWithTimeout returns the default stack with a timeout middleware.
func DefaultMiddlewareWithTimeout(logger Logger, timeout time.Duration) []Middleware {
	return middleware.DefaultStackWithTimeout(logger, timeout)
}

// LogF creates a new log field with the given key and value.
func LogF(key string, value any) LogField {
	return middleware.F(key, value)
}
