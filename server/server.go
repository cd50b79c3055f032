// Package server provides a MSGPACK-RPC method dispatcher.
package server

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/felixgeelhaar/msgpack-rpc/middleware"
	"github.com/felixgeelhaar/msgpack-rpc/protocol"
)

// Method is the signature of a registered method. Args are the positional
// arguments as decoded from the wire.
type Method func(ctx context.Context, args []any) (any, error)

// Option configures a Server.
type Option func(*Server)

// WithMiddleware adds middleware to the request handling chain.
func WithMiddleware(m ...middleware.Middleware) Option {
	return func(s *Server) {
		s.middleware = append(s.middleware, m...)
	}
}

// WithLogger sets the logger used for messages rejected before dispatch and
// for replies that cannot be encoded.
func WithLogger(l middleware.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// Server is a MSGPACK-RPC method registry and dispatcher.
// It is safe for concurrent use.
type Server struct {
	mu sync.RWMutex

	methods    map[string]Method
	middleware []middleware.Middleware
	logger     middleware.Logger
}

// New creates a new server with the given options.
func New(opts ...Option) *Server {
	s := &Server{
		methods: make(map[string]Method),
		logger:  middleware.NopLogger{},
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Use registers middleware to be executed on every dispatched request.
func (s *Server) Use(m ...middleware.Middleware) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.middleware = append(s.middleware, m...)
}

// Register adds a method under name, replacing any previous registration.
// It panics if name is empty or fn is nil.
func (s *Server) Register(name string, fn Method) {
	if name == "" {
		panic("server: empty method name")
	}
	if fn == nil {
		panic("server: nil method " + name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.methods[name] = fn
}

// Methods returns the registered method names in sorted order.
func (s *Server) Methods() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.methods))
}

func (s *Server) lookup(name string) (Method, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.methods[name]
	return m, ok
}

// Dispatch runs a decoded request through the middleware chain and the
// registered method. Unknown methods fail with a method not found error.
func (s *Server) Dispatch(ctx context.Context, req *protocol.Request) (any, error) {
	s.mu.RLock()
	chain := middleware.Chain(s.middleware...)
	s.mu.RUnlock()

	return chain(s.invoke)(ctx, req)
}

func (s *Server) invoke(ctx context.Context, req *protocol.Request) (any, error) {
	m, ok := s.lookup(req.Method)
	if !ok {
		return nil, protocol.NewMethodNotFound("Method not found: " + req.Method)
	}
	return m(ctx, req.Args)
}
