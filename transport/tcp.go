package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/felixgeelhaar/msgpack-rpc/middleware"
)

// TCP serves MSGPACK-RPC over raw TCP connections, one stream per connection.
type TCP struct {
	addr   string
	opts   []StreamOption
	logger middleware.Logger

	mu         sync.RWMutex
	listenAddr string
	ready      chan struct{}
}

// NewTCP creates a TCP transport listening on addr. The stream options apply
// to every accepted connection.
func NewTCP(addr string, opts ...StreamOption) *TCP {
	t := &TCP{
		addr:  addr,
		opts:  opts,
		ready: make(chan struct{}),
	}

	cfg := NewStream(nil, nil, opts...)
	t.logger = cfg.logger

	return t
}

// Addr returns the configured address.
func (t *TCP) Addr() string {
	return t.addr
}

// ListenAddr returns the actual address the server is listening on.
func (t *TCP) ListenAddr() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.listenAddr
}

// Ready is closed once the listener is bound.
func (t *TCP) Ready() <-chan struct{} {
	return t.ready
}

// Serve accepts connections until ctx is canceled.
func (t *TCP) Serve(ctx context.Context, handler Handler) error {
	listener, err := net.Listen("tcp", t.addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	t.mu.Lock()
	t.listenAddr = listener.Addr().String()
	t.mu.Unlock()
	close(t.ready)

	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ServeConn(ctx, conn, handler, t.opts...); err != nil && ctx.Err() == nil {
				t.logger.Warn("connection closed",
					middleware.F("peer", conn.RemoteAddr().String()),
					middleware.F("error", err.Error()),
				)
			}
		}()
	}
}
