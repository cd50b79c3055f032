// Package testutil provides testing utilities for MSGPACK-RPC servers.
//
// This package helps developers write tests for their servers by providing
// an in-memory test client, in-process client transports and a recorder for
// inspecting traffic.
//
// Example usage:
//
//	func TestMyServer(t *testing.T) {
//	    srv := server.New()
//	    srv.Register("greet", func(ctx context.Context, args []any) (any, error) {
//	        name, err := server.String(args, 0)
//	        if err != nil {
//	            return nil, err
//	        }
//	        return "Hello, " + name, nil
//	    })
//
//	    tc := testutil.NewTestClient(t, srv)
//
//	    result, err := tc.Call("greet", "World")
//	    if err != nil {
//	        t.Fatal(err)
//	    }
//	    if result != "Hello, World" {
//	        t.Errorf("result = %v", result)
//	    }
//	}
package testutil

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/felixgeelhaar/msgpack-rpc/client"
	"github.com/felixgeelhaar/msgpack-rpc/protocol"
	"github.com/felixgeelhaar/msgpack-rpc/transport"
)

// ErrNoReply is returned when a call produced no reply.
var ErrNoReply = errors.New("testutil: no reply")

// TestClient calls a handler directly, without a transport.
type TestClient struct {
	t       testing.TB
	handler transport.Handler
	proto   *protocol.Protocol
}

// NewTestClient creates a new test client for the given handler, usually a
// *server.Server.
func NewTestClient(t testing.TB, handler transport.Handler) *TestClient {
	t.Helper()
	return &TestClient{
		t:       t,
		handler: handler,
		proto:   protocol.New(),
	}
}

// Call sends a call and returns its result. Error replies are returned as
// *protocol.Error.
func (tc *TestClient) Call(method string, args ...any) (any, error) {
	tc.t.Helper()
	return tc.CallContext(context.Background(), method, args...)
}

// CallContext is Call with a context.
func (tc *TestClient) CallContext(ctx context.Context, method string, args ...any) (any, error) {
	tc.t.Helper()

	req := tc.proto.NewCall(method, args...)
	data, err := req.Serialize()
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	reply := tc.handler.HandleMessage(ctx, data)
	if reply == nil {
		return nil, ErrNoReply
	}

	resp, err := tc.proto.ParseReply(reply)
	if err != nil {
		return nil, err
	}
	if resp.ResponseID() != req.ID {
		return nil, fmt.Errorf("%w: reply id %s, want %s", protocol.ErrInvalidReply, resp.ResponseID(), req.ID)
	}

	switch r := resp.(type) {
	case *protocol.SuccessResponse:
		return r.Result, nil
	case protocol.ErrorReply:
		_, err := tc.proto.RaiseError(r)
		return nil, err
	}
	return nil, fmt.Errorf("%w: unexpected reply %T", protocol.ErrInvalidReply, resp)
}

// Notify sends a notification and fails the test if the handler replies.
func (tc *TestClient) Notify(method string, args ...any) {
	tc.t.Helper()

	data, err := tc.proto.NewNotification(method, args...).Serialize()
	if err != nil {
		tc.t.Fatalf("failed to encode notification: %v", err)
	}
	if reply := tc.handler.HandleMessage(context.Background(), data); reply != nil {
		tc.t.Errorf("notification %q got a reply: % x", method, reply)
	}
}

// SendRaw hands data to the handler unchanged and returns the raw reply.
func (tc *TestClient) SendRaw(data []byte) []byte {
	tc.t.Helper()
	return tc.handler.HandleMessage(context.Background(), data)
}

// SendValue encodes v as MessagePack and sends it with SendRaw. It is handy
// for building malformed messages.
func (tc *TestClient) SendValue(v any) []byte {
	tc.t.Helper()

	data, err := msgpack.Marshal(v)
	if err != nil {
		tc.t.Fatalf("failed to encode value: %v", err)
	}
	return tc.SendRaw(data)
}

// AssertErrorCode fails the test unless err is a protocol error with code.
func (tc *TestClient) AssertErrorCode(err error, code int) {
	tc.t.Helper()

	var perr *protocol.Error
	if !errors.As(err, &perr) {
		tc.t.Errorf("error = %v, want protocol error %d", err, code)
		return
	}
	if !perr.HasCode() || perr.Code != code {
		tc.t.Errorf("error code = %d, want %d", perr.Code, code)
	}
}

// HandlerTransport is a client.Transport that calls a handler in-process.
type HandlerTransport struct {
	handler transport.Handler
}

// NewHandlerTransport creates a client transport backed by handler.
func NewHandlerTransport(handler transport.Handler) *HandlerTransport {
	return &HandlerTransport{handler: handler}
}

// Call implements client.Transport.
func (h *HandlerTransport) Call(ctx context.Context, req *protocol.Request) (protocol.Response, error) {
	data, err := req.Serialize()
	if err != nil {
		return nil, err
	}
	reply := h.handler.HandleMessage(ctx, data)
	if reply == nil {
		return nil, ErrNoReply
	}
	return protocol.ParseReply(reply)
}

// Notify implements client.Transport.
func (h *HandlerTransport) Notify(ctx context.Context, req *protocol.Request) error {
	data, err := req.Serialize()
	if err != nil {
		return err
	}
	if reply := h.handler.HandleMessage(ctx, data); reply != nil {
		return fmt.Errorf("unexpected reply to notification %q", req.Method)
	}
	return nil
}

// Close implements client.Transport.
func (h *HandlerTransport) Close() error {
	return nil
}

// NewPipeClient connects a client to handler over an in-memory stream. The
// connection is served by transport.ServeConn, so the full stream path is
// exercised. Everything is torn down when the test ends.
func NewPipeClient(t testing.TB, handler transport.Handler, opts ...client.Option) *client.Client {
	t.Helper()

	serverConn, clientConn := net.Pipe()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = transport.ServeConn(ctx, serverConn, handler)
	}()

	c := client.New(client.NewStreamTransport(clientConn), opts...)
	t.Cleanup(func() {
		_ = c.Close()
		cancel()
		<-done
	})
	return c
}

// Exchange is one message seen by a Recorder.
type Exchange struct {
	// Request is the decoded message, or nil when it could not be decoded.
	Request *protocol.Request
	// Err is the decode error for messages that were rejected.
	Err error
	// Reply is the raw reply, nil when none was sent.
	Reply []byte
}

// Recorder wraps a handler and records every message passing through it.
type Recorder struct {
	next transport.Handler

	mu        sync.Mutex
	exchanges []Exchange
}

// NewRecorder creates a recorder in front of next.
func NewRecorder(next transport.Handler) *Recorder {
	return &Recorder{next: next}
}

// HandleMessage implements transport.Handler.
func (r *Recorder) HandleMessage(ctx context.Context, data []byte) []byte {
	req, err := protocol.ParseRequest(data)
	reply := r.next.HandleMessage(ctx, data)

	r.mu.Lock()
	r.exchanges = append(r.exchanges, Exchange{Request: req, Err: err, Reply: reply})
	r.mu.Unlock()

	return reply
}

// Exchanges returns all recorded exchanges.
func (r *Recorder) Exchanges() []Exchange {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]Exchange, len(r.exchanges))
	copy(result, r.exchanges)
	return result
}

// Methods returns the methods of all decoded requests, in arrival order.
func (r *Recorder) Methods() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var methods []string
	for _, e := range r.exchanges {
		if e.Request != nil {
			methods = append(methods, e.Request.Method)
		}
	}
	return methods
}

// Reset clears the recorded exchanges.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.exchanges = nil
	r.mu.Unlock()
}
