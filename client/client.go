package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/felixgeelhaar/msgpack-rpc/protocol"
)

// ErrClosed is returned by transports after Close, and to calls that were
// still waiting when the connection went away.
var ErrClosed = errors.New("client: transport closed")

// Transport carries encoded requests to a server.
type Transport interface {
	// Call sends a call and waits for its reply.
	Call(ctx context.Context, req *protocol.Request) (protocol.Response, error)
	// Notify sends a notification. No reply is expected.
	Notify(ctx context.Context, req *protocol.Request) error
	// Close closes the transport connection.
	Close() error
}

// Option configures a Client.
type Option func(*clientOptions)

type clientOptions struct {
	timeout  time.Duration
	protocol *protocol.Protocol
}

// WithTimeout sets the default timeout for calls. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		o.timeout = d
	}
}

// WithProtocol sets the protocol instance used to build requests. Its
// RaisesErrors setting decides how error replies are returned from Call.
func WithProtocol(p *protocol.Protocol) Option {
	return func(o *clientOptions) {
		o.protocol = p
	}
}

// Client is a MSGPACK-RPC client. It is safe for concurrent use when its
// transport is.
type Client struct {
	transport Transport
	opts      clientOptions
}

// New creates a new client with the given transport.
func New(transport Transport, opts ...Option) *Client {
	options := clientOptions{
		timeout: 30 * time.Second,
	}

	for _, opt := range opts {
		opt(&options)
	}

	if options.protocol == nil {
		options.protocol = protocol.New()
	}

	return &Client{
		transport: transport,
		opts:      options,
	}
}

// Protocol returns the protocol instance used by the client.
func (c *Client) Protocol() *protocol.Protocol {
	return c.opts.protocol
}

// Call invokes method with positional args and returns the result.
//
// An error reply from the server is reconstructed as a *protocol.Error. By
// default it is returned as the error; a client whose protocol was created
// with WithRaisesErrors(false) returns it as the result instead.
func (c *Client) Call(ctx context.Context, method string, args ...any) (any, error) {
	return c.CallWithKwargs(ctx, method, args, nil)
}

// CallWithKwargs is Call with keyword arguments. MSGPACK-RPC has none, so a
// non-empty kwargs fails with an invalid request error before anything is
// sent.
func (c *Client) CallWithKwargs(ctx context.Context, method string, args []any, kwargs map[string]any) (any, error) {
	req, err := c.opts.protocol.CreateRequest(method, args, kwargs, false)
	if err != nil {
		return nil, err
	}

	if c.opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.timeout)
		defer cancel()
	}

	resp, err := c.transport.Call(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}

	if resp.ResponseID() != req.ID {
		return nil, fmt.Errorf("call %s: %w: reply id %s does not match request id %s",
			method, protocol.ErrInvalidReply, resp.ResponseID(), req.ID)
	}

	switch r := resp.(type) {
	case *protocol.SuccessResponse:
		return r.Result, nil
	case protocol.ErrorReply:
		remote, err := c.opts.protocol.RaiseError(r)
		if err != nil {
			return nil, err
		}
		return remote, nil
	default:
		return nil, fmt.Errorf("call %s: %w: unexpected reply %T", method, protocol.ErrInvalidReply, resp)
	}
}

// Notify sends a one-way request. The server never replies, so Notify only
// reports failures to send.
func (c *Client) Notify(ctx context.Context, method string, args ...any) error {
	req, err := c.opts.protocol.CreateRequest(method, args, nil, true)
	if err != nil {
		return err
	}
	if err := c.transport.Notify(ctx, req); err != nil {
		return fmt.Errorf("notify %s: %w", method, err)
	}
	return nil
}

// Close closes the client connection.
func (c *Client) Close() error {
	return c.transport.Close()
}
