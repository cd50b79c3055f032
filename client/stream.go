package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os/exec"
	"sync"

	"github.com/felixgeelhaar/msgpack-rpc/middleware"
	"github.com/felixgeelhaar/msgpack-rpc/protocol"
	"github.com/felixgeelhaar/msgpack-rpc/transport"
)

// StreamTransport multiplexes calls over a single byte stream. Replies are
// matched to calls by id, so they may arrive in any order.
type StreamTransport struct {
	conn     io.ReadWriteCloser
	logger   middleware.Logger
	maxReply int64

	writeMu sync.Mutex
	pending *pending

	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
	cmd       *exec.Cmd
}

// StreamOption configures a StreamTransport.
type StreamOption func(*StreamTransport)

// WithStreamLogger sets the logger for replies that cannot be decoded or
// matched to a call.
func WithStreamLogger(l middleware.Logger) StreamOption {
	return func(t *StreamTransport) {
		t.logger = l
	}
}

// WithStreamMaxReplySize bounds a single reply. A larger reply ends the
// stream and fails every waiting call. Default: 4 MiB.
func WithStreamMaxReplySize(n int64) StreamOption {
	return func(t *StreamTransport) {
		t.maxReply = n
	}
}

// NewStreamTransport starts a transport over conn. The transport owns conn
// and closes it on Close.
func NewStreamTransport(conn io.ReadWriteCloser, opts ...StreamOption) *StreamTransport {
	t := &StreamTransport{
		conn:     conn,
		logger:   middleware.NopLogger{},
		maxReply: transport.DefaultMaxMessageSize,
		pending:  newPending(),
		done:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(t)
	}

	go t.readReplies()

	return t
}

// Dial connects to a stream server on the named network.
func Dial(ctx context.Context, network, address string, opts ...StreamOption) (*StreamTransport, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}
	return NewStreamTransport(conn, opts...), nil
}

// NewCommandTransport spawns command and talks to it over its stdin and
// stdout. Close terminates the process.
func NewCommandTransport(command string, args []string, opts ...StreamOption) (*StreamTransport, error) {
	cmd := exec.Command(command, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start command: %w", err)
	}

	t := NewStreamTransport(&pipeConn{Reader: stdout, WriteCloser: stdin}, opts...)
	t.cmd = cmd
	return t, nil
}

// Call implements Transport.
func (t *StreamTransport) Call(ctx context.Context, req *protocol.Request) (protocol.Response, error) {
	id, ok := req.ID.Value()
	if !ok {
		return nil, fmt.Errorf("call %s: request has no id", req.Method)
	}

	data, err := req.Serialize()
	if err != nil {
		return nil, err
	}

	replyCh, err := t.pending.add(id)
	if err != nil {
		return nil, err
	}
	defer t.pending.remove(id)

	if err := t.write(data); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case resp, ok := <-replyCh:
		if !ok {
			return nil, t.pending.failure()
		}
		return resp, nil
	}
}

// Notify implements Transport.
func (t *StreamTransport) Notify(ctx context.Context, req *protocol.Request) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := req.Serialize()
	if err != nil {
		return err
	}
	return t.write(data)
}

// Close closes the connection and fails all waiting calls. For a command
// transport it also stops the process.
func (t *StreamTransport) Close() error {
	t.closeOnce.Do(func() {
		t.pending.fail(ErrClosed)
		t.closeErr = t.conn.Close()

		if t.cmd == nil {
			<-t.done
			return
		}

		// stdout only ends once the process is gone
		if t.cmd.Process != nil {
			_ = t.cmd.Process.Kill()
		}
		<-t.done
		_ = t.cmd.Wait()
	})
	return t.closeErr
}

// Done is closed when the connection stops delivering replies.
func (t *StreamTransport) Done() <-chan struct{} {
	return t.done
}

func (t *StreamTransport) write(data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if _, err := t.conn.Write(data); err != nil {
		return fmt.Errorf("write request: %w", err)
	}
	return nil
}

func (t *StreamTransport) readReplies() {
	defer close(t.done)

	frames := transport.NewFrameReader(t.conn, t.maxReply)
	for {
		raw, err := frames.Next()
		switch {
		case err == nil:
		case errors.Is(err, transport.ErrFrameTooLarge), errors.Is(err, transport.ErrMalformedFrame):
			// the stream cannot be resynchronized
			t.logger.Warn("stream unusable", middleware.F("error", err.Error()))
			t.pending.fail(fmt.Errorf("%w: %w", ErrClosed, err))
			return
		default:
			if !errors.Is(err, io.EOF) {
				t.logger.Debug("stream closed", middleware.F("error", err.Error()))
			}
			t.pending.fail(ErrClosed)
			return
		}

		resp, err := protocol.ParseReply(raw)
		if err != nil {
			t.logger.Warn("dropping invalid reply", middleware.F("error", err.Error()))
			continue
		}

		if !t.pending.deliver(resp) {
			t.logger.Warn("dropping unexpected reply", middleware.F("id", resp.ResponseID().String()))
		}
	}
}

// pipeConn joins a child process's stdout and stdin.
type pipeConn struct {
	io.Reader
	io.WriteCloser
}
