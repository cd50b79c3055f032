package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/felixgeelhaar/msgpack-rpc/middleware"
	"github.com/felixgeelhaar/msgpack-rpc/protocol"
)

// WebSocketTransport multiplexes calls over one WebSocket connection, one
// binary message per MSGPACK-RPC message.
type WebSocketTransport struct {
	conn    *websocket.Conn
	logger  middleware.Logger
	pending *pending

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

// WebSocketOption configures a WebSocketTransport.
type WebSocketOption func(*webSocketConfig)

type webSocketConfig struct {
	dialer  *websocket.Dialer
	header  http.Header
	logger  middleware.Logger
	maxSize int64
}

// WithDialer sets the dialer used to connect.
func WithDialer(d *websocket.Dialer) WebSocketOption {
	return func(c *webSocketConfig) {
		c.dialer = d
	}
}

// WithWebSocketHeader adds a header to the upgrade request, e.g.
// Authorization.
func WithWebSocketHeader(key, value string) WebSocketOption {
	return func(c *webSocketConfig) {
		c.header.Add(key, value)
	}
}

// WithWebSocketLogger sets the logger for dropped replies.
func WithWebSocketLogger(l middleware.Logger) WebSocketOption {
	return func(c *webSocketConfig) {
		c.logger = l
	}
}

// WithWebSocketMaxReplySize bounds a single incoming message.
func WithWebSocketMaxReplySize(n int64) WebSocketOption {
	return func(c *webSocketConfig) {
		c.maxSize = n
	}
}

// DialWebSocket connects to a WebSocket server at url.
func DialWebSocket(ctx context.Context, url string, opts ...WebSocketOption) (*WebSocketTransport, error) {
	cfg := &webSocketConfig{
		dialer:  websocket.DefaultDialer,
		header:  http.Header{},
		logger:  middleware.NopLogger{},
		maxSize: 4 << 20,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	conn, _, err := cfg.dialer.DialContext(ctx, url, cfg.header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	if cfg.maxSize > 0 {
		conn.SetReadLimit(cfg.maxSize)
	}

	t := &WebSocketTransport{
		conn:    conn,
		logger:  cfg.logger,
		pending: newPending(),
		done:    make(chan struct{}),
	}
	go t.readReplies()

	return t, nil
}

// Call implements Transport.
func (t *WebSocketTransport) Call(ctx context.Context, req *protocol.Request) (protocol.Response, error) {
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
func (t *WebSocketTransport) Notify(ctx context.Context, req *protocol.Request) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := req.Serialize()
	if err != nil {
		return err
	}
	return t.write(data)
}

// Close sends a close frame, closes the connection and fails waiting calls.
func (t *WebSocketTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.pending.fail(ErrClosed)

		t.writeMu.Lock()
		_ = t.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		t.writeMu.Unlock()

		err = t.conn.Close()
		<-t.done
	})
	return err
}

func (t *WebSocketTransport) write(data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := t.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("write request: %w", err)
	}
	return nil
}

func (t *WebSocketTransport) readReplies() {
	defer close(t.done)

	for {
		msgType, data, err := t.conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if !errors.As(err, &closeErr) {
				t.logger.Debug("websocket closed", middleware.F("error", err.Error()))
			}
			t.pending.fail(ErrClosed)
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}

		resp, err := protocol.ParseReply(data)
		if err != nil {
			t.logger.Warn("dropping invalid reply", middleware.F("error", err.Error()))
			continue
		}
		if !t.pending.deliver(resp) {
			t.logger.Warn("dropping unexpected reply", middleware.F("id", resp.ResponseID().String()))
		}
	}
}
