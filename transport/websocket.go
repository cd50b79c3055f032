package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/felixgeelhaar/msgpack-rpc/middleware"
	"github.com/felixgeelhaar/msgpack-rpc/protocol"
)

// WebSocket serves MSGPACK-RPC over WebSocket connections. Every binary
// message holds one MSGPACK-RPC message; replies are sent back as binary
// messages on the same connection.
type WebSocket struct {
	addr     string
	upgrader websocket.Upgrader
	server   *http.Server
	logger   middleware.Logger

	readTimeout  time.Duration
	writeTimeout time.Duration
	maxSize      int64
	apiKeyHeader string

	mu         sync.RWMutex
	clients    map[*wsClient]struct{}
	listenAddr string
	ready      chan struct{}
}

// wsClient represents a single WebSocket connection.
type wsClient struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	mu           sync.Mutex
}

// WebSocketOption configures a WebSocket transport.
type WebSocketOption func(*WebSocket)

// WithWebSocketReadTimeout sets the idle timeout between incoming messages.
func WithWebSocketReadTimeout(d time.Duration) WebSocketOption {
	return func(ws *WebSocket) {
		ws.readTimeout = d
	}
}

// WithWebSocketWriteTimeout sets the write timeout for WebSocket messages.
func WithWebSocketWriteTimeout(d time.Duration) WebSocketOption {
	return func(ws *WebSocket) {
		ws.writeTimeout = d
	}
}

// WithWebSocketCheckOrigin sets the origin check function for WebSocket upgrades.
func WithWebSocketCheckOrigin(fn func(r *http.Request) bool) WebSocketOption {
	return func(ws *WebSocket) {
		ws.upgrader.CheckOrigin = fn
	}
}

// WithWebSocketMaxMessageSize bounds a single incoming message. A larger
// message closes the connection.
func WithWebSocketMaxMessageSize(n int64) WebSocketOption {
	return func(ws *WebSocket) {
		ws.maxSize = n
	}
}

// WithWebSocketAPIKeyHeader sets the upgrade request header recorded under
// protocol.MetaAPIKey. Default: X-API-Key.
func WithWebSocketAPIKeyHeader(name string) WebSocketOption {
	return func(ws *WebSocket) {
		ws.apiKeyHeader = name
	}
}

// WithWebSocketLogger sets the logger for connection failures.
func WithWebSocketLogger(l middleware.Logger) WebSocketOption {
	return func(ws *WebSocket) {
		ws.logger = l
	}
}

// NewWebSocket creates a new WebSocket transport.
func NewWebSocket(addr string, opts ...WebSocketOption) *WebSocket {
	ws := &WebSocket{
		addr: addr,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger:       middleware.NopLogger{},
		readTimeout:  60 * time.Second,
		writeTimeout: 10 * time.Second,
		maxSize:      DefaultMaxMessageSize,
		apiKeyHeader: APIKeyHeader,
		clients:      make(map[*wsClient]struct{}),
		ready:        make(chan struct{}),
	}

	for _, opt := range opts {
		opt(ws)
	}

	return ws
}

// Addr returns the transport address.
func (ws *WebSocket) Addr() string {
	return ws.addr
}

// ListenAddr returns the actual address the server is listening on.
func (ws *WebSocket) ListenAddr() string {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	return ws.listenAddr
}

// Ready is closed once the listener is bound.
func (ws *WebSocket) Ready() <-chan struct{} {
	return ws.ready
}

// Serve starts the WebSocket server.
func (ws *WebSocket) Serve(ctx context.Context, handler Handler) error {
	listener, err := net.Listen("tcp", ws.addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	ws.mu.Lock()
	ws.listenAddr = listener.Addr().String()
	ws.server = &http.Server{Handler: ws.Handler(ctx, handler)}
	ws.mu.Unlock()
	close(ws.ready)

	errChan := make(chan error, 1)
	go func() {
		if err := ws.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		ws.closeAllClients()
		return ws.server.Shutdown(shutdownCtx)
	case err := <-errChan:
		return err
	}
}

// Handler returns the http.Handler that upgrades requests and serves each
// connection until it closes or ctx is canceled.
func (ws *WebSocket) Handler(ctx context.Context, handler Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws.handleConnection(ctx, w, r, handler)
	})
}

func (ws *WebSocket) handleConnection(ctx context.Context, w http.ResponseWriter, r *http.Request, handler Handler) {
	conn, err := ws.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	if ws.maxSize > 0 {
		conn.SetReadLimit(ws.maxSize)
	}

	client := &wsClient{conn: conn, writeTimeout: ws.writeTimeout}

	ws.mu.Lock()
	ws.clients[client] = struct{}{}
	ws.mu.Unlock()

	defer func() {
		ws.mu.Lock()
		delete(ws.clients, client)
		ws.mu.Unlock()
		_ = conn.Close()
	}()

	reqCtx := protocol.WithPeer(ctx, "websocket", r.RemoteAddr)
	reqCtx = withCredentials(reqCtx, r, ws.apiKeyHeader)
	if id := r.Header.Get(RequestIDHeader); id != "" {
		reqCtx = middleware.ContextWithRequestID(reqCtx, id)
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if ws.readTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(ws.readTimeout))
		}

		msgType, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				ws.logger.Warn("websocket read failed",
					middleware.F("peer", r.RemoteAddr),
					middleware.F("error", err.Error()),
				)
			}
			return
		}
		if msgType != websocket.BinaryMessage {
			ws.logger.Debug("ignoring non-binary message", middleware.F("peer", r.RemoteAddr))
			continue
		}

		if reply := handler.HandleMessage(reqCtx, message); reply != nil {
			if err := client.write(reply); err != nil {
				ws.logger.Error("websocket write failed",
					middleware.F("peer", r.RemoteAddr),
					middleware.F("error", err.Error()),
				)
				return
			}
		}
	}
}

func (ws *WebSocket) closeAllClients() {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	for client := range ws.clients {
		client.close()
	}
}

func (c *wsClient) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (c *wsClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = c.conn.Close()
}
