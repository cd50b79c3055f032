package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/felixgeelhaar/msgpack-rpc/middleware"
	"github.com/felixgeelhaar/msgpack-rpc/protocol"
)

// RequestIDHeader carries a caller-chosen request ID into the context.
const RequestIDHeader = "X-Request-ID"

// APIKeyHeader is the default header whose value is recorded under
// protocol.MetaAPIKey.
const APIKeyHeader = "X-API-Key"

// withCredentials records the Authorization and API key headers of r in
// the request metadata.
func withCredentials(ctx context.Context, r *http.Request, apiKeyHeader string) context.Context {
	return protocol.WithRequestMeta(ctx, protocol.RequestMeta{
		protocol.MetaAuthorization: r.Header.Get("Authorization"),
		protocol.MetaAPIKey:        r.Header.Get(apiKeyHeader),
	})
}

// HTTP serves MSGPACK-RPC over HTTP. Each POST body holds one message and
// the response body holds its reply; a notification is answered with
// 204 No Content.
type HTTP struct {
	addr            string
	path            string
	readTimeout     time.Duration
	writeTimeout    time.Duration
	shutdownTimeout time.Duration
	maxSize         int64
	corsConfig      *CORSConfig
	apiKeyHeader    string
	logger          middleware.Logger

	mu         sync.RWMutex
	listenAddr string
	server     *http.Server
	ready      chan struct{}
}

// HTTPOption configures the HTTP transport.
type HTTPOption func(*HTTP)

// WithReadTimeout sets the read timeout for HTTP requests.
func WithReadTimeout(d time.Duration) HTTPOption {
	return func(h *HTTP) {
		h.readTimeout = d
	}
}

// WithWriteTimeout sets the write timeout for HTTP responses.
func WithWriteTimeout(d time.Duration) HTTPOption {
	return func(h *HTTP) {
		h.writeTimeout = d
	}
}

// WithShutdownTimeout bounds how long Serve waits for in-flight requests
// once ctx is canceled.
func WithShutdownTimeout(d time.Duration) HTTPOption {
	return func(h *HTTP) {
		h.shutdownTimeout = d
	}
}

// WithPath sets the endpoint path. Default: /rpc.
func WithPath(path string) HTTPOption {
	return func(h *HTTP) {
		h.path = path
	}
}

// WithMaxMessageSize bounds the request body.
func WithMaxMessageSize(n int64) HTTPOption {
	return func(h *HTTP) {
		h.maxSize = n
	}
}

// WithAPIKeyHeader sets the header recorded under protocol.MetaAPIKey.
// Default: X-API-Key.
func WithAPIKeyHeader(name string) HTTPOption {
	return func(h *HTTP) {
		h.apiKeyHeader = name
	}
}

// WithHTTPLogger sets the logger for rejected requests.
func WithHTTPLogger(l middleware.Logger) HTTPOption {
	return func(h *HTTP) {
		h.logger = l
	}
}

// NewHTTP creates a new HTTP transport.
func NewHTTP(addr string, opts ...HTTPOption) *HTTP {
	h := &HTTP{
		addr:            addr,
		path:            "/rpc",
		readTimeout:     30 * time.Second,
		writeTimeout:    30 * time.Second,
		shutdownTimeout: 5 * time.Second,
		maxSize:         DefaultMaxMessageSize,
		apiKeyHeader:    APIKeyHeader,
		logger:          middleware.NopLogger{},
		ready:           make(chan struct{}),
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// Addr returns the configured address.
func (h *HTTP) Addr() string {
	return h.addr
}

// ListenAddr returns the actual address the server is listening on.
func (h *HTTP) ListenAddr() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.listenAddr
}

// Ready is closed once the listener is bound.
func (h *HTTP) Ready() <-chan struct{} {
	return h.ready
}

// Serve starts the HTTP server and handles requests.
func (h *HTTP) Serve(ctx context.Context, handler Handler) error {
	listener, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	h.mu.Lock()
	h.listenAddr = listener.Addr().String()
	h.server = &http.Server{
		Handler:      h.Handler(handler),
		ReadTimeout:  h.readTimeout,
		WriteTimeout: h.writeTimeout,
	}
	h.mu.Unlock()
	close(h.ready)

	errCh := make(chan error, 1)
	go func() {
		if err := h.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
		defer cancel()
		if err := h.server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Handler returns the http.Handler serving the RPC endpoint and /health.
func (h *HTTP) Handler(handler Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	mux.HandleFunc(h.path, func(w http.ResponseWriter, r *http.Request) {
		h.handleRPC(w, r, handler)
	})

	if h.corsConfig != nil {
		return CORSHandler(*h.corsConfig, mux)
	}
	return mux
}

func (h *HTTP) handleRPC(w http.ResponseWriter, r *http.Request, handler Handler) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body := r.Body
	if h.maxSize > 0 {
		body = http.MaxBytesReader(w, r.Body, h.maxSize)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.logger.Warn("request too large",
				middleware.F("peer", r.RemoteAddr),
				middleware.F("limit", tooLarge.Limit),
			)
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	ctx := protocol.WithPeer(r.Context(), "http", r.RemoteAddr)
	ctx = withCredentials(ctx, r, h.apiKeyHeader)
	if id := r.Header.Get(RequestIDHeader); id != "" {
		ctx = middleware.ContextWithRequestID(ctx, id)
	}

	reply := handler.HandleMessage(ctx, data)
	if reply == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set("Content-Type", protocol.ContentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(reply)
}
