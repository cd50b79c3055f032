package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/felixgeelhaar/msgpack-rpc/protocol"
)

// HTTPTransport sends every request as its own POST.
type HTTPTransport struct {
	url       string
	client    *http.Client
	header    http.Header
	maxSize   int64
	requestID func(ctx context.Context) string
}

// HTTPOption configures an HTTPTransport.
type HTTPOption func(*HTTPTransport)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(t *HTTPTransport) {
		t.client = c
	}
}

// WithMaxReplySize bounds the reply body. Default: 4 MiB.
func WithMaxReplySize(n int64) HTTPOption {
	return func(t *HTTPTransport) {
		t.maxSize = n
	}
}

// WithHeader adds a header to every request, e.g. Authorization.
func WithHeader(key, value string) HTTPOption {
	return func(t *HTTPTransport) {
		t.header.Add(key, value)
	}
}

// WithRequestIDFunc sets a function whose non-empty result is sent in the
// X-Request-ID header.
func WithRequestIDFunc(fn func(ctx context.Context) string) HTTPOption {
	return func(t *HTTPTransport) {
		t.requestID = fn
	}
}

// NewHTTPTransport creates a transport posting to url.
func NewHTTPTransport(url string, opts ...HTTPOption) *HTTPTransport {
	t := &HTTPTransport{
		url:     url,
		client:  http.DefaultClient,
		header:  http.Header{},
		maxSize: 4 << 20,
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Call implements Transport.
func (t *HTTPTransport) Call(ctx context.Context, req *protocol.Request) (protocol.Response, error) {
	body, status, err := t.post(ctx, req)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", status)
	}
	return protocol.ParseReply(body)
}

// Notify implements Transport.
func (t *HTTPTransport) Notify(ctx context.Context, req *protocol.Request) error {
	_, status, err := t.post(ctx, req)
	if err != nil {
		return err
	}
	if status != http.StatusNoContent && status != http.StatusOK {
		return fmt.Errorf("unexpected status %d", status)
	}
	return nil
}

// Close implements Transport. It releases idle connections.
func (t *HTTPTransport) Close() error {
	t.client.CloseIdleConnections()
	return nil
}

func (t *HTTPTransport) post(ctx context.Context, req *protocol.Request) ([]byte, int, error) {
	data, err := req.Serialize()
	if err != nil {
		return nil, 0, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(data))
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	for k, v := range t.header {
		httpReq.Header[k] = v
	}
	httpReq.Header.Set("Content-Type", protocol.ContentType)
	if t.requestID != nil {
		if id := t.requestID(ctx); id != "" {
			httpReq.Header.Set("X-Request-ID", id)
		}
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, t.maxSize+1))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read reply: %w", err)
	}
	if int64(len(body)) > t.maxSize {
		return nil, resp.StatusCode, fmt.Errorf("reply exceeds %d bytes", t.maxSize)
	}
	return body, resp.StatusCode, nil
}
