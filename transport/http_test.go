package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/felixgeelhaar/msgpack-rpc/middleware"
	"github.com/felixgeelhaar/msgpack-rpc/protocol"
)

func TestNewHTTP(t *testing.T) {
	t.Run("creates http transport with address", func(t *testing.T) {
		transport := NewHTTP(":8080")

		if transport.Addr() != ":8080" {
			t.Errorf("Addr() = %q, want %q", transport.Addr(), ":8080")
		}
		if transport.path != "/rpc" {
			t.Errorf("path = %q, want /rpc", transport.path)
		}
	})

	t.Run("creates http transport with options", func(t *testing.T) {
		transport := NewHTTP(":8080",
			WithReadTimeout(5*time.Second),
			WithWriteTimeout(10*time.Second),
			WithShutdownTimeout(time.Second),
			WithPath("/api"),
			WithMaxMessageSize(1024),
		)

		if transport.readTimeout != 5*time.Second {
			t.Errorf("readTimeout = %v, want %v", transport.readTimeout, 5*time.Second)
		}
		if transport.writeTimeout != 10*time.Second {
			t.Errorf("writeTimeout = %v, want %v", transport.writeTimeout, 10*time.Second)
		}
		if transport.shutdownTimeout != time.Second {
			t.Errorf("shutdownTimeout = %v, want %v", transport.shutdownTimeout, time.Second)
		}
		if transport.path != "/api" {
			t.Errorf("path = %q, want /api", transport.path)
		}
		if transport.maxSize != 1024 {
			t.Errorf("maxSize = %d, want 1024", transport.maxSize)
		}
	})
}

func TestHTTP_Handler(t *testing.T) {
	httpHandler := NewHTTP(":0", WithMaxMessageSize(64)).Handler(newEchoServer())

	post := func(body []byte) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewReader(body))
		req.Header.Set("Content-Type", protocol.ContentType)
		rec := httptest.NewRecorder()
		httpHandler.ServeHTTP(rec, req)
		return rec
	}

	t.Run("answers calls", func(t *testing.T) {
		rec := post(mustPack(t, []any{0, 1, "echo", []any{"hi"}}))

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
		}
		if ct := rec.Header().Get("Content-Type"); ct != protocol.ContentType {
			t.Errorf("Content-Type = %q", ct)
		}

		resp, err := protocol.ParseReply(rec.Body.Bytes())
		if err != nil {
			t.Fatalf("ParseReply: %v", err)
		}
		if _, ok := resp.(*protocol.SuccessResponse); !ok {
			t.Errorf("reply is %T", resp)
		}
	})

	t.Run("notifications get no content", func(t *testing.T) {
		rec := post(mustPack(t, []any{2, "notify", []any{}}))

		if rec.Code != http.StatusNoContent {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusNoContent)
		}
		if rec.Body.Len() != 0 {
			t.Errorf("unexpected body % x", rec.Body.Bytes())
		}
	})

	t.Run("malformed body gets parse error", func(t *testing.T) {
		rec := post([]byte{0xc1})

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
		}
		reply := decodeLoose(t, rec.Body.Bytes())
		if reply[1] != nil {
			t.Errorf("id = %v, want nil", reply[1])
		}
		if code := reply[2].([]any)[0]; code != int64(protocol.CodeParseError) {
			t.Errorf("code = %v, want %d", code, protocol.CodeParseError)
		}
	})

	t.Run("hostile lengths get parse error", func(t *testing.T) {
		for name, body := range map[string][]byte{
			"array32": {0xdd, 0xff, 0xff, 0xff, 0xff},
			"map32":   {0xdf, 0xff, 0xff, 0xff, 0xff},
			"str32":   {0xdb, 0xff, 0xff, 0xff, 0xff},
			"nesting": bytes.Repeat([]byte{0x91}, 63),
		} {
			rec := post(body)
			if rec.Code != http.StatusOK {
				t.Fatalf("%s: status = %d, want %d", name, rec.Code, http.StatusOK)
			}
			reply := decodeLoose(t, rec.Body.Bytes())
			if code := reply[2].([]any)[0]; code != int64(protocol.CodeParseError) {
				t.Errorf("%s: code = %v, want %d", name, code, protocol.CodeParseError)
			}
		}
	})

	t.Run("rejects oversized body", func(t *testing.T) {
		rec := post(mustPack(t, []any{0, 1, "echo", []any{string(make([]byte, 128))}}))

		if rec.Code != http.StatusRequestEntityTooLarge {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusRequestEntityTooLarge)
		}
	})

	t.Run("rejects non-POST", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/rpc", nil)
		rec := httptest.NewRecorder()
		httpHandler.ServeHTTP(rec, req)

		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
		}
	})

	t.Run("health check", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rec := httptest.NewRecorder()
		httpHandler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
		}
		var body map[string]string
		if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body["status"] != "ok" {
			t.Errorf("status = %q, want ok", body["status"])
		}
	})
}

func TestHTTP_RequestContext(t *testing.T) {
	var meta protocol.RequestMeta
	var requestID string
	handler := HandlerFunc(func(ctx context.Context, data []byte) []byte {
		meta = protocol.RequestMetaFromContext(ctx)
		requestID = middleware.RequestIDFromContext(ctx)
		return nil
	})

	post := func(t *testing.T, h *HTTP, header http.Header) {
		t.Helper()
		meta, requestID = nil, ""
		req := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewReader(mustPack(t, []any{2, "notify", []any{}})))
		for k, v := range header {
			req.Header[k] = v
		}
		h.Handler(handler).ServeHTTP(httptest.NewRecorder(), req)
	}

	t.Run("transport and request id", func(t *testing.T) {
		post(t, NewHTTP(":0"), http.Header{RequestIDHeader: {"req-123"}})

		if meta[protocol.MetaTransport] != "http" {
			t.Errorf("transport = %q, want http", meta[protocol.MetaTransport])
		}
		if meta[protocol.MetaRemoteAddr] == "" {
			t.Error("remote address not recorded")
		}
		if requestID != "req-123" {
			t.Errorf("request id = %q, want req-123", requestID)
		}
		if _, ok := meta[protocol.MetaAuthorization]; ok {
			t.Error("authorization recorded without a header")
		}
	})

	t.Run("credentials", func(t *testing.T) {
		post(t, NewHTTP(":0"), http.Header{
			"Authorization": {"Bearer t0k"},
			APIKeyHeader:    {"k1"},
		})

		if got := meta[protocol.MetaAuthorization]; got != "Bearer t0k" {
			t.Errorf("authorization = %q", got)
		}
		if got := meta[protocol.MetaAPIKey]; got != "k1" {
			t.Errorf("api key = %q", got)
		}
	})

	t.Run("custom api key header", func(t *testing.T) {
		post(t, NewHTTP(":0", WithAPIKeyHeader("X-Token")), http.Header{
			"X-Token":    {"k2"},
			APIKeyHeader: {"k1"},
		})

		if got := meta[protocol.MetaAPIKey]; got != "k2" {
			t.Errorf("api key = %q, want k2", got)
		}
	})
}

func TestHTTP_Auth(t *testing.T) {
	srv := newEchoServer()
	srv.Use(middleware.Auth(middleware.BearerTokenAuthenticator(middleware.StaticTokens(map[string]*middleware.Identity{
		"secret": {ID: "svc"},
	}))))
	httpHandler := NewHTTP(":0").Handler(srv)

	call := func(t *testing.T, authorization string) protocol.Response {
		t.Helper()
		req := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewReader(mustPack(t, []any{0, 1, "echo", []any{"hi"}})))
		if authorization != "" {
			req.Header.Set("Authorization", authorization)
		}
		rec := httptest.NewRecorder()
		httpHandler.ServeHTTP(rec, req)

		resp, err := protocol.ParseReply(rec.Body.Bytes())
		if err != nil {
			t.Fatalf("ParseReply: %v", err)
		}
		return resp
	}

	t.Run("valid token", func(t *testing.T) {
		if resp, ok := call(t, "Bearer secret").(*protocol.SuccessResponse); !ok {
			t.Errorf("reply = %#v, want success", resp)
		}
	})

	for _, authorization := range []string{"", "Bearer wrong", "Basic c2VjcmV0"} {
		t.Run("rejects "+strconv.Quote(authorization), func(t *testing.T) {
			er, ok := call(t, authorization).(*protocol.ErrorResponse)
			if !ok {
				t.Fatal("expected error reply")
			}
			if er.Code != protocol.CodeUnauthorized {
				t.Errorf("Code = %d, want %d", er.Code, protocol.CodeUnauthorized)
			}
		})
	}
}

func TestHTTP_CORS(t *testing.T) {
	httpHandler := NewHTTP(":0", WithDefaultCORS()).Handler(newEchoServer())

	req := httptest.NewRequest(http.MethodOptions, "/rpc", nil)
	req.Header.Set("Origin", "http://example.com")
	rec := httptest.NewRecorder()
	httpHandler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestHTTP_Serve(t *testing.T) {
	transport := NewHTTP("127.0.0.1:0")

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- transport.Serve(ctx, newEchoServer())
	}()

	select {
	case <-transport.Ready():
	case err := <-errCh:
		t.Fatalf("Serve: %v", err)
	}

	resp, err := http.Post("http://"+transport.ListenAddr()+"/rpc", protocol.ContentType,
		bytes.NewReader(mustPack(t, []any{0, 9, "echo", []any{}})))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if reply := decodeLoose(t, body); reply[1] != int64(9) {
		t.Errorf("reply id = %v, want 9", reply[1])
	}

	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
