package transport_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/felixgeelhaar/msgpack-rpc/transport"
)

func TestCORSHandler(t *testing.T) {
	okHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	serve := func(config transport.CORSConfig, method, origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, "/rpc", nil)
		if origin != "" {
			req.Header.Set("Origin", origin)
		}
		rec := httptest.NewRecorder()
		transport.CORSHandler(config, okHandler).ServeHTTP(rec, req)
		return rec
	}

	t.Run("allows all origins with wildcard", func(t *testing.T) {
		rec := serve(transport.CORSConfig{AllowOrigins: []string{"*"}}, http.MethodPost, "http://example.com")

		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
			t.Errorf("expected Access-Control-Allow-Origin '*', got %q", got)
		}
	})

	t.Run("allows specific origin", func(t *testing.T) {
		config := transport.CORSConfig{
			AllowOrigins: []string{"http://allowed.com", "http://also-allowed.com"},
		}
		rec := serve(config, http.MethodPost, "http://also-allowed.com")

		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://also-allowed.com" {
			t.Errorf("expected Access-Control-Allow-Origin 'http://also-allowed.com', got %q", got)
		}
		if got := rec.Header().Get("Vary"); got != "Origin" {
			t.Errorf("expected Vary 'Origin', got %q", got)
		}
	})

	t.Run("blocks disallowed origin", func(t *testing.T) {
		rec := serve(transport.CORSConfig{AllowOrigins: []string{"http://allowed.com"}}, http.MethodPost, "http://notallowed.com")

		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
			t.Errorf("expected no Access-Control-Allow-Origin header, got %q", got)
		}
		if rec.Code != http.StatusOK {
			t.Errorf("expected request to pass through, got %d", rec.Code)
		}
	})

	t.Run("handles preflight request", func(t *testing.T) {
		config := transport.CORSConfig{
			AllowOrigins: []string{"*"},
			AllowHeaders: []string{"Content-Type", "X-Custom-Header"},
			MaxAge:       3600,
		}
		rec := serve(config, http.MethodOptions, "http://example.com")

		if rec.Code != http.StatusNoContent {
			t.Errorf("expected status 204, got %d", rec.Code)
		}
		if got := rec.Header().Get("Access-Control-Allow-Methods"); got != "GET, POST, OPTIONS" {
			t.Errorf("expected methods 'GET, POST, OPTIONS', got %q", got)
		}
		if got := rec.Header().Get("Access-Control-Allow-Headers"); got != "Content-Type, X-Custom-Header" {
			t.Errorf("expected headers 'Content-Type, X-Custom-Header', got %q", got)
		}
		if got := rec.Header().Get("Access-Control-Max-Age"); got != "3600" {
			t.Errorf("expected max-age '3600', got %q", got)
		}
	})

	t.Run("allows credentials", func(t *testing.T) {
		config := transport.CORSConfig{
			AllowOrigins:     []string{"http://example.com"},
			AllowCredentials: true,
		}
		rec := serve(config, http.MethodPost, "http://example.com")

		if rec.Header().Get("Access-Control-Allow-Credentials") != "true" {
			t.Error("expected Access-Control-Allow-Credentials 'true'")
		}
	})

	t.Run("uses default values", func(t *testing.T) {
		rec := serve(transport.CORSConfig{AllowOrigins: []string{"*"}}, http.MethodOptions, "http://example.com")

		if got := rec.Header().Get("Access-Control-Allow-Headers"); got != "Content-Type, Authorization, X-API-Key, X-Request-ID" {
			t.Errorf("expected default headers, got %q", got)
		}
		if got := rec.Header().Get("Access-Control-Max-Age"); got != "86400" {
			t.Errorf("expected default max-age '86400', got %q", got)
		}
	})
}

func TestDefaultCORSConfig(t *testing.T) {
	config := transport.DefaultCORSConfig()

	if len(config.AllowOrigins) != 1 || config.AllowOrigins[0] != "*" {
		t.Error("expected AllowOrigins to be ['*']")
	}
	if len(config.AllowHeaders) != 4 {
		t.Errorf("expected 4 default headers, got %v", config.AllowHeaders)
	}
	if config.MaxAge != 86400 {
		t.Errorf("expected MaxAge 86400, got %d", config.MaxAge)
	}
}
