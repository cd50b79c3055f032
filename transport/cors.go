package transport

import (
	"net/http"
	"slices"
	"strconv"
	"strings"
)

// CORSConfig configures cross-origin access to the HTTP transport, for
// browser clients that post MessagePack bodies directly.
type CORSConfig struct {
	// AllowOrigins lists the allowed origins. A single "*" allows any origin.
	AllowOrigins []string

	// AllowHeaders lists the allowed request headers.
	// Default: Content-Type, X-Request-ID
	AllowHeaders []string

	// AllowCredentials indicates whether credentials are allowed.
	AllowCredentials bool

	// MaxAge is how long preflight results can be cached, in seconds.
	// Default: 86400
	MaxAge int
}

// DefaultCORSConfig allows every origin.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: defaultAllowHeaders(),
		MaxAge:       86400,
	}
}

func defaultAllowHeaders() []string {
	return []string{"Content-Type", "Authorization", APIKeyHeader, RequestIDHeader}
}

// corsMethods are the only methods the transport serves.
var corsMethods = strings.Join([]string{http.MethodGet, http.MethodPost, http.MethodOptions}, ", ")

// CORSHandler wraps an http.Handler with CORS support. Preflight requests
// from allowed origins are answered directly; the rest pass through.
func CORSHandler(config CORSConfig, next http.Handler) http.Handler {
	if len(config.AllowHeaders) == 0 {
		config.AllowHeaders = defaultAllowHeaders()
	}
	if config.MaxAge == 0 {
		config.MaxAge = 86400
	}

	allowAny := slices.Equal(config.AllowOrigins, []string{"*"})
	allowHeaders := strings.Join(config.AllowHeaders, ", ")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		var allowOrigin string
		switch {
		case allowAny:
			allowOrigin = "*"
		case origin != "" && slices.Contains(config.AllowOrigins, origin):
			allowOrigin = origin
			w.Header().Add("Vary", "Origin")
		}

		if allowOrigin == "" {
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
		if config.AllowCredentials {
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}

		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", corsMethods)
			w.Header().Set("Access-Control-Allow-Headers", allowHeaders)
			w.Header().Set("Access-Control-Max-Age", strconv.Itoa(config.MaxAge))
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// WithCORS configures CORS for the HTTP transport.
func WithCORS(config CORSConfig) HTTPOption {
	return func(h *HTTP) {
		h.corsConfig = &config
	}
}

// WithDefaultCORS enables CORS with DefaultCORSConfig.
func WithDefaultCORS() HTTPOption {
	return WithCORS(DefaultCORSConfig())
}
