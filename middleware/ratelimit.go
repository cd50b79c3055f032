package middleware

import (
	"context"
	"time"

	"github.com/felixgeelhaar/fortify/ratelimit"

	"github.com/felixgeelhaar/msgpack-rpc/protocol"
)

// RateLimitOption configures the rate limiter.
type RateLimitOption func(*rateLimitConfig)

// KeyFunc extracts a rate limit bucket key from a request.
type KeyFunc func(ctx context.Context, req *protocol.Request) string

type rateLimitConfig struct {
	keyFunc KeyFunc
	logger  Logger
}

// WithRateLimitKeyFunc sets the function that picks the bucket for a request.
func WithRateLimitKeyFunc(fn KeyFunc) RateLimitOption {
	return func(o *rateLimitConfig) {
		o.keyFunc = fn
	}
}

// WithRateLimitLogger sets the logger for rate limit events.
func WithRateLimitLogger(l Logger) RateLimitOption {
	return func(o *rateLimitConfig) {
		o.logger = l
	}
}

// RateLimit returns middleware that limits the request rate with a token
// bucket of rate tokens per second and the given burst. Rejected calls fail
// with CodeRateLimited; rejected notifications are dropped the same way, so
// the server sends nothing back for them.
func RateLimit(rate int, burst int, opts ...RateLimitOption) Middleware {
	cfg := &rateLimitConfig{
		keyFunc: func(context.Context, *protocol.Request) string { return "global" },
	}
	for _, opt := range opts {
		opt(cfg)
	}

	limiter := ratelimit.New(&ratelimit.Config{
		Rate:     rate,
		Burst:    burst,
		Interval: time.Second,
	})

	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *protocol.Request) (any, error) {
			key := cfg.keyFunc(ctx, req)

			if !limiter.Allow(ctx, key) {
				if cfg.logger != nil {
					cfg.logger.Warn("rate limit exceeded",
						F("method", req.Method),
						F("key", key),
					)
				}
				return nil, &protocol.Error{
					Kind:    protocol.KindServerError,
					Code:    protocol.CodeRateLimited,
					Message: "rate limit exceeded",
				}
			}

			return next(ctx, req)
		}
	}
}

// RateLimitByMethod applies a separate bucket to every method name.
func RateLimitByMethod(rate int, burst int, opts ...RateLimitOption) Middleware {
	allOpts := append([]RateLimitOption{
		WithRateLimitKeyFunc(func(_ context.Context, req *protocol.Request) string {
			return req.Method
		}),
	}, opts...)
	return RateLimit(rate, burst, allOpts...)
}

// RateLimitByPeer applies a separate bucket to every remote address, as
// recorded by the transport in the request metadata.
func RateLimitByPeer(rate int, burst int, opts ...RateLimitOption) Middleware {
	allOpts := append([]RateLimitOption{
		WithRateLimitKeyFunc(func(ctx context.Context, _ *protocol.Request) string {
			if peer := protocol.GetRequestMeta(ctx, protocol.MetaRemoteAddr); peer != "" {
				return peer
			}
			return "unknown"
		}),
	}, opts...)
	return RateLimit(rate, burst, allOpts...)
}
