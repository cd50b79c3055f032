package middleware

import (
	"context"
	"strings"

	"github.com/felixgeelhaar/msgpack-rpc/protocol"
)

// Identity is an authenticated caller.
type Identity struct {
	// ID uniquely identifies the caller, e.g. a user or key ID.
	ID string
	// Name is a human-readable name.
	Name string
	// Metadata holds anything else the authenticator knows about the caller.
	Metadata map[string]any
}

type identityContextKey struct{}

// IdentityFromContext returns the authenticated identity, or nil.
func IdentityFromContext(ctx context.Context) *Identity {
	if id, ok := ctx.Value(identityContextKey{}).(*Identity); ok {
		return id
	}
	return nil
}

// ContextWithIdentity returns a new context with the identity attached.
func ContextWithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, identity)
}

// AuthOption configures the authentication middleware.
type AuthOption func(*authConfig)

type authConfig struct {
	logger       Logger
	skipMethods  map[string]bool
	errorMessage string
}

// WithAuthLogger sets the logger for auth events.
func WithAuthLogger(l Logger) AuthOption {
	return func(c *authConfig) {
		c.logger = l
	}
}

// WithAuthSkipMethods lists methods that may be called without credentials.
func WithAuthSkipMethods(methods ...string) AuthOption {
	return func(c *authConfig) {
		for _, m := range methods {
			c.skipMethods[m] = true
		}
	}
}

// WithAuthErrorMessage sets the message of the error sent on failure.
func WithAuthErrorMessage(msg string) AuthOption {
	return func(c *authConfig) {
		c.errorMessage = msg
	}
}

// Authenticator validates the credentials of a request. It returns nil and
// no error when the request carries no valid credentials.
type Authenticator func(ctx context.Context, req *protocol.Request) (*Identity, error)

// Auth returns middleware that rejects requests the authenticator cannot
// identify. Rejected calls fail with CodeUnauthorized; rejected
// notifications are dropped. The identity of accepted requests is available
// through IdentityFromContext.
func Auth(authenticator Authenticator, opts ...AuthOption) Middleware {
	cfg := &authConfig{
		skipMethods:  map[string]bool{},
		errorMessage: "authentication required",
	}
	for _, opt := range opts {
		opt(cfg)
	}

	reject := func(ctx context.Context, req *protocol.Request, reason string) error {
		if cfg.logger != nil {
			cfg.logger.Warn("authentication failed",
				F("method", req.Method),
				F("reason", reason),
				F("transport", protocol.GetRequestMeta(ctx, protocol.MetaTransport)),
			)
		}
		return &protocol.Error{
			Kind:    protocol.KindServerError,
			Code:    protocol.CodeUnauthorized,
			Message: cfg.errorMessage,
		}
	}

	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *protocol.Request) (any, error) {
			if cfg.skipMethods[req.Method] {
				return next(ctx, req)
			}

			identity, err := authenticator(ctx, req)
			if err != nil {
				return nil, reject(ctx, req, err.Error())
			}
			if identity == nil {
				return nil, reject(ctx, req, "no identity")
			}

			if cfg.logger != nil {
				cfg.logger.Debug("authenticated",
					F("method", req.Method),
					F("identity", identity.ID),
				)
			}

			return next(ContextWithIdentity(ctx, identity), req)
		}
	}
}

// APIKeyAuthenticator authenticates with the API key the transport recorded
// under protocol.MetaAPIKey. keyValidator returns nil for unknown keys.
func APIKeyAuthenticator(keyValidator func(key string) *Identity) Authenticator {
	return func(ctx context.Context, _ *protocol.Request) (*Identity, error) {
		key := protocol.GetRequestMeta(ctx, protocol.MetaAPIKey)
		if key == "" {
			return nil, nil
		}
		return keyValidator(key), nil
	}
}

// BearerTokenAuthenticator authenticates with a bearer token from the
// Authorization value under protocol.MetaAuthorization. tokenValidator
// returns nil for unknown tokens.
func BearerTokenAuthenticator(tokenValidator func(token string) *Identity) Authenticator {
	return func(ctx context.Context, _ *protocol.Request) (*Identity, error) {
		auth := protocol.GetRequestMeta(ctx, protocol.MetaAuthorization)

		// the scheme is case-insensitive
		const prefix = "bearer "
		if len(auth) <= len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
			return nil, nil
		}

		token := strings.TrimSpace(auth[len(prefix):])
		if token == "" {
			return nil, nil
		}
		return tokenValidator(token), nil
	}
}

// StaticAPIKeys returns a key validator backed by a fixed key -> identity map.
func StaticAPIKeys(keys map[string]*Identity) func(string) *Identity {
	return func(key string) *Identity {
		return keys[key]
	}
}

// StaticTokens returns a token validator backed by a fixed token -> identity map.
func StaticTokens(tokens map[string]*Identity) func(string) *Identity {
	return func(token string) *Identity {
		return tokens[token]
	}
}

// ChainAuthenticators tries each authenticator in order and returns the
// first identity found. An error stops the chain.
func ChainAuthenticators(authenticators ...Authenticator) Authenticator {
	return func(ctx context.Context, req *protocol.Request) (*Identity, error) {
		for _, auth := range authenticators {
			identity, err := auth(ctx, req)
			if err != nil {
				return nil, err
			}
			if identity != nil {
				return identity, nil
			}
		}
		return nil, nil
	}
}
