package protocol

import "context"

// Metadata keys set by the transports.
const (
	MetaTransport  = "transport"
	MetaRemoteAddr = "remote_addr"

	// MetaAuthorization holds the Authorization header of HTTP and
	// WebSocket requests.
	MetaAuthorization = "authorization"
	// MetaAPIKey holds the API key header of HTTP and WebSocket requests.
	MetaAPIKey = "api_key"
)

type requestMetaKey struct{}

// RequestMeta holds transport-level information about the connection a
// request arrived on, such as the peer address.
type RequestMeta map[string]string

// ContextWithRequestMeta returns a new context with the request metadata attached.
func ContextWithRequestMeta(ctx context.Context, meta RequestMeta) context.Context {
	return context.WithValue(ctx, requestMetaKey{}, meta)
}

// RequestMetaFromContext returns the request metadata from the context, or nil.
func RequestMetaFromContext(ctx context.Context) RequestMeta {
	if meta, ok := ctx.Value(requestMetaKey{}).(RequestMeta); ok {
		return meta
	}
	return nil
}

// GetRequestMeta returns a single metadata value, or "" when absent.
func GetRequestMeta(ctx context.Context, key string) string {
	return RequestMetaFromContext(ctx)[key]
}

// WithPeer returns a context carrying the transport name and remote address.
// Existing metadata is copied, never mutated.
func WithPeer(ctx context.Context, transport, remoteAddr string) context.Context {
	prev := RequestMetaFromContext(ctx)
	meta := make(RequestMeta, len(prev)+2)
	for k, v := range prev {
		meta[k] = v
	}
	meta[MetaTransport] = transport
	if remoteAddr != "" {
		meta[MetaRemoteAddr] = remoteAddr
	}
	return ContextWithRequestMeta(ctx, meta)
}

// WithRequestMeta returns a context whose metadata is the existing metadata
// plus the non-empty values of extra. Existing metadata is copied, never
// mutated.
func WithRequestMeta(ctx context.Context, extra RequestMeta) context.Context {
	prev := RequestMetaFromContext(ctx)
	meta := make(RequestMeta, len(prev)+len(extra))
	for k, v := range prev {
		meta[k] = v
	}
	for k, v := range extra {
		if v != "" {
			meta[k] = v
		}
	}
	return ContextWithRequestMeta(ctx, meta)
}
