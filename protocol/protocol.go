package protocol

import "sync/atomic"

// Option configures a Protocol.
type Option func(*Protocol)

// WithRaisesErrors controls how RaiseError hands back a reconstructed error.
// When true (the default) the error is returned as the error result; when
// false it is returned as the value and the error result is nil.
func WithRaisesErrors(raise bool) Option {
	return func(p *Protocol) {
		p.raisesErrors = raise
	}
}

// Protocol is the entry point for clients and servers.
//
// A Protocol is safe for concurrent use. Ids handed out by CreateRequest are
// unique and strictly increasing per instance, starting at 1.
type Protocol struct {
	raisesErrors bool
	lastID       atomic.Int64
}

// New creates a Protocol.
func New(opts ...Option) *Protocol {
	p := &Protocol{raisesErrors: true}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RaisesErrors reports the configured RaiseError behavior.
func (p *Protocol) RaisesErrors() bool {
	return p.raisesErrors
}

// CreateRequest builds a new request.
//
// MSGPACK-RPC has positional arguments only; a non-empty kwargs fails with
// an invalid request error. A call (oneWay false) gets the next id. Args are
// copied; nil args become an empty list.
func (p *Protocol) CreateRequest(method string, args []any, kwargs map[string]any, oneWay bool) (*Request, error) {
	if len(kwargs) > 0 {
		return nil, NewInvalidRequest("Does not support kwargs")
	}

	req := &Request{
		OneWay: oneWay,
		Method: method,
		Args:   make([]any, len(args)),
	}
	copy(req.Args, args)

	if !oneWay {
		req.ID = NewID(p.lastID.Add(1))
	}

	return req, nil
}

// NewCall builds a call expecting a reply.
func (p *Protocol) NewCall(method string, args ...any) *Request {
	req, _ := p.CreateRequest(method, args, nil, false)
	return req
}

// NewNotification builds a one-way request.
func (p *Protocol) NewNotification(method string, args ...any) *Request {
	req, _ := p.CreateRequest(method, args, nil, true)
	return req
}

// ParseRequest decodes and validates a request. See the package-level ParseRequest.
func (p *Protocol) ParseRequest(data []byte) (*Request, error) {
	return ParseRequest(data)
}

// ParseReply decodes and validates a reply. See the package-level ParseReply.
func (p *Protocol) ParseReply(data []byte) (Response, error) {
	return ParseReply(data)
}

// RaiseError reconstructs the peer's error from an error reply.
//
// With raisesErrors set the error is the second result and the first is nil;
// otherwise the error is the first result and the second is nil.
func (p *Protocol) RaiseError(reply ErrorReply) (*Error, error) {
	return p.raise(reply.RemoteError())
}

// RaiseErrorCode is RaiseError for a bare code and message pair.
func (p *Protocol) RaiseErrorCode(code int, msg string) (*Error, error) {
	return p.raise(NewRemoteError(code, msg))
}

func (p *Protocol) raise(e *Error) (*Error, error) {
	if p.raisesErrors {
		return nil, e
	}
	return e, nil
}
