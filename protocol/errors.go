package protocol

import (
	"errors"
	"fmt"
)

// MSGPACK-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeServerError    = -32000
)

// Extension codes used by the middleware package. They sit in the
// implementation-defined server error range.
const (
	CodeUnauthorized = -32002
	CodeRateLimited  = -32003
)

// Kind identifies the category of an Error.
type Kind int

const (
	KindParseError Kind = iota
	KindInvalidRequest
	KindMethodNotFound
	KindInvalidParams
	KindInternalError
	KindServerError
	// KindRemote is an error reconstructed from a peer's [code, message] reply.
	KindRemote
	// KindRemoteUnstructured is an error reconstructed from a reply whose error
	// payload did not have the [code, message] shape. It has no code.
	KindRemoteUnstructured
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindParseError:
		return "parse error"
	case KindInvalidRequest:
		return "invalid request"
	case KindMethodNotFound:
		return "method not found"
	case KindInvalidParams:
		return "invalid params"
	case KindInternalError:
		return "internal error"
	case KindServerError:
		return "server error"
	case KindRemote:
		return "remote error"
	case KindRemoteUnstructured:
		return "unstructured remote error"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

type descriptor struct {
	code    int
	message string
}

var descriptors = map[Kind]descriptor{
	KindParseError:     {CodeParseError, "Parse error"},
	KindInvalidRequest: {CodeInvalidRequest, "Invalid request"},
	KindMethodNotFound: {CodeMethodNotFound, "Method not found"},
	KindInvalidParams:  {CodeInvalidParams, "Invalid params"},
	KindInternalError:  {CodeInternalError, "Internal error"},
	KindServerError:    {CodeServerError, ""},
}

// Abstract error categories. Application code returns (or wraps) these when it
// wants a specific protocol error without building one itself.
var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrMethodNotFound = errors.New("method not found")
)

// ErrInvalidReply is wrapped by every error ParseReply returns.
var ErrInvalidReply = errors.New("invalid reply")

// Error is a MSGPACK-RPC protocol error.
type Error struct {
	Kind    Kind
	Code    int
	Message string

	// RequestID is the id of the request that caused the error, when known.
	RequestID ID

	// OneWay is set when the failing message was identified as a notification.
	// Such errors never produce a reply.
	OneWay bool

	// Data holds detail that is not sent on the wire: the raw payload of a
	// KindRemoteUnstructured error, or the decoder failure behind a parse error.
	Data any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if !e.HasCode() {
		return fmt.Sprintf("msgpackrpc: %s", e.Message)
	}
	return fmt.Sprintf("msgpackrpc: %s (code: %d)", e.Message, e.Code)
}

// Is implements errors.Is comparison by error code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if !e.HasCode() || !t.HasCode() {
		return false
	}
	return e.Code == t.Code
}

// HasCode reports whether the error carries a protocol error code.
func (e *Error) HasCode() bool {
	return e.Kind != KindRemoteUnstructured
}

// WithRequestID returns a copy of the error bound to the given request id.
func (e *Error) WithRequestID(id int64) *Error {
	c := *e
	c.RequestID = NewID(id)
	return &c
}

// ErrorResponse converts the error into a reply for its originating request.
// It returns nil when the originating message was a notification.
func (e *Error) ErrorResponse() *ErrorResponse {
	if e.OneWay {
		return nil
	}
	return &ErrorResponse{
		ID:      e.RequestID,
		Code:    e.Code,
		Message: e.Message,
	}
}

func newError(kind Kind, msg string) *Error {
	d := descriptors[kind]
	if msg == "" {
		msg = d.message
	}
	return &Error{Kind: kind, Code: d.code, Message: msg}
}

// NewParseError creates a parse error (-32700).
// An empty message selects the default message.
func NewParseError(msg string) *Error {
	return newError(KindParseError, msg)
}

// NewInvalidRequest creates an invalid request error (-32600).
func NewInvalidRequest(msg string) *Error {
	return newError(KindInvalidRequest, msg)
}

// NewMethodNotFound creates a method not found error (-32601).
func NewMethodNotFound(msg string) *Error {
	return newError(KindMethodNotFound, msg)
}

// NewInvalidParams creates an invalid params error (-32602).
func NewInvalidParams(msg string) *Error {
	return newError(KindInvalidParams, msg)
}

// NewInternalError creates an internal error (-32603).
func NewInternalError(msg string) *Error {
	return newError(KindInternalError, msg)
}

// NewServerError creates an application-defined server error (-32000).
func NewServerError(msg string) *Error {
	return newError(KindServerError, msg)
}

// NewRemoteError reconstructs a peer's error from its code and message.
func NewRemoteError(code int, msg string) *Error {
	return &Error{Kind: KindRemote, Code: code, Message: msg}
}

// CodeAndMessage maps an arbitrary error onto a protocol code and message.
//
// A *Error anywhere in the chain is used verbatim. ErrInvalidRequest and
// ErrMethodNotFound map to their protocol counterparts with the default
// message. Anything else becomes a server error carrying err.Error().
func CodeAndMessage(err error) (int, string) {
	e := AsError(err)
	return e.Code, e.Message
}

// AsError is CodeAndMessage returning a *Error.
func AsError(err error) *Error {
	var perr *Error
	switch {
	case errors.As(err, &perr) && perr.HasCode():
		return perr
	case errors.Is(err, ErrInvalidRequest):
		return NewInvalidRequest("")
	case errors.Is(err, ErrMethodNotFound):
		return NewMethodNotFound("")
	case err == nil:
		return NewServerError("")
	default:
		return NewServerError(err.Error())
	}
}
