package protocol

// Request is a MSGPACK-RPC call or notification.
//
// A call carries an id and expects a reply. A notification (OneWay) carries
// no id and must never be answered, not even with an error.
type Request struct {
	OneWay bool
	ID     ID
	Method string
	Args   []any
}

// IsNotification returns true if this request is one-way.
func (r *Request) IsNotification() bool {
	return r.OneWay
}

// Respond creates a success reply carrying result.
// It returns nil when no reply may be sent.
func (r *Request) Respond(result any) *SuccessResponse {
	if r.OneWay || !r.ID.IsSet() {
		return nil
	}
	return &SuccessResponse{ID: r.ID, Result: result}
}

// ErrorRespond creates an error reply for err, mapping it with CodeAndMessage.
// It returns nil when no reply may be sent.
func (r *Request) ErrorRespond(err error) *ErrorResponse {
	if r.OneWay || !r.ID.IsSet() {
		return nil
	}
	code, msg := CodeAndMessage(err)
	return &ErrorResponse{ID: r.ID, Code: code, Message: msg}
}

// Serialize encodes the request as [0, id, method, args] or, for a
// notification, [2, method, args]. Nil Args encode as an empty array.
func (r *Request) Serialize() ([]byte, error) {
	args := r.Args
	if args == nil {
		args = []any{}
	}
	if r.OneWay || !r.ID.IsSet() {
		return pack([]any{TypeNotification, r.Method, args})
	}
	return pack([]any{TypeRequest, r.ID, r.Method, args})
}

// Response is a decoded or locally built reply.
type Response interface {
	// ResponseID returns the correlation id of the request being answered.
	ResponseID() ID
	// Serialize encodes the reply as [1, id, error, result].
	Serialize() ([]byte, error)
}

// ErrorReply is implemented by both error reply variants.
type ErrorReply interface {
	Response
	// RemoteError reconstructs the peer's error.
	RemoteError() *Error
}

// SuccessResponse carries the result of a call.
type SuccessResponse struct {
	ID     ID
	Result any
}

// ResponseID implements Response.
func (r *SuccessResponse) ResponseID() ID { return r.ID }

// Serialize implements Response.
func (r *SuccessResponse) Serialize() ([]byte, error) {
	return pack([]any{TypeResponse, r.ID, nil, r.Result})
}

// ErrorResponse carries a [code, message] error.
type ErrorResponse struct {
	ID      ID
	Code    int
	Message string
}

// NewErrorResponse creates an error reply from a protocol error.
func NewErrorResponse(id ID, err *Error) *ErrorResponse {
	return &ErrorResponse{ID: id, Code: err.Code, Message: err.Message}
}

// ResponseID implements Response.
func (r *ErrorResponse) ResponseID() ID { return r.ID }

// Serialize implements Response.
func (r *ErrorResponse) Serialize() ([]byte, error) {
	return pack([]any{TypeResponse, r.ID, []any{r.Code, r.Message}, nil})
}

// RemoteError implements ErrorReply.
func (r *ErrorResponse) RemoteError() *Error {
	e := NewRemoteError(r.Code, r.Message)
	e.RequestID = r.ID
	return e
}

// RawErrorResponse is an error reply from a peer that did not follow the
// [code, message] convention. Error holds the payload as decoded.
type RawErrorResponse struct {
	ID    ID
	Error any
}

// ResponseID implements Response.
func (r *RawErrorResponse) ResponseID() ID { return r.ID }

// Serialize implements Response. The payload is written back unchanged.
func (r *RawErrorResponse) Serialize() ([]byte, error) {
	return pack([]any{TypeResponse, r.ID, r.Error, nil})
}

// RemoteError implements ErrorReply.
func (r *RawErrorResponse) RemoteError() *Error {
	return &Error{
		Kind:      KindRemoteUnstructured,
		Message:   describe(r.Error),
		RequestID: r.ID,
		Data:      r.Error,
	}
}

var (
	_ ErrorReply = (*ErrorResponse)(nil)
	_ ErrorReply = (*RawErrorResponse)(nil)
	_ Response   = (*SuccessResponse)(nil)
)
