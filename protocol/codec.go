package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

// MaxNestingDepth bounds how deeply arrays and maps may nest inside one
// message.
const MaxNestingDepth = 1024

var (
	errExtraData     = errors.New("extra data after message")
	errTooDeep       = errors.New("message nested too deeply")
	errLength        = errors.New("length exceeds message size")
	errInvalidUTF8   = errors.New("string is not valid UTF-8")
	errUnhashableKey = errors.New("map key is not hashable")
)

// pack encodes v with the smallest integer representations, matching what
// other MessagePack implementations put on the wire. Strings encode as str
// and []byte as bin.
func pack(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.UseCompactInts(true)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("msgpackrpc: encode: %w", err)
	}
	return buf.Bytes(), nil
}

// unpack decodes exactly one MessagePack object from data.
//
// str decodes to string and must be valid UTF-8; bin decodes to []byte.
// Integers decode to int64 or uint64, arrays to []any and maps to
// map[any]any, at every depth. Container lengths are checked against the
// bytes left in data before anything is allocated, and nesting is limited
// to MaxNestingDepth.
func unpack(data []byte) (any, error) {
	r := bytes.NewReader(data)
	u := &unpacker{r: r, dec: msgpack.NewDecoder(r)}

	v, err := u.value(0)
	if err != nil {
		return nil, err
	}
	if r.Len() > 0 {
		return nil, errExtraData
	}
	return v, nil
}

// unpacker walks one object. The decoder reads straight from r, so r.Len()
// is always the number of undecoded bytes.
type unpacker struct {
	r   *bytes.Reader
	dec *msgpack.Decoder
}

func (u *unpacker) value(depth int) (any, error) {
	c, err := u.dec.PeekCode()
	if err != nil {
		return nil, err
	}

	switch {
	case msgpcode.IsFixedArray(c), c == msgpcode.Array16, c == msgpcode.Array32:
		return u.array(depth)
	case msgpcode.IsFixedMap(c), c == msgpcode.Map16, c == msgpcode.Map32:
		return u.mapping(depth)
	case msgpcode.IsString(c):
		b, err := u.bytes()
		if err != nil {
			return nil, err
		}
		if !utf8.Valid(b) {
			return nil, errInvalidUTF8
		}
		return string(b), nil
	case msgpcode.IsBin(c):
		return u.bytes()
	default:
		return u.dec.DecodeInterfaceLoose()
	}
}

func (u *unpacker) array(depth int) (any, error) {
	if depth >= MaxNestingDepth {
		return nil, errTooDeep
	}
	n, err := u.dec.DecodeArrayLen()
	if err != nil {
		return nil, err
	}
	// every element takes at least one byte
	if n > u.r.Len() {
		return nil, errLength
	}

	arr := make([]any, n)
	for i := range arr {
		if arr[i], err = u.value(depth + 1); err != nil {
			return nil, err
		}
	}
	return arr, nil
}

func (u *unpacker) mapping(depth int) (any, error) {
	if depth >= MaxNestingDepth {
		return nil, errTooDeep
	}
	n, err := u.dec.DecodeMapLen()
	if err != nil {
		return nil, err
	}
	if n > u.r.Len()/2 {
		return nil, errLength
	}

	m := make(map[any]any, n)
	for i := 0; i < n; i++ {
		k, err := u.value(depth + 1)
		if err != nil {
			return nil, err
		}
		switch k.(type) {
		case []any, map[any]any, []byte:
			return nil, errUnhashableKey
		}
		v, err := u.value(depth + 1)
		if err != nil {
			return nil, err
		}
		m[k] = v
	}
	return m, nil
}

func (u *unpacker) bytes() ([]byte, error) {
	n, err := u.dec.DecodeBytesLen()
	if err != nil {
		return nil, err
	}
	if n > u.r.Len() {
		return nil, errLength
	}

	b := make([]byte, n)
	if err := u.dec.ReadFull(b); err != nil {
		return nil, err
	}
	return b, nil
}

// asInt64 reports whether v is a MessagePack integer that fits in an int64.
// Booleans and floats are not integers.
func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	default:
		return 0, false
	}
}

func describe(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func invalidReply(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidReply, reason)
}

// ParseReply decodes and validates a reply received by a client.
//
// The reply must be [1, id, error, result] with an integer id and at most one
// of error and result set. An error of the form [code, message] yields an
// *ErrorResponse; any other error payload yields a *RawErrorResponse. Every
// failure wraps ErrInvalidReply.
func ParseReply(data []byte) (Response, error) {
	v, err := unpack(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidReply, err)
	}

	rep, ok := v.([]any)
	if !ok || len(rep) != 4 {
		return nil, invalidReply("requires reply of length 4")
	}

	if tag, ok := asInt64(rep[0]); !ok || tag != TypeResponse {
		return nil, invalidReply("invalid message type")
	}

	n, ok := asInt64(rep[1])
	if !ok {
		return nil, invalidReply("invalid or missing message ID in response")
	}
	id := NewID(n)

	if rep[2] != nil && rep[3] != nil {
		return nil, invalidReply("reply must contain only one of result and error")
	}

	if rep[2] != nil {
		if pair, ok := rep[2].([]any); ok && len(pair) == 2 {
			code, codeOK := asInt64(pair[0])
			msg, msgOK := pair[1].(string)
			if codeOK && msgOK && int64(int(code)) == code {
				return &ErrorResponse{ID: id, Code: int(code), Message: msg}, nil
			}
		}
		return &RawErrorResponse{ID: id, Error: rep[2]}, nil
	}

	return &SuccessResponse{ID: id, Result: rep[3]}, nil
}

// ParseRequest decodes and validates a request received by a server.
//
// Undecodable input fails with a parse error. Structural violations fail with
// an invalid request error, and a params element that is not an array fails
// with an invalid params error. Errors carry the request id once it has been
// read, and are marked OneWay once the message was identified as a
// notification.
func ParseRequest(data []byte) (*Request, error) {
	v, err := unpack(data)
	if err != nil {
		perr := NewParseError("")
		perr.Data = err
		return nil, perr
	}

	req, ok := v.([]any)
	if !ok || len(req) < 2 {
		return nil, NewInvalidRequest("")
	}

	tag, ok := asInt64(req[0])
	if !ok {
		return nil, NewInvalidRequest("")
	}

	switch tag {
	case TypeRequest:
		return parseCall(req)
	case TypeNotification:
		return parseNotification(req)
	default:
		return nil, NewInvalidRequest("")
	}
}

func parseCall(req []any) (*Request, error) {
	n, ok := asInt64(req[1])
	if !ok {
		return nil, NewInvalidRequest("")
	}

	if len(req) != 4 {
		return nil, NewInvalidRequest("").WithRequestID(n)
	}

	method, ok := req[2].(string)
	if !ok {
		return nil, NewInvalidRequest("").WithRequestID(n)
	}

	// params must be an array; an absent argument list is sent as [].
	args, ok := req[3].([]any)
	if !ok {
		return nil, NewInvalidParams("").WithRequestID(n)
	}

	return &Request{
		ID:     NewID(n),
		Method: method,
		Args:   args,
	}, nil
}

func parseNotification(req []any) (*Request, error) {
	if len(req) != 3 {
		return nil, oneWay(NewInvalidRequest(""))
	}

	method, ok := req[1].(string)
	if !ok {
		return nil, oneWay(NewInvalidRequest(""))
	}

	args, ok := req[2].([]any)
	if !ok {
		return nil, oneWay(NewInvalidParams(""))
	}

	return &Request{
		OneWay: true,
		Method: method,
		Args:   args,
	}, nil
}

func oneWay(e *Error) *Error {
	e.OneWay = true
	return e
}
