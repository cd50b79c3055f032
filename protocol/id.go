package protocol

import (
	"strconv"

	"github.com/vmihailenco/msgpack/v5"
)

// ID is an optional correlation id. The zero value is "no id".
type ID struct {
	n   int64
	set bool
}

// NewID returns a set id.
func NewID(n int64) ID {
	return ID{n: n, set: true}
}

// Value returns the id and whether it is set.
func (id ID) Value() (int64, bool) {
	return id.n, id.set
}

// IsSet reports whether the id holds a value.
func (id ID) IsSet() bool {
	return id.set
}

// String returns the decimal id, or "none".
func (id ID) String() string {
	if !id.set {
		return "none"
	}
	return strconv.FormatInt(id.n, 10)
}

// EncodeMsgpack writes the id as an integer, or nil when unset.
func (id ID) EncodeMsgpack(enc *msgpack.Encoder) error {
	if !id.set {
		return enc.EncodeNil()
	}
	return enc.EncodeInt(id.n)
}

var _ msgpack.CustomEncoder = ID{}
