package server

import (
	"fmt"
	"math"

	"github.com/felixgeelhaar/msgpack-rpc/protocol"
)

// ExpectArgs fails with an invalid params error unless args has exactly n
// elements.
func ExpectArgs(args []any, n int) error {
	if len(args) != n {
		return protocol.NewInvalidParams(fmt.Sprintf("expected %d arguments, got %d", n, len(args)))
	}
	return nil
}

// Int returns args[i] as an int64. Any MessagePack integer that fits is
// accepted.
func Int(args []any, i int) (int64, error) {
	v, err := arg(args, i)
	if err != nil {
		return 0, err
	}

	switch n := v.(type) {
	case int64:
		return n, nil
	case uint64:
		if n <= math.MaxInt64 {
			return int64(n), nil
		}
	case int:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	}
	return 0, typeError(i, "integer", v)
}

// Float returns args[i] as a float64. Integers are converted.
func Float(args []any, i int) (float64, error) {
	v, err := arg(args, i)
	if err != nil {
		return 0, err
	}

	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	}
	if n, err := Int(args, i); err == nil {
		return float64(n), nil
	}
	return 0, typeError(i, "number", v)
}

// String returns args[i] as a string.
func String(args []any, i int) (string, error) {
	v, err := arg(args, i)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", typeError(i, "string", v)
	}
	return s, nil
}

// Bytes returns args[i] as a byte slice. Both bin and str values are accepted.
func Bytes(args []any, i int) ([]byte, error) {
	v, err := arg(args, i)
	if err != nil {
		return nil, err
	}
	switch b := v.(type) {
	case []byte:
		return b, nil
	case string:
		return []byte(b), nil
	}
	return nil, typeError(i, "binary", v)
}

func arg(args []any, i int) (any, error) {
	if i < 0 || i >= len(args) {
		return nil, protocol.NewInvalidParams(fmt.Sprintf("missing argument %d", i))
	}
	return args[i], nil
}

func typeError(i int, want string, got any) error {
	return protocol.NewInvalidParams(fmt.Sprintf("argument %d: expected %s, got %T", i, want, got))
}
