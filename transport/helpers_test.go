package transport

import (
	"bytes"
	"context"
	"testing"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/felixgeelhaar/msgpack-rpc/server"
)

func newEchoServer() *server.Server {
	srv := server.New()
	srv.Register("echo", func(ctx context.Context, args []any) (any, error) {
		return args, nil
	})
	srv.Register("notify", func(ctx context.Context, args []any) (any, error) {
		return nil, nil
	})
	return srv
}

func mustPack(t *testing.T, v any) []byte {
	t.Helper()
	data, err := msgpack.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

// decodeLoose decodes a reply without the strict id checks of ParseReply.
func decodeLoose(t *testing.T, data []byte) []any {
	t.Helper()
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)
	v, err := dec.DecodeInterfaceLoose()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	msg, ok := v.([]any)
	if !ok {
		t.Fatalf("not an array: %#v", v)
	}
	return msg
}
