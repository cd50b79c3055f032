// Package e2e provides end-to-end compliance tests for the MSGPACK-RPC implementation.
package e2e

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/felixgeelhaar/msgpack-rpc"
	"github.com/felixgeelhaar/msgpack-rpc/client"
	"github.com/felixgeelhaar/msgpack-rpc/protocol"
	"github.com/felixgeelhaar/msgpack-rpc/server"
	"github.com/felixgeelhaar/msgpack-rpc/testutil"
	"github.com/felixgeelhaar/msgpack-rpc/transport"
)

// h decodes space separated hex octets.
func h(s string) []byte {
	b, err := hex.DecodeString(strings.ReplaceAll(s, " ", ""))
	if err != nil {
		panic(err)
	}
	return b
}

func cat(parts ...[]byte) []byte {
	return bytes.Join(parts, nil)
}

func newComplianceServer() (*msgpackrpc.Server, <-chan []any) {
	notes := make(chan []any, 16)

	srv := msgpackrpc.NewServer()
	srv.Register("add", func(ctx context.Context, args []any) (any, error) {
		if err := server.ExpectArgs(args, 2); err != nil {
			return nil, err
		}
		a, err := server.Int(args, 0)
		if err != nil {
			return nil, err
		}
		b, err := server.Int(args, 1)
		if err != nil {
			return nil, err
		}
		return a + b, nil
	})
	srv.Register("log", func(ctx context.Context, args []any) (any, error) {
		notes <- args
		return "ignored", nil
	})
	srv.Register("fail", func(ctx context.Context, args []any) (any, error) {
		return nil, errors.New("boom")
	})
	srv.Register("reject", func(ctx context.Context, args []any) (any, error) {
		return nil, protocol.ErrInvalidRequest
	})
	return srv, notes
}

// TestCompliance_Wire checks exact reply bytes for single messages.
func TestCompliance_Wire(t *testing.T) {
	srv, _ := newComplianceServer()

	tests := []struct {
		name string
		in   []byte
		want []byte
	}{
		{
			name: "call",
			in:   cat(h("94 00 01 a3"), []byte("add"), h("92 02 03")),
			want: h("94 01 01 c0 05"),
		},
		{
			name: "id zero is a valid id",
			in:   cat(h("94 00 00 a3"), []byte("add"), h("92 01 01")),
			want: h("94 01 00 c0 02"),
		},
		{
			name: "wide id is echoed compactly",
			in:   cat(h("94 00 cd 01 00 a3"), []byte("add"), h("92 01 01")),
			want: h("94 01 cd 01 00 c0 02"),
		},
		{
			name: "notification gets no reply",
			in:   cat(h("93 02 a3"), []byte("log"), h("91 a2"), []byte("hi")),
			want: nil,
		},
		{
			name: "unknown method",
			in:   cat(h("94 00 02 a4"), []byte("nope"), h("90")),
			want: cat(h("94 01 02 92 d1 80 a7 b6"), []byte("Method not found: nope"), h("c0")),
		},
		{
			name: "unknown method notification gets no reply",
			in:   cat(h("93 02 a4"), []byte("nope"), h("90")),
			want: nil,
		},
		{
			name: "params not an array",
			in:   cat(h("94 00 03 a3"), []byte("add"), h("a1"), []byte("x")),
			want: cat(h("94 01 03 92 d1 80 a6 ae"), []byte("Invalid params"), h("c0")),
		},
		{
			name: "bad notification params get no reply",
			in:   cat(h("93 02 a3"), []byte("log"), h("a1"), []byte("x")),
			want: nil,
		},
		{
			name: "wrong call length keeps the id",
			in:   cat(h("93 00 04 a3"), []byte("add")),
			want: cat(h("94 01 04 92 d1 80 a8 af"), []byte("Invalid request"), h("c0")),
		},
		{
			name: "not an array",
			in:   cat(h("a3"), []byte("abc")),
			want: cat(h("94 01 c0 92 d1 80 a8 af"), []byte("Invalid request"), h("c0")),
		},
		{
			name: "boolean id",
			in:   cat(h("94 00 c3 a3"), []byte("add"), h("90")),
			want: cat(h("94 01 c0 92 d1 80 a8 af"), []byte("Invalid request"), h("c0")),
		},
		{
			name: "unknown message type",
			in:   cat(h("94 05 01 a3"), []byte("add"), h("90")),
			want: cat(h("94 01 c0 92 d1 80 a8 af"), []byte("Invalid request"), h("c0")),
		},
		{
			name: "undecodable input",
			in:   h("c1"),
			want: cat(h("94 01 c0 92 d1 80 44 ab"), []byte("Parse error"), h("c0")),
		},
		{
			name: "application error",
			in:   cat(h("94 00 05 a4"), []byte("fail"), h("90")),
			want: cat(h("94 01 05 92 d1 83 00 a4"), []byte("boom"), h("c0")),
		},
		{
			name: "abstract error category",
			in:   cat(h("94 00 06 a6"), []byte("reject"), h("90")),
			want: cat(h("94 01 06 92 d1 80 a8 af"), []byte("Invalid request"), h("c0")),
		},
	}

	tc := testutil.NewTestClient(t, srv)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tc.SendRaw(tt.in)
			if !bytes.Equal(got, tt.want) {
				t.Errorf("reply = % x, want % x", got, tt.want)
			}
		})
	}

	t.Run("argument type error", func(t *testing.T) {
		_, err := tc.Call("add", true, 1)
		tc.AssertErrorCode(err, protocol.CodeInvalidParams)
	})
}

// TestCompliance_Stream checks that a stream of concatenated messages is
// answered message by message.
func TestCompliance_Stream(t *testing.T) {
	srv, notes := newComplianceServer()
	proto := protocol.New()

	var in bytes.Buffer
	for _, req := range []*protocol.Request{
		proto.NewCall("add", 1, 2),
		proto.NewNotification("log", "one"),
		proto.NewCall("add", 10, 20),
		proto.NewCall("nope"),
		proto.NewNotification("log", "two"),
	} {
		data, err := req.Serialize()
		if err != nil {
			t.Fatal(err)
		}
		in.Write(data)
	}

	var out bytes.Buffer
	tr := transport.NewStream(&in, &out)
	if err := tr.Serve(context.Background(), srv); err != nil {
		t.Fatalf("Serve: %v", err)
	}

	replies := readReplies(t, out.Bytes())
	if len(replies) != 3 {
		t.Fatalf("got %d replies, want 3", len(replies))
	}

	want := map[int64]any{1: int64(3), 2: int64(30)}
	for _, resp := range replies {
		id, _ := resp.ResponseID().Value()
		switch r := resp.(type) {
		case *protocol.SuccessResponse:
			if r.Result != want[id] {
				t.Errorf("reply %d result = %v, want %v", id, r.Result, want[id])
			}
		case *protocol.ErrorResponse:
			if id != 3 || r.Code != protocol.CodeMethodNotFound {
				t.Errorf("unexpected error reply %#v", r)
			}
		default:
			t.Errorf("unexpected reply %#v", resp)
		}
	}

	if len(notes) != 2 {
		t.Errorf("notifications delivered = %d, want 2", len(notes))
	}
}

// TestCompliance_MalformedStream checks that a stream ends with a parse
// error reply once it can no longer be decoded.
func TestCompliance_MalformedStream(t *testing.T) {
	srv, _ := newComplianceServer()

	in := bytes.NewReader(cat(h("94 00 01 a3"), []byte("add"), h("92 01 01"), h("c1")))
	var out bytes.Buffer

	err := transport.NewStream(in, &out).Serve(context.Background(), srv)
	if !errors.Is(err, transport.ErrMalformedFrame) {
		t.Fatalf("Serve error = %v, want ErrMalformedFrame", err)
	}

	parseErr := cat(h("94 01 c0 92 d1 80 44 ab"), []byte("Parse error"), h("c0"))
	if !bytes.Contains(out.Bytes(), parseErr) {
		t.Errorf("output = % x, want a parse error reply", out.Bytes())
	}
	if !bytes.Contains(out.Bytes(), h("94 01 01 c0 02")) {
		t.Errorf("output = % x, want the call before the bad frame answered", out.Bytes())
	}
}

// TestCompliance_Client checks error reconstruction on the client side.
func TestCompliance_Client(t *testing.T) {
	srv, _ := newComplianceServer()
	ctx := context.Background()

	t.Run("remote errors are raised", func(t *testing.T) {
		c := testutil.NewPipeClient(t, srv)

		_, err := c.Call(ctx, "fail")
		var perr *protocol.Error
		if !errors.As(err, &perr) {
			t.Fatalf("err = %v, want *protocol.Error", err)
		}
		if perr.Kind != protocol.KindRemote || perr.Code != protocol.CodeServerError || perr.Message != "boom" {
			t.Errorf("err = %+v", perr)
		}
		if !errors.Is(err, protocol.NewServerError("")) {
			t.Error("expected errors.Is to match by code")
		}
	})

	t.Run("remote errors as values", func(t *testing.T) {
		proto := protocol.New(protocol.WithRaisesErrors(false))
		c := testutil.NewPipeClient(t, srv, client.WithProtocol(proto))

		result, err := c.Call(ctx, "nope")
		if err != nil {
			t.Fatalf("Call: %v", err)
		}
		perr, ok := result.(*protocol.Error)
		if !ok || perr.Code != protocol.CodeMethodNotFound {
			t.Errorf("result = %#v", result)
		}
	})

	t.Run("kwargs are rejected", func(t *testing.T) {
		c := testutil.NewPipeClient(t, srv)

		_, err := c.CallWithKwargs(ctx, "add", nil, map[string]any{"a": 1})
		var perr *protocol.Error
		if !errors.As(err, &perr) || perr.Code != protocol.CodeInvalidRequest {
			t.Errorf("err = %v, want invalid request", err)
		}
	})
}

func readReplies(t *testing.T, data []byte) []protocol.Response {
	t.Helper()

	var replies []protocol.Response
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	for {
		raw, err := dec.DecodeRaw()
		if errors.Is(err, io.EOF) {
			return replies
		}
		if err != nil {
			t.Fatalf("DecodeRaw: %v", err)
		}
		resp, err := protocol.ParseReply(raw)
		if err != nil {
			t.Fatalf("ParseReply: %v", err)
		}
		replies = append(replies, resp)
	}
}
