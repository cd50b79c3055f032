package msgpackrpc_test

import (
	"context"
	"errors"
	"fmt"

	"github.com/felixgeelhaar/msgpack-rpc"
	"github.com/felixgeelhaar/msgpack-rpc/protocol"
	"github.com/felixgeelhaar/msgpack-rpc/server"
)

// Example demonstrates registering a method and handling one encoded call.
func Example() {
	srv := msgpackrpc.NewServer()
	srv.Register("sum", func(ctx context.Context, args []any) (any, error) {
		var total int64
		for i := range args {
			n, err := server.Int(args, i)
			if err != nil {
				return nil, err
			}
			total += n
		}
		return total, nil
	})

	proto := msgpackrpc.NewProtocol()
	data, _ := proto.NewCall("sum", 1, 2, 3).Serialize()

	reply, _ := proto.ParseReply(srv.HandleMessage(context.Background(), data))
	if r, ok := reply.(*protocol.SuccessResponse); ok {
		fmt.Println(r.ID, r.Result)
	}

	data, _ = proto.NewCall("sum", "x").Serialize()
	reply, _ = proto.ParseReply(srv.HandleMessage(context.Background(), data))
	if r, ok := reply.(protocol.ErrorReply); ok {
		_, err := proto.RaiseError(r)
		var perr *msgpackrpc.Error
		if errors.As(err, &perr) {
			fmt.Println(perr.Code)
		}
	}
	// Output:
	// 1 6
	// -32602
}

// ExampleNewProtocol shows the wire encoding of a call and a notification.
func ExampleNewProtocol() {
	proto := msgpackrpc.NewProtocol()

	call, _ := proto.NewCall("sum", 1, 2).Serialize()
	fmt.Printf("% x\n", call)

	note, _ := proto.NewNotification("log").Serialize()
	fmt.Printf("% x\n", note)
	// Output:
	// 94 00 01 a3 73 75 6d 92 01 02
	// 93 02 a3 6c 6f 67 90
}

// ExampleDefaultMiddlewareWithTimeout shows using the production middleware stack.
func ExampleDefaultMiddlewareWithTimeout() {
	srv := msgpackrpc.NewServer()

	// Create a logger (implement msgpackrpc.Logger interface)
	var logger msgpackrpc.Logger // = yourLogger

	// Use default production middleware: recover, request ID, timeout, logging
	_ = logger
	_ = srv
	// msgpackrpc.ServeTCP(ctx, srv, ":18800", msgpackrpc.WithMiddleware(
	//     msgpackrpc.DefaultMiddlewareWithTimeout(logger, 30*time.Second)...,
	// ))

	fmt.Println("Server configured with default middleware")
	// Output: Server configured with default middleware
}
