// Package client provides a MSGPACK-RPC client.
//
// A Client builds requests with a protocol.Protocol and hands them to a
// Transport:
//
//	t, err := client.Dial(ctx, "tcp", "localhost:9000")
//	if err != nil {
//	    return err
//	}
//	c := client.New(t)
//	defer c.Close()
//
//	sum, err := c.Call(ctx, "add", 1, 2)
//
// Stream and WebSocket transports multiplex concurrent calls over one
// connection and match replies by id. HTTPTransport posts each request on
// its own.
//
// Error replies come back as *protocol.Error values that compare with
// errors.Is by code:
//
//	if errors.Is(err, protocol.NewMethodNotFound("")) {
//	    // ...
//	}
package client
