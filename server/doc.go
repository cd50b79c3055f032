// Package server provides a MSGPACK-RPC method dispatcher.
//
// Methods are registered by name and receive the positional arguments of a
// call as decoded from the wire:
//
//	srv := server.New(server.WithMiddleware(middleware.Recover()))
//
//	srv.Register("add", func(ctx context.Context, args []any) (any, error) {
//	    if err := server.ExpectArgs(args, 2); err != nil {
//	        return nil, err
//	    }
//	    a, err := server.Int(args, 0)
//	    if err != nil {
//	        return nil, err
//	    }
//	    b, err := server.Int(args, 1)
//	    if err != nil {
//	        return nil, err
//	    }
//	    return a + b, nil
//	})
//
// # Replies
//
// HandleMessage turns one encoded message into one encoded reply:
//
//   - A call gets a success reply carrying the method result, or an error
//     reply whose code is derived from the returned error.
//   - A notification never gets a reply, even when it fails.
//   - Undecodable input gets a parse error reply with a nil id.
//
// Methods return *protocol.Error values to choose a specific code. Wrapping
// protocol.ErrInvalidRequest or protocol.ErrMethodNotFound selects those
// codes with their default messages, and any other error becomes a server
// error (-32000) carrying its text.
package server
