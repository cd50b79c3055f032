// Package protocol implements the MSGPACK-RPC wire protocol.
//
// It converts between Request/Response values and their MessagePack
// encoding, and maps protocol failures onto a typed error taxonomy.
// Nothing in this package performs I/O.
//
// # Messages
//
// Four message shapes travel on the wire, each a MessagePack array:
//
//	[0, id, method, args]       call
//	[2, method, args]           notification
//	[1, id, nil, result]        success reply
//	[1, id, [code, msg], nil]   error reply
//
// A server decodes incoming bytes with ParseRequest and answers with
// Request.Respond or Request.ErrorRespond. A client builds requests with
// Protocol.CreateRequest and decodes replies with ParseReply.
//
// # Error Codes
//
//	CodeParseError     = -32700  // undecodable MessagePack
//	CodeInvalidRequest = -32600  // not a valid request array
//	CodeMethodNotFound = -32601
//	CodeInvalidParams  = -32602  // params is not an array
//	CodeInternalError  = -32603
//	CodeServerError    = -32000  // application-defined message
//
// Errors compare by code with errors.Is:
//
//	if errors.Is(err, protocol.NewMethodNotFound("")) { ... }
//
// Notifications are never answered. A request error raised after the
// message was identified as a notification returns nil from
// Error.ErrorResponse, and Request.Respond/ErrorRespond return nil for
// one-way requests.
package protocol
