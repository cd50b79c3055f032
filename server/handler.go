package server

import (
	"context"

	"github.com/felixgeelhaar/msgpack-rpc/middleware"
	"github.com/felixgeelhaar/msgpack-rpc/protocol"
)

// HandleMessage decodes one encoded message, dispatches it and returns the
// encoded reply. It returns nil when nothing may be sent back: for every
// notification, and for malformed messages that were identified as
// notifications before they failed.
//
// HandleMessage implements transport.Handler.
func (s *Server) HandleMessage(ctx context.Context, data []byte) []byte {
	req, err := protocol.ParseRequest(data)
	if err != nil {
		perr := protocol.AsError(err)
		s.logger.Warn("rejected message",
			middleware.F("code", perr.Code),
			middleware.F("error", perr.Message),
			middleware.F("one_way", perr.OneWay),
		)
		if resp := perr.ErrorResponse(); resp != nil {
			return s.encode(resp)
		}
		return nil
	}

	result, err := s.Dispatch(ctx, req)

	if req.IsNotification() {
		return nil
	}

	if err != nil {
		if resp := req.ErrorRespond(err); resp != nil {
			return s.encode(resp)
		}
		return nil
	}

	if resp := req.Respond(result); resp != nil {
		return s.encode(resp)
	}
	return nil
}

// encode serializes a reply. A result that cannot be encoded is replaced by
// an internal error for the same request.
func (s *Server) encode(resp protocol.Response) []byte {
	data, err := resp.Serialize()
	if err == nil {
		return data
	}

	s.logger.Error("encode reply failed",
		middleware.F("id", resp.ResponseID().String()),
		middleware.F("error", err.Error()),
	)

	fallback := protocol.NewErrorResponse(resp.ResponseID(), protocol.NewInternalError("result is not encodable"))
	data, err = fallback.Serialize()
	if err != nil {
		return nil
	}
	return data
}
