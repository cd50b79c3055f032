package middleware

import (
	"context"
	"errors"
	"time"

	"github.com/felixgeelhaar/msgpack-rpc/protocol"
)

// Logger is the interface for structured logging.
type Logger interface {
	Info(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	Debug(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
}

// Field represents a key-value pair for structured logging.
type Field struct {
	Key   string
	Value any
}

// F creates a new Field with the given key and value.
func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// Logging returns middleware that logs every handled request.
// Successful calls are logged at info level, notifications at debug level
// and failures at error level.
func Logging(logger Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *protocol.Request) (any, error) {
			start := time.Now()

			result, err := next(ctx, req)

			fields := []Field{
				F("method", req.Method),
				F("duration", time.Since(start)),
			}
			if req.OneWay {
				fields = append(fields, F("one_way", true))
			} else {
				fields = append(fields, F("id", req.ID.String()))
			}
			if requestID := RequestIDFromContext(ctx); requestID != "" {
				fields = append(fields, F("request_id", requestID))
			}
			if peer := protocol.GetRequestMeta(ctx, protocol.MetaRemoteAddr); peer != "" {
				fields = append(fields, F("peer", peer))
			}

			switch {
			case err != nil:
				fields = append(fields, F("error", err.Error()))
				var perr *protocol.Error
				if errors.As(err, &perr) && perr.HasCode() {
					fields = append(fields, F("code", perr.Code))
				}
				logger.Error("request failed", fields...)
			case req.OneWay:
				logger.Debug("notification handled", fields...)
			default:
				logger.Info("request completed", fields...)
			}

			return result, err
		}
	}
}

// NopLogger is a logger that discards all log entries.
type NopLogger struct{}

func (NopLogger) Info(msg string, fields ...Field)  {}
func (NopLogger) Error(msg string, fields ...Field) {}
func (NopLogger) Debug(msg string, fields ...Field) {}
func (NopLogger) Warn(msg string, fields ...Field)  {}
