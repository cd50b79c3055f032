package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/felixgeelhaar/msgpack-rpc/protocol"
)

const (
	instrumentationName    = "github.com/felixgeelhaar/msgpack-rpc"
	instrumentationVersion = "0.1.0"
	rpcSystem              = "msgpack_rpc"
)

// OTelOption configures the OpenTelemetry middleware.
type OTelOption func(*otelConfig)

type otelConfig struct {
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	serviceName    string
	skipMethods    map[string]bool
}

// WithTracerProvider sets a custom tracer provider.
func WithTracerProvider(tp trace.TracerProvider) OTelOption {
	return func(c *otelConfig) {
		c.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom meter provider.
func WithMeterProvider(mp metric.MeterProvider) OTelOption {
	return func(c *otelConfig) {
		c.meterProvider = mp
	}
}

// WithOTelServiceName sets the service name for telemetry.
func WithOTelServiceName(name string) OTelOption {
	return func(c *otelConfig) {
		c.serviceName = name
	}
}

// WithOTelSkipMethods specifies methods that are not traced.
func WithOTelSkipMethods(methods ...string) OTelOption {
	return func(c *otelConfig) {
		for _, m := range methods {
			c.skipMethods[m] = true
		}
	}
}

// OTel returns middleware that adds OpenTelemetry tracing and metrics.
// Each request gets a server span named after its method; request counts,
// latency and error counts are recorded per method and error code.
func OTel(opts ...OTelOption) Middleware {
	cfg := &otelConfig{
		tracerProvider: otel.GetTracerProvider(),
		meterProvider:  otel.GetMeterProvider(),
		serviceName:    "msgpack-rpc-server",
		skipMethods:    make(map[string]bool),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	tracer := cfg.tracerProvider.Tracer(
		instrumentationName,
		trace.WithInstrumentationVersion(instrumentationVersion),
	)

	meter := cfg.meterProvider.Meter(
		instrumentationName,
		metric.WithInstrumentationVersion(instrumentationVersion),
	)

	requestCounter, _ := meter.Int64Counter(
		"rpc.server.requests",
		metric.WithDescription("Total number of MSGPACK-RPC requests"),
		metric.WithUnit("{request}"),
	)

	requestDuration, _ := meter.Float64Histogram(
		"rpc.server.duration",
		metric.WithDescription("Duration of MSGPACK-RPC requests"),
		metric.WithUnit("ms"),
	)

	errorCounter, _ := meter.Int64Counter(
		"rpc.server.errors",
		metric.WithDescription("Total number of MSGPACK-RPC errors"),
		metric.WithUnit("{error}"),
	)

	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *protocol.Request) (any, error) {
			if cfg.skipMethods[req.Method] {
				return next(ctx, req)
			}

			attrs := []attribute.KeyValue{
				attribute.String("rpc.system", rpcSystem),
				attribute.String("rpc.method", req.Method),
				attribute.String("service.name", cfg.serviceName),
			}

			ctx, span := tracer.Start(ctx, req.Method,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(attrs...),
			)
			defer span.End()

			if n, ok := req.ID.Value(); ok {
				span.SetAttributes(attribute.Int64("rpc.msgpack.id", n))
			} else {
				span.SetAttributes(attribute.Bool("rpc.msgpack.one_way", true))
			}
			if reqID := RequestIDFromContext(ctx); reqID != "" {
				span.SetAttributes(attribute.String("rpc.request_id", reqID))
			}

			start := time.Now()
			requestCounter.Add(ctx, 1, metric.WithAttributes(attrs...))

			result, err := next(ctx, req)

			elapsed := float64(time.Since(start).Milliseconds())
			requestDuration.Record(ctx, elapsed, metric.WithAttributes(attrs...))

			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())

				code := protocol.AsError(err).Code
				span.SetAttributes(attribute.Int("rpc.msgpack.error_code", code))
				errorCounter.Add(ctx, 1, metric.WithAttributes(
					append(attrs, attribute.Int("rpc.msgpack.error_code", code))...,
				))
			} else {
				span.SetStatus(codes.Ok, "")
			}

			return result, err
		}
	}
}

// SpanFromContext returns the current span from context.
// Returns a no-op span if no span is present.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}
