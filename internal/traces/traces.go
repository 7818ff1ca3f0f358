// Package traces provides OpenTelemetry distributed tracing for fraudwatch.
package traces

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	serviceName = "fraudwatch"
	tracerName  = "github.com/mbd888/fraudwatch"
)

// Init installs a batching OTLP/gRPC tracer provider. With no endpoint the
// global no-op provider stays in place. The returned function flushes and
// stops the provider.
func Init(ctx context.Context, otlpEndpoint, version string, logger *slog.Logger) (func(context.Context) error, error) {
	if otlpEndpoint == "" {
		logger.Info("tracing disabled (no OTEL_EXPORTER_OTLP_ENDPOINT set)")
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(otlpEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	logger.Info("tracing enabled", "endpoint", otlpEndpoint, "service", serviceName)
	return tp.Shutdown, nil
}

// StartSpan starts a span on the fraudwatch tracer.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// Degraded records a heuristic that scored zero because it failed. The span
// keeps an OK status: the assessment itself still succeeds.
func Degraded(ctx context.Context, heuristic string, cause string) {
	trace.SpanFromContext(ctx).AddEvent("heuristic.unavailable", trace.WithAttributes(
		attribute.String("heuristic.name", heuristic),
		attribute.String("heuristic.cause", cause),
	))
}

// Fail marks the span in ctx as failed.
func Fail(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// Span attributes shared by the engine and the transaction service.

func TransactionID(id string) attribute.KeyValue { return attribute.String("transaction.id", id) }

func ActorID(id string) attribute.KeyValue { return attribute.String("actor.id", id) }

func Amount(amount string) attribute.KeyValue { return attribute.String("transaction.amount", amount) }

func SourceAddress(addr string) attribute.KeyValue {
	return attribute.String("source.address", addr)
}

func RiskScore(score int) attribute.KeyValue { return attribute.Int("risk.score", score) }

func Status(status string) attribute.KeyValue { return attribute.String("risk.status", status) }
