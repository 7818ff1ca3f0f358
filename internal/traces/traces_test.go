package traces

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInit_NoEndpointIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), "", "test", slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestStartSpan_RecordsAttributes(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	_, span := StartSpan(context.Background(), "risk.Analyze",
		TransactionID("tx1"),
		ActorID("alice@example.com"),
		RiskScore(80),
		Status("FRAUD"),
	)
	span.End()

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name() != "risk.Analyze" {
		t.Errorf("span name = %q", spans[0].Name())
	}

	got := map[attribute.Key]attribute.Value{}
	for _, kv := range spans[0].Attributes() {
		got[kv.Key] = kv.Value
	}
	if got["transaction.id"].AsString() != "tx1" {
		t.Errorf("transaction.id = %v", got["transaction.id"])
	}
	if got["risk.score"].AsInt64() != 80 {
		t.Errorf("risk.score = %v", got["risk.score"])
	}
	if got["risk.status"].AsString() != "FRAUD" {
		t.Errorf("risk.status = %v", got["risk.status"])
	}
}

func TestDegradedAndFail(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	ctx, span := StartSpan(context.Background(), "transactions.Submit")
	Degraded(ctx, "velocity", "history unavailable")
	Fail(ctx, errors.New("save failed"))
	span.End()

	s := rec.Ended()[0]
	if s.Status().Code != codes.Error || s.Status().Description != "save failed" {
		t.Errorf("status = %+v", s.Status())
	}
	var sawDegraded bool
	for _, ev := range s.Events() {
		if ev.Name != "heuristic.unavailable" {
			continue
		}
		sawDegraded = true
		for _, kv := range ev.Attributes {
			if kv.Key == "heuristic.name" && kv.Value.AsString() != "velocity" {
				t.Errorf("heuristic.name = %v", kv.Value)
			}
		}
	}
	if !sawDegraded {
		t.Error("expected a heuristic.unavailable event")
	}
}
