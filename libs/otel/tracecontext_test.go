package otelx

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestTraceContextRoundTrip(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	stored := CaptureTrace(ctx)
	if stored.Empty() {
		t.Fatal("expected traceparent")
	}

	restored := trace.SpanContextFromContext(stored.Restore(context.Background()))
	if restored.TraceID() != traceID {
		t.Fatalf("trace id mismatch: %s", restored.TraceID())
	}
	if !restored.IsRemote() || !restored.IsSampled() {
		t.Fatal("expected a sampled remote parent")
	}
}

func TestCaptureTraceWithoutSpan(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	stored := CaptureTrace(context.Background())
	if !stored.Empty() {
		t.Fatalf("expected empty trace, got %+v", stored)
	}
	ctx := context.Background()
	if stored.Restore(ctx) != ctx {
		t.Fatal("expected context untouched")
	}
}

func TestSampleRatioFallsBackOnBadInput(t *testing.T) {
	for raw, want := range map[string]float64{"0.25": 0.25, "2": 1, "x": 1} {
		if got := sampleRatio(raw); got != want {
			t.Fatalf("sampleRatio(%q) = %v, want %v", raw, got, want)
		}
	}
}

func TestConfigFromEnvDisabledByDefault(t *testing.T) {
	t.Setenv("OTEL_ENABLED", "false")
	cfg := ConfigFromEnv("svc")
	if cfg.Enabled {
		t.Fatal("expected tracing disabled")
	}
	if cfg.ServiceName != "svc" {
		t.Fatalf("unexpected service name %q", cfg.ServiceName)
	}
}
