package otelx

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// StoredTrace is the W3C trace context in a form that fits two text columns,
// so work deferred through a table keeps its parent span.
type StoredTrace struct {
	Parent string
	State  string
}

// CaptureTrace serializes the span context carried by ctx. The zero value is
// returned when ctx has no span.
func CaptureTrace(ctx context.Context) StoredTrace {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	return StoredTrace{Parent: carrier.Get("traceparent"), State: carrier.Get("tracestate")}
}

func (s StoredTrace) Empty() bool { return s.Parent == "" }

// Restore attaches s to ctx as the remote parent.
func (s StoredTrace) Restore(ctx context.Context) context.Context {
	if s.Empty() {
		return ctx
	}
	carrier := propagation.MapCarrier{"traceparent": s.Parent}
	if s.State != "" {
		carrier["tracestate"] = s.State
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}
