package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// TraceContext is the W3C trace context stored alongside a queued payload.
type TraceContext struct {
	TraceParent string `json:"traceparent,omitempty"`
	TraceState  string `json:"tracestate,omitempty"`
}

// Inject captures the span context of ctx. It is empty when ctx carries no
// sampled span.
func Inject(ctx context.Context) TraceContext {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	return TraceContext{
		TraceParent: carrier["traceparent"],
		TraceState:  carrier["tracestate"],
	}
}

// Extract returns ctx with tc as its remote parent span.
func Extract(ctx context.Context, tc TraceContext) context.Context {
	if tc.TraceParent == "" && tc.TraceState == "" {
		return ctx
	}
	carrier := propagation.MapCarrier{
		"traceparent": tc.TraceParent,
		"tracestate":  tc.TraceState,
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}
