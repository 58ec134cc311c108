package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/signalworks/herald"

// Tracer provides OpenTelemetry tracing for Herald.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a new Herald tracer.
func NewTracer() *Tracer {
	return &Tracer{
		tracer: otel.Tracer(tracerName),
	}
}

// StartDeliverySpan starts a new span for a delivery attempt.
func (t *Tracer) StartDeliverySpan(ctx context.Context, recordID, eventID, subscriptionID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "herald.delivery",
		trace.WithAttributes(
			attribute.String("herald.record_id", recordID),
			attribute.String("herald.event_id", eventID),
			attribute.String("herald.subscription_id", subscriptionID),
		),
	)
}

// EndDeliverySpan ends a delivery span with result attributes.
func (t *Tracer) EndDeliverySpan(span trace.Span, statusCode, latencyMs int, err string) {
	span.SetAttributes(
		attribute.Int("http.status_code", statusCode),
		attribute.Int("herald.latency_ms", latencyMs),
	)
	if err != "" {
		span.SetAttributes(attribute.String("herald.error", err))
	}
	span.End()
}

// StartEmitSpan starts a new span for an event emission.
func (t *Tracer) StartEmitSpan(ctx context.Context, eventID, eventType string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "herald.emit",
		trace.WithAttributes(
			attribute.String("herald.event_id", eventID),
			attribute.String("herald.event_type", eventType),
		),
	)
}
