// SPDX-License-Identifier: MIT

package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys.
const (
	SessionIDKey = "watchtrack.session_id"
	VideoIDKey   = "watchtrack.video_id"
	TriggerKey   = "watchtrack.persist.trigger"
	EndTimeKey   = "watchtrack.persist.end_time"
	CompleteKey  = "watchtrack.persist.complete"
	ResultKey    = "watchtrack.persist.result"
)

const instrumentationName = "watchtrack/tracker"

// WatchAttributes identifies a watch session on a span.
func WatchAttributes(sessionID, videoID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(SessionIDKey, sessionID),
		attribute.String(VideoIDKey, videoID),
	}
}

// StartPersist opens the span covering one watch-event save.
func StartPersist(ctx context.Context, sessionID, videoID, trigger string, endTime float64, complete bool) (context.Context, trace.Span) {
	attrs := append(WatchAttributes(sessionID, videoID),
		attribute.String(TriggerKey, trigger),
		attribute.Float64(EndTimeKey, endTime),
		attribute.Bool(CompleteKey, complete),
	)
	return Tracer(instrumentationName).Start(ctx, "tracker.persist",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
}

// EndPersist records the outcome on span, counts it and ends the span.
// The meter is looked up at call time so tests can swap the global provider.
func EndPersist(ctx context.Context, span trace.Span, trigger string, err error) {
	result := "ok"
	if err != nil {
		result = "failed"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.String(ResultKey, result))
	span.End()

	meter := otel.GetMeterProvider().Meter(instrumentationName)
	counter, cerr := meter.Int64Counter("watchtrack.tracker.persist",
		metric.WithDescription("Watch events dispatched by tracker sessions"))
	if cerr != nil {
		return
	}
	counter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("trigger", trigger),
		attribute.String("result", result),
	))
}
