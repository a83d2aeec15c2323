// Package otelbridge converts trace contexts to and from OpenTelemetry span
// contexts, so a trace can cross between code instrumented with this
// module and code instrumented with OpenTelemetry.
package otelbridge

import (
	"context"
	"encoding/binary"

	"github.com/openzipkin/zipkin-go/model"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/kzs0/spanbridge/trace"
)

// ToOTel returns tc as a remote OpenTelemetry span context. Unknown
// sampling maps to not sampled, since OpenTelemetry has no such state.
func ToOTel(tc trace.TraceContext) oteltrace.SpanContext {
	if !tc.IsValid() {
		return oteltrace.SpanContext{}
	}
	var tid oteltrace.TraceID
	binary.BigEndian.PutUint64(tid[:8], tc.TraceID().High)
	binary.BigEndian.PutUint64(tid[8:], tc.TraceID().Low)

	var sid oteltrace.SpanID
	binary.BigEndian.PutUint64(sid[:], uint64(tc.SpanID()))

	var flags oteltrace.TraceFlags
	if tc.Sampled() == trace.SampledYes {
		flags = flags.WithSampled(true)
	}
	return oteltrace.NewSpanContext(oteltrace.SpanContextConfig{
		TraceID:    tid,
		SpanID:     sid,
		TraceFlags: flags,
		Remote:     true,
	})
}

// FromOTel returns sc as a trace context. ok is false when sc is invalid.
func FromOTel(sc oteltrace.SpanContext) (tc trace.TraceContext, ok bool) {
	if !sc.IsValid() {
		return trace.TraceContext{}, false
	}
	tid, sid := sc.TraceID(), sc.SpanID()
	traceID := model.TraceID{
		High: binary.BigEndian.Uint64(tid[:8]),
		Low:  binary.BigEndian.Uint64(tid[8:]),
	}
	sampled := trace.SampledNo
	if sc.IsSampled() {
		sampled = trace.SampledYes
	}
	return trace.NewTraceContext(traceID, model.ID(binary.BigEndian.Uint64(sid[:])), 0, sampled), true
}

// Extract reads the OpenTelemetry span context carried by ctx. The result
// can be handed to Tracing.NextSpanFrom via trace.NewMessage.
func Extract(ctx context.Context) trace.Extraction {
	tc, ok := FromOTel(oteltrace.SpanContextFromContext(ctx))
	if !ok {
		return trace.Extraction{}
	}
	return trace.Extraction{Context: tc, Found: true}
}

// ContextWithCurrent returns ctx carrying the trace context current on ctx
// as a remote OpenTelemetry parent. ctx is returned unchanged when nothing
// is current.
func ContextWithCurrent(ctx context.Context) context.Context {
	tc, ok := trace.CurrentContext(ctx)
	if !ok || !tc.IsValid() {
		return ctx
	}
	return oteltrace.ContextWithRemoteSpanContext(ctx, ToOTel(tc))
}

// SpanKind maps a span kind to its OpenTelemetry equivalent.
func SpanKind(kind trace.Kind) oteltrace.SpanKind {
	switch kind {
	case trace.KindClient:
		return oteltrace.SpanKindClient
	case trace.KindServer:
		return oteltrace.SpanKindServer
	case trace.KindProducer:
		return oteltrace.SpanKindProducer
	case trace.KindConsumer:
		return oteltrace.SpanKindConsumer
	default:
		return oteltrace.SpanKindInternal
	}
}
