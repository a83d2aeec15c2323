// Package b3 implements the B3 propagation format on top of zipkin-go.
//
// Request/response carriers (HTTP, gRPC) use the multi-header form:
//
//	X-B3-TraceId: 463ac35c9f6413ad48485a3953bb6124
//	X-B3-SpanId: a2fb4a1d1a96d312
//	X-B3-ParentSpanId: 0020000000000001
//	X-B3-Sampled: 1
//
// Messaging carriers (producer and consumer spans) use the single header:
//
//	b3: 463ac35c9f6413ad48485a3953bb6124-a2fb4a1d1a96d312-1-0020000000000001
//
// Extraction accepts either form for every kind. The single header wins when
// both are present.
package b3

import (
	"strings"

	"github.com/openzipkin/zipkin-go/model"
	zb3 "github.com/openzipkin/zipkin-go/propagation/b3"

	"github.com/kzs0/spanbridge/trace"
)

// Carrier keys in the order they are declared to instrumentation.
var keys = []string{
	zb3.Context,
	zb3.TraceID,
	zb3.SpanID,
	zb3.ParentSpanID,
	zb3.Sampled,
	zb3.Flags,
}

// Propagation is the B3 trace.Propagation.
type Propagation struct{}

var _ trace.Propagation = Propagation{}

// New returns the B3 propagation.
func New() Propagation { return Propagation{} }

// Keys returns the B3 carrier keys.
func (Propagation) Keys() []string {
	return append([]string(nil), keys...)
}

// Injector returns the single-header injector for messaging kinds and the
// multi-header injector otherwise.
func (Propagation) Injector(kind trace.Kind) trace.Injector {
	switch kind {
	case trace.KindProducer, trace.KindConsumer:
		return InjectSingle
	default:
		return InjectMulti
	}
}

// Extractor returns Extract for every kind.
func (Propagation) Extractor(trace.Kind) trace.Extractor {
	return Extract
}

// InjectMulti writes the x-b3-* headers.
func InjectMulti(tc trace.TraceContext, carrier trace.Setter) {
	if !tc.IsValid() {
		return
	}
	carrier.SetHeader(zb3.TraceID, tc.TraceIDString())
	carrier.SetHeader(zb3.SpanID, tc.SpanIDString())
	if parent := tc.ParentIDString(); parent != "" {
		carrier.SetHeader(zb3.ParentSpanID, parent)
	}
	if tc.Debug() {
		carrier.SetHeader(zb3.Flags, "1")
	} else if s := tc.Sampled().String(); s != "" {
		carrier.SetHeader(zb3.Sampled, s)
	}
}

// InjectSingle writes the b3 header without the parent span ID, which
// messaging consumers have no use for.
func InjectSingle(tc trace.TraceContext, carrier trace.Setter) {
	if !tc.IsValid() {
		return
	}
	sc := tc.Model()
	sc.ParentID = nil
	carrier.SetHeader(zb3.Context, zb3.BuildSingleHeader(sc))
}

// Extract reads the b3 header, falling back to the x-b3-* headers.
func Extract(carrier trace.Getter) trace.Extraction {
	if single := strings.TrimSpace(carrier.Header(zb3.Context)); single != "" {
		sc, err := zb3.ParseSingleHeader(single)
		if err != nil {
			return trace.Extraction{Err: err}
		}
		return fromModel(sc)
	}

	sc, err := zb3.ParseHeaders(
		carrier.Header(zb3.TraceID),
		carrier.Header(zb3.SpanID),
		carrier.Header(zb3.ParentSpanID),
		carrier.Header(zb3.Sampled),
		carrier.Header(zb3.Flags),
	)
	if err != nil {
		return trace.Extraction{Err: err}
	}
	return fromModel(sc)
}

func fromModel(sc *model.SpanContext) trace.Extraction {
	if sc == nil {
		return trace.Extraction{}
	}
	tc := trace.TraceContextFromModel(*sc)
	if tc.IsValid() {
		return trace.Extraction{Context: tc, Found: true}
	}
	return trace.Extraction{Sampled: tc.Sampled(), Debug: tc.Debug()}
}
