package trace

import (
	"github.com/openzipkin/zipkin-go/model"

	"github.com/kzs0/spanbridge/internal"
)

// Sampled is a tri-state sampling decision.
type Sampled int8

const (
	SampledUnknown Sampled = iota
	SampledNo
	SampledYes
)

// String returns the B3 rendering of the decision, or "" when unknown.
func (s Sampled) String() string {
	switch s {
	case SampledYes:
		return "1"
	case SampledNo:
		return "0"
	default:
		return ""
	}
}

func sampledFromPtr(p *bool) Sampled {
	if p == nil {
		return SampledUnknown
	}
	if *p {
		return SampledYes
	}
	return SampledNo
}

func (s Sampled) ptr() *bool {
	switch s {
	case SampledYes:
		v := true
		return &v
	case SampledNo:
		v := false
		return &v
	default:
		return nil
	}
}

// TraceContext contains the identifiers of one span and its sampling state.
// It is immutable once constructed.
type TraceContext struct {
	traceID  model.TraceID
	spanID   model.ID
	parentID model.ID // zero when absent
	sampled  Sampled
	debug    bool
	shared   bool
}

// NewTraceContext builds a context from raw identifiers. A zero parentID means no parent.
func NewTraceContext(traceID model.TraceID, spanID, parentID model.ID, sampled Sampled) TraceContext {
	return TraceContext{
		traceID:  traceID,
		spanID:   spanID,
		parentID: parentID,
		sampled:  sampled,
	}
}

// TraceContextFromModel converts a zipkin span context.
func TraceContextFromModel(sc model.SpanContext) TraceContext {
	tc := TraceContext{
		traceID: sc.TraceID,
		spanID:  sc.ID,
		sampled: sampledFromPtr(sc.Sampled),
		debug:   sc.Debug,
	}
	if sc.ParentID != nil {
		tc.parentID = *sc.ParentID
	}
	return tc
}

// Model returns the zipkin representation of the context.
func (tc TraceContext) Model() model.SpanContext {
	sc := model.SpanContext{
		TraceID: tc.traceID,
		ID:      tc.spanID,
		Debug:   tc.debug,
	}
	if !tc.debug {
		sc.Sampled = tc.sampled.ptr()
	}
	if tc.parentID != 0 {
		parent := tc.parentID
		sc.ParentID = &parent
	}
	return sc
}

// IsValid returns true if the context has both a trace ID and a span ID.
func (tc TraceContext) IsValid() bool {
	return !tc.traceID.Empty() && tc.spanID != 0
}

// TraceID returns the trace ID.
func (tc TraceContext) TraceID() model.TraceID { return tc.traceID }

// SpanID returns the span ID.
func (tc TraceContext) SpanID() model.ID { return tc.spanID }

// ParentID returns the parent span ID and whether one is present.
func (tc TraceContext) ParentID() (model.ID, bool) {
	return tc.parentID, tc.parentID != 0
}

// Sampled returns the sampling decision.
func (tc TraceContext) Sampled() Sampled { return tc.sampled }

// Debug reports whether the trace was force-sampled by the caller.
func (tc TraceContext) Debug() bool { return tc.debug }

// Shared reports whether the span ID is shared with a remote peer (joined span).
func (tc TraceContext) Shared() bool { return tc.shared }

// TraceIDString returns the lowercase hex trace ID.
func (tc TraceContext) TraceIDString() string {
	if tc.traceID.Empty() {
		return ""
	}
	return tc.traceID.String()
}

// SpanIDString returns the lowercase hex span ID.
func (tc TraceContext) SpanIDString() string {
	if tc.spanID == 0 {
		return ""
	}
	return tc.spanID.String()
}

// ParentIDString returns the lowercase hex parent ID, or "" for a root span.
func (tc TraceContext) ParentIDString() string {
	if tc.parentID == 0 {
		return ""
	}
	return tc.parentID.String()
}

// child derives a context for a new span whose parent is tc.
func (tc TraceContext) child() TraceContext {
	return TraceContext{
		traceID:  tc.traceID,
		spanID:   internal.NewSpanID(),
		parentID: tc.spanID,
		sampled:  tc.sampled,
		debug:    tc.debug,
	}
}

// join returns tc marked as shared with the remote side.
func (tc TraceContext) join() TraceContext {
	tc.shared = true
	return tc
}

func (tc TraceContext) withSampled(s Sampled) TraceContext {
	tc.sampled = s
	return tc
}

func (tc TraceContext) equal(other TraceContext) bool {
	return tc.traceID == other.traceID && tc.spanID == other.spanID
}
