package trace

import (
	"context"

	"github.com/openzipkin/zipkin-go/model"
	"github.com/openzipkin/zipkin-go/reporter"
	"go.uber.org/zap"

	"github.com/kzs0/spanbridge/internal"
)

// Messaging tag keys set on producer and consumer spans.
const (
	TagMessagingOperation   = "messaging.operation"
	TagMessagingChannelKind = "messaging.channel_kind"
	TagMessagingChannelName = "messaging.channel_name"
)

// Tracing is the tracer facade used by instrumentation. It is implemented by
// *Tracer and by NoopTracer, so call sites never check whether tracing is on.
type Tracing interface {
	IsNoop() bool
	HasCurrentSpan(ctx context.Context) bool
	// CurrentSpan returns the span bound on ctx's execution unit, or NoopSpan.
	CurrentSpan(ctx context.Context) Span
	// NextServer starts the span for a request, continuing the current
	// context or the one extracted from the request.
	NextServer(ctx context.Context, req Request) *RequestContext
	// ServerImport is NextServer for inbound-only requests: an extracted
	// context is joined instead of parented.
	ServerImport(ctx context.Context, req Request) *RequestContext
	// NextSpan starts a child of the current context, or a new trace.
	NextSpan(ctx context.Context) Span
	// NextSpanFrom continues a context extracted earlier from a message.
	NextSpanFrom(ctx context.Context, msg Message) Span
	ExtractMessage(req MessagingRequest) Message
	ConsumerSpan(ctx context.Context, req MessagingRequest) Span
	ProducerSpan(ctx context.Context, req MessagingRequest) Span
	ExportAsync(ctx context.Context) AsyncContext
	ImportAsync(ctx context.Context, ac AsyncContext) Scope
	PropagationKeys() []string
}

// Observer receives span lifecycle notifications, e.g. for self-metrics.
type Observer interface {
	SpanStarted(kind Kind, sampled bool)
	SpanFinished(kind Kind)
	SpanAbandoned(kind Kind)
	ExtractionFailed(kind Kind, err error)
}

type noopObserver struct{}

func (noopObserver) SpanStarted(Kind, bool)       {}
func (noopObserver) SpanFinished(Kind)            {}
func (noopObserver) SpanAbandoned(Kind)           {}
func (noopObserver) ExtractionFailed(Kind, error) {}

// TracerConfig configures the tracer.
type TracerConfig struct {
	// ServiceName becomes the local endpoint of every reported span.
	ServiceName string
	// Propagation is the trace-context format. Required.
	Propagation Propagation
	// Sampler decides new traces. Defaults to AlwaysSampler.
	Sampler Sampler
	// Reporter receives finished spans. Defaults to a no-op reporter.
	Reporter reporter.Reporter
	// Observer receives lifecycle notifications. Optional.
	Observer Observer
	// Logger receives diagnostics. Defaults to zap.NewNop().
	Logger *zap.Logger
}

// codecs pairs every role with its injector and extractor. It is built once
// in NewTracer and never mutated.
type codecs struct {
	defaultInjector  Injector
	clientInjector   Injector
	producerInjector Injector
	consumerInjector Injector

	defaultExtractor  Extractor
	producerExtractor Extractor
	consumerExtractor Extractor
}

func (c codecs) injector(kind Kind) Injector {
	switch kind {
	case KindClient:
		return c.clientInjector
	case KindProducer:
		return c.producerInjector
	case KindConsumer:
		return c.consumerInjector
	default:
		return c.defaultInjector
	}
}

func (c codecs) extractor(kind Kind) Extractor {
	switch kind {
	case KindProducer:
		return c.producerExtractor
	case KindConsumer:
		return c.consumerExtractor
	default:
		return c.defaultExtractor
	}
}

// Tracer creates spans in every role and carries context across execution
// units. It is immutable after NewTracer and safe for concurrent use.
type Tracer struct {
	localEndpoint *model.Endpoint
	sampler       Sampler
	reporter      reporter.Reporter
	observer      Observer
	logger        *zap.Logger
	codecs        codecs
	keys          []string
}

// NewTracer creates a tracer. It panics when cfg.Propagation is nil.
func NewTracer(cfg TracerConfig) *Tracer {
	p := cfg.Propagation
	if p == nil {
		panic("trace: TracerConfig.Propagation is required")
	}

	t := &Tracer{
		sampler:  cfg.Sampler,
		reporter: cfg.Reporter,
		observer: cfg.Observer,
		logger:   cfg.Logger,
		codecs: codecs{
			defaultInjector:   p.Injector(KindUnset),
			clientInjector:    p.Injector(KindClient),
			producerInjector:  p.Injector(KindProducer),
			consumerInjector:  p.Injector(KindConsumer),
			defaultExtractor:  p.Extractor(KindUnset),
			producerExtractor: p.Extractor(KindProducer),
			consumerExtractor: p.Extractor(KindConsumer),
		},
		keys: append([]string(nil), p.Keys()...),
	}
	if cfg.ServiceName != "" {
		t.localEndpoint = &model.Endpoint{ServiceName: cfg.ServiceName}
	}
	if t.sampler == nil {
		t.sampler = AlwaysSampler{}
	}
	if t.reporter == nil {
		t.reporter = reporter.NewNoopReporter()
	}
	if t.observer == nil {
		t.observer = noopObserver{}
	}
	if t.logger == nil {
		t.logger = zap.NewNop()
	}
	return t
}

// IsNoop returns false.
func (t *Tracer) IsNoop() bool { return false }

// HasCurrentSpan reports whether a context is bound on ctx's execution unit.
func (t *Tracer) HasCurrentSpan(ctx context.Context) bool {
	_, ok := CurrentContext(ctx)
	return ok
}

// CurrentSpan returns the span bound on ctx's execution unit, or NoopSpan.
// Scopes opened through the result bind on ctx's unit, even when the span
// was created on another one.
func (t *Tracer) CurrentSpan(ctx context.Context) Span {
	u := unitFrom(ctx)
	if sp := u.currentSpan(); sp != nil {
		return sp.on(u)
	}
	if tc, ok := u.get(); ok {
		// Bound without a local span handle: expose the ids but never report.
		return newSpan(t, u, tc, true)
	}
	return NoopSpan
}

// NextServer starts the span for req. A context current on ctx takes
// precedence over the request's headers. The span's context is injected
// into a derived outbound carrier, and the span is bound as current.
// An unsampled span still yields a usable RequestContext.
func (t *Tracer) NextServer(ctx context.Context, req Request) *RequestContext {
	if req == nil {
		return NoopRequestContext
	}
	sp := t.nextSpanFor(ctx, t.codecs.defaultExtractor, req)
	out := newOutboundCarrier(req)
	t.codecs.clientInjector(sp.ctx, out)
	if req.CacheScope() {
		sp.CacheScope()
	}
	return &RequestContext{span: sp, scope: sp.MaybeScope(), outbound: out, noop: sp.noop}
}

// ServerImport starts the span for an inbound-only request. When the request
// carries a context, the span joins it and shares its span ID.
func (t *Tracer) ServerImport(ctx context.Context, req Request) *RequestContext {
	if req == nil {
		return NoopRequestContext
	}
	u := unitFrom(ctx)
	e := t.extract(t.codecs.defaultExtractor, req, req.Kind())

	var tc TraceContext
	if e.Found {
		tc = e.Context.join()
		tc = tc.withSampled(t.decide(tc.traceID, tc.sampled, tc.debug))
	} else {
		tc = t.nextContext(u, e)
	}
	if tc.sampled != SampledYes {
		t.observer.SpanStarted(req.Kind(), false)
		return NoopRequestContext
	}

	sp := t.start(u, tc, req)
	out := newOutboundCarrier(req)
	t.codecs.defaultInjector(sp.ctx, out)
	if req.CacheScope() {
		sp.CacheScope()
	}
	return &RequestContext{span: sp, scope: sp.MaybeScope(), outbound: out}
}

// NextSpan starts a child of the current context, or a new trace when
// nothing is current. The span's scope is cached.
func (t *Tracer) NextSpan(ctx context.Context) Span {
	u := unitFrom(ctx)
	sp := t.start(u, t.nextContext(u, Extraction{}), nil)
	return sp.CacheScope()
}

// NextSpanFrom continues the context carried by msg. An empty message is
// treated like NextSpan.
func (t *Tracer) NextSpanFrom(ctx context.Context, msg Message) Span {
	e, ok := msg.Extraction()
	if !ok {
		return t.NextSpan(ctx)
	}
	u := unitFrom(ctx)
	sp := t.start(u, t.nextContext(u, e), nil)
	return sp.CacheScope()
}

// ExtractMessage reads a message's carrier with the consumer extractor, for
// creating the processing span later with NextSpanFrom.
func (t *Tracer) ExtractMessage(req MessagingRequest) Message {
	if req == nil {
		return Message{}
	}
	return NewMessage(t.extract(t.codecs.consumerExtractor, req, KindConsumer))
}

// ConsumerSpan starts the span for receiving a message.
func (t *Tracer) ConsumerSpan(ctx context.Context, req MessagingRequest) Span {
	if req == nil {
		return NoopSpan
	}
	sp := t.nextSpanFor(ctx, t.codecs.consumerExtractor, req)
	if sp.noop {
		return NoopSpan
	}
	setMessageInfo(sp, req)
	if req.CacheScope() {
		sp.CacheScope()
	}
	return sp
}

// ProducerSpan starts the span for sending a message and injects its
// context into the message.
func (t *Tracer) ProducerSpan(ctx context.Context, req MessagingRequest) Span {
	if req == nil {
		return NoopSpan
	}
	sp := t.nextSpanFor(ctx, t.codecs.producerExtractor, req)
	if sp.noop {
		return NoopSpan
	}
	setMessageInfo(sp, req)
	t.codecs.producerInjector(sp.ctx, req)
	if req.CacheScope() {
		sp.CacheScope()
	}
	return sp
}

// ExportAsync captures the current context. It returns NoopAsyncContext when
// nothing is current.
func (t *Tracer) ExportAsync(ctx context.Context) AsyncContext {
	u := unitFrom(ctx)
	tc, ok := u.get()
	if !ok {
		return NoopAsyncContext
	}
	return &asyncContext{tracer: t, tc: tc, span: u.currentSpan()}
}

// ImportAsync binds a captured context as current on ctx's execution unit.
// The caller must close the returned scope on every path.
func (t *Tracer) ImportAsync(ctx context.Context, ac AsyncContext) Scope {
	a, ok := ac.(*asyncContext)
	if !ok {
		return NoopScope
	}
	u := unitFrom(ctx)
	if u == nil {
		t.logger.Debug("import without an attached execution unit",
			zap.String("trace_id", a.tc.TraceIDString()))
		return NoopScope
	}
	return u.maybeScope(a.tc, a.span)
}

// PropagationKeys returns the ordered carrier keys of the propagation format.
func (t *Tracer) PropagationKeys() []string {
	return append([]string(nil), t.keys...)
}

// Inject writes tc into carrier with the injector paired with kind.
func (t *Tracer) Inject(kind Kind, tc TraceContext, carrier Setter) {
	if carrier == nil || !tc.IsValid() {
		return
	}
	t.codecs.injector(kind)(tc, carrier)
}

// Extract reads carrier with the extractor paired with kind.
func (t *Tracer) Extract(kind Kind, carrier Getter) Extraction {
	if carrier == nil {
		return Extraction{}
	}
	return t.extract(t.codecs.extractor(kind), carrier, kind)
}

// Shutdown closes the reporter, flushing spans it buffers. When ctx ends
// first, Shutdown returns ctx.Err() and the close keeps running in the
// background until the reporter returns; its result is then dropped.
func (t *Tracer) Shutdown(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- t.reporter.Close() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// nextSpanFor creates the span for a request. The current context wins over
// the request's headers: a span in scope is more reliable than a header that
// may be stale.
func (t *Tracer) nextSpanFor(ctx context.Context, extractor Extractor, req Request) *span {
	u := unitFrom(ctx)
	var tc TraceContext
	if parent, ok := u.get(); ok {
		tc = t.newChild(parent)
	} else {
		tc = t.nextContext(nil, t.extract(extractor, req, req.Kind()))
	}
	return t.start(u, tc, req)
}

// nextContext continues an extracted context, falls back to the context
// current on u, and otherwise starts a new trace with the extracted flags.
func (t *Tracer) nextContext(u *unit, e Extraction) TraceContext {
	if e.Found {
		return t.newChild(e.Context)
	}
	if parent, ok := u.get(); ok {
		return t.newChild(parent)
	}
	return t.newRoot(e.Sampled, e.Debug)
}

func (t *Tracer) newRoot(flags Sampled, debug bool) TraceContext {
	tc := TraceContext{
		traceID: internal.NewTraceID(),
		spanID:  internal.NewSpanID(),
		debug:   debug,
	}
	return tc.withSampled(t.decide(tc.traceID, flags, debug))
}

func (t *Tracer) newChild(parent TraceContext) TraceContext {
	tc := parent.child()
	return tc.withSampled(t.decide(tc.traceID, tc.sampled, tc.debug))
}

func (t *Tracer) decide(traceID model.TraceID, s Sampled, debug bool) Sampled {
	if debug {
		return SampledYes
	}
	if s != SampledUnknown {
		return s
	}
	if t.sampler.ShouldSample(traceID) {
		return SampledYes
	}
	return SampledNo
}

// start creates the span handle for tc and applies the request's name and kind.
func (t *Tracer) start(u *unit, tc TraceContext, req Request) *span {
	sp := newSpan(t, u, tc, tc.sampled != SampledYes)
	kind := KindUnset
	if req != nil {
		kind = req.Kind()
		if !sp.noop {
			sp.kind = kind
			sp.name = req.Name()
		}
	}
	t.observer.SpanStarted(kind, !sp.noop)
	return sp
}

func (t *Tracer) extract(extractor Extractor, carrier Getter, kind Kind) Extraction {
	e := extractor(carrier)
	if e.Err != nil {
		t.logger.Debug("discarding malformed trace context",
			zap.Stringer("kind", kind), zap.Error(e.Err))
		t.observer.ExtractionFailed(kind, e.Err)
		return Extraction{}
	}
	return e
}

func (t *Tracer) finished(kind Kind, sm model.SpanModel) {
	t.reporter.Send(sm)
	t.observer.SpanFinished(kind)
}

func (t *Tracer) abandoned(kind Kind) {
	t.observer.SpanAbandoned(kind)
}

func setMessageInfo(sp Span, req MessagingRequest) {
	sp.Tag(TagMessagingOperation, req.Operation())
	sp.Tag(TagMessagingChannelKind, req.ChannelKind())
	sp.Tag(TagMessagingChannelName, req.ChannelName())
}
