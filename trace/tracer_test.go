package trace_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/openzipkin/zipkin-go/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kzs0/spanbridge/reporter"
	"github.com/kzs0/spanbridge/trace"
	"github.com/kzs0/spanbridge/trace/b3"
)

type request struct {
	headers map[string]string
	kind    trace.Kind
	name    string
	cache   bool
}

func newRequest(kind trace.Kind, name string, headers map[string]string) *request {
	if headers == nil {
		headers = map[string]string{}
	}
	return &request{headers: headers, kind: kind, name: name}
}

func (r *request) Header(key string) string    { return r.headers[key] }
func (r *request) SetHeader(key, value string) { r.headers[key] = value }
func (r *request) Kind() trace.Kind            { return r.kind }
func (r *request) Name() string                { return r.name }
func (r *request) CacheScope() bool            { return r.cache }

type message struct {
	*request
	operation   string
	channel     string
	channelKind string
}

func newMessage(kind trace.Kind, channel string, headers map[string]string) *message {
	op := "send"
	if kind == trace.KindConsumer {
		op = "receive"
	}
	return &message{
		request:     newRequest(kind, op+" "+channel, headers),
		operation:   op,
		channel:     channel,
		channelKind: "topic",
	}
}

func (m *message) Operation() string   { return m.operation }
func (m *message) ChannelKind() string { return m.channelKind }
func (m *message) ChannelName() string { return m.channel }

type observed struct {
	mu        sync.Mutex
	started   map[trace.Kind]int
	unsampled int
	finished  map[trace.Kind]int
	abandoned map[trace.Kind]int
	failures  []error
}

func newObserved() *observed {
	return &observed{
		started:   map[trace.Kind]int{},
		finished:  map[trace.Kind]int{},
		abandoned: map[trace.Kind]int{},
	}
}

func (o *observed) SpanStarted(kind trace.Kind, sampled bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started[kind]++
	if !sampled {
		o.unsampled++
	}
}

func (o *observed) SpanFinished(kind trace.Kind) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finished[kind]++
}

func (o *observed) SpanAbandoned(kind trace.Kind) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.abandoned[kind]++
}

func (o *observed) ExtractionFailed(_ trace.Kind, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failures = append(o.failures, err)
}

func newTracer(t *testing.T, sampler trace.Sampler) (*trace.Tracer, *reporter.Recorder, *observed) {
	t.Helper()
	rec := reporter.NewRecorder()
	obs := newObserved()
	tracer := trace.NewTracer(trace.TracerConfig{
		ServiceName: "checkout",
		Propagation: b3.New(),
		Sampler:     sampler,
		Reporter:    rec,
		Observer:    obs,
	})
	return tracer, rec, obs
}

const (
	inboundTraceID = "463ac35c9f6413ad48485a3953bb6124"
	inboundSpanID  = "a2fb4a1d1a96d312"
)

func inboundHeaders(sampled string) map[string]string {
	h := map[string]string{
		"x-b3-traceid": inboundTraceID,
		"x-b3-spanid":  inboundSpanID,
	}
	if sampled != "" {
		h["x-b3-sampled"] = sampled
	}
	return h
}

func TestNewTracerRequiresPropagation(t *testing.T) {
	assert.Panics(t, func() { trace.NewTracer(trace.TracerConfig{}) })
}

func TestNextSpanRootAndChild(t *testing.T) {
	tracer, rec, _ := newTracer(t, nil)
	ctx := trace.Attach(context.Background())

	assert.False(t, tracer.HasCurrentSpan(ctx))

	root := tracer.NextSpan(ctx)
	require.False(t, root.IsNoop())
	_, hasParent := root.ParentID()
	assert.False(t, hasParent)
	assert.Equal(t, root.SpanID(), tracer.CurrentSpan(ctx).SpanID())

	child := tracer.NextSpan(ctx)
	assert.Equal(t, root.TraceID(), child.TraceID())
	parent, ok := child.ParentID()
	require.True(t, ok)
	assert.Equal(t, root.SpanID(), parent)
	assert.NotEqual(t, root.SpanID(), child.SpanID())
	assert.Equal(t, child.SpanID(), tracer.CurrentSpan(ctx).SpanID())

	child.Finish()
	assert.Equal(t, root.SpanID(), tracer.CurrentSpan(ctx).SpanID())
	root.Finish()
	assert.False(t, tracer.HasCurrentSpan(ctx))

	spans := rec.Spans()
	require.Len(t, spans, 2)
	assert.Equal(t, child.SpanID(), spans[0].ID)
	assert.Equal(t, root.SpanID(), spans[1].ID)
	assert.Equal(t, "checkout", spans[1].LocalEndpoint.ServiceName)
}

func TestCurrentSpanReturnsSameHandle(t *testing.T) {
	tracer, rec, _ := newTracer(t, nil)
	ctx := trace.Attach(context.Background())

	sp := tracer.NextSpan(ctx)
	tracer.CurrentSpan(ctx).Tag("step", "validate")
	tracer.CurrentSpan(ctx).Finish()
	sp.Finish()

	spans := rec.Spans()
	require.Len(t, spans, 1)
	assert.Equal(t, "validate", spans[0].Tags["step"])
}

func TestCurrentSpanWithoutUnit(t *testing.T) {
	tracer, _, _ := newTracer(t, nil)
	ctx := context.Background()

	sp := tracer.NextSpan(ctx)
	assert.False(t, sp.IsNoop())
	assert.False(t, tracer.HasCurrentSpan(ctx))
	assert.True(t, tracer.CurrentSpan(ctx).IsNoop())
	sp.Finish()
}

func TestSpanLifecycleMisuse(t *testing.T) {
	tracer, rec, obs := newTracer(t, nil)
	ctx := trace.Attach(context.Background())

	sp := tracer.NextSpan(ctx).SetName("charge").SetKind(trace.KindClient)
	sp.Tag("card", "visa").Tag("card", "amex").Tag("", "ignored").Tag("empty", "")
	sp.Annotate("ws")
	sp.Error(errors.New("declined"))
	assert.True(t, sp.SetRemoteIPAndPort("10.0.0.7", 443))
	assert.False(t, sp.SetRemoteIPAndPort("not-an-ip", 443))
	sp.SetRemoteServiceName("payments")

	sp.Finish()
	sp.Finish()
	sp.Abandon()
	sp.Tag("late", "ignored")
	sp.CacheScope()
	assert.False(t, tracer.HasCurrentSpan(ctx))

	spans := rec.Spans()
	require.Len(t, spans, 1)
	sm := spans[0]
	assert.Equal(t, "charge", sm.Name)
	assert.Equal(t, model.Client, sm.Kind)
	assert.Equal(t, map[string]string{"card": "amex", "error": "declined"}, sm.Tags)
	require.Len(t, sm.Annotations, 1)
	assert.Equal(t, "ws", sm.Annotations[0].Value)
	require.NotNil(t, sm.RemoteEndpoint)
	assert.Equal(t, "payments", sm.RemoteEndpoint.ServiceName)
	assert.Equal(t, uint16(443), sm.RemoteEndpoint.Port)
	assert.Equal(t, "10.0.0.7", sm.RemoteEndpoint.IPv4.String())
	assert.Equal(t, 1, obs.finished[trace.KindClient])
	assert.Zero(t, obs.abandoned[trace.KindClient])
}

func TestAbandonClosesCachedScope(t *testing.T) {
	tracer, rec, obs := newTracer(t, nil)
	ctx := trace.Attach(context.Background())

	sp := tracer.NextSpan(ctx)
	require.True(t, tracer.HasCurrentSpan(ctx))
	sp.Abandon()

	assert.False(t, tracer.HasCurrentSpan(ctx))
	assert.Empty(t, rec.Spans())
	assert.Equal(t, 1, obs.abandoned[trace.KindUnset])
}

func TestFinishAtAndFlush(t *testing.T) {
	tracer, rec, _ := newTracer(t, nil)
	ctx := trace.Attach(context.Background())
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	sp := tracer.NextSpan(ctx).StartAt(start)
	sp.FinishAt(start.Add(250 * time.Millisecond))

	flushed := tracer.NextSpan(ctx)
	flushed.Flush()
	flushed.Finish()

	spans := rec.Spans()
	require.Len(t, spans, 2)
	assert.Equal(t, start, spans[0].Timestamp)
	assert.Equal(t, 250*time.Millisecond, spans[0].Duration)
	assert.Zero(t, spans[1].Duration)
}

func TestNextServerContinuesInboundContext(t *testing.T) {
	tracer, rec, _ := newTracer(t, nil)
	ctx := trace.Attach(context.Background())
	req := newRequest(trace.KindServer, "GET /cart", inboundHeaders("1"))

	rc := tracer.NextServer(ctx, req)
	require.False(t, rc.IsNoop())
	sp := rc.Span()

	assert.Equal(t, inboundTraceID, sp.TraceIDString())
	assert.Equal(t, inboundSpanID, sp.ParentIDString())
	assert.NotEqual(t, inboundSpanID, sp.SpanIDString())
	assert.Equal(t, sp.SpanID(), tracer.CurrentSpan(ctx).SpanID())

	assert.Equal(t, inboundTraceID, rc.Header("x-b3-traceid"))
	assert.Equal(t, sp.SpanIDString(), rc.Header("x-b3-spanid"))
	assert.Equal(t, inboundSpanID, rc.Header("x-b3-parentspanid"))
	assert.Equal(t, "1", rc.Header("x-b3-sampled"))
	assert.Equal(t, inboundSpanID, req.headers["x-b3-spanid"], "inbound request must not be modified")

	sp.Finish()
	rc.Close()
	assert.False(t, tracer.HasCurrentSpan(ctx))

	spans := rec.Spans()
	require.Len(t, spans, 1)
	assert.Equal(t, "GET /cart", spans[0].Name)
	assert.Equal(t, model.Server, spans[0].Kind)
	assert.False(t, spans[0].Shared)
}

func TestNextServerPrefersCurrentContext(t *testing.T) {
	tracer, _, _ := newTracer(t, nil)
	ctx := trace.Attach(context.Background())

	outer := tracer.NextSpan(ctx)
	defer outer.Finish()

	rc := tracer.NextServer(ctx, newRequest(trace.KindServer, "GET /cart", inboundHeaders("1")))
	defer rc.Close()

	assert.Equal(t, outer.TraceID(), rc.Span().TraceID())
	parent, ok := rc.Span().ParentID()
	require.True(t, ok)
	assert.Equal(t, outer.SpanID(), parent)
}

func TestNextServerWithoutHeadersStartsTrace(t *testing.T) {
	tracer, _, _ := newTracer(t, nil)
	ctx := trace.Attach(context.Background())

	rc := tracer.NextServer(ctx, newRequest(trace.KindServer, "GET /", nil))
	defer rc.Close()

	assert.False(t, rc.IsNoop())
	_, hasParent := rc.Span().ParentID()
	assert.False(t, hasParent)
	assert.Equal(t, rc.Span().TraceIDString(), rc.Header("x-b3-traceid"))
}

func TestNextServerMalformedHeadersStartsTrace(t *testing.T) {
	tracer, _, obs := newTracer(t, nil)
	ctx := trace.Attach(context.Background())
	req := newRequest(trace.KindServer, "GET /", map[string]string{
		"x-b3-traceid": "not-hex",
		"x-b3-spanid":  inboundSpanID,
	})

	rc := tracer.NextServer(ctx, req)
	defer rc.Close()

	assert.False(t, rc.IsNoop())
	assert.NotEqual(t, "not-hex", rc.Span().TraceIDString())
	_, hasParent := rc.Span().ParentID()
	assert.False(t, hasParent)
	assert.Len(t, obs.failures, 1)
}

func TestNextServerUnsampled(t *testing.T) {
	tracer, rec, obs := newTracer(t, nil)
	ctx := trace.Attach(context.Background())

	rc := tracer.NextServer(ctx, newRequest(trace.KindServer, "GET /", inboundHeaders("0")))
	assert.True(t, rc.IsNoop())
	assert.True(t, rc.Span().IsNoop())
	assert.Equal(t, inboundTraceID, rc.Span().TraceIDString())
	assert.True(t, tracer.HasCurrentSpan(ctx))
	assert.Equal(t, "0", rc.Header("x-b3-sampled"))

	child := tracer.NextSpan(ctx)
	assert.True(t, child.IsNoop(), "children inherit the decision")
	child.Finish()

	rc.Span().Finish()
	rc.Close()
	assert.False(t, tracer.HasCurrentSpan(ctx))
	assert.Empty(t, rec.Spans())
	assert.Equal(t, 2, obs.unsampled)
}

func TestNextServerCacheScope(t *testing.T) {
	tracer, _, _ := newTracer(t, nil)
	ctx := trace.Attach(context.Background())
	req := newRequest(trace.KindServer, "GET /", nil)
	req.cache = true

	rc := tracer.NextServer(ctx, req)
	assert.Equal(t, trace.NoopScope, rc.Scope(), "cached scope is already current")
	rc.Close()
	assert.True(t, tracer.HasCurrentSpan(ctx))

	rc.Span().Finish()
	assert.False(t, tracer.HasCurrentSpan(ctx))
}

func TestServerImportJoinsInboundSpan(t *testing.T) {
	tracer, rec, _ := newTracer(t, nil)
	ctx := trace.Attach(context.Background())

	rc := tracer.ServerImport(ctx, newRequest(trace.KindServer, "GET /", inboundHeaders("1")))
	require.False(t, rc.IsNoop())
	assert.Equal(t, inboundSpanID, rc.Span().SpanIDString())
	assert.Equal(t, inboundTraceID, rc.Span().TraceIDString())

	rc.Span().Finish()
	rc.Close()

	spans := rec.Spans()
	require.Len(t, spans, 1)
	assert.True(t, spans[0].Shared)
}

func TestServerImportUnsampledIsNoop(t *testing.T) {
	tracer, _, _ := newTracer(t, nil)
	ctx := trace.Attach(context.Background())

	rc := tracer.ServerImport(ctx, newRequest(trace.KindServer, "GET /", inboundHeaders("0")))
	assert.Same(t, trace.NoopRequestContext, rc)
	assert.False(t, tracer.HasCurrentSpan(ctx))

	rc = tracer.ServerImport(ctx, newRequest(trace.KindServer, "GET /", nil))
	assert.False(t, rc.IsNoop(), "no inbound decision falls back to the sampler")
	rc.Close()
}

func TestSamplingDecision(t *testing.T) {
	ctx := trace.Attach(context.Background())

	never, _, _ := newTracer(t, trace.NeverSampler{})
	unsampled := never.NextSpan(ctx)
	assert.True(t, unsampled.IsNoop())
	unsampled.Finish()

	debug := newRequest(trace.KindServer, "GET /", map[string]string{"x-b3-flags": "1"})
	rc := never.NextServer(ctx, debug)
	assert.False(t, rc.IsNoop(), "debug overrides the sampler")
	assert.True(t, rc.Span().Context().Debug())
	rc.Close()

	inherited := never.NextServer(ctx, newRequest(trace.KindServer, "GET /", inboundHeaders("1")))
	assert.False(t, inherited.IsNoop(), "an inbound decision overrides the sampler")
	inherited.Close()
}

func TestProducerSpan(t *testing.T) {
	tracer, rec, _ := newTracer(t, nil)
	ctx := trace.Attach(context.Background())

	outer := tracer.NextSpan(ctx)
	msg := newMessage(trace.KindProducer, "orders", nil)
	sp := tracer.ProducerSpan(ctx, msg)
	require.False(t, sp.IsNoop())

	parent, ok := sp.ParentID()
	require.True(t, ok)
	assert.Equal(t, outer.SpanID(), parent)
	assert.Contains(t, msg.headers["b3"], sp.TraceIDString()+"-"+sp.SpanIDString()+"-1")
	assert.NotContains(t, msg.headers, "x-b3-traceid")
	assert.Equal(t, outer.SpanID(), tracer.CurrentSpan(ctx).SpanID(), "producer span is not bound without CacheScope")

	sp.Finish()
	outer.Finish()

	spans := rec.Spans()
	require.Len(t, spans, 2)
	assert.Equal(t, model.Producer, spans[0].Kind)
	assert.Equal(t, "send", spans[0].Tags[trace.TagMessagingOperation])
	assert.Equal(t, "topic", spans[0].Tags[trace.TagMessagingChannelKind])
	assert.Equal(t, "orders", spans[0].Tags[trace.TagMessagingChannelName])
}

func TestConsumerSpan(t *testing.T) {
	tracer, rec, _ := newTracer(t, nil)
	ctx := trace.Attach(context.Background())

	produced := map[string]string{"b3": inboundTraceID + "-" + inboundSpanID + "-1"}
	msg := newMessage(trace.KindConsumer, "orders", produced)
	msg.cache = true

	sp := tracer.ConsumerSpan(ctx, msg)
	require.False(t, sp.IsNoop())
	assert.Equal(t, inboundTraceID, sp.TraceIDString())
	assert.Equal(t, inboundSpanID, sp.ParentIDString())
	assert.Equal(t, sp.SpanID(), tracer.CurrentSpan(ctx).SpanID())

	sp.Finish()
	assert.False(t, tracer.HasCurrentSpan(ctx))
	require.Len(t, rec.Spans(), 1)
	assert.Equal(t, model.Consumer, rec.Spans()[0].Kind)
}

func TestConsumerContinuesProducerAcrossTracers(t *testing.T) {
	producer, produced, _ := newTracer(t, nil)
	consumer, consumed, _ := newTracer(t, trace.NeverSampler{})

	out := newMessage(trace.KindProducer, "orders", nil)
	out.channelKind = "queue"
	sent := producer.ProducerSpan(trace.Attach(context.Background()), out)
	require.False(t, sent.IsNoop())
	sent.Finish()

	in := newMessage(trace.KindConsumer, "orders", out.headers)
	in.channelKind = "queue"
	received := consumer.ConsumerSpan(trace.Attach(context.Background()), in)
	require.False(t, received.IsNoop(), "the producer's sampling decision is inherited")
	assert.Equal(t, sent.TraceID(), received.TraceID())
	assert.Equal(t, sent.SpanIDString(), received.ParentIDString())
	received.Finish()

	require.Len(t, produced.Spans(), 1)
	require.Len(t, consumed.Spans(), 1)
	for _, sm := range []model.SpanModel{produced.Spans()[0], consumed.Spans()[0]} {
		assert.Equal(t, "queue", sm.Tags[trace.TagMessagingChannelKind])
		assert.Equal(t, "orders", sm.Tags[trace.TagMessagingChannelName])
	}
	assert.Equal(t, "send", produced.Spans()[0].Tags[trace.TagMessagingOperation])
	assert.Equal(t, "receive", consumed.Spans()[0].Tags[trace.TagMessagingOperation])
	assert.Equal(t, model.Consumer, consumed.Spans()[0].Kind)
}

func TestMessagingUnsampledIsNoop(t *testing.T) {
	tracer, _, _ := newTracer(t, trace.NeverSampler{})
	ctx := trace.Attach(context.Background())

	msg := newMessage(trace.KindProducer, "orders", nil)
	assert.Equal(t, trace.NoopSpan, tracer.ProducerSpan(ctx, msg))
	assert.Empty(t, msg.headers)
	assert.Equal(t, trace.NoopSpan, tracer.ConsumerSpan(ctx, newMessage(trace.KindConsumer, "orders", nil)))
}

func TestExtractMessageAndNextSpanFrom(t *testing.T) {
	tracer, _, _ := newTracer(t, nil)
	ctx := trace.Attach(context.Background())

	produced := map[string]string{"b3": inboundTraceID + "-" + inboundSpanID + "-1"}
	m := tracer.ExtractMessage(newMessage(trace.KindConsumer, "orders", produced))

	sp := tracer.NextSpanFrom(ctx, m)
	assert.Equal(t, inboundTraceID, sp.TraceIDString())
	assert.Equal(t, inboundSpanID, sp.ParentIDString())
	assert.Equal(t, sp.SpanID(), tracer.CurrentSpan(ctx).SpanID())
	sp.Finish()

	empty := tracer.NextSpanFrom(ctx, trace.Message{})
	_, hasParent := empty.ParentID()
	assert.False(t, hasParent)
	empty.Finish()
}

func TestAsyncContextAcrossGoroutines(t *testing.T) {
	tracer, rec, _ := newTracer(t, nil)
	ctx := trace.Attach(context.Background())

	parent := tracer.NextSpan(ctx)
	ac := tracer.ExportAsync(ctx)
	require.False(t, ac.IsNoop())
	assert.Equal(t, parent.SpanID(), ac.Context().SpanID())

	var wg sync.WaitGroup
	children := make([]model.ID, 4)
	for i := range children {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			wctx := trace.Attach(context.Background())
			scope := ac.Import(wctx)
			defer scope.Close()

			child := tracer.NextSpan(wctx)
			children[i], _ = child.ParentID()
			child.Finish()
		}(i)
	}
	wg.Wait()
	parent.Finish()

	for _, id := range children {
		assert.Equal(t, parent.SpanID(), id)
	}
	assert.Len(t, rec.Spans(), 5)
}

func TestImportAsyncRestoresPrevious(t *testing.T) {
	tracer, _, _ := newTracer(t, nil)
	origin := trace.Attach(context.Background())
	worker := trace.Attach(context.Background())

	exported := tracer.NextSpan(origin)
	ac := tracer.ExportAsync(origin)

	local := tracer.NextSpan(worker)
	scope := tracer.ImportAsync(worker, ac)
	assert.Equal(t, exported.SpanID(), tracer.CurrentSpan(worker).SpanID())
	scope.Close()
	scope.Close()
	assert.Equal(t, local.SpanID(), tracer.CurrentSpan(worker).SpanID())

	assert.Equal(t, trace.NoopScope, tracer.ImportAsync(context.Background(), ac))
}

func TestNestedImportsRestoreInOrder(t *testing.T) {
	tracer, _, _ := newTracer(t, nil)
	worker := trace.Attach(context.Background())

	originA := trace.Attach(context.Background())
	a := tracer.NextSpan(originA)
	acA := tracer.ExportAsync(originA)
	originB := trace.Attach(context.Background())
	b := tracer.NextSpan(originB)
	acB := tracer.ExportAsync(originB)

	local := tracer.NextSpan(worker)

	scopeA := acA.Import(worker)
	assert.Equal(t, a.SpanID(), tracer.CurrentSpan(worker).SpanID())
	scopeB := acB.Import(worker)
	assert.Equal(t, b.SpanID(), tracer.CurrentSpan(worker).SpanID())

	scopeB.Close()
	assert.Equal(t, a.SpanID(), tracer.CurrentSpan(worker).SpanID())
	scopeA.Close()
	assert.Equal(t, local.SpanID(), tracer.CurrentSpan(worker).SpanID())

	local.Finish()
	assert.False(t, tracer.HasCurrentSpan(worker))
	assert.Equal(t, a.SpanID(), tracer.CurrentSpan(originA).SpanID())
	assert.Equal(t, b.SpanID(), tracer.CurrentSpan(originB).SpanID())
}

func TestImportedSpanBindsOnImportingUnit(t *testing.T) {
	tracer, rec, _ := newTracer(t, nil)
	origin := trace.Attach(context.Background())

	rc := tracer.NextServer(origin, newRequest(trace.KindServer, "GET /orders", inboundHeaders("1")))
	ac := tracer.ExportAsync(origin)
	rc.Close()
	require.False(t, tracer.HasCurrentSpan(origin))

	done := make(chan struct{})
	go func() {
		defer close(done)
		worker := trace.Attach(context.Background())

		imported := ac.Import(worker)
		current := tracer.CurrentSpan(worker)
		imported.Close()
		assert.False(t, tracer.HasCurrentSpan(worker))

		scope := current.MaybeScope()
		assert.True(t, tracer.HasCurrentSpan(worker))
		scope.Close()
		assert.False(t, tracer.HasCurrentSpan(worker))

		current.CacheScope().Tag("worker", "true")
		assert.Equal(t, rc.Span().SpanID(), tracer.CurrentSpan(worker).SpanID())
		current.Finish()
		assert.False(t, tracer.HasCurrentSpan(worker))
	}()
	<-done

	assert.False(t, tracer.HasCurrentSpan(origin))
	spans := rec.Spans()
	require.Len(t, spans, 1)
	assert.Equal(t, "true", spans[0].Tags["worker"])
}

func TestForeignFinishLeavesOwnerScope(t *testing.T) {
	tracer, rec, _ := newTracer(t, nil)
	origin := trace.Attach(context.Background())
	worker := trace.Attach(context.Background())

	sp := tracer.NextSpan(origin)
	scope := tracer.ExportAsync(origin).Import(worker)
	tracer.CurrentSpan(worker).Finish()
	scope.Close()

	require.Len(t, rec.Spans(), 1)
	assert.True(t, tracer.HasCurrentSpan(origin), "the cached scope belongs to the origin")
	sp.Finish()
	assert.False(t, tracer.HasCurrentSpan(origin))
	assert.Len(t, rec.Spans(), 1)
}

func TestExportAsyncWithoutCurrent(t *testing.T) {
	tracer, _, _ := newTracer(t, nil)
	ac := tracer.ExportAsync(trace.Attach(context.Background()))
	assert.True(t, ac.IsNoop())
	assert.Equal(t, trace.NoopScope, tracer.ImportAsync(trace.Attach(context.Background()), ac))
}

func TestMaybeScopeNesting(t *testing.T) {
	tracer, _, _ := newTracer(t, nil)
	ctx := trace.Attach(context.Background())

	sp := tracer.NextSpan(ctx)
	assert.Equal(t, trace.NoopScope, sp.MaybeScope(), "already current")

	other := tracer.NextSpan(context.Background())
	inner := other.MaybeScope()
	assert.Equal(t, trace.NoopScope, inner, "span created without a unit cannot be bound")
}

func TestInjectAndExtract(t *testing.T) {
	tracer, _, _ := newTracer(t, nil)
	sp := tracer.NextSpan(context.Background())
	defer sp.Finish()

	h := newRequest(trace.KindClient, "", nil)
	sp.Inject(h)
	assert.Equal(t, sp.SpanIDString(), h.headers["x-b3-spanid"])

	single := newRequest(trace.KindProducer, "", nil)
	tracer.Inject(trace.KindProducer, sp.Context(), single)
	e := tracer.Extract(trace.KindConsumer, single)
	require.True(t, e.Found)
	assert.Equal(t, sp.SpanID(), e.Context.SpanID())
}

func TestPropagationKeys(t *testing.T) {
	tracer, _, _ := newTracer(t, nil)
	keys := tracer.PropagationKeys()
	assert.Equal(t, b3.New().Keys(), keys)

	keys[0] = "mutated"
	assert.Equal(t, "b3", tracer.PropagationKeys()[0])
}

func TestShutdownClosesReporter(t *testing.T) {
	tracer, rec, _ := newTracer(t, nil)
	require.NoError(t, tracer.Shutdown(context.Background()))

	tracer.NextSpan(context.Background()).Finish()
	assert.Empty(t, rec.Spans())
}

// stuckReporter blocks Close until release is closed.
type stuckReporter struct {
	release chan struct{}
	closed  chan struct{}
}

func (r *stuckReporter) Send(model.SpanModel) {}

func (r *stuckReporter) Close() error {
	<-r.release
	close(r.closed)
	return nil
}

func TestShutdownGivesUpWhenContextEnds(t *testing.T) {
	rep := &stuckReporter{release: make(chan struct{}), closed: make(chan struct{})}
	tracer := trace.NewTracer(trace.TracerConfig{Propagation: b3.New(), Reporter: rep})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, tracer.Shutdown(ctx), context.DeadlineExceeded)

	close(rep.release)
	select {
	case <-rep.closed:
	case <-time.After(time.Second):
		t.Fatal("reporter close did not complete in the background")
	}
}

func TestNoopTracer(t *testing.T) {
	ctx := trace.Attach(context.Background())
	var tr trace.Tracing = trace.Or(nil)

	assert.True(t, tr.IsNoop())
	assert.Same(t, trace.NoopRequestContext, tr.NextServer(ctx, newRequest(trace.KindServer, "GET /", nil)))
	assert.True(t, tr.NextSpan(ctx).IsNoop())
	assert.False(t, tr.HasCurrentSpan(ctx))
	assert.True(t, tr.ExportAsync(ctx).IsNoop())
	assert.Empty(t, tr.PropagationKeys())

	sp := tr.NextSpan(ctx)
	sp.Tag("k", "v").Finish()
	sp.Finish()
	assert.Empty(t, sp.TraceIDString())
	trace.NoopRequestContext.Close()
	assert.Empty(t, trace.NoopRequestContext.Headers())
}

func TestRatioSampler(t *testing.T) {
	id := model.TraceID{High: 1, Low: 1234}
	assert.False(t, trace.NewRatioSampler(0).ShouldSample(id))
	assert.True(t, trace.NewRatioSampler(1).ShouldSample(id))
	assert.True(t, trace.NewRatioSampler(0.5).ShouldSample(id))
	assert.False(t, trace.NewRatioSampler(0.1).ShouldSample(id))
	assert.True(t, trace.NewRatioSampler(7).ShouldSample(id))
}

func TestRatioSamplerRoundsBoundary(t *testing.T) {
	// 0.57 * 10000 is 5699.999999999999 in floating point.
	sampler := trace.NewRatioSampler(0.57)
	assert.True(t, sampler.ShouldSample(model.TraceID{Low: 5699}))
	assert.False(t, sampler.ShouldSample(model.TraceID{Low: 5700}))
	assert.True(t, trace.NewRatioSampler(0.29).ShouldSample(model.TraceID{Low: 2899}))
}
