package trace

import (
	"context"
	"time"

	"github.com/openzipkin/zipkin-go/model"
)

// Shared sentinels used whenever tracing is disabled, a span is unusable, or
// nothing is current. Every method is inert.
var (
	NoopSpan         Span         = noopSpan{}
	NoopScope        Scope        = noopScope{}
	NoopAsyncContext AsyncContext = noopAsyncContext{}
	NoopTracer       Tracing      = noopTracer{}
)

var (
	_ Span         = (*span)(nil)
	_ Scope        = (*scope)(nil)
	_ AsyncContext = (*asyncContext)(nil)
	_ Tracing      = (*Tracer)(nil)
)

type noopScope struct{}

func (noopScope) Close() {}

type noopSpan struct{}

func (n noopSpan) SetName(string) Span                 { return n }
func (n noopSpan) SetKind(Kind) Span                   { return n }
func (n noopSpan) Tag(string, string) Span             { return n }
func (n noopSpan) Annotate(string) Span                { return n }
func (n noopSpan) AnnotateAt(time.Time, string) Span   { return n }
func (n noopSpan) Start() Span                         { return n }
func (n noopSpan) StartAt(time.Time) Span              { return n }
func (n noopSpan) Error(error) Span                    { return n }
func (n noopSpan) SetRemoteServiceName(string) Span    { return n }
func (n noopSpan) SetRemoteIPAndPort(string, int) bool { return false }
func (n noopSpan) Finish()                             {}
func (n noopSpan) FinishAt(time.Time)                  {}
func (n noopSpan) Abandon()                            {}
func (n noopSpan) Flush()                              {}
func (n noopSpan) Inject(Setter)                       {}
func (n noopSpan) MaybeScope() Scope                   { return NoopScope }
func (n noopSpan) CacheScope() Span                    { return n }
func (n noopSpan) IsNoop() bool                        { return true }
func (n noopSpan) Context() TraceContext               { return TraceContext{} }
func (n noopSpan) TraceID() model.TraceID              { return model.TraceID{} }
func (n noopSpan) SpanID() model.ID                    { return 0 }
func (n noopSpan) ParentID() (model.ID, bool)          { return 0, false }
func (n noopSpan) TraceIDString() string               { return "" }
func (n noopSpan) SpanIDString() string                { return "" }
func (n noopSpan) ParentIDString() string              { return "" }

type noopAsyncContext struct{}

func (noopAsyncContext) IsNoop() bool                 { return true }
func (noopAsyncContext) Context() TraceContext        { return TraceContext{} }
func (noopAsyncContext) Import(context.Context) Scope { return NoopScope }

type noopTracer struct{}

func (noopTracer) IsNoop() bool                                          { return true }
func (noopTracer) HasCurrentSpan(context.Context) bool                   { return false }
func (noopTracer) CurrentSpan(context.Context) Span                      { return NoopSpan }
func (noopTracer) NextServer(context.Context, Request) *RequestContext   { return NoopRequestContext }
func (noopTracer) ServerImport(context.Context, Request) *RequestContext { return NoopRequestContext }
func (noopTracer) NextSpan(context.Context) Span                         { return NoopSpan }
func (noopTracer) NextSpanFrom(context.Context, Message) Span            { return NoopSpan }
func (noopTracer) ExtractMessage(MessagingRequest) Message               { return Message{} }
func (noopTracer) ConsumerSpan(context.Context, MessagingRequest) Span   { return NoopSpan }
func (noopTracer) ProducerSpan(context.Context, MessagingRequest) Span   { return NoopSpan }
func (noopTracer) ExportAsync(context.Context) AsyncContext              { return NoopAsyncContext }
func (noopTracer) ImportAsync(context.Context, AsyncContext) Scope       { return NoopScope }
func (noopTracer) PropagationKeys() []string                             { return nil }

// Or returns t, or NoopTracer when t is nil. An absent tracer and a disabled
// tracer behave identically.
func Or(t *Tracer) Tracing {
	if t == nil {
		return NoopTracer
	}
	return t
}
