package trace

import (
	"net"
	"sync"
	"time"

	"github.com/openzipkin/zipkin-go/model"
)

// Span is a handle over one traced operation. Once finished or abandoned a
// span is inert: further mutation is silently ignored.
type Span interface {
	SetName(name string) Span
	SetKind(kind Kind) Span
	// Tag upserts a tag. Empty keys or values are ignored.
	Tag(key, value string) Span
	Annotate(value string) Span
	AnnotateAt(ts time.Time, value string) Span
	// Start overrides the implicit start time taken at creation.
	Start() Span
	StartAt(ts time.Time) Span
	// Error records a failure without ending the span.
	Error(err error) Span
	SetRemoteServiceName(name string) Span
	// SetRemoteIPAndPort reports whether ip was parsed.
	SetRemoteIPAndPort(ip string, port int) bool

	// Finish closes the cached scope, if any, and reports the span. Only the
	// first terminal call reports.
	Finish()
	FinishAt(ts time.Time)
	// Abandon discards the span without reporting it.
	Abandon()
	// Flush reports the span without an end time.
	Flush()

	// Inject writes the span's context into carrier with the default injector.
	Inject(carrier Setter)
	// MaybeScope binds the span as current without caching the scope.
	MaybeScope() Scope
	// CacheScope binds the span as current once and keeps the scope until
	// the span finishes.
	CacheScope() Span

	IsNoop() bool
	Context() TraceContext
	TraceID() model.TraceID
	SpanID() model.ID
	ParentID() (model.ID, bool)
	TraceIDString() string
	SpanIDString() string
	ParentIDString() string
}

type tag struct {
	key   string
	value string
}

// span is the Span created by Tracer. An unsampled span keeps its context
// so it can still be bound and propagated, but records nothing.
type span struct {
	mu sync.Mutex

	tracer *Tracer
	unit   *unit
	ctx    TraceContext
	noop   bool

	name        string
	kind        Kind
	start       time.Time
	tags        []tag
	annotations []model.Annotation
	remote      *model.Endpoint
	err         error

	scope    Scope
	finished bool
}

func newSpan(t *Tracer, u *unit, tc TraceContext, noop bool) *span {
	return &span{
		tracer: t,
		unit:   u,
		ctx:    tc,
		noop:   noop,
		start:  time.Now(),
	}
}

// recording reports whether the span accepts mutation. Caller holds mu.
func (s *span) recording() bool {
	return !s.noop && !s.finished
}

func (s *span) SetName(name string) Span {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recording() {
		s.name = name
	}
	return s
}

func (s *span) SetKind(kind Kind) Span {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recording() {
		s.kind = kind
	}
	return s
}

func (s *span) Tag(key, value string) Span {
	if key == "" || value == "" {
		return s
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.recording() {
		return s
	}
	for i := range s.tags {
		if s.tags[i].key == key {
			s.tags[i].value = value
			return s
		}
	}
	s.tags = append(s.tags, tag{key: key, value: value})
	return s
}

func (s *span) Annotate(value string) Span {
	return s.AnnotateAt(time.Now(), value)
}

func (s *span) AnnotateAt(ts time.Time, value string) Span {
	if value == "" {
		return s
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recording() {
		s.annotations = append(s.annotations, model.Annotation{Timestamp: ts, Value: value})
	}
	return s
}

func (s *span) Start() Span {
	return s.StartAt(time.Now())
}

func (s *span) StartAt(ts time.Time) Span {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recording() {
		s.start = ts
	}
	return s
}

func (s *span) Error(err error) Span {
	if err == nil {
		return s
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recording() {
		s.err = err
	}
	return s
}

func (s *span) SetRemoteServiceName(name string) Span {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.recording() {
		return s
	}
	if s.remote == nil {
		s.remote = &model.Endpoint{}
	}
	s.remote.ServiceName = name
	return s
}

func (s *span) SetRemoteIPAndPort(ip string, port int) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.recording() {
		return false
	}
	if s.remote == nil {
		s.remote = &model.Endpoint{}
	}
	if v4 := parsed.To4(); v4 != nil {
		s.remote.IPv4 = v4
	} else {
		s.remote.IPv6 = parsed
	}
	if port > 0 && port <= 0xffff {
		s.remote.Port = uint16(port)
	}
	return true
}

func (s *span) Finish() {
	s.FinishAt(time.Now())
}

func (s *span) FinishAt(ts time.Time) { s.finishAt(s.unit, ts) }
func (s *span) Flush()                { s.flush(s.unit) }
func (s *span) Abandon()              { s.abandon(s.unit) }

func (s *span) finishAt(u *unit, ts time.Time) {
	kind, sm, ok := s.end(u, func(start time.Time) time.Duration {
		d := ts.Sub(start)
		if d < 0 {
			d = 0
		}
		return d
	})
	if !ok {
		return
	}
	s.tracer.finished(kind, sm)
}

func (s *span) flush(u *unit) {
	kind, sm, ok := s.end(u, func(time.Time) time.Duration { return 0 })
	if !ok {
		return
	}
	s.tracer.finished(kind, sm)
}

func (s *span) abandon(u *unit) {
	s.mu.Lock()
	first := !s.finished
	s.finished = true
	sc := s.takeScope(u)
	kind, noop := s.kind, s.noop
	s.mu.Unlock()

	if sc != nil {
		sc.Close()
	}
	if first && !noop {
		s.tracer.abandoned(kind)
	}
}

// end makes the span terminal and builds the model to report. It returns
// false when there is nothing to report. The cached scope is closed only
// when u is the unit that created the span; a terminal call made from
// another unit leaves it for the owner's next terminal call.
func (s *span) end(u *unit, duration func(start time.Time) time.Duration) (Kind, model.SpanModel, bool) {
	s.mu.Lock()
	first := !s.finished
	s.finished = true
	sc := s.takeScope(u)
	var sm model.SpanModel
	if first && !s.noop {
		sm = s.toModel(duration(s.start))
	}
	kind, noop := s.kind, s.noop
	s.mu.Unlock()

	if sc != nil {
		sc.Close()
	}
	return kind, sm, first && !noop
}

// takeScope detaches the cached scope when u owns it. Caller holds mu.
func (s *span) takeScope(u *unit) Scope {
	if u != s.unit {
		return nil
	}
	sc := s.scope
	s.scope = nil
	return sc
}

// toModel builds the hand-off model. Caller holds mu.
func (s *span) toModel(d time.Duration) model.SpanModel {
	sm := model.SpanModel{
		SpanContext:    s.ctx.Model(),
		Name:           s.name,
		Kind:           s.kind.model(),
		Timestamp:      s.start,
		Duration:       d,
		Shared:         s.ctx.shared,
		LocalEndpoint:  s.tracer.localEndpoint,
		RemoteEndpoint: s.remote,
	}
	if len(s.annotations) > 0 {
		sm.Annotations = append([]model.Annotation(nil), s.annotations...)
	}
	if len(s.tags) > 0 || s.err != nil {
		sm.Tags = make(map[string]string, len(s.tags)+1)
		for _, t := range s.tags {
			sm.Tags[t.key] = t.value
		}
		if _, ok := sm.Tags["error"]; !ok && s.err != nil {
			sm.Tags["error"] = s.err.Error()
		}
	}
	return sm
}

func (s *span) Inject(carrier Setter) {
	if carrier == nil {
		return
	}
	s.tracer.codecs.defaultInjector(s.ctx, carrier)
}

func (s *span) MaybeScope() Scope {
	return s.unit.maybeScope(s.ctx, s)
}

func (s *span) CacheScope() Span {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scope != nil || s.finished {
		return s
	}
	s.scope = s.unit.maybeScope(s.ctx, s)
	return s
}

func (s *span) IsNoop() bool { return s.noop }

func (s *span) Context() TraceContext { return s.ctx }

func (s *span) TraceID() model.TraceID { return s.ctx.TraceID() }

func (s *span) SpanID() model.ID { return s.ctx.SpanID() }

func (s *span) ParentID() (model.ID, bool) { return s.ctx.ParentID() }

func (s *span) TraceIDString() string { return s.ctx.TraceIDString() }

func (s *span) SpanIDString() string { return s.ctx.SpanIDString() }

func (s *span) ParentIDString() string { return s.ctx.ParentIDString() }

// on returns s as seen from execution unit u. Scopes opened through the
// result bind on u rather than on the unit that created s.
func (s *span) on(u *unit) Span {
	if s.unit == u {
		return s
	}
	return &boundSpan{span: s, unit: u}
}

// boundSpan is a span handed to another execution unit, by ImportAsync or by
// CurrentSpan on a unit that did not create it. It records into the shared
// span and keeps its own cached scope.
type boundSpan struct {
	*span
	unit *unit

	mu    sync.Mutex
	scope Scope
}

func (b *boundSpan) SetName(name string) Span {
	b.span.SetName(name)
	return b
}

func (b *boundSpan) SetKind(kind Kind) Span {
	b.span.SetKind(kind)
	return b
}

func (b *boundSpan) Tag(key, value string) Span {
	b.span.Tag(key, value)
	return b
}

func (b *boundSpan) Annotate(value string) Span {
	b.span.Annotate(value)
	return b
}

func (b *boundSpan) AnnotateAt(ts time.Time, value string) Span {
	b.span.AnnotateAt(ts, value)
	return b
}

func (b *boundSpan) Start() Span {
	b.span.Start()
	return b
}

func (b *boundSpan) StartAt(ts time.Time) Span {
	b.span.StartAt(ts)
	return b
}

func (b *boundSpan) Error(err error) Span {
	b.span.Error(err)
	return b
}

func (b *boundSpan) SetRemoteServiceName(name string) Span {
	b.span.SetRemoteServiceName(name)
	return b
}

func (b *boundSpan) Finish() {
	b.FinishAt(time.Now())
}

func (b *boundSpan) FinishAt(ts time.Time) {
	b.closeScope()
	b.span.finishAt(b.unit, ts)
}

func (b *boundSpan) Flush() {
	b.closeScope()
	b.span.flush(b.unit)
}

func (b *boundSpan) Abandon() {
	b.closeScope()
	b.span.abandon(b.unit)
}

func (b *boundSpan) MaybeScope() Scope {
	return b.unit.maybeScope(b.span.ctx, b.span)
}

func (b *boundSpan) CacheScope() Span {
	b.span.mu.Lock()
	finished := b.span.finished
	b.span.mu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.scope != nil || finished {
		return b
	}
	b.scope = b.unit.maybeScope(b.span.ctx, b.span)
	return b
}

func (b *boundSpan) closeScope() {
	b.mu.Lock()
	sc := b.scope
	b.scope = nil
	b.mu.Unlock()
	if sc != nil {
		sc.Close()
	}
}
