package trace

import "github.com/openzipkin/zipkin-go/model"

// Kind represents the role of a span in a trace.
type Kind int

const (
	KindUnset Kind = iota
	KindServer
	KindClient
	KindProducer
	KindConsumer
)

// String returns the zipkin name of the kind.
func (k Kind) String() string {
	return string(k.model())
}

func (k Kind) model() model.Kind {
	switch k {
	case KindServer:
		return model.Server
	case KindClient:
		return model.Client
	case KindProducer:
		return model.Producer
	case KindConsumer:
		return model.Consumer
	default:
		return model.Undetermined
	}
}

// Request is an inbound or outbound call the instrumentation layer wants
// traced. Header and SetHeader address the call's propagation carrier.
type Request interface {
	Carrier
	// Kind is the role of the span created for the request.
	Kind() Kind
	// Name is the span name.
	Name() string
	// CacheScope asks the tracer to cache the span's scope so that the span
	// stays current until it finishes.
	CacheScope() bool
}

// MessagingRequest is a Request against a message broker.
type MessagingRequest interface {
	Request
	// Operation is the messaging operation, e.g. "send" or "receive".
	Operation() string
	// ChannelKind is "queue" or "topic".
	ChannelKind() string
	// ChannelName is the queue or topic name.
	ChannelName() string
}

// Message is an opaque, previously extracted context carried alongside a
// message, so that the span processing it can be created later.
type Message struct {
	extraction Extraction
	ok         bool
}

// NewMessage wraps an extraction.
func NewMessage(e Extraction) Message {
	return Message{extraction: e, ok: true}
}

// Extraction returns the wrapped extraction.
func (m Message) Extraction() (Extraction, bool) {
	return m.extraction, m.ok
}

// RequestContext bundles the span created for a request, its scope, and the
// outbound carrier holding the propagation fields for the downstream leg.
type RequestContext struct {
	span     Span
	scope    Scope
	outbound *outboundCarrier
	noop     bool
}

// NoopRequestContext is returned when no usable context could be created.
var NoopRequestContext = &RequestContext{
	span:     NoopSpan,
	scope:    NoopScope,
	outbound: &outboundCarrier{},
	noop:     true,
}

// IsNoop reports whether the context is inert.
func (rc *RequestContext) IsNoop() bool { return rc.noop }

// Span returns the span created for the request.
func (rc *RequestContext) Span() Span { return rc.span }

// Scope returns the scope binding the span as current.
func (rc *RequestContext) Scope() Scope { return rc.scope }

// Header returns an outbound propagation field.
func (rc *RequestContext) Header(key string) string {
	return rc.outbound.headers[key]
}

// Headers returns a copy of the outbound propagation fields.
func (rc *RequestContext) Headers() map[string]string {
	out := make(map[string]string, len(rc.outbound.headers))
	for k, v := range rc.outbound.headers {
		out[k] = v
	}
	return out
}

// Close closes the scope. It does not finish the span.
func (rc *RequestContext) Close() {
	rc.scope.Close()
}

// outboundCarrier reads through to the originating request and records
// written fields without touching the request.
type outboundCarrier struct {
	req     Getter
	headers map[string]string
}

func newOutboundCarrier(req Getter) *outboundCarrier {
	return &outboundCarrier{req: req, headers: make(map[string]string)}
}

func (c *outboundCarrier) Header(key string) string {
	if v, ok := c.headers[key]; ok {
		return v
	}
	if c.req == nil {
		return ""
	}
	return c.req.Header(key)
}

func (c *outboundCarrier) SetHeader(key, value string) {
	c.headers[key] = value
}
