package trace

// Getter reads a propagation field from a carrier, e.g. a request header.
type Getter interface {
	Header(key string) string
}

// Setter writes a propagation field into a carrier.
type Setter interface {
	SetHeader(key, value string)
}

// Carrier is both readable and writable.
type Carrier interface {
	Getter
	Setter
}

// Extraction is the result of reading a carrier. It holds a full context,
// only sampling flags, or nothing at all.
type Extraction struct {
	// Context is valid only when Found is true.
	Context TraceContext
	Found   bool
	// Sampled and Debug carry the sampling flags when no full context was present.
	Sampled Sampled
	Debug   bool
	// Err is set when the carrier held malformed propagation fields. The
	// extraction is then treated as empty.
	Err error
}

// Injector writes a TraceContext into a carrier.
type Injector func(tc TraceContext, carrier Setter)

// Extractor reads a TraceContext from a carrier. It never fails: malformed
// input yields an empty Extraction with Err set.
type Extractor func(carrier Getter) Extraction

// Propagation is a trace-context propagation format. The injector and
// extractor can differ by the kind of the remote side, because messaging
// and request/response carriers use different key spaces.
//
// Implementations:
//   - b3: multi-header for requests, single "b3" header for messaging
//   - w3c: traceparent
type Propagation interface {
	// Keys returns the ordered carrier keys the format reads or writes.
	Keys() []string
	// Injector returns the injector used when the span has the given kind.
	Injector(kind Kind) Injector
	// Extractor returns the extractor used when the span has the given kind.
	Extractor(kind Kind) Extractor
}
