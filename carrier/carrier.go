// Package carrier adapts common header containers to trace.Getter and
// trace.Setter.
package carrier

import (
	"net/http"
	"strings"

	"github.com/opentracing/opentracing-go"

	"github.com/kzs0/spanbridge/trace"
)

// Map is a case-insensitive in-memory carrier. Keys are stored lowercased.
type Map map[string]string

var _ trace.Carrier = Map(nil)

func (m Map) Header(key string) string {
	return m[strings.ToLower(key)]
}

func (m Map) SetHeader(key, value string) {
	m[strings.ToLower(key)] = value
}

// HTTPHeader adapts http.Header.
type HTTPHeader http.Header

var _ trace.Carrier = HTTPHeader(nil)

func (h HTTPHeader) Header(key string) string {
	return http.Header(h).Get(key)
}

func (h HTTPHeader) SetHeader(key, value string) {
	http.Header(h).Set(key, value)
}

// FromTextMap reads an OpenTracing TextMap carrier, e.g. one handed over by
// code instrumented with opentracing-go.
func FromTextMap(r opentracing.TextMapReader) Map {
	m := Map{}
	_ = r.ForeachKey(func(key, val string) error {
		m.SetHeader(key, val)
		return nil
	})
	return m
}

// TextMap writes into an OpenTracing TextMap carrier.
type TextMap struct {
	W opentracing.TextMapWriter
}

var _ trace.Setter = TextMap{}

func (t TextMap) SetHeader(key, value string) {
	t.W.Set(key, value)
}
