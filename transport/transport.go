// Package transport provides an http.RoundTripper that traces outgoing
// requests. For typical usage, use the HTTP client functions in the root
// spanbridge package instead.
package transport

import (
	"net/http"
	"strconv"

	"github.com/kzs0/spanbridge/carrier"
	"github.com/kzs0/spanbridge/trace"
)

// Span tag keys.
const (
	TagMethod     = "http.method"
	TagPath       = "http.path"
	TagHost       = "http.host"
	TagStatusCode = "http.status_code"
)

// clientRequest is the outgoing call as seen by the tracer.
type clientRequest struct {
	carrier.HTTPHeader
	name string
}

func (r clientRequest) Kind() trace.Kind { return trace.KindClient }
func (r clientRequest) Name() string     { return r.name }
func (r clientRequest) CacheScope() bool { return false }

// Transport is an http.RoundTripper that starts a client span for each
// request and writes its context into the request headers. The span is a
// child of the span current on the request's context.
type Transport struct {
	// Base is the underlying http.RoundTripper.
	// If nil, http.DefaultTransport is used.
	Base http.RoundTripper

	// Tracing creates the client spans. If nil, requests pass through.
	Tracing trace.Tracing
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.Tracing == nil || t.Tracing.IsNoop() {
		return t.base().RoundTrip(req)
	}

	// RoundTrippers must not modify the caller's request.
	req = req.Clone(req.Context())

	rc := t.Tracing.NextServer(req.Context(), clientRequest{
		HTTPHeader: carrier.HTTPHeader(req.Header),
		name:       req.Method,
	})
	rc.Close()
	for k, v := range rc.Headers() {
		req.Header.Set(k, v)
	}

	span := rc.Span()
	defer span.Finish()
	span.Tag(TagMethod, req.Method)
	span.Tag(TagPath, req.URL.Path)
	span.Tag(TagHost, req.URL.Host)

	resp, err := t.base().RoundTrip(req)
	if err != nil {
		span.Error(err)
		return resp, err
	}

	span.Tag(TagStatusCode, strconv.Itoa(resp.StatusCode))
	if resp.StatusCode >= 400 {
		span.Tag("error", strconv.Itoa(resp.StatusCode))
	}
	return resp, nil
}

// base returns the base RoundTripper, defaulting to http.DefaultTransport.
func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}
