package spanbridge

import (
	"context"
	"io"
	"net/http"

	"github.com/kzs0/spanbridge/transport"
)

// instrumentedTransport wraps a base RoundTripper and gets the tracing from
// the request's context.
type instrumentedTransport struct {
	base     http.RoundTripper
	pluginID string
}

// RoundTrip implements http.RoundTripper.
func (t *instrumentedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	tr := &transport.Transport{
		Base:    t.base,
		Tracing: Tracing(req.Context(), t.pluginID),
	}
	return tr.RoundTrip(req)
}

// NewClient creates an http.Client that starts a client span for every
// request and writes its context into the request headers. The tracing is
// obtained from the context when requests are made.
//
// Usage:
//
//	client := spanbridge.NewClient(nil)  // Uses default HTTP client settings
//	req, _ := http.NewRequestWithContext(ctx, "GET", "https://api.example.com/users", nil)
//	resp, err := client.Do(req)
func NewClient(base *http.Client) *http.Client {
	if base == nil {
		base = &http.Client{}
	}

	return &http.Client{
		Transport:     &instrumentedTransport{base: base.Transport, pluginID: DefaultHTTPPlugin},
		CheckRedirect: base.CheckRedirect,
		Jar:           base.Jar,
		Timeout:       base.Timeout,
	}
}

// Do executes an HTTP request with a client span.
// For multiple requests, create a client once with NewClient and reuse it.
func Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	req = req.WithContext(ctx)
	tr := &transport.Transport{Tracing: Tracing(ctx, DefaultHTTPPlugin)}
	return tr.RoundTrip(req)
}

// Get is a convenience function for traced GET requests.
func Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return Do(ctx, req)
}

// Post is a convenience function for traced POST requests.
func Post(ctx context.Context, url, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return Do(ctx, req)
}
