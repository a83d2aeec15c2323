package spanbridge

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/kzs0/spanbridge/carrier"
	"github.com/kzs0/spanbridge/trace"
	"github.com/kzs0/spanbridge/transport"
)

// DefaultHTTPPlugin is the plugin id the HTTP middleware and client read
// their configuration from.
const DefaultHTTPPlugin = "http"

// serverRequest is an inbound HTTP request as seen by the tracer.
type serverRequest struct {
	carrier.HTTPHeader
	name string
}

func (r serverRequest) Kind() trace.Kind { return trace.KindServer }
func (r serverRequest) Name() string     { return r.name }
func (r serverRequest) CacheScope() bool { return false }

// HTTPMiddleware wraps an HTTP handler with a server span per request.
// It expects the agent to already be in the context (use Init or WithAgent
// first). The span continues the trace carried by the request headers and
// is current on the request context handed to handler.
//
// Usage:
//
//	ctx, close := spanbridge.Init(ctx)
//	defer close()
//
//	mux := http.NewServeMux()
//	mux.HandleFunc("/users", handleUsers)
//
//	handler := spanbridge.HTTPMiddleware(ctx, mux)
//	http.ListenAndServe(":8080", handler)
func HTTPMiddleware(ctx context.Context, handler http.Handler, opts ...MiddlewareOption) http.Handler {
	cfg := applyMiddlewareOptions(opts)
	agent := agentFromContext(ctx)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Plugin reloads apply from the next request.
		tracing := cfg.tracing
		if tracing == nil {
			tracing = agent.Tracing(cfg.pluginID)
		}

		reqCtx := r.Context()
		if FromContext(reqCtx) == nil && !agent.isNoop {
			reqCtx = WithAgent(reqCtx, agent)
		}
		if !trace.IsAttached(reqCtx) {
			reqCtx = trace.Attach(reqCtx)
		}

		req := serverRequest{HTTPHeader: carrier.HTTPHeader(r.Header), name: cfg.spanName(r)}
		var rc *trace.RequestContext
		if cfg.joinSpans {
			rc = tracing.ServerImport(reqCtx, req)
		} else {
			rc = tracing.NextServer(reqCtx, req)
		}
		defer rc.Close()

		span := rc.Span()
		span.Tag(transport.TagMethod, r.Method)
		span.Tag(transport.TagPath, r.URL.Path)
		span.Tag(transport.TagHost, r.Host)

		rw := &responseWriter{
			ResponseWriter: w,
			status:         http.StatusOK,
			wroteHeader:    false,
		}
		defer func() {
			if v := recover(); v != nil {
				span.Tag(transport.TagStatusCode, strconv.Itoa(http.StatusInternalServerError))
				span.Tag("error", fmt.Sprintf("panic: %v", v))
				span.Finish()
				panic(v)
			}
			span.Tag(transport.TagStatusCode, strconv.Itoa(rw.status))
			if cfg.failed(rw.status) {
				span.Tag("error", strconv.Itoa(rw.status))
			}
			span.Finish()
		}()

		handler.ServeHTTP(rw, r.WithContext(reqCtx))
	})
}

// MiddlewareOption configures the HTTP middleware.
type MiddlewareOption func(*middlewareConfig)

type middlewareConfig struct {
	pluginID           string
	tracing            trace.Tracing
	spanName           func(*http.Request) string
	successStatusCodes map[int]bool
	joinSpans          bool
}

// WithPluginID sets the plugin whose configuration gates the middleware
// (default: "http").
func WithPluginID(id string) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		cfg.pluginID = id
	}
}

// WithTracing uses tracing instead of the agent's tracing for the plugin.
func WithTracing(tracing trace.Tracing) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		cfg.tracing = tracing
	}
}

// WithSpanName names spans with fn (default: the request method).
func WithSpanName(fn func(*http.Request) string) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		cfg.spanName = fn
	}
}

// WithSuccessCodes defines which HTTP status codes are considered successful.
// Default: 4xx and 5xx are failures.
func WithSuccessCodes(codes ...int) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		cfg.successStatusCodes = make(map[int]bool)
		for _, code := range codes {
			cfg.successStatusCodes[code] = true
		}
	}
}

// WithJoinedSpans makes the server span share its id with the inbound
// client span instead of becoming its child.
func WithJoinedSpans() MiddlewareOption {
	return func(cfg *middlewareConfig) {
		cfg.joinSpans = true
	}
}

func applyMiddlewareOptions(opts []MiddlewareOption) middlewareConfig {
	cfg := middlewareConfig{
		pluginID: DefaultHTTPPlugin,
		spanName: func(r *http.Request) string { return r.Method },
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

func (cfg middlewareConfig) failed(status int) bool {
	if cfg.successStatusCodes != nil {
		return !cfg.successStatusCodes[status]
	}
	return status >= 400
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.status = code
		rw.wroteHeader = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}
