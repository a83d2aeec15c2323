// Package server provides an HTTP server for the agent's own endpoints:
// Prometheus metrics, health checks and pprof profiling.
// Most users won't need this package directly; spanbridge.New starts the
// server when Config.ServerEnabled is true.
package server

import (
	"context"
	"net"
	"net/http"
	"net/http/pprof"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server provides HTTP endpoints for metrics and profiling.
type Server struct {
	server          *http.Server
	mux             *http.ServeMux
	shutdownTimeout time.Duration
	ready           atomic.Bool
}

// Config configures the observability HTTP server.
type Config struct {
	// Addr is the address to listen on (e.g., ":9090").
	Addr string
	// EnableMetrics enables the /metrics endpoint.
	EnableMetrics bool
	// EnablePprof enables the /debug/pprof endpoints.
	EnablePprof bool

	// ReadTimeout is the maximum duration for reading the entire request.
	// Default: 10 seconds
	ReadTimeout time.Duration
	// ReadHeaderTimeout is the amount of time allowed to read request headers.
	// Default: 5 seconds
	ReadHeaderTimeout time.Duration
	// WriteTimeout is the maximum duration before timing out writes of the
	// response. Profiles run for up to this long.
	// Default: 30 seconds
	WriteTimeout time.Duration
	// IdleTimeout is the keep-alive timeout.
	// Default: 120 seconds
	IdleTimeout time.Duration
	// MaxHeaderBytes limits the size of request headers.
	// Default: 1 MB (1 << 20)
	MaxHeaderBytes int
	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	// Default: 30 seconds
	ShutdownTimeout time.Duration

	// Logger receives errors from the metrics handler. Defaults to zap.NewNop().
	Logger *zap.Logger
}

// DefaultConfig returns a default server configuration.
func DefaultConfig() Config {
	return Config{
		Addr:              ":9090",
		EnableMetrics:     true,
		EnablePprof:       false,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		ShutdownTimeout:   30 * time.Second,
	}
}

// New creates a new observability HTTP server serving metrics from gatherer.
//
// Usage:
//
//	cfg := server.DefaultConfig()
//	cfg.Addr = ":8080"
//	obs := server.New(agent.Metrics(), cfg)
//	go obs.ListenAndServe()
func New(gatherer prometheus.Gatherer, cfg Config) *Server {
	def := DefaultConfig()
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.ReadHeaderTimeout == 0 {
		cfg.ReadHeaderTimeout = def.ReadHeaderTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.MaxHeaderBytes == 0 {
		cfg.MaxHeaderBytes = def.MaxHeaderBytes
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	s := &Server{
		mux:             http.NewServeMux(),
		shutdownTimeout: cfg.ShutdownTimeout,
	}
	s.ready.Store(true)

	if cfg.EnableMetrics {
		s.mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
			ErrorLog: zap.NewStdLog(cfg.Logger),
		}))
	}
	if cfg.EnablePprof {
		RegisterPprof(s.mux)
	}

	s.mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	s.mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if !s.ready.Load() {
			http.Error(w, "shutting down", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	s.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.mux,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}
	return s
}

// RegisterPprof registers the pprof handlers on mux.
func RegisterPprof(mux *http.ServeMux) {
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
}

// ListenAndServe starts the server.
func (s *Server) ListenAndServe() error {
	return s.server.ListenAndServe()
}

// Serve starts the server on an existing listener.
func (s *Server) Serve(ln net.Listener) error {
	return s.server.Serve(ln)
}

// Shutdown marks the server not ready and shuts it down gracefully.
// If ctx has no deadline, ShutdownTimeout applies.
func (s *Server) Shutdown(ctx context.Context) error {
	s.ready.Store(false)
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && s.shutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.shutdownTimeout)
		defer cancel()
	}
	return s.server.Shutdown(ctx)
}

// Handler returns the HTTP handler for use with custom servers.
func (s *Server) Handler() http.Handler {
	return s.mux
}
