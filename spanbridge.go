// Package spanbridge is the tracing agent facade. An Agent owns the tracer,
// its reporter, the self-metrics and the plugin configuration, and hands
// every instrumentation plugin the tracing it is allowed to use.
//
//	ctx, shutdown := spanbridge.Init(ctx)
//	defer shutdown()
//
//	tracing := spanbridge.FromContext(ctx).Tracing("http")
package spanbridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/Shopify/sarama"
	zipkinreporter "github.com/openzipkin/zipkin-go/reporter"
	zipkinhttp "github.com/openzipkin/zipkin-go/reporter/http"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kzs0/spanbridge/config"
	spanlog "github.com/kzs0/spanbridge/log"
	"github.com/kzs0/spanbridge/metrics"
	"github.com/kzs0/spanbridge/reporter"
	"github.com/kzs0/spanbridge/server"
	"github.com/kzs0/spanbridge/trace"
	"github.com/kzs0/spanbridge/trace/b3"
	"github.com/kzs0/spanbridge/trace/w3c"
)

// Agent is the main entry point for tracing.
type Agent struct {
	config   Config
	logger   *zap.Logger
	metrics  *metrics.Collector
	registry *prometheus.Registry
	reporter zipkinreporter.Reporter
	producer sarama.SyncProducer
	tracer   *trace.Tracer
	plugins  *config.Registry
	server   *server.Server

	isNoop bool
}

// New creates an agent with the given configuration. Zero fields of cfg
// take their default.
func New(cfg Config) (*Agent, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	logger, err := spanlog.New(spanlog.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: cfg.LogOutput})
	if err != nil {
		return nil, fmt.Errorf("spanbridge: %w", err)
	}
	logger = logger.With(zap.String("service", cfg.Service))

	file, err := loadPlugins(cfg)
	if err != nil {
		return nil, err
	}

	a := &Agent{
		config:  cfg,
		logger:  logger,
		metrics: metrics.New(cfg.MetricsNamespace),
		plugins: config.NewRegistry(file),
		isNoop:  cfg.Disabled,
	}
	a.registry = metrics.NewRegistry(a.metrics)

	if err := a.setupReporter(); err != nil {
		return nil, err
	}

	var propagation trace.Propagation = b3.New()
	if cfg.Propagation == PropagationW3C {
		propagation = w3c.New()
	}
	a.tracer = trace.NewTracer(trace.TracerConfig{
		ServiceName: cfg.Service,
		Propagation: propagation,
		Sampler:     cfg.sampler(),
		Reporter:    a.reporter,
		Observer:    a.metrics,
		Logger:      logger.Named("trace"),
	})

	if cfg.ServerEnabled {
		a.startServer()
	}

	logger.Debug("agent started",
		zap.Bool("disabled", cfg.Disabled),
		zap.String("propagation", cfg.Propagation),
		zap.String("reporter", cfg.Reporter),
	)
	return a, nil
}

// loadPlugins reads the plugin file. The global layer switches plugins on
// unless the file says otherwise.
func loadPlugins(cfg Config) (config.File, error) {
	var file config.File
	if cfg.PluginFile != "" {
		var err error
		if file, err = config.Load(cfg.PluginFile); err != nil {
			return config.File{}, fmt.Errorf("spanbridge: %w", err)
		}
	}
	if file.Global == nil {
		file.Global = make(map[string]string)
	}
	if _, ok := file.Global[config.EnabledKey]; !ok {
		file.Global[config.EnabledKey] = "true"
	}
	return file, nil
}

func (a *Agent) setupReporter() error {
	cfg := a.config
	if cfg.SpanReporter != nil {
		a.reporter = cfg.SpanReporter
		return nil
	}

	batch := reporter.DefaultBatchConfig()
	batch.BatchTimeout = cfg.BatchTimeout
	batch.Logger = a.logger.Named("reporter")
	batch.OnDrop = a.metrics.SpansDropped

	switch cfg.Reporter {
	case ReporterNone:
		a.reporter = zipkinreporter.NewNoopReporter()
	case ReporterLog:
		a.reporter = reporter.NewBatch(reporter.LogSink(a.logger.Named("span")), batch)
	case ReporterHTTP:
		a.reporter = zipkinhttp.NewReporter(cfg.ZipkinURL,
			zipkinhttp.BatchInterval(cfg.BatchTimeout),
			zipkinhttp.Logger(zap.NewStdLog(batch.Logger)),
		)
	case ReporterKafka:
		sc := sarama.NewConfig()
		sc.Producer.Return.Successes = true
		sc.Producer.RequiredAcks = sarama.WaitForLocal
		producer, err := sarama.NewSyncProducer(cfg.KafkaBrokers, sc)
		if err != nil {
			return fmt.Errorf("spanbridge: failed to create kafka producer: %w", err)
		}
		a.producer = producer
		a.reporter = reporter.NewBatch(reporter.KafkaSink(producer, cfg.KafkaTopic), batch)
	}
	return nil
}

func (a *Agent) startServer() {
	a.server = server.New(a.registry, server.Config{
		Addr:            a.config.ServerAddr,
		EnableMetrics:   true,
		EnablePprof:     a.config.ServerPprof,
		ShutdownTimeout: a.config.ShutdownTimeout,
		Logger:          a.logger.Named("server"),
	})
	go func() {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("observability server failed", zap.String("addr", a.config.ServerAddr), zap.Error(err))
		}
	}()
}

// Logger returns the agent's logger.
func (a *Agent) Logger() *zap.Logger {
	return a.logger
}

// Metrics returns the registry holding the agent's self-metrics.
func (a *Agent) Metrics() *prometheus.Registry {
	return a.registry
}

// Tracer returns the tracer, regardless of plugin configuration.
func (a *Agent) Tracer() *trace.Tracer {
	return a.tracer
}

// Plugins returns the plugin configuration registry.
func (a *Agent) Plugins() *config.Registry {
	return a.plugins
}

// Server returns the observability server, or nil when it is not enabled.
func (a *Agent) Server() *server.Server {
	return a.server
}

// IsNoop returns true if this agent traces nothing.
func (a *Agent) IsNoop() bool {
	return a.isNoop
}

// Tracing returns the tracing plugin id may use: the tracer when the agent
// is enabled and the plugin's configuration enables it, the no-op tracer
// otherwise. The decision is made once per plugin configuration, so it
// follows registry updates.
func (a *Agent) Tracing(pluginID string) trace.Tracing {
	if a.isNoop || a.tracer == nil {
		return trace.NoopTracer
	}
	if !a.plugins.Plugin(pluginID).Enabled() {
		return trace.NoopTracer
	}
	return a.tracer
}

// ReloadPlugins re-reads the plugin file and rebuilds every plugin
// configuration. Tracing returns the new decision from then on; change
// listeners registered on the old configurations are notified.
func (a *Agent) ReloadPlugins() error {
	file, err := loadPlugins(a.config)
	if err != nil {
		return err
	}
	a.plugins.Update(file)
	a.logger.Info("plugin configuration reloaded", zap.String("file", a.config.PluginFile))
	return nil
}

// ServeMetrics serves the observability endpoints on ln. It is an
// alternative to Config.ServerEnabled for callers that own the listener.
func (a *Agent) ServeMetrics(ln net.Listener) error {
	if a.server == nil {
		a.server = server.New(a.registry, server.Config{
			EnableMetrics: true,
			EnablePprof:   a.config.ServerPprof,
			Logger:        a.logger.Named("server"),
		})
	}
	return a.server.Serve(ln)
}

// Shutdown stops the observability server and flushes pending spans.
func (a *Agent) Shutdown(ctx context.Context) error {
	var errs []error
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("server: %w", err))
		}
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("reporter: %w", err))
		}
	}
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("kafka producer: %w", err))
		}
	}
	_ = a.logger.Sync()
	return errors.Join(errs...)
}
