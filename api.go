package spanbridge

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	spanlog "github.com/kzs0/spanbridge/log"
	"github.com/kzs0/spanbridge/trace"
)

// Init creates an agent and returns a context with the agent and an
// execution unit attached, plus a cleanup function. If no config is
// provided, it loads from environment variables.
//
// Usage:
//
//	ctx, close := spanbridge.Init(ctx, spanbridge.WithConfig(cfg))
//	defer close()
func Init(ctx context.Context, opts ...InitOption) (context.Context, func()) {
	ic := applyInitOptions(opts)

	if ic.config == nil {
		envCfg, err := FromEnv()
		if err != nil {
			envCfg = DefaultConfig()
		}
		ic.config = &envCfg
	}

	a, err := New(*ic.config)
	if err != nil {
		panic(fmt.Errorf("spanbridge: failed to initialize: %w", err))
	}

	ctx = WithAgent(ctx, a)
	if !trace.IsAttached(ctx) {
		ctx = trace.Attach(ctx)
	}

	cleanup := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.config.ShutdownTimeout)
		defer cancel()
		if err := a.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("shutdown incomplete", zap.Error(err))
		}
	}
	return ctx, cleanup
}

// InitOption configures initialization.
type InitOption func(*initConfig)

type initConfig struct {
	config *Config
}

// WithConfig provides an explicit configuration.
func WithConfig(cfg Config) InitOption {
	return func(c *initConfig) {
		c.config = &cfg
	}
}

func applyInitOptions(opts []InitOption) initConfig {
	var cfg initConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Tracing returns the tracing plugin id may use, from the agent in ctx.
// Without an agent it returns the no-op tracer.
func Tracing(ctx context.Context, pluginID string) trace.Tracing {
	return agentFromContext(ctx).Tracing(pluginID)
}

// Logger returns the agent's logger decorated with the trace context
// current on ctx.
//
// Usage:
//
//	spanbridge.Logger(ctx).Info("order placed", zap.String("order", id))
func Logger(ctx context.Context) *zap.Logger {
	return spanlog.For(ctx, agentFromContext(ctx).logger)
}
