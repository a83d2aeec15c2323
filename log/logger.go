// Package log builds the agent's zap logger and decorates log entries with
// the trace context current on a request.
package log

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kzs0/spanbridge/trace"
)

// Field keys added by SpanFields and For.
const (
	TraceIDKey = "trace_id"
	SpanIDKey  = "span_id"
)

// Config configures the logger.
type Config struct {
	// Level is "debug", "info", "warn" or "error". Defaults to "info".
	Level string
	// Format is "json" or "console". Defaults to "json".
	Format string
	// Output is the writer to write logs to. Defaults to os.Stderr.
	Output io.Writer
}

// New creates a logger.
func New(cfg Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, fmt.Errorf("log: invalid level %q: %w", cfg.Level, err)
		}
	}

	var encoder zapcore.Encoder
	switch cfg.Format {
	case "", "json":
		encoder = zapcore.NewJSONEncoder(encoderConfig(false))
	case "console", "text":
		encoder = zapcore.NewConsoleEncoder(encoderConfig(true))
	default:
		return nil, fmt.Errorf("log: unknown format %q", cfg.Format)
	}

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(out), zap.NewAtomicLevelAt(level))
	return zap.New(core, zap.AddCaller()), nil
}

func encoderConfig(console bool) zapcore.EncoderConfig {
	cfg := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	if console {
		cfg.EncodeLevel = zapcore.CapitalLevelEncoder
		cfg.EncodeDuration = zapcore.StringDurationEncoder
	}
	return cfg
}

// SpanFields returns the identifiers of sp as log fields. A noop span
// without identifiers yields no fields.
func SpanFields(sp trace.Span) []zap.Field {
	if sp == nil {
		return nil
	}
	return contextFields(sp.Context())
}

// For returns logger decorated with the trace context current on ctx, or
// logger itself when nothing is current.
func For(ctx context.Context, logger *zap.Logger) *zap.Logger {
	tc, ok := trace.CurrentContext(ctx)
	if !ok {
		return logger
	}
	fields := contextFields(tc)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(fields...)
}

func contextFields(tc trace.TraceContext) []zap.Field {
	if !tc.IsValid() {
		return nil
	}
	return []zap.Field{
		zap.String(TraceIDKey, tc.TraceIDString()),
		zap.String(SpanIDKey, tc.SpanIDString()),
	}
}
