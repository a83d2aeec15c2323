package spanbridge

import (
	"fmt"
	"io"
	"time"

	"dario.cat/mergo"
	"github.com/kelseyhightower/envconfig"
	zipkinreporter "github.com/openzipkin/zipkin-go/reporter"

	"github.com/kzs0/spanbridge/trace"
)

// EnvPrefix prefixes every environment variable read by FromEnv.
const EnvPrefix = "SPANBRIDGE"

// Reporter names accepted by Config.Reporter.
const (
	ReporterLog   = "log"
	ReporterHTTP  = "http"
	ReporterKafka = "kafka"
	ReporterNone  = "none"
)

// Propagation names accepted by Config.Propagation.
const (
	PropagationB3  = "b3"
	PropagationW3C = "w3c"
)

// Config configures an Agent. Zero fields take the value from DefaultConfig.
type Config struct {
	// Service is the local service name on every reported span.
	Service string `envconfig:"SERVICE"`
	// Disabled turns the agent into a no-op: every plugin gets the no-op tracer.
	Disabled bool `envconfig:"DISABLED"`

	// SampleRate is the fraction of new traces recorded. Values outside
	// (0, 1) record every trace.
	SampleRate float64 `envconfig:"SAMPLE_RATE"`
	// Sampler overrides SampleRate when set.
	Sampler trace.Sampler `ignored:"true"`
	// Propagation is "b3" or "w3c".
	Propagation string `envconfig:"PROPAGATION"`

	// LogLevel is the minimum log level (debug, info, warn, error).
	LogLevel string `envconfig:"LOG_LEVEL"`
	// LogFormat is "json" or "console".
	LogFormat string `envconfig:"LOG_FORMAT"`
	// LogOutput is the log output writer. Defaults to os.Stderr.
	LogOutput io.Writer `ignored:"true"`

	// MetricsNamespace prefixes every self-metric.
	MetricsNamespace string `envconfig:"METRICS_NAMESPACE"`

	// Reporter is "log", "http", "kafka" or "none".
	Reporter string `envconfig:"REPORTER"`
	// SpanReporter overrides Reporter when set.
	SpanReporter zipkinreporter.Reporter `ignored:"true"`
	// ZipkinURL is the span endpoint of the http reporter.
	ZipkinURL string `envconfig:"ZIPKIN_URL"`
	// KafkaBrokers are the brokers of the kafka reporter.
	KafkaBrokers []string `envconfig:"KAFKA_BROKERS"`
	// KafkaTopic is the topic the kafka reporter publishes to.
	KafkaTopic string `envconfig:"KAFKA_TOPIC"`
	// BatchTimeout bounds how long a finished span waits before export.
	BatchTimeout time.Duration `envconfig:"BATCH_TIMEOUT"`

	// PluginFile is an optional YAML file holding plugin configuration.
	PluginFile string `envconfig:"PLUGIN_FILE"`

	// ServerEnabled starts the observability server.
	ServerEnabled bool `envconfig:"SERVER_ENABLED"`
	// ServerAddr is the address the observability server listens on.
	ServerAddr string `envconfig:"SERVER_ADDR"`
	// ServerPprof enables /debug/pprof on the observability server.
	ServerPprof bool `envconfig:"SERVER_PPROF"`

	// ShutdownTimeout bounds Shutdown when its context has no deadline.
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT"`
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		Service:          "unknown",
		SampleRate:       1.0,
		Propagation:      PropagationB3,
		LogLevel:         "info",
		LogFormat:        "json",
		MetricsNamespace: "spanbridge",
		Reporter:         ReporterLog,
		ZipkinURL:        "http://localhost:9411/api/v2/spans",
		KafkaBrokers:     []string{"localhost:9092"},
		KafkaTopic:       "zipkin",
		BatchTimeout:     5 * time.Second,
		ServerAddr:       ":9090",
		ShutdownTimeout:  30 * time.Second,
	}
}

// FromEnv loads configuration from SPANBRIDGE_* environment variables.
// Unset variables take their default.
func FromEnv() (Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("spanbridge: failed to parse config from env: %w", err)
	}
	return cfg.withDefaults()
}

// MustFromEnv loads configuration from environment variables, panicking on error.
func MustFromEnv() Config {
	cfg, err := FromEnv()
	if err != nil {
		panic(err)
	}
	return cfg
}

func (c Config) withDefaults() (Config, error) {
	if err := mergo.Merge(&c, DefaultConfig()); err != nil {
		return Config{}, fmt.Errorf("spanbridge: failed to apply config defaults: %w", err)
	}
	return c, nil
}

func (c Config) validate() error {
	switch c.Propagation {
	case PropagationB3, PropagationW3C:
	default:
		return fmt.Errorf("spanbridge: unknown propagation %q", c.Propagation)
	}
	switch c.Reporter {
	case ReporterLog, ReporterHTTP, ReporterKafka, ReporterNone:
	default:
		return fmt.Errorf("spanbridge: unknown reporter %q", c.Reporter)
	}
	return nil
}

func (c Config) sampler() trace.Sampler {
	if c.Sampler != nil {
		return c.Sampler
	}
	if c.SampleRate > 0 && c.SampleRate < 1.0 {
		return trace.NewRatioSampler(c.SampleRate)
	}
	return trace.AlwaysSampler{}
}
