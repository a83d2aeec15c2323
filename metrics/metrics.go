// Package metrics exposes the tracer's self-metrics to Prometheus.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/kzs0/spanbridge/trace"
)

// Collector counts span lifecycle events. It is a trace.Observer and a
// prometheus.Collector.
type Collector struct {
	started            *prometheus.CounterVec
	finished           *prometheus.CounterVec
	abandoned          *prometheus.CounterVec
	extractionFailures *prometheus.CounterVec
	dropped            prometheus.Counter
}

var (
	_ trace.Observer       = (*Collector)(nil)
	_ prometheus.Collector = (*Collector)(nil)
)

// New creates a collector whose metric names start with namespace.
func New(namespace string) *Collector {
	return &Collector{
		started: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "spans_started_total",
				Help:      "Total number of spans started",
			},
			[]string{"kind", "sampled"},
		),
		finished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "spans_finished_total",
				Help:      "Total number of sampled spans finished and reported",
			},
			[]string{"kind"},
		),
		abandoned: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "spans_abandoned_total",
				Help:      "Total number of sampled spans abandoned without reporting",
			},
			[]string{"kind"},
		),
		extractionFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "extraction_failures_total",
				Help:      "Total number of malformed inbound trace contexts",
			},
			[]string{"kind"},
		),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spans_dropped_total",
			Help:      "Total number of finished spans dropped before export",
		}),
	}
}

func (c *Collector) SpanStarted(kind trace.Kind, sampled bool) {
	c.started.WithLabelValues(kindLabel(kind), strconv.FormatBool(sampled)).Inc()
}

func (c *Collector) SpanFinished(kind trace.Kind) {
	c.finished.WithLabelValues(kindLabel(kind)).Inc()
}

func (c *Collector) SpanAbandoned(kind trace.Kind) {
	c.abandoned.WithLabelValues(kindLabel(kind)).Inc()
}

func (c *Collector) ExtractionFailed(kind trace.Kind, _ error) {
	c.extractionFailures.WithLabelValues(kindLabel(kind)).Inc()
}

// SpansDropped counts spans the reporter could not deliver.
func (c *Collector) SpansDropped(n int) {
	c.dropped.Add(float64(n))
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.started.Describe(ch)
	c.finished.Describe(ch)
	c.abandoned.Describe(ch)
	c.extractionFailures.Describe(ch)
	c.dropped.Describe(ch)
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.started.Collect(ch)
	c.finished.Collect(ch)
	c.abandoned.Collect(ch)
	c.extractionFailures.Collect(ch)
	c.dropped.Collect(ch)
}

func kindLabel(kind trace.Kind) string {
	if kind == trace.KindUnset {
		return "local"
	}
	return kind.String()
}

// NewRegistry creates a registry holding c and the Go runtime and process
// collectors.
func NewRegistry(c *Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		c,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}
