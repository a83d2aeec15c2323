package trace

import (
	"math"

	"github.com/openzipkin/zipkin-go/model"
)

// Sampler decides whether a new trace is recorded. It is only consulted when
// neither the parent nor the inbound carrier has made a decision.
type Sampler interface {
	ShouldSample(traceID model.TraceID) bool
}

// AlwaysSampler always samples.
type AlwaysSampler struct{}

// ShouldSample always returns true.
func (AlwaysSampler) ShouldSample(model.TraceID) bool { return true }

// NeverSampler never samples.
type NeverSampler struct{}

// ShouldSample always returns false.
func (NeverSampler) ShouldSample(model.TraceID) bool { return false }

const ratioPrecision = 10000

// RatioSampler samples a fraction of traces. The decision is a function of
// the trace ID, so every process seeing the same trace agrees.
type RatioSampler struct {
	boundary uint64
}

// NewRatioSampler creates a sampler that samples the given fraction of traces.
// Ratio is clamped to [0, 1].
func NewRatioSampler(ratio float64) *RatioSampler {
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	return &RatioSampler{boundary: uint64(math.Round(ratio * ratioPrecision))}
}

// ShouldSample samples based on the configured ratio.
func (s *RatioSampler) ShouldSample(traceID model.TraceID) bool {
	if s.boundary == 0 {
		return false
	}
	if s.boundary >= ratioPrecision {
		return true
	}
	return traceID.Low%ratioPrecision < s.boundary
}
