// Package w3c implements W3C Trace Context (https://www.w3.org/TR/trace-context/)
// as a trace.Propagation.
//
// The format carries no parent span ID, so an extracted context always has
// the caller's span ID and no parent. There is no "unknown" sampling state:
// a cleared sampled flag is read as not sampled.
package w3c

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/openzipkin/zipkin-go/model"

	"github.com/kzs0/spanbridge/trace"
)

// Traceparent format: version-trace-id-parent-id-trace-flags
// Example: 00-0af7651916cd43dd8448eb211c80319c-b7ad6b7169203331-01
const (
	TraceparentHeader = "traceparent"

	versionLen = 2
	traceIDLen = 32
	spanIDLen  = 16
	flagsLen   = 2
	fieldCount = 4
	minLength  = versionLen + 1 + traceIDLen + 1 + spanIDLen + 1 + flagsLen

	SampledFlag = 0x01
)

var (
	ErrInvalidTraceparent = errors.New("invalid traceparent header")
	ErrInvalidTraceID     = errors.New("invalid trace-id: must be 32 lowercase hex characters and not all zeros")
	ErrInvalidSpanID      = errors.New("invalid parent-id: must be 16 lowercase hex characters and not all zeros")
	ErrInvalidVersion     = errors.New("invalid version: must be 2 hex characters")
	ErrUnsupportedVersion = errors.New("unsupported version")
	ErrInvalidFlags       = errors.New("invalid flags: must be 2 hex characters")
)

// ParseTraceparent parses a traceparent value into the trace ID, the
// caller's span ID and the flags byte.
func ParseTraceparent(value string) (model.TraceID, model.ID, byte, error) {
	var zero model.TraceID

	if len(value) < minLength {
		return zero, 0, 0, ErrInvalidTraceparent
	}
	fields := strings.Split(value, "-")
	if len(fields) < fieldCount {
		return zero, 0, 0, ErrInvalidTraceparent
	}
	version, traceIDHex, parentIDHex, flagsHex := fields[0], fields[1], fields[2], fields[3]

	if len(version) != versionLen || !isHex(version) {
		return zero, 0, 0, ErrInvalidVersion
	}
	// Future versions are parsed as 00; ff is forbidden.
	if version == "ff" {
		return zero, 0, 0, ErrUnsupportedVersion
	}
	if version == "00" && len(fields) != fieldCount {
		return zero, 0, 0, ErrInvalidTraceparent
	}

	if len(traceIDHex) != traceIDLen || !isLowercaseHex(traceIDHex) {
		return zero, 0, 0, ErrInvalidTraceID
	}
	traceID, err := model.TraceIDFromHex(traceIDHex)
	if err != nil || traceID.Empty() {
		return zero, 0, 0, ErrInvalidTraceID
	}

	if len(parentIDHex) != spanIDLen || !isLowercaseHex(parentIDHex) {
		return zero, 0, 0, ErrInvalidSpanID
	}
	parentID, err := strconv.ParseUint(parentIDHex, 16, 64)
	if err != nil || parentID == 0 {
		return zero, 0, 0, ErrInvalidSpanID
	}

	if len(flagsHex) != flagsLen || !isHex(flagsHex) {
		return zero, 0, 0, ErrInvalidFlags
	}
	flags, err := strconv.ParseUint(flagsHex, 16, 8)
	if err != nil {
		return zero, 0, 0, ErrInvalidFlags
	}

	return traceID, model.ID(parentID), byte(flags), nil
}

// FormatTraceparent formats a version 00 traceparent value. 64-bit trace IDs
// are left-padded to 128 bits.
func FormatTraceparent(traceID model.TraceID, spanID model.ID, sampled bool) string {
	flags := byte(0)
	if sampled {
		flags |= SampledFlag
	}
	return fmt.Sprintf("00-%016x%016x-%016x-%02x", traceID.High, traceID.Low, uint64(spanID), flags)
}

// Propagation is the W3C trace.Propagation. It uses traceparent for every kind.
type Propagation struct{}

var _ trace.Propagation = Propagation{}

// New returns the W3C propagation.
func New() Propagation { return Propagation{} }

func (Propagation) Keys() []string { return []string{TraceparentHeader} }

func (Propagation) Injector(trace.Kind) trace.Injector { return Inject }

func (Propagation) Extractor(trace.Kind) trace.Extractor { return Extract }

// Inject writes the traceparent header.
func Inject(tc trace.TraceContext, carrier trace.Setter) {
	if !tc.IsValid() {
		return
	}
	sampled := tc.Debug() || tc.Sampled() == trace.SampledYes
	carrier.SetHeader(TraceparentHeader, FormatTraceparent(tc.TraceID(), tc.SpanID(), sampled))
}

// Extract reads the traceparent header.
func Extract(carrier trace.Getter) trace.Extraction {
	value := strings.TrimSpace(carrier.Header(TraceparentHeader))
	if value == "" {
		return trace.Extraction{}
	}
	traceID, spanID, flags, err := ParseTraceparent(value)
	if err != nil {
		return trace.Extraction{Err: err}
	}
	sampled := trace.SampledNo
	if flags&SampledFlag != 0 {
		sampled = trace.SampledYes
	}
	return trace.Extraction{
		Context: trace.NewTraceContext(traceID, spanID, 0, sampled),
		Found:   true,
	}
}

func isHex(s string) bool {
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}

func isLowercaseHex(s string) bool {
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
