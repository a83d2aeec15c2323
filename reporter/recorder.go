package reporter

import (
	"sync"

	"github.com/openzipkin/zipkin-go/model"
	zipkinreporter "github.com/openzipkin/zipkin-go/reporter"
)

// Recorder keeps reported spans in memory.
type Recorder struct {
	mu     sync.Mutex
	spans  []model.SpanModel
	closed bool
}

var _ zipkinreporter.Reporter = (*Recorder)(nil)

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder { return &Recorder{} }

// Send records sm unless the recorder is closed.
func (r *Recorder) Send(sm model.SpanModel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		r.spans = append(r.spans, sm)
	}
}

// Close stops recording.
func (r *Recorder) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

// Spans returns a copy of the recorded spans in report order.
func (r *Recorder) Spans() []model.SpanModel {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.SpanModel(nil), r.spans...)
}

// Flush returns the recorded spans and forgets them.
func (r *Recorder) Flush() []model.SpanModel {
	r.mu.Lock()
	defer r.mu.Unlock()
	spans := r.spans
	r.spans = nil
	return spans
}
