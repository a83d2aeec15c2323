// Package reporter delivers finished spans. Every type here implements the
// zipkin-go reporter.Reporter interface, so the zipkin-go HTTP reporter can
// be used interchangeably with them.
package reporter

import (
	"context"
	"sync"
	"time"

	"github.com/openzipkin/zipkin-go/model"
	zipkinreporter "github.com/openzipkin/zipkin-go/reporter"
	"go.uber.org/zap"
)

// Sink exports one batch of spans.
type Sink func(ctx context.Context, spans []model.SpanModel) error

// BatchConfig configures a Batch reporter.
type BatchConfig struct {
	// MaxQueueSize is the maximum number of spans to queue.
	MaxQueueSize int
	// BatchSize is the maximum number of spans per export.
	BatchSize int
	// BatchTimeout is the maximum time a span waits before it is exported.
	BatchTimeout time.Duration
	// ExportTimeout bounds a single background export.
	ExportTimeout time.Duration
	// Logger receives export failures. Defaults to zap.NewNop().
	Logger *zap.Logger
	// OnDrop is called with the number of spans dropped because the queue
	// was full or the export failed. Optional.
	OnDrop func(n int)
}

// DefaultBatchConfig returns default batch configuration.
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		MaxQueueSize:  2048,
		BatchSize:     512,
		BatchTimeout:  5 * time.Second,
		ExportTimeout: 10 * time.Second,
	}
}

// Batch queues spans and hands them to a Sink in batches, either when a
// batch fills up or when the oldest queued span has waited BatchTimeout.
type Batch struct {
	cfg  BatchConfig
	sink Sink

	mu      sync.Mutex
	queue   []model.SpanModel
	timer   *time.Timer
	stopped bool

	inflight sync.WaitGroup
}

var _ zipkinreporter.Reporter = (*Batch)(nil)

// NewBatch creates a batch reporter exporting to sink.
func NewBatch(sink Sink, cfg BatchConfig) *Batch {
	def := DefaultBatchConfig()
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = def.MaxQueueSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.BatchSize > cfg.MaxQueueSize {
		cfg.BatchSize = cfg.MaxQueueSize
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = def.BatchTimeout
	}
	if cfg.ExportTimeout <= 0 {
		cfg.ExportTimeout = def.ExportTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Batch{
		cfg:   cfg,
		sink:  sink,
		queue: make([]model.SpanModel, 0, cfg.BatchSize),
	}
}

// Send queues a span. The oldest span is dropped when the queue is full.
func (b *Batch) Send(sm model.SpanModel) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped {
		b.dropped(1)
		return
	}

	if len(b.queue) >= b.cfg.MaxQueueSize {
		b.queue = b.queue[1:]
		b.dropped(1)
	}
	b.queue = append(b.queue, sm)

	if len(b.queue) == 1 {
		b.timer = time.AfterFunc(b.cfg.BatchTimeout, b.flush)
	}
	if len(b.queue) >= b.cfg.BatchSize {
		b.exportLocked()
	}
}

func (b *Batch) flush() {
	b.mu.Lock()
	b.exportLocked()
	b.mu.Unlock()
}

// exportLocked hands the queue to the sink in the background. Caller holds mu.
func (b *Batch) exportLocked() {
	if len(b.queue) == 0 {
		return
	}
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}

	spans := b.queue
	b.queue = make([]model.SpanModel, 0, b.cfg.BatchSize)

	b.inflight.Add(1)
	go func() {
		defer b.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), b.cfg.ExportTimeout)
		defer cancel()
		b.export(ctx, spans)
	}()
}

func (b *Batch) export(ctx context.Context, spans []model.SpanModel) {
	if err := b.sink(ctx, spans); err != nil {
		b.cfg.Logger.Warn("span export failed", zap.Int("spans", len(spans)), zap.Error(err))
		b.dropped(len(spans))
	}
}

func (b *Batch) dropped(n int) {
	if b.cfg.OnDrop != nil {
		b.cfg.OnDrop(n)
	}
}

// Close stops accepting spans, exports what is queued and waits for
// in-flight exports.
func (b *Batch) Close() error {
	return b.Shutdown(context.Background())
}

// Shutdown is Close bounded by ctx.
func (b *Batch) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return nil
	}
	b.stopped = true
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	spans := b.queue
	b.queue = nil
	b.mu.Unlock()

	var err error
	if len(spans) > 0 {
		if err = b.sink(ctx, spans); err != nil {
			b.dropped(len(spans))
		}
	}

	done := make(chan struct{})
	go func() {
		b.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
