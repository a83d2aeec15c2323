package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/Shopify/sarama"
	"github.com/openzipkin/zipkin-go/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kzs0/spanbridge/reporter"
	"github.com/kzs0/spanbridge/trace"
	"github.com/kzs0/spanbridge/trace/b3"
)

type fakeProducer struct {
	sarama.SyncProducer
	sent []*sarama.ProducerMessage
	err  error
}

func (f *fakeProducer) SendMessage(msg *sarama.ProducerMessage) (int32, int64, error) {
	if f.err != nil {
		return -1, -1, f.err
	}
	f.sent = append(f.sent, msg)
	return 3, 42, nil
}

func newTracer() (*trace.Tracer, *reporter.Recorder) {
	rec := reporter.NewRecorder()
	return trace.NewTracer(trace.TracerConfig{Propagation: b3.New(), Reporter: rec}), rec
}

func TestProducerRequestHeaders(t *testing.T) {
	msg := &sarama.ProducerMessage{Topic: "orders"}
	r := NewProducerRequest(msg)

	r.SetHeader("b3", "1")
	r.SetHeader("b3", "0")
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, "0", r.Header("b3"))
	assert.Empty(t, r.Header("missing"))
	assert.Equal(t, "orders", r.ChannelName())
}

func TestSendAndConsume(t *testing.T) {
	tracer, rec := newTracer()
	fp := &fakeProducer{}
	producer := WrapSyncProducer(fp, tracer)

	msg := &sarama.ProducerMessage{Topic: "orders", Key: sarama.StringEncoder("o-1"), Value: sarama.StringEncoder("{}")}
	partition, offset, err := producer.Send(trace.Attach(context.Background()), msg)
	require.NoError(t, err)
	assert.Equal(t, int32(3), partition)
	assert.Equal(t, int64(42), offset)
	require.Len(t, fp.sent, 1)

	received := &sarama.ConsumerMessage{Topic: "orders", Partition: 3, Offset: 42}
	for _, h := range msg.Headers {
		h := h
		received.Headers = append(received.Headers, &h)
	}

	var current trace.Span
	err = Consume(context.Background(), tracer, received, func(ctx context.Context) error {
		current = tracer.CurrentSpan(ctx)
		return nil
	})
	require.NoError(t, err)

	spans := rec.Spans()
	require.Len(t, spans, 2)
	produced, consumed := spans[0], spans[1]

	assert.Equal(t, model.Producer, produced.Kind)
	assert.Equal(t, "o-1", produced.Tags[TagKey])
	assert.Equal(t, "42", produced.Tags[TagOffset])
	assert.Equal(t, "orders", produced.Tags[trace.TagMessagingChannelName])

	assert.Equal(t, model.Consumer, consumed.Kind)
	assert.Equal(t, produced.TraceID, consumed.TraceID)
	require.NotNil(t, consumed.ParentID)
	assert.Equal(t, produced.ID, *consumed.ParentID)
	assert.Equal(t, consumed.ID, current.SpanID())
}

func TestSendRecordsError(t *testing.T) {
	tracer, rec := newTracer()
	producer := WrapSyncProducer(&fakeProducer{err: sarama.ErrOutOfBrokers}, tracer)

	_, _, err := producer.Send(context.Background(), &sarama.ProducerMessage{Topic: "orders"})
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)

	spans := rec.Spans()
	require.Len(t, spans, 1)
	assert.Equal(t, sarama.ErrOutOfBrokers.Error(), spans[0].Tags["error"])
}

func TestConsumeWithNoopTracing(t *testing.T) {
	want := errors.New("handler failed")
	err := Consume(context.Background(), trace.NoopTracer, &sarama.ConsumerMessage{Topic: "orders"}, func(context.Context) error {
		return want
	})
	assert.ErrorIs(t, err, want)
}
