// Package kafka traces Kafka messages produced and consumed with sarama.
// Trace context travels in record headers using the propagation's
// messaging format.
package kafka

import (
	"context"
	"strconv"

	"github.com/Shopify/sarama"

	"github.com/kzs0/spanbridge/trace"
)

const channelKind = "topic"

// Span tag keys.
const (
	TagPartition = "kafka.partition"
	TagOffset    = "kafka.offset"
	TagKey       = "kafka.key"
)

// ProducerRequest is a trace.MessagingRequest over an outgoing message.
type ProducerRequest struct {
	msg *sarama.ProducerMessage
}

var _ trace.MessagingRequest = (*ProducerRequest)(nil)

// NewProducerRequest wraps msg.
func NewProducerRequest(msg *sarama.ProducerMessage) *ProducerRequest {
	return &ProducerRequest{msg: msg}
}

func (r *ProducerRequest) Header(key string) string {
	for _, h := range r.msg.Headers {
		if string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

func (r *ProducerRequest) SetHeader(key, value string) {
	for i := range r.msg.Headers {
		if string(r.msg.Headers[i].Key) == key {
			r.msg.Headers[i].Value = []byte(value)
			return
		}
	}
	r.msg.Headers = append(r.msg.Headers, sarama.RecordHeader{Key: []byte(key), Value: []byte(value)})
}

func (r *ProducerRequest) Kind() trace.Kind    { return trace.KindProducer }
func (r *ProducerRequest) Name() string        { return "send" }
func (r *ProducerRequest) CacheScope() bool    { return false }
func (r *ProducerRequest) Operation() string   { return "send" }
func (r *ProducerRequest) ChannelKind() string { return channelKind }
func (r *ProducerRequest) ChannelName() string { return r.msg.Topic }

// ConsumerRequest is a trace.MessagingRequest over a received message.
type ConsumerRequest struct {
	msg   *sarama.ConsumerMessage
	cache bool
}

var _ trace.MessagingRequest = (*ConsumerRequest)(nil)

// NewConsumerRequest wraps msg. With cacheScope, the consumer span stays
// current until it finishes.
func NewConsumerRequest(msg *sarama.ConsumerMessage, cacheScope bool) *ConsumerRequest {
	return &ConsumerRequest{msg: msg, cache: cacheScope}
}

func (r *ConsumerRequest) Header(key string) string {
	for _, h := range r.msg.Headers {
		if h != nil && string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

func (r *ConsumerRequest) SetHeader(key, value string) {
	for _, h := range r.msg.Headers {
		if h != nil && string(h.Key) == key {
			h.Value = []byte(value)
			return
		}
	}
	r.msg.Headers = append(r.msg.Headers, &sarama.RecordHeader{Key: []byte(key), Value: []byte(value)})
}

func (r *ConsumerRequest) Kind() trace.Kind    { return trace.KindConsumer }
func (r *ConsumerRequest) Name() string        { return "poll" }
func (r *ConsumerRequest) CacheScope() bool    { return r.cache }
func (r *ConsumerRequest) Operation() string   { return "receive" }
func (r *ConsumerRequest) ChannelKind() string { return channelKind }
func (r *ConsumerRequest) ChannelName() string { return r.msg.Topic }

// SyncProducer traces messages sent through a sarama.SyncProducer.
type SyncProducer struct {
	sarama.SyncProducer
	tracing trace.Tracing
}

// WrapSyncProducer wraps p.
func WrapSyncProducer(p sarama.SyncProducer, tracing trace.Tracing) *SyncProducer {
	return &SyncProducer{SyncProducer: p, tracing: tracing}
}

// Send sends msg in a producer span whose context is written to the
// message headers.
func (p *SyncProducer) Send(ctx context.Context, msg *sarama.ProducerMessage) (int32, int64, error) {
	sp := p.tracing.ProducerSpan(ctx, NewProducerRequest(msg))
	defer sp.Finish()

	if msg.Key != nil {
		if key, err := msg.Key.Encode(); err == nil {
			sp.Tag(TagKey, string(key))
		}
	}

	partition, offset, err := p.SyncProducer.SendMessage(msg)
	if err != nil {
		sp.Error(err)
		return partition, offset, err
	}
	sp.Tag(TagPartition, strconv.FormatInt(int64(partition), 10))
	sp.Tag(TagOffset, strconv.FormatInt(offset, 10))
	return partition, offset, nil
}

// Consume runs handler in a consumer span continuing the trace carried by
// msg. The span is current on the context handed to handler.
func Consume(ctx context.Context, tracing trace.Tracing, msg *sarama.ConsumerMessage, handler func(ctx context.Context) error) error {
	if !trace.IsAttached(ctx) {
		ctx = trace.Attach(ctx)
	}
	sp := tracing.ConsumerSpan(ctx, NewConsumerRequest(msg, true))
	sp.Tag(TagPartition, strconv.FormatInt(int64(msg.Partition), 10))
	sp.Tag(TagOffset, strconv.FormatInt(msg.Offset, 10))
	defer sp.Finish()

	err := handler(ctx)
	sp.Error(err)
	return err
}
