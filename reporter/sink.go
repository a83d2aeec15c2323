package reporter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Shopify/sarama"
	"github.com/openzipkin/zipkin-go/model"
	"go.uber.org/zap"
)

// LogSink writes every span as one structured log entry.
func LogSink(logger *zap.Logger) Sink {
	return func(_ context.Context, spans []model.SpanModel) error {
		for _, sm := range spans {
			fields := []zap.Field{
				zap.String("trace_id", sm.TraceID.String()),
				zap.String("span_id", sm.ID.String()),
				zap.String("name", sm.Name),
				zap.String("kind", string(sm.Kind)),
				zap.Time("start", sm.Timestamp),
				zap.Duration("duration", sm.Duration),
			}
			if sm.ParentID != nil {
				fields = append(fields, zap.String("parent_id", sm.ParentID.String()))
			}
			if sm.Shared {
				fields = append(fields, zap.Bool("shared", true))
			}
			if len(sm.Tags) > 0 {
				fields = append(fields, zap.Any("tags", sm.Tags))
			}
			logger.Info("span", fields...)
		}
		return nil
	}
}

// KafkaSink publishes every batch as one message holding a JSON list of
// zipkin v2 spans, the format the zipkin Kafka collector consumes.
func KafkaSink(producer sarama.SyncProducer, topic string) Sink {
	return func(_ context.Context, spans []model.SpanModel) error {
		body, err := json.Marshal(spans)
		if err != nil {
			return fmt.Errorf("reporter: encode spans: %w", err)
		}
		_, _, err = producer.SendMessage(&sarama.ProducerMessage{
			Topic: topic,
			Value: sarama.ByteEncoder(body),
		})
		if err != nil {
			return fmt.Errorf("reporter: publish to %s: %w", topic, err)
		}
		return nil
	}
}
