package eventbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
)

// KafkaMirrorSink publishes every event onto a Kafka topic for durable
// audit/analytics (§4.1 implementation note). It is meant to be wrapped in
// BestEffort before joining a FanOut, so a slow or unavailable broker never
// adds backpressure to the live SSE stream.
type KafkaMirrorSink struct {
	writer *kafka.Writer
}

// NewKafkaMirrorSink returns a sink that writes to topic across brokers.
func NewKafkaMirrorSink(brokers []string, topic string) *KafkaMirrorSink {
	return &KafkaMirrorSink{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.LeastBytes{},
			AllowAutoTopicCreation: true,
		},
	}
}

func (k *KafkaMirrorSink) Emit(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("eventbus: marshal event for kafka: %w", err)
	}
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.Kind),
		Value: data,
	})
}

// Close releases the underlying Kafka writer's connections.
func (k *KafkaMirrorSink) Close() error {
	return k.writer.Close()
}
