package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// messageWriter is the subset of *kafka.Writer the notifier needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Kafka publishes each message as JSON for a downstream mailer to deliver.
type Kafka struct {
	w messageWriter
}

// NewKafkaWriter builds the writer for the notification topic.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
}

func NewKafka(w messageWriter) *Kafka { return &Kafka{w: w} }

func (k *Kafka) Name() string { return "kafka" }

func (k *Kafka) Send(ctx context.Context, msg Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	return k.w.WriteMessages(ctx, kafka.Message{
		Key:     []byte(msg.To),
		Value:   b,
		Headers: []kafka.Header{{Key: "event_type", Value: []byte("email")}},
	})
}
