package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/copperwatch/copperwatch/server/internal/alerts"
	"github.com/copperwatch/copperwatch/server/internal/config"
)

const defaultKafkaWriteTimeout = 10 * time.Second

// messageWriter is the part of *kafka.Writer the notifier needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes each event as a JSON message keyed by rule ID, so events
// for one rule stay ordered within a partition.
type Kafka struct {
	topic  string
	writer messageWriter
}

// NewKafka returns a Kafka notifier for cfg.
func NewKafka(cfg config.KafkaConfig) (*Kafka, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka: topic is required")
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultKafkaWriteTimeout
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequireOne,
	}
	return newKafka(cfg.Topic, w), nil
}

func newKafka(topic string, w messageWriter) *Kafka {
	return &Kafka{topic: topic, writer: w}
}

func (k *Kafka) Name() string { return "kafka" }

func (k *Kafka) Send(ctx context.Context, ev alerts.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fail(k.Name(), fmt.Errorf("marshal event: %w", err))
	}
	msg := kafka.Message{
		Key:   []byte(ev.RuleID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(ev.ID)},
			{Key: "rule_id", Value: []byte(ev.RuleID)},
			{Key: "severity", Value: []byte(ev.Severity)},
		},
		Time: ev.Timestamp,
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fail(k.Name(), fmt.Errorf("publish to %s: %w", k.topic, err))
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (k *Kafka) Close() error {
	return k.writer.Close()
}
