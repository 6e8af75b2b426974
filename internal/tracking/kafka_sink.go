package tracking

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"tutormarket/searchservice/internal/domain"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaSinkConfig struct {
	Brokers []string
	Topic   string
}

// KafkaSink publishes click events keyed by search query id, so events of one
// search land on one partition.
type KafkaSink struct {
	writer messageWriter
	topic  string
}

func NewKafkaSink(cfg KafkaSinkConfig) *KafkaSink {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		MaxAttempts:  3,
		RequiredAcks: kafka.RequireOne,
	}
	return &KafkaSink{writer: writer, topic: cfg.Topic}
}

func (s *KafkaSink) Name() string {
	return "kafka"
}

func (s *KafkaSink) Send(ctx context.Context, event domain.ClickEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal click event: %w", err)
	}
	key := event.SearchQueryID
	if key == "" {
		key = event.InstructorID
	}
	msg := kafka.Message{
		Key:   []byte(key),
		Value: value,
		Time:  event.OccurredAt,
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish click to %s: %w", s.topic, err)
	}
	return nil
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
