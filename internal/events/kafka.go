package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

const kafkaWriteTimeout = 5 * time.Second

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink forwards bus events to a Kafka topic. Messages are keyed by booking
// id so that events of one booking stay ordered within a partition.
type KafkaSink struct {
	writer messageWriter
	logger *zerolog.Logger
}

func NewKafkaSink(brokers []string, topic string, logger *zerolog.Logger) *KafkaSink {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return &KafkaSink{writer: writer, logger: logger}
}

// Handle writes one event. It blocks until the broker acknowledges or the
// write timeout expires, so callers deliver from a background worker.
func (s *KafkaSink) Handle(event *Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), kafkaWriteTimeout)
	defer cancel()

	msg := kafka.Message{
		Key:   messageKey(event),
		Value: event.Payload,
		Time:  event.CreatedAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
		},
	}

	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write event %s to kafka: %w", event.Type, err)
	}

	s.logger.Debug().Str("event", event.Type).Bytes("key", msg.Key).Msg("Event published to kafka")
	return nil
}

func (s *KafkaSink) Close() error {
	if s.writer == nil {
		return nil
	}
	return s.writer.Close()
}

func messageKey(event *Event) []byte {
	var ref struct {
		BookingID int64 `json:"booking_id"`
	}
	if err := json.Unmarshal(event.Payload, &ref); err != nil || ref.BookingID == 0 {
		return []byte(event.Type)
	}
	return []byte(strconv.FormatInt(ref.BookingID, 10))
}
