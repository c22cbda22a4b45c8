package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/domain/event"
)

const HeaderEventType = "event_type"

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaPublisher writes domain events to a single topic, keyed by
// transaction id so every event of a transaction lands on one partition.
type KafkaPublisher struct {
	Writer  MessageWriter
	Timeout time.Duration
}

// NewKafkaWriter builds a synchronous writer. The outbox marks an event
// published only once Publish returns, so the write must be acknowledged.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
}

func NewMessage(evt event.Event) (kafka.Message, error) {
	value, err := json.Marshal(evt.Payload)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode %s payload: %w", evt.Type, err)
	}

	var key string
	switch p := evt.Payload.(type) {
	case event.TransactionPayload:
		key = p.TransactionID
	case event.RetryPayload:
		key = p.TransactionID
	}

	return kafka.Message{
		Key:   []byte(key),
		Value: value,
		Headers: []kafka.Header{
			{Key: HeaderEventType, Value: []byte(evt.Type)},
		},
	}, nil
}

func (p *KafkaPublisher) Publish(evt event.Event) error {
	msg, err := NewMessage(evt)
	if err != nil {
		return err
	}

	ctx := context.Background()
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	if err := p.Writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write %s to kafka: %w", evt.Type, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	if c, ok := p.Writer.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
