// Package events publishes order lifecycle events to Kafka for downstream
// consumers (notifications, analytics ingestion).
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/shopcore/checkout-engine/internal/domain/checkout"
	"github.com/shopcore/checkout-engine/internal/domain/order"
)

// Event types carried in the envelope.
const (
	TypeOrderPlaced    = "OrderPlaced"
	TypeOrderCancelled = "OrderCancelled"
)

// Envelope wraps every published event with identity and ordering metadata.
// Messages are keyed by order id so all events for one order stay in
// partition order.
type Envelope struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// OrderPayload is the body of both order event types.
type OrderPayload struct {
	OrderID string       `json:"order_id"`
	UserID  string       `json:"user_id"`
	Status  order.Status `json:"status"`
	Lines   []order.Line `json:"lines"`
	Total   string       `json:"total"`
}

var _ checkout.EventPublisher = (*KafkaPublisher)(nil)

// KafkaPublisher implements checkout.EventPublisher on a kafka-go writer.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher creates a publisher writing to the given topic.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
	}
}

// OrderPlaced implements checkout.EventPublisher.
func (p *KafkaPublisher) OrderPlaced(ctx context.Context, o *order.Order) error {
	return p.publish(ctx, TypeOrderPlaced, o)
}

// OrderCancelled implements checkout.EventPublisher.
func (p *KafkaPublisher) OrderCancelled(ctx context.Context, o *order.Order) error {
	return p.publish(ctx, TypeOrderCancelled, o)
}

// Close flushes and closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func (p *KafkaPublisher) publish(ctx context.Context, eventType string, o *order.Order) error {
	payload, err := json.Marshal(OrderPayload{
		OrderID: o.ID,
		UserID:  o.UserID,
		Status:  o.Status,
		Lines:   o.Lines,
		Total:   o.Total.String(),
	})
	if err != nil {
		return fmt.Errorf("marshaling %s payload: %w", eventType, err)
	}

	value, err := json.Marshal(Envelope{
		EventID:    uuid.New().String(),
		EventType:  eventType,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	})
	if err != nil {
		return fmt.Errorf("marshaling %s envelope: %w", eventType, err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(o.ID),
		Value: value,
	})
	if err != nil {
		return fmt.Errorf("writing %s event: %w", eventType, err)
	}
	return nil
}
