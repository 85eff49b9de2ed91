package producer

import (
	"context"
	"encoding/json"
	"time"

	"checkout-service/internal/service"

	"github.com/segmentio/kafka-go"
)

// OrderEventProducer публикует события жизненного цикла заказа в один топик;
// ключ — публичный order id, чтобы события одного заказа шли в одну партицию.
type OrderEventProducer struct {
	writer *kafka.Writer
}

func NewOrderEventProducer(brokers []string, topic string) *OrderEventProducer {
	return &OrderEventProducer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		},
	}
}

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func (p *OrderEventProducer) publish(ctx context.Context, key, eventType string, payload any) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	value, err := json.Marshal(envelope{Type: eventType, Payload: body})
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: value,
	})
}

func (p *OrderEventProducer) PublishOrderCreated(ctx context.Context, e service.OrderCreatedEvent) error {
	return p.publish(ctx, e.OrderID, "order.created", e)
}

func (p *OrderEventProducer) PublishPaymentSettled(ctx context.Context, e service.PaymentSettledEvent) error {
	return p.publish(ctx, e.OrderID, "payment.settled", e)
}

func (p *OrderEventProducer) PublishOrderCancelled(ctx context.Context, e service.OrderCancelledEvent) error {
	return p.publish(ctx, e.OrderID, "order.cancelled", e)
}

func (p *OrderEventProducer) Close() error {
	return p.writer.Close()
}
