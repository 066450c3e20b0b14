package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"storefront/pkg/domain"
)

const (
	// DefaultExchange is the topic exchange order events are published to.
	DefaultExchange = "storefront.events"
	// RoutingKeyOrderPlaced is the routing key for new orders.
	RoutingKeyOrderPlaced = "order.placed"
)

// OrderPlacedEvent is the wire form of an order notification.
type OrderPlacedEvent struct {
	OrderID  string    `json:"orderId"`
	BuyerID  string    `json:"buyerId"`
	Total    float64   `json:"total"`
	Items    int       `json:"items"`
	PlacedAt time.Time `json:"placedAt"`
}

// AMQPPublisher emits order events to a RabbitMQ topic exchange.
type AMQPPublisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

// NewAMQPPublisher dials the broker and declares the exchange.
func NewAMQPPublisher(url, exchange string) (*AMQPPublisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &AMQPPublisher{conn: conn, ch: ch, exchange: exchange}, nil
}

// PublishOrderPlaced sends an order.placed event.
func (p *AMQPPublisher) PublishOrderPlaced(ctx context.Context, order domain.Order) error {
	event := OrderPlacedEvent{
		OrderID:  order.ID,
		BuyerID:  order.BuyerID,
		Total:    order.Total,
		Items:    len(order.Items),
		PlacedAt: order.CreatedAt,
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}
	err = p.ch.PublishWithContext(ctx, p.exchange, RoutingKeyOrderPlaced, false, false, amqp.Publishing{
		ContentType: "application/json",
		Timestamp:   time.Now().UTC(),
		Body:        body,
	})
	if err != nil {
		return fmt.Errorf("publish order event: %w", err)
	}
	return nil
}

// Close shuts the channel and connection down.
func (p *AMQPPublisher) Close() error {
	if err := p.ch.Close(); err != nil {
		_ = p.conn.Close()
		return fmt.Errorf("close channel: %w", err)
	}
	if err := p.conn.Close(); err != nil {
		return fmt.Errorf("close connection: %w", err)
	}
	return nil
}
