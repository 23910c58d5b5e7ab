package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Producer publishes scoring requests for freshly ingested transactions.
type Producer struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	logger *slog.Logger
}

// NewProducer connects to the broker.
func NewProducer(amqpURL string, logger *slog.Logger) (*Producer, error) {
	conn, ch, err := dial(amqpURL)
	if err != nil {
		return nil, err
	}
	return &Producer{conn: conn, ch: ch, logger: logger}, nil
}

// Publish sends a JSON message to the exchange. On a channel-level
// failure it reopens the channel and retries once; brokers drop channels
// on protocol errors while the connection stays healthy.
func (p *Producer) Publish(ctx context.Context, exchange, routingKey string, body any) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return err
	}

	msg := amqp.Publishing{
		ContentType: "application/json",
		MessageId:   uuid.NewString(),
		Timestamp:   time.Now(),
		Body:        jsonBody,
	}

	if err := declareExchange(p.ch, exchange); err == nil {
		if err := p.ch.PublishWithContext(ctx, exchange, routingKey, false, false, msg); err == nil {
			return nil
		}
	}

	p.logger.Warn("publish failed, reopening channel", "exchange", exchange, "routing_key", routingKey)
	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	p.ch = ch
	if err := declareExchange(p.ch, exchange); err != nil {
		return err
	}
	return p.ch.PublishWithContext(ctx, exchange, routingKey, false, false, msg)
}

// Ping reports broker connectivity for readiness checks.
func (p *Producer) Ping() error {
	return ping(p.conn)
}

// Close shuts down the channel and connection.
func (p *Producer) Close() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}
