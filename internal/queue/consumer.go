package queue

import (
	"context"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/phishnet/phishnet/internal/fraud"
	"github.com/phishnet/phishnet/internal/logging"
	"github.com/phishnet/phishnet/internal/metrics"
)

// Handler processes one message body and reports how it should be
// disposed. The fraud processor satisfies this directly.
type Handler interface {
	HandleMessage(ctx context.Context, body []byte) fraud.Outcome
}

// Consumer reads scoring requests off the queue and feeds them to a
// handler, acking or requeuing per the outcome.
type Consumer struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	logger *slog.Logger
}

// NewConsumer connects to the broker.
func NewConsumer(amqpURL string, logger *slog.Logger) (*Consumer, error) {
	conn, ch, err := dial(amqpURL)
	if err != nil {
		return nil, err
	}
	return &Consumer{conn: conn, ch: ch, logger: logger}, nil
}

// Start declares the exchange/queue/binding and consumes until ctx is
// cancelled. Messages are acked individually; a retryable outcome nacks
// with requeue so the broker redelivers.
func (c *Consumer) Start(ctx context.Context, exchange, queueName, routingKey string, handler Handler) error {
	if err := declareExchange(c.ch, exchange); err != nil {
		return err
	}

	q, err := c.ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		return err
	}
	if err := c.ch.QueueBind(q.Name, routingKey, exchange, false, nil); err != nil {
		return err
	}

	msgs, err := c.ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	go func() {
		c.logger.Info("scoring consumer started", "queue", q.Name, "routing_key", routingKey)
		for {
			select {
			case <-ctx.Done():
				c.logger.Info("scoring consumer stopping")
				return
			case d, ok := <-msgs:
				if !ok {
					c.logger.Warn("scoring consumer channel closed")
					return
				}
				c.handle(ctx, d, handler)
			}
		}
	}()

	return nil
}

func (c *Consumer) handle(ctx context.Context, d amqp.Delivery, handler Handler) {
	msgCtx := logging.WithLogger(ctx, c.logger)

	switch outcome := handler.HandleMessage(msgCtx, d.Body); outcome {
	case fraud.OutcomeRetry:
		metrics.QueueMessagesTotal.WithLabelValues("requeue").Inc()
		if err := d.Nack(false, true); err != nil {
			c.logger.Error("failed to nack message", "error", err)
		}
	default:
		// OK and Skip both ack: redelivery cannot improve either.
		metrics.QueueMessagesTotal.WithLabelValues("ack").Inc()
		if err := d.Ack(false); err != nil {
			c.logger.Error("failed to ack message", "error", err)
		}
	}
}

// Ping reports broker connectivity for readiness checks.
func (c *Consumer) Ping() error {
	return ping(c.conn)
}

// Close shuts down the channel and connection.
func (c *Consumer) Close() {
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}
