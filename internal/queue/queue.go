// Package queue provides RabbitMQ plumbing for the scoring pipeline.
//
// The ingest API publishes a scoring request per transaction; the consumer
// feeds each message to the fraud processor and acks or requeues based on
// the processing outcome. Delivery is at-least-once, so everything behind
// the consumer must tolerate redelivery.
package queue

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// sanitizeURL trims stray whitespace/quotes that sneak into AMQP_URL via
// copy-paste and validates the scheme.
func sanitizeURL(raw string) (string, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.Trim(clean, "\"'")
	parsed, err := url.Parse(clean)
	if err != nil {
		return "", fmt.Errorf("parse AMQP URL: %w", err)
	}
	if parsed.Scheme != "amqp" && parsed.Scheme != "amqps" {
		return "", fmt.Errorf("invalid AMQP scheme: %s", parsed.Scheme)
	}
	return clean, nil
}

// dial opens a connection and channel with a bounded dial timeout so
// startup does not hang on an unreachable broker.
func dial(amqpURL string) (*amqp.Connection, *amqp.Channel, error) {
	cleanURL, err := sanitizeURL(amqpURL)
	if err != nil {
		return nil, nil, err
	}

	conn, err := amqp.DialConfig(cleanURL, amqp.Config{Dial: amqp.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, nil, fmt.Errorf("dial AMQP: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("open AMQP channel: %w", err)
	}

	return conn, ch, nil
}

// declareExchange declares the durable topic exchange both sides bind to.
func declareExchange(ch *amqp.Channel, exchange string) error {
	return ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil)
}

// Ping reports whether the connection is still open. Used by the health
// readiness check.
func ping(conn *amqp.Connection) error {
	if conn == nil || conn.IsClosed() {
		return fmt.Errorf("AMQP connection closed")
	}
	return nil
}
