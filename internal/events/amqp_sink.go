package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/vanshika/ledgercore/internal/domain"
)

// AMQPChannel is the subset of *amqp.Channel used by AMQPSink.
type AMQPChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPSink publishes events to a topic exchange, routed by event type.
type AMQPSink struct {
	ch       AMQPChannel
	conn     io.Closer
	exchange string
}

// DialAMQP connects to url and declares a durable topic exchange.
func DialAMQP(url, exchange string) (*AMQPSink, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	sink, err := NewAMQPSink(ch, exchange)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	sink.conn = conn
	return sink, nil
}

// NewAMQPSink declares exchange on ch and returns a sink publishing to it.
func NewAMQPSink(ch AMQPChannel, exchange string) (*AMQPSink, error) {
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &AMQPSink{ch: ch, exchange: exchange}, nil
}

func (s *AMQPSink) Name() string { return "amqp" }

func (s *AMQPSink) Deliver(ctx context.Context, event domain.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    event.OccurredAt,
		Type:         string(event.Type),
		Body:         body,
	}
	if event.TransactionID != "" {
		msg.CorrelationId = event.TransactionID
	}
	if err := s.ch.PublishWithContext(ctx, s.exchange, RoutingKey(event), false, false, msg); err != nil {
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}
	return nil
}

// Close releases the channel and, when dialled, the connection.
func (s *AMQPSink) Close() error {
	err := s.ch.Close()
	if s.conn != nil {
		err = errors.Join(err, s.conn.Close())
	}
	return err
}

// RoutingKey returns the routing key for event, e.g. "ledger.BalanceChanged".
func RoutingKey(event domain.Event) string {
	return "ledger." + string(event.Type)
}
