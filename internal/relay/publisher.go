// Package relay forwards domain events to a RabbitMQ topic exchange so
// other services can react to conversation activity.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"funnel_builder_backend/platform/config"
	"funnel_builder_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
)

// Channel is the part of an AMQP channel used to publish.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

// Publisher publishes JSON envelopes to one exchange.
type Publisher struct {
	open     func() (Channel, error)
	closer   func() error
	exchange string
	log      *logger.Logger
}

// Dial connects to RabbitMQ and declares the topic exchange.
func Dial(cfg config.AMQPConfig, log *logger.Logger) (*Publisher, error) {
	conn, err := amqp091.Dial(cfg.GetAMQPURL())
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	exchange := cfg.GetAMQPExchange()
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	return newPublisher(func() (Channel, error) { return conn.Channel() }, conn.Close, exchange, log), nil
}

func newPublisher(open func() (Channel, error), closer func() error, exchange string, log *logger.Logger) *Publisher {
	if log == nil {
		log = logger.Discard()
	}
	return &Publisher{open: open, closer: closer, exchange: exchange, log: log}
}

// Publish sends env with routing key key.
func (p *Publisher) Publish(ctx context.Context, key string, env Envelope) error {
	ch, err := p.open()
	if err != nil {
		return err
	}
	defer func() { _ = ch.Close() }()

	body, err := json.Marshal(env)
	if err != nil {
		return err
	}

	msgID := env.Meta.ID
	if msgID == "" {
		msgID = uuid.NewString()
	}
	cid := env.Meta.CorrelationID
	if cid == "" {
		cid = uuid.NewString()
	}

	err = ch.PublishWithContext(ctx, p.exchange, key, false, false, amqp091.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp091.Persistent,
		MessageId:     msgID,
		CorrelationId: cid,
		Timestamp:     time.Now(),
		Body:          body,
	})
	if err == nil {
		p.log.Debug("relay: published", "key", key, "exchange", p.exchange)
	}
	return err
}

// Close closes the underlying connection.
func (p *Publisher) Close() error {
	if p == nil || p.closer == nil {
		return nil
	}
	return p.closer()
}
