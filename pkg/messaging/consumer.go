package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/larder/larder-backend/pkg/logger"
	amqp "github.com/rabbitmq/amqp091-go"
)

// MaxAttempts is how many times a failing event is handled before it is
// dead-lettered.
const MaxAttempts = 3

const attemptHeader = "x-attempt"

// MessageHandler handles one event. A returned error schedules a retry.
type MessageHandler func(ctx context.Context, event *Event) error

// Consumer dispatches events from one queue to handlers keyed by event type.
type Consumer struct {
	rmq       *RabbitMQ
	queueName string
	handlers  map[string]MessageHandler
	logger    *logger.Logger

	// retry puts a failed delivery back on the queue with its attempt count.
	retry func(ctx context.Context, msg amqp.Delivery, attempt int) error
}

// NewConsumer declares queue and its dead-letter queue.
func NewConsumer(rmq *RabbitMQ, queueName string, log *logger.Logger) (*Consumer, error) {
	if _, err := rmq.DeclareQueue(queueName); err != nil {
		return nil, fmt.Errorf("declare queue %s: %w", queueName, err)
	}
	if _, err := rmq.DeclareDeadLetterQueue(queueName); err != nil {
		return nil, err
	}

	c := &Consumer{
		rmq:       rmq,
		queueName: queueName,
		handlers:  make(map[string]MessageHandler),
		logger:    log.WithComponent("consumer"),
	}
	c.retry = c.republish
	return c, nil
}

// Subscribe binds the queue to exchange for routingKeyPattern.
func (c *Consumer) Subscribe(exchange, routingKeyPattern string) error {
	if err := c.rmq.DeclareExchange(exchange); err != nil {
		return fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	if err := c.rmq.BindQueue(c.queueName, exchange, routingKeyPattern); err != nil {
		return fmt.Errorf("bind %s to %s: %w", c.queueName, exchange, err)
	}

	c.logger.Info().
		Str("queue", c.queueName).
		Str("exchange", exchange).
		Str("routing_key", routingKeyPattern).
		Msg("subscribed")
	return nil
}

// RegisterHandler sets the handler for eventType. Events without a handler
// are acknowledged and dropped.
func (c *Consumer) RegisterHandler(eventType string, handler MessageHandler) {
	c.handlers[eventType] = handler
}

// Start consumes until ctx is done or the channel closes.
func (c *Consumer) Start(ctx context.Context) error {
	msgs, err := c.rmq.Channel().Consume(c.queueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.queueName, err)
	}

	c.logger.Info().Str("queue", c.queueName).Msg("consumer started")

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.logger.Info().Str("queue", c.queueName).Msg("consumer stopped")
				return
			case msg, ok := <-msgs:
				if !ok {
					c.logger.Warn().Str("queue", c.queueName).Msg("delivery channel closed")
					return
				}
				c.handleMessage(ctx, msg)
			}
		}
	}()

	return nil
}

func (c *Consumer) handleMessage(ctx context.Context, msg amqp.Delivery) {
	var event Event
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		c.logger.Error().Err(err).Str("message_id", msg.MessageId).Msg("undecodable message, dead-lettering")
		_ = msg.Reject(false)
		return
	}

	handler, ok := c.handlers[event.Type]
	if !ok {
		_ = msg.Ack(false)
		return
	}

	ctx = WithCorrelationID(ctx, event.CorrelationID)
	attempt := attemptOf(msg) + 1

	err := handler(ctx, &event)
	if err == nil {
		_ = msg.Ack(false)
		return
	}

	log := c.logger.With().
		Str("event_type", event.Type).
		Str("event_id", event.ID).
		Int("attempt", attempt).
		Logger()

	if attempt >= MaxAttempts {
		log.Error().Err(err).Msg("event failed, dead-lettering")
		_ = msg.Reject(false)
		return
	}

	log.Warn().Err(err).Msg("event failed, retrying")
	if rerr := c.retry(ctx, msg, attempt); rerr != nil {
		log.Error().Err(rerr).Msg("retry publish failed, requeueing")
		_ = msg.Nack(false, true)
		return
	}
	_ = msg.Ack(false)
}

// republish sends a copy of msg straight to the queue through the default
// exchange, carrying the attempt count in its headers.
func (c *Consumer) republish(ctx context.Context, msg amqp.Delivery, attempt int) error {
	headers := amqp.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers[attemptHeader] = int32(attempt)

	return c.rmq.Channel().PublishWithContext(ctx, "", c.queueName, false, false, amqp.Publishing{
		Headers:       headers,
		ContentType:   msg.ContentType,
		DeliveryMode:  amqp.Persistent,
		MessageId:     msg.MessageId,
		CorrelationId: msg.CorrelationId,
		Timestamp:     msg.Timestamp,
		Type:          msg.Type,
		AppId:         msg.AppId,
		Body:          msg.Body,
	})
}

// attemptOf returns how many times msg has already failed.
func attemptOf(msg amqp.Delivery) int {
	switch n := msg.Headers[attemptHeader].(type) {
	case int32:
		return int(n)
	case int64:
		return int(n)
	case int:
		return n
	}
	return 0
}
