package messaging

import (
	"fmt"
	"sync"
	"time"

	"github.com/larder/larder-backend/pkg/config"
	"github.com/larder/larder-backend/pkg/logger"
	amqp "github.com/rabbitmq/amqp091-go"
)

// DeadLetterExchange receives messages a consumer gave up on.
const DeadLetterExchange = "larder.dlx"

// RabbitMQ holds one broker connection and the channel shared by the
// publisher and consumers of a process.
type RabbitMQ struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	config  *config.RabbitMQConfig
	logger  *logger.Logger
	mu      sync.RWMutex
}

// New dials the broker, retrying up to MaxRetries times so a service can
// start before the broker is ready.
func New(cfg *config.RabbitMQConfig, log *logger.Logger) (*RabbitMQ, error) {
	rmq := &RabbitMQ{
		config: cfg,
		logger: log,
	}

	attempts := cfg.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 1; i <= attempts; i++ {
		if err = rmq.dial(); err == nil {
			return rmq, nil
		}
		if i < attempts {
			log.Warn().Err(err).Int("attempt", i).Dur("retry_in", cfg.ReconnectDelay).Msg("rabbitmq not reachable")
			time.Sleep(cfg.ReconnectDelay)
		}
	}
	return nil, err
}

func (r *RabbitMQ) dial() error {
	conn, err := amqp.Dial(r.config.URL)
	if err != nil {
		return fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	if r.config.PrefetchCount > 0 {
		if err := ch.Qos(r.config.PrefetchCount, 0, false); err != nil {
			conn.Close()
			return fmt.Errorf("set qos: %w", err)
		}
	}

	if err := ch.ExchangeDeclare(DeadLetterExchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return fmt.Errorf("declare %s: %w", DeadLetterExchange, err)
	}

	r.mu.Lock()
	r.conn, r.channel = conn, ch
	r.mu.Unlock()

	r.logger.Info().Msg("connected to rabbitmq")
	return nil
}

// Channel returns the shared channel.
func (r *RabbitMQ) Channel() *amqp.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.channel
}

// Close closes the channel and then the connection.
func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.channel != nil && !r.channel.IsClosed() {
		if err := r.channel.Close(); err != nil {
			r.logger.Warn().Err(err).Msg("failed to close channel")
		}
	}

	if r.conn != nil && !r.conn.IsClosed() {
		if err := r.conn.Close(); err != nil {
			return fmt.Errorf("close rabbitmq connection: %w", err)
		}
	}

	r.logger.Info().Msg("rabbitmq connection closed")
	return nil
}

// Health reports whether the connection and channel are open.
func (r *RabbitMQ) Health() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	switch {
	case r.conn == nil || r.conn.IsClosed():
		return map[string]string{"status": "down", "error": "connection closed"}
	case r.channel == nil || r.channel.IsClosed():
		return map[string]string{"status": "down", "error": "channel closed"}
	}
	return map[string]string{"status": "up"}
}

// DeclareExchange declares a durable topic exchange.
func (r *RabbitMQ) DeclareExchange(name string) error {
	return r.Channel().ExchangeDeclare(name, "topic", true, false, false, false, nil)
}

// DeclareQueue declares a durable queue whose rejected messages are routed
// to DeadLetterExchange under the queue's own name.
func (r *RabbitMQ) DeclareQueue(name string) (amqp.Queue, error) {
	return r.Channel().QueueDeclare(name, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    DeadLetterExchange,
		"x-dead-letter-routing-key": name,
	})
}

// DeclareDeadLetterQueue declares "<queue>.dead" and binds it to
// DeadLetterExchange for messages rejected from queue.
func (r *RabbitMQ) DeclareDeadLetterQueue(queue string) (string, error) {
	name := DeadLetterQueueName(queue)
	if _, err := r.Channel().QueueDeclare(name, true, false, false, false, nil); err != nil {
		return "", fmt.Errorf("declare %s: %w", name, err)
	}
	if err := r.BindQueue(name, DeadLetterExchange, queue); err != nil {
		return "", fmt.Errorf("bind %s: %w", name, err)
	}
	return name, nil
}

// DeadLetterQueueName is where messages rejected from queue end up.
func DeadLetterQueueName(queue string) string {
	return queue + ".dead"
}

// BindQueue binds a queue to an exchange with a routing key pattern.
func (r *RabbitMQ) BindQueue(queueName, exchange, routingKey string) error {
	return r.Channel().QueueBind(queueName, routingKey, exchange, false, nil)
}

