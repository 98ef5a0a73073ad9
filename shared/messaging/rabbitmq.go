package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrUnableToConnect is returned when a connection to RabbitMQ cannot be
// established. The service is expected to keep running without a consumer.
var ErrUnableToConnect = errors.New("unable to connect to RabbitMQ")

// RabbitMQConfig holds the configuration for RabbitMQ
type RabbitMQConfig struct {
	AMQPURL  string `json:"-"`
	Exchange string `json:"exchange"`
}

// QueueConfig defines queue configuration
type QueueConfig struct {
	Name       string `json:"name"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
	Exclusive  bool   `json:"exclusive"`
}

// RabbitMQ wraps the AMQP connection and provides high-level operations
type RabbitMQ struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	config  RabbitMQConfig
	closed  bool
}

// NewRabbitMQ creates a new RabbitMQ client with configuration
func NewRabbitMQ(config RabbitMQConfig) (*RabbitMQ, error) {
	rmq := &RabbitMQ{
		config: config,
	}

	if err := rmq.connect(); err != nil {
		return nil, err
	}

	return rmq, nil
}

// connect establishes connection to RabbitMQ
func (r *RabbitMQ) connect() error {
	conn, err := amqp.DialConfig(r.config.AMQPURL, amqp.Config{
		Heartbeat: 10 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnableToConnect, err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create channel: %w", err)
	}

	r.conn = conn
	r.channel = ch
	r.closed = false

	return nil
}

// DeclareFanoutExchange declares the configured exchange as a durable fanout
func (r *RabbitMQ) DeclareFanoutExchange() error {
	return r.channel.ExchangeDeclare(
		r.config.Exchange,
		"fanout",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	)
}

// DeclareQueue declares a queue
func (r *RabbitMQ) DeclareQueue(config QueueConfig) (amqp.Queue, error) {
	return r.channel.QueueDeclare(
		config.Name,
		config.Durable,
		config.AutoDelete,
		config.Exclusive,
		false, // no-wait
		nil,
	)
}

// BindQueue binds a queue to the configured exchange. Fanout exchanges
// ignore the routing key.
func (r *RabbitMQ) BindQueue(queueName string) error {
	return r.channel.QueueBind(
		queueName,
		"", // routing key
		r.config.Exchange,
		false, // no-wait
		nil,
	)
}

// UnbindAndDeleteQueue unbinds the queue from the exchange and deletes it.
// Used on shutdown.
func (r *RabbitMQ) UnbindAndDeleteQueue(queueName string) error {
	if r.closed {
		return nil
	}
	if err := r.channel.QueueUnbind(queueName, "", r.config.Exchange, nil); err != nil {
		return fmt.Errorf("failed to unbind queue %s: %w", queueName, err)
	}
	if _, err := r.channel.QueueDelete(queueName, false, false, false); err != nil {
		return fmt.Errorf("failed to delete queue %s: %w", queueName, err)
	}
	return nil
}

// Consume starts consuming messages from a queue with explicit acks.
// The caller owns acking each delivery.
func (r *RabbitMQ) Consume(queueName, consumerTag string) (<-chan amqp.Delivery, error) {
	if r.closed {
		return nil, fmt.Errorf("connection is closed")
	}

	deliveries, err := r.channel.Consume(
		queueName,
		consumerTag,
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register consumer: %w", err)
	}
	return deliveries, nil
}

// CancelConsumer cancels an active consumer by tag
func (r *RabbitMQ) CancelConsumer(consumerTag string) error {
	if r.closed {
		return nil
	}
	return r.channel.Cancel(consumerTag, false)
}

// PublishJSON publishes a JSON message to the configured exchange
func (r *RabbitMQ) PublishJSON(ctx context.Context, routingKey string, data interface{}) error {
	if r.closed {
		return fmt.Errorf("connection is closed")
	}

	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	return r.channel.PublishWithContext(
		ctx,
		r.config.Exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
}

// GetExchange returns the configured exchange name
func (r *RabbitMQ) GetExchange() string {
	return r.config.Exchange
}

// IsConnected checks if the connection is alive
func (r *RabbitMQ) IsConnected() bool {
	return !r.closed && r.conn != nil && !r.conn.IsClosed()
}

// HealthCheck reports an error when the connection is down
func (r *RabbitMQ) HealthCheck(ctx context.Context) error {
	if !r.IsConnected() {
		return fmt.Errorf("rabbitmq connection is closed")
	}
	return nil
}

// Close closes the channel and connection
func (r *RabbitMQ) Close() error {
	r.closed = true

	if r.channel != nil {
		_ = r.channel.Close()
	}

	if r.conn != nil {
		return r.conn.Close()
	}

	return nil
}
