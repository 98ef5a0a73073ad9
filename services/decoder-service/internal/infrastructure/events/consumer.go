package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/safe-global/safe-decoder-service/shared/logging"
	"github.com/safe-global/safe-decoder-service/shared/messaging"
	"github.com/safe-global/safe-decoder-service/shared/metrics"
)

// MessageHandler processes one raw event body. Handlers own validation;
// the consumer never requeues.
type MessageHandler func(ctx context.Context, body []byte)

// EventConsumer binds a durable queue to the transaction service fanout
// exchange and feeds deliveries to the registered handler. Deliveries
// are acked on receipt; lost work is recovered by the periodic rescans.
type EventConsumer struct {
	amqp        *messaging.RabbitMQ
	queueName   string
	consumerTag string
	handler     MessageHandler
	logger      *logging.Logger
	metrics     *metrics.Metrics

	mu        sync.Mutex
	isRunning bool
	done      chan struct{}
}

// NewEventConsumer creates the consumer for the events queue
func NewEventConsumer(amqp *messaging.RabbitMQ, queueName string, handler MessageHandler,
	logger *logging.Logger, m *metrics.Metrics) *EventConsumer {
	return &EventConsumer{
		amqp:        amqp,
		queueName:   queueName,
		consumerTag: queueName + "-consumer",
		handler:     handler,
		logger:      logger,
		metrics:     m,
		done:        make(chan struct{}),
	}
}

// Start declares the exchange and queue, binds them and consumes until
// the context is cancelled.
func (c *EventConsumer) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.isRunning {
		c.mu.Unlock()
		return fmt.Errorf("consumer is already running")
	}
	c.isRunning = true
	c.mu.Unlock()

	fail := func(err error) error {
		c.mu.Lock()
		c.isRunning = false
		c.mu.Unlock()
		return err
	}

	if err := c.amqp.DeclareFanoutExchange(); err != nil {
		return fail(fmt.Errorf("failed to declare exchange: %w", err))
	}

	queue, err := c.amqp.DeclareQueue(messaging.QueueConfig{
		Name:    c.queueName,
		Durable: true,
	})
	if err != nil {
		return fail(fmt.Errorf("failed to declare queue: %w", err))
	}

	if err := c.amqp.BindQueue(queue.Name); err != nil {
		return fail(fmt.Errorf("failed to bind queue: %w", err))
	}

	deliveries, err := c.amqp.Consume(queue.Name, c.consumerTag)
	if err != nil {
		return fail(err)
	}

	c.logger.Infof("Started consuming events from queue %s", queue.Name)

	go func() {
		defer close(c.done)
		for {
			select {
			case <-ctx.Done():
				return
			case delivery, ok := <-deliveries:
				if !ok {
					c.logger.Warn("Delivery channel closed")
					return
				}

				// Ack before processing; at-least-once semantics are
				// restored by the periodic rescans
				if err := delivery.Ack(false); err != nil {
					c.logger.WithError(err).Error("Failed to ack delivery")
				}
				if len(delivery.Body) == 0 {
					continue
				}

				c.handler(ctx, delivery.Body)
				if c.metrics != nil {
					c.metrics.EventsConsumedTotal.WithLabelValues("ok").Inc()
				}
			}
		}
	}()

	return nil
}

// Stop cancels the consumer and removes the queue binding and queue
func (c *EventConsumer) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isRunning {
		return nil
	}
	c.isRunning = false

	if err := c.amqp.CancelConsumer(c.consumerTag); err != nil {
		c.logger.WithError(err).Warn("Error cancelling consumer")
	}
	<-c.done

	if err := c.amqp.UnbindAndDeleteQueue(c.queueName); err != nil {
		c.logger.WithError(err).Warn("Error deleting events queue")
	}

	c.logger.Info("Event consumer stopped")
	return nil
}
