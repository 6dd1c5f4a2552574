package util

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/pershinghar/webcam-relay/pkg/logging"
	"github.com/pershinghar/webcam-relay/pkg/models"
)

const rabbitDialTimeout = 10 * time.Second

// RabbitMQClient publishes and consumes relay cycle events
type RabbitMQClient struct {
	config   *models.RabbitMQConfig
	conn     *amqp.Connection
	channel  *amqp.Channel
	mu       sync.Mutex
	isClosed bool
}

// NewRabbitMQClient creates a new RabbitMQ client instance
func NewRabbitMQClient(config *models.RabbitMQConfig) *RabbitMQClient {
	defaults := models.DefaultRabbitMQConfig()
	if config == nil {
		config = defaults
	}
	if config.URL == "" {
		config.URL = defaults.URL
	}
	if config.Exchange == "" {
		config.Exchange = defaults.Exchange
	}
	if config.ExchangeType == "" {
		config.ExchangeType = defaults.ExchangeType
	}

	return &RabbitMQClient{config: config}
}

// Connect dials RabbitMQ, opens a channel and declares the exchange
func (c *RabbitMQClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isClosed {
		return errors.New("client is closed")
	}
	if c.conn != nil {
		return nil
	}

	timeout := rabbitDialTimeout
	if d, ok := ctx.Deadline(); ok {
		if timeout = time.Until(d); timeout <= 0 {
			return context.DeadlineExceeded
		}
	}
	conn, err := amqp.DialConfig(c.config.URL, amqp.Config{Dial: amqp.DefaultDial(timeout)})
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		c.config.Exchange,     // name
		c.config.ExchangeType, // type
		c.config.Durable,      // durable
		false,                 // auto-deleted
		false,                 // internal
		false,                 // no-wait
		nil,                   // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	c.conn = conn
	c.channel = ch
	logging.Info().Str("exchange", c.config.Exchange).Msg("connected to RabbitMQ")
	return nil
}

// Publish sends one cycle event as JSON
func (c *RabbitMQClient) Publish(ctx context.Context, event *models.CycleEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isClosed {
		return errors.New("client is closed")
	}
	if c.channel == nil {
		return errors.New("not connected: call Connect() first")
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = c.channel.PublishWithContext(
		ctx,
		c.config.Exchange,   // exchange
		c.config.RoutingKey, // routing key
		false,               // mandatory
		false,               // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Timestamp:   event.Timestamp,
			Type:        string(event.Kind),
			Body:        body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Close closes the channel and the connection
func (c *RabbitMQClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isClosed {
		return nil
	}

	var errs []error
	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	c.isClosed = true

	if len(errs) > 0 {
		return fmt.Errorf("errors during close: %w", errors.Join(errs...))
	}
	return nil
}

// CreateQueue declares the monitor queue and binds it to the exchange
func (c *RabbitMQClient) CreateQueue(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isClosed || c.channel == nil {
		return "", errors.New("client is closed or not connected")
	}

	queueName := c.config.QueueName
	if queueName == "" {
		queueName = models.DefaultRabbitMQConfig().QueueName
	}

	queue, err := c.channel.QueueDeclare(
		queueName,        // name
		c.config.Durable, // durable
		false,            // delete when unused
		false,            // exclusive
		false,            // no-wait
		nil,              // arguments
	)
	if err != nil {
		return "", fmt.Errorf("failed to declare queue: %w", err)
	}

	err = c.channel.QueueBind(
		queue.Name,          // queue name
		c.config.RoutingKey, // routing key (empty for fanout)
		c.config.Exchange,   // exchange
		false,               // no-wait
		nil,                 // arguments
	)
	if err != nil {
		return "", fmt.Errorf("failed to bind queue to exchange: %w", err)
	}

	logging.Info().Str("queue", queue.Name).Str("exchange", c.config.Exchange).Msg("queue bound")
	return queue.Name, nil
}

// Consume delivers events from queueName to handler until ctx is done or
// the channel closes. A handler error requeues the delivery.
func (c *RabbitMQClient) Consume(ctx context.Context, queueName string, handler func(event *models.CycleEvent) error) error {
	c.mu.Lock()
	if c.isClosed || c.channel == nil {
		c.mu.Unlock()
		return errors.New("client is closed or not connected")
	}
	channel := c.channel
	c.mu.Unlock()

	msgs, err := channel.ConsumeWithContext(
		ctx,
		queueName, // queue
		"",        // consumer tag (empty = auto-generated)
		false,     // auto-ack (false = manual ack)
		false,     // exclusive
		false,     // no-local
		false,     // no-wait
		nil,       // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	logging.Info().Str("queue", queueName).Msg("consuming events")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return errors.New("consumer channel closed")
			}
			handleDelivery(msg, handler)
		}
	}
}

func handleDelivery(msg amqp.Delivery, handler func(event *models.CycleEvent) error) {
	var event models.CycleEvent
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		logging.Warn().Err(err).Msg("dropping malformed event")
		_ = msg.Nack(false, false)
		return
	}
	if err := handler(&event); err != nil {
		logging.Warn().Err(err).Str("kind", string(event.Kind)).Msg("event handler failed")
		_ = msg.Nack(false, true)
		return
	}
	_ = msg.Ack(false)
}
