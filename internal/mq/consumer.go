package mq

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/gridlens/ami-telemetry-worker/internal/config"
)

// MessageHandler is a function that processes a message
type MessageHandler func(ctx context.Context, body []byte) error

// Stats is a snapshot of consumer-side job counters.
type Stats struct {
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// Consumer pulls publish jobs off the ingest queue with a bounded pool of
// concurrent workers. Prefetch equals the worker count, so at most that many
// jobs are in flight per process.
type Consumer struct {
	conn             *Connection
	channel          *amqp.Channel
	cfg              config.RabbitMQConfig
	logger           *zap.Logger
	messageProcessor MessageHandler

	active    atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	wg        sync.WaitGroup
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	Connection       *Connection
	RabbitMQ         config.RabbitMQConfig
	Logger           *zap.Logger
	MessageProcessor MessageHandler
}

// NewConsumer creates a new RabbitMQ consumer
func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	ch, err := cfg.Connection.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	// Prefetch bounds in-flight jobs to the worker pool size.
	err = ch.Qos(cfg.RabbitMQ.Concurrency, 0, false)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	if err := declareTopology(ch, cfg.RabbitMQ); err != nil {
		ch.Close()
		return nil, err
	}

	return &Consumer{
		conn:             cfg.Connection,
		channel:          ch,
		cfg:              cfg.RabbitMQ,
		logger:           cfg.Logger,
		messageProcessor: cfg.MessageProcessor,
	}, nil
}

// Start starts the worker pool consuming messages.
func (c *Consumer) Start(ctx context.Context) error {
	msgs, err := c.channel.Consume(
		c.cfg.IngestQueue,
		"",    // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.logger.Info("consumer started",
		zap.String("queue", c.cfg.IngestQueue),
		zap.Int("concurrency", c.cfg.Concurrency),
	)

	for i := 0; i < c.cfg.Concurrency; i++ {
		c.wg.Add(1)
		go func(worker int) {
			defer c.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-msgs:
					if !ok {
						c.logger.Warn("message channel closed", zap.Int("worker", worker))
						return
					}
					c.processMessage(ctx, msg)
				}
			}
		}(i)
	}

	return nil
}

func (c *Consumer) processMessage(ctx context.Context, msg amqp.Delivery) {
	c.active.Add(1)
	defer c.active.Add(-1)

	err := c.messageProcessor(ctx, msg.Body)
	if err == nil {
		c.completed.Add(1)
		if ackErr := msg.Ack(false); ackErr != nil {
			c.logger.Error("failed to ACK message", zap.Error(ackErr))
		}
		return
	}

	c.failed.Add(1)
	attempts := deliveryAttempts(msg.Headers)
	c.logger.Error("failed to process job",
		zap.Error(err),
		zap.String("routing_key", msg.RoutingKey),
		zap.Int64("attempts", attempts),
	)

	if attempts+1 >= int64(c.cfg.MaxDeliveryAttempts) {
		// Out of attempts: park on the DLQ and drop the original.
		if dlqErr := c.sendToDLQ(ctx, msg); dlqErr != nil {
			c.logger.Error("failed to publish to DLQ", zap.Error(dlqErr))
		}
		if ackErr := msg.Ack(false); ackErr != nil {
			c.logger.Error("failed to ACK dead message", zap.Error(ackErr))
		}
		return
	}

	// NACK without requeue routes to the retry queue via the DLX.
	if nackErr := msg.Nack(false, false); nackErr != nil {
		c.logger.Error("failed to NACK message", zap.Error(nackErr))
	}
}

func (c *Consumer) sendToDLQ(ctx context.Context, msg amqp.Delivery) error {
	return c.channel.PublishWithContext(
		ctx,
		"", // default exchange
		c.cfg.DLQQueue,
		false,
		false,
		amqp.Publishing{
			ContentType:  msg.ContentType,
			Body:         msg.Body,
			DeliveryMode: amqp.Persistent,
			Headers:      msg.Headers,
		},
	)
}

// deliveryAttempts counts prior failed deliveries from the x-death header.
// Only rejections count; the retry queue's TTL expiries record their own
// x-death entries.
func deliveryAttempts(headers amqp.Table) int64 {
	deaths, ok := headers["x-death"].([]interface{})
	if !ok {
		return 0
	}
	var total int64
	for _, d := range deaths {
		entry, ok := d.(amqp.Table)
		if !ok {
			continue
		}
		if reason, _ := entry["reason"].(string); reason != "rejected" {
			continue
		}
		if count, ok := entry["count"].(int64); ok {
			total += count
		}
	}
	return total
}

// Stats returns a snapshot of the consumer counters.
func (c *Consumer) Stats() Stats {
	return Stats{
		Active:    c.active.Load(),
		Completed: c.completed.Load(),
		Failed:    c.failed.Load(),
	}
}

// Close closes the consumer channel and waits for in-flight workers.
func (c *Consumer) Close() error {
	var err error
	if c.channel != nil {
		err = c.channel.Close()
	}
	c.wg.Wait()
	return err
}
