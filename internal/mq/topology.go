package mq

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/gridlens/ami-telemetry-worker/internal/config"
)

// declareTopology declares the ingest exchange, the ingest queue, the TTL
// retry queue and the DLQ. Failed deliveries are NACKed into the retry
// queue, whose per-message TTL dead-letters them back onto the ingest queue
// for another attempt; deliveries that exhaust their attempts are published
// to the DLQ directly. Declares are idempotent, so both the publisher and
// the consumer run this.
func declareTopology(ch *amqp.Channel, cfg config.RabbitMQConfig) error {
	err := ch.ExchangeDeclare(
		cfg.IngestExchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	// Main ingest queue: rejected messages route to the retry queue via the
	// default exchange.
	_, err = ch.QueueDeclare(
		cfg.IngestQueue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": cfg.RetryQueue,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to declare ingest queue: %w", err)
	}

	// Retry queue: messages sit for the retry delay, then dead-letter back
	// onto the ingest queue.
	_, err = ch.QueueDeclare(
		cfg.RetryQueue,
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-message-ttl":             int32(cfg.RetryDelaySeconds * 1000),
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": cfg.IngestQueue,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to declare retry queue: %w", err)
	}

	_, err = ch.QueueDeclare(
		cfg.DLQQueue,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare DLQ: %w", err)
	}

	err = ch.QueueBind(
		cfg.IngestQueue,
		cfg.IngestRoutingKey,
		cfg.IngestExchange,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to bind ingest queue: %w", err)
	}

	return nil
}
