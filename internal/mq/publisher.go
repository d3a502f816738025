package mq

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/gridlens/ami-telemetry-worker/internal/config"
)

// Publisher enqueues publish jobs and inspects queue depth.
type Publisher struct {
	conn    *Connection
	channel *amqp.Channel
	cfg     config.RabbitMQConfig
	logger  *zap.Logger
}

// NewPublisher creates a new RabbitMQ publisher
func NewPublisher(conn *Connection, cfg config.RabbitMQConfig, logger *zap.Logger) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	if err := declareTopology(ch, cfg); err != nil {
		ch.Close()
		return nil, err
	}

	return &Publisher{
		conn:    conn,
		channel: ch,
		cfg:     cfg,
		logger:  logger,
	}, nil
}

// EnqueueJob publishes one batch job onto the ingest exchange.
func (p *Publisher) EnqueueJob(ctx context.Context, job PublishJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	err = p.channel.PublishWithContext(
		ctx,
		p.cfg.IngestExchange,
		p.cfg.IngestRoutingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}

	p.logger.Debug("enqueued publish job",
		zap.String("tenant_id", job.TenantID),
		zap.String("feeder_id", job.FeederID),
		zap.Int("readings", len(job.Readings)),
		zap.Bool("scale_mode", job.ScaleMode),
	)

	return nil
}

// Depth reports the waiting (ingest queue) and delayed (retry queue) message
// counts via passive declares.
func (p *Publisher) Depth(ctx context.Context) (waiting int, delayed int, err error) {
	ingest, err := p.channel.QueueDeclarePassive(p.cfg.IngestQueue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": p.cfg.RetryQueue,
	})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to inspect ingest queue: %w", err)
	}

	retry, err := p.channel.QueueDeclarePassive(p.cfg.RetryQueue, true, false, false, false, amqp.Table{
		"x-message-ttl":             int32(p.cfg.RetryDelaySeconds * 1000),
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": p.cfg.IngestQueue,
	})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to inspect retry queue: %w", err)
	}

	return ingest.Messages, retry.Messages, nil
}

// Close closes the publisher channel
func (p *Publisher) Close() error {
	if p.channel != nil {
		return p.channel.Close()
	}
	return nil
}
