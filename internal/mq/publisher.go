package mq

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/gridsight/utility-bill-worker/internal/reconcile"
)

// Publisher handles message publishing to RabbitMQ
type Publisher struct {
	conn     *Connection
	channel  *amqp.Channel
	exchange string
	logger   *zap.Logger
}

// NewPublisher creates a new RabbitMQ publisher
func NewPublisher(conn *Connection, exchange string, logger *zap.Logger) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	// Declare exchange
	err = ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return &Publisher{
		conn:     conn,
		channel:  ch,
		exchange: exchange,
		logger:   logger,
	}, nil
}

// RunSummary is the event published after a run is recorded. It carries no
// credential material and no raw scraped payloads.
type RunSummary struct {
	RunID        string             `json:"run_id"`
	DataSourceID int64              `json:"data_source_id"`
	RangeStart   string             `json:"range_start"`
	RangeEnd     string             `json:"range_end"`
	Outcome      string             `json:"outcome"`
	ErrorKind    string             `json:"error_kind,omitempty"`
	Retries      int                `json:"retries"`
	ArtifactRefs []string           `json:"artifact_refs,omitempty"`
	Reconcile    *reconcile.Summary `json:"reconcile,omitempty"`
}

// PublishRunSummary publishes the run summary for downstream consumers
func (p *Publisher) PublishRunSummary(ctx context.Context, summary RunSummary, routingKey string) error {
	body, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal run summary: %w", err)
	}

	err = p.channel.PublishWithContext(
		ctx,
		p.exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)

	if err != nil {
		return fmt.Errorf("failed to publish run summary: %w", err)
	}

	p.logger.Debug("published run summary",
		zap.String("routing_key", routingKey),
		zap.String("run_id", summary.RunID),
		zap.String("outcome", summary.Outcome),
	)

	return nil
}

// Close closes the publisher channel
func (p *Publisher) Close() error {
	if p.channel != nil {
		return p.channel.Close()
	}
	return nil
}
