package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Connection wraps the run-summary bus connection. The worker is one run per
// process, so it dials once at startup and holds the connection for the
// lifetime of the run; a misconfigured bus fails fast, before any scraping.
type Connection struct {
	conn *amqp.Connection
}

// NewConnection dials the summary bus and registers its shutdown with the
// application lifecycle.
func NewConnection(lc fx.Lifecycle, logger *zap.Logger, url string) (*Connection, error) {
	logger.Info("connecting to run-summary bus...")

	conn, err := amqp.Dial(url)
	if err != nil {
		logger.Error("summary bus connection failed", zap.Error(err))
		return nil, fmt.Errorf("[SUMMARY BUS CONNECTION FAILED] cannot connect to RabbitMQ. Please check: 1) RabbitMQ is running, 2) RABBITMQ_URL is correct, or unset it to run without summary events. Error: %w", err)
	}
	logger.Info("run-summary bus connection established")

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			if err := conn.Close(); err != nil {
				logger.Error("failed to close summary bus connection", zap.Error(err))
				return err
			}
			logger.Info("run-summary bus connection closed")
			return nil
		},
	})

	return &Connection{conn: conn}, nil
}

// Channel opens a channel on the summary bus connection.
func (c *Connection) Channel() (*amqp.Channel, error) {
	return c.conn.Channel()
}
