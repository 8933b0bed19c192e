package rabbitmq

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/mini-maxit/judge/internal/config"
	"github.com/mini-maxit/judge/internal/logger"
	"github.com/mini-maxit/judge/internal/rabbitmq/channel"
	"github.com/mini-maxit/judge/pkg/constants"
)

// NewRabbitMqConnection dials the broker, retrying while it comes up.
func NewRabbitMqConnection(ctx context.Context, cfg *config.Config) (*amqp.Connection, error) {
	log := logger.NewNamedLogger("rabbitmq")

	var lastErr error
	for attempt := 1; attempt <= constants.RabbitMQDialAttempts; attempt++ {
		conn, err := amqp.Dial(cfg.RabbitMQURL)
		if err == nil {
			log.Infof("Connected to RabbitMQ")
			return conn, nil
		}
		lastErr = err
		log.Warnf("Failed to connect to RabbitMQ (attempt %d/%d): %s",
			attempt, constants.RabbitMQDialAttempts, err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(constants.RabbitMQDialBackoff * time.Duration(attempt)):
		}
	}
	return nil, fmt.Errorf("connect to rabbitmq: %w", lastErr)
}

func NewRabbitMQChannel(conn *amqp.Connection) (*channel.AmqpChannel, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}
	return channel.NewAmqpChannel(ch), nil
}
