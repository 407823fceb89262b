package queue

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// AMQP publishes to and consumes from a durable queue on the default
// exchange.
type AMQP struct {
	conn      *amqp.Connection
	channel   *amqp.Channel
	queueName string
	logger    zerolog.Logger
	mu        sync.Mutex
}

// DialAMQP connects to url and declares queueName as a durable queue.
func DialAMQP(url, queueName string, logger zerolog.Logger) (*AMQP, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("queue: dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("queue: open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("queue: declare %s: %w", queueName, err)
	}

	return &AMQP{
		conn:      conn,
		channel:   ch,
		queueName: queueName,
		logger:    logger.With().Str("component", "amqp").Str("queue", queueName).Logger(),
	}, nil
}

func (a *AMQP) Publish(ctx context.Context, body []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	err := a.channel.PublishWithContext(ctx,
		"", // default exchange
		a.queueName,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/fhir+json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("queue: publish to %s: %w", a.queueName, err)
	}
	return nil
}

// Consume uses manual acknowledgement: nil acks, a retry error nacks with
// requeue, and any other error nacks to the dead letter route.
func (a *AMQP) Consume(ctx context.Context, handle Handler) error {
	deliveries, err := a.channel.Consume(a.queueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue: consume %s: %w", a.queueName, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return ErrClosed
			}
			herr := handle(ctx, d.Body)
			switch {
			case herr == nil:
				err = d.Ack(false)
			case ShouldRetry(herr):
				a.logger.Warn().Err(herr).Msg("requeueing delivery")
				err = d.Nack(false, true)
			default:
				a.logger.Error().Err(herr).Msg("dropping delivery")
				err = d.Nack(false, false)
			}
			if err != nil {
				return fmt.Errorf("queue: settle delivery: %w", err)
			}
		}
	}
}

func (a *AMQP) Ping(context.Context) error {
	if a.conn.IsClosed() {
		return ErrClosed
	}
	return nil
}

func (a *AMQP) Close() error {
	if a.channel != nil {
		_ = a.channel.Close()
	}
	if a.conn != nil {
		return a.conn.Close()
	}
	return nil
}
