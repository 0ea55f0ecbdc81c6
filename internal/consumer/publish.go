package consumer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"rvcworker/internal/config"
	"rvcworker/internal/job"
)

// Publish encodes j and sends it to the configured queue as a persistent
// message. A correlation id is generated when j has none; the id used is
// returned.
func Publish(ctx context.Context, cfg *config.Config, j job.Job) (string, error) {
	if j.CorrelationID == "" {
		j.CorrelationID = uuid.NewString()
	}
	body, err := job.Encode(j)
	if err != nil {
		return "", err
	}

	conn, err := dialBroker(cfg.Queue.URL, cfg.Queue.ConsumerTag+"-submit")
	if err != nil {
		return "", fmt.Errorf("dial broker: %w", err)
	}
	defer conn.Close()
	ch, err := conn.Channel()
	if err != nil {
		return "", fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if cfg.Queue.Declare {
		if _, err := ch.QueueDeclare(cfg.Queue.Name, cfg.Queue.Durable, false, false, false, nil); err != nil {
			return "", fmt.Errorf("declare queue %q: %w", cfg.Queue.Name, err)
		}
	}
	if err := publishJob(ctx, ch, cfg.Queue.Name, j.CorrelationID, body); err != nil {
		return "", err
	}
	return j.CorrelationID, nil
}

func publishJob(ctx context.Context, pub Publisher, queue, correlationID string, body []byte) error {
	err := pub.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		CorrelationId: correlationID,
		MessageId:     uuid.NewString(),
		Timestamp:     time.Now(),
		Body:          body,
	})
	if err != nil {
		return fmt.Errorf("publish to %q: %w", queue, err)
	}
	return nil
}
