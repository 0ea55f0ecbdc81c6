package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"rvcworker/internal/job"
	"rvcworker/internal/logging"
	"rvcworker/internal/services"
	"rvcworker/internal/workflow"
)

// Dispatcher runs a decoded job to completion.
type Dispatcher interface {
	Dispatch(ctx context.Context, j job.Job) (workflow.Outcome, error)
}

// Publisher sends a message; *amqp.Channel satisfies it.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Settlement is how a delivery was resolved.
type Settlement string

const (
	// SettleAck acknowledges a dispatched job.
	SettleAck Settlement = "ack"
	// SettleDrop acknowledges a message that could not be turned into a job.
	SettleDrop Settlement = "drop"
	// SettleRequeue negatively acknowledges so the broker redelivers.
	SettleRequeue Settlement = "requeue"
)

const replyTimeout = 5 * time.Second

// Acceptance is published to a delivery's reply_to queue before dispatch.
type Acceptance struct {
	Status        string `json:"status"`
	Command       string `json:"command"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// Handle processes one delivery and settles it with the broker.
func (c *Consumer) Handle(ctx context.Context, pub Publisher, d amqp.Delivery) Settlement {
	settlement := c.process(ctx, pub, d)

	var err error
	if settlement == SettleRequeue {
		err = d.Nack(false, true)
	} else {
		err = d.Ack(false)
	}
	if err != nil {
		logging.WarnWithContext(c.logger, "failed to settle delivery", "delivery_settle_failed",
			logging.Error(err),
			logging.String("settlement", string(settlement)),
			logging.Uint64("delivery_tag", d.DeliveryTag),
			logging.String(logging.FieldImpact, "broker will redeliver the message after the channel closes"),
			logging.String(logging.FieldErrorHint, "check broker connectivity"),
		)
	}
	c.count(settlement)
	return settlement
}

func (c *Consumer) process(ctx context.Context, pub Publisher, d amqp.Delivery) (settlement Settlement) {
	logger := c.logger
	if d.CorrelationId != "" {
		logger = logging.WithContext(services.WithRequestID(ctx, d.CorrelationId), c.logger)
	}
	defer func() {
		if r := recover(); r != nil {
			logging.ErrorWithContext(logger, "job dispatch panicked", "dispatch_panic",
				logging.Alert("dispatch_panic"),
				logging.String("panic", fmt.Sprint(r)),
				logging.String("stack", string(debug.Stack())),
				logging.String(logging.FieldErrorHint, "report the stack trace; the message will be redelivered"),
			)
			settlement = SettleRequeue
		}
	}()

	j, err := job.Decode(d.Body)
	if err != nil {
		logging.WarnWithContext(logger, "dropping undecodable message", "message_dropped",
			logging.Error(err),
			logging.Int("body_bytes", len(d.Body)),
			logging.String(logging.FieldImpact, "message acknowledged without processing"),
			logging.String(logging.FieldErrorHint, "fix the producer payload and resubmit"),
		)
		return SettleDrop
	}
	if j.CorrelationID == "" {
		j.CorrelationID = d.CorrelationId
	}
	logger = logging.WithContext(services.WithModelName(services.WithRequestID(ctx, j.CorrelationID), j.ModelName()), c.logger)
	logger.Info("job received",
		logging.String(logging.FieldEventType, "job_received"),
		logging.String("kind", string(j.Kind)),
		logging.Bool("redelivered", d.Redelivered),
	)

	if d.ReplyTo != "" && pub != nil {
		c.replyAccepted(ctx, pub, d, j)
	}

	outcome, err := c.dispatcher.Dispatch(ctx, j)
	if err != nil {
		if errors.Is(err, job.ErrUnknownCommand) {
			logging.WarnWithContext(logger, "dropping job with unknown command", "message_dropped",
				logging.Error(err),
				logging.String(logging.FieldImpact, "message acknowledged without processing"),
			)
			return SettleDrop
		}
		logging.ErrorWithContext(logger, "job dispatch failed", "dispatch_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorKind, services.Kind(err)),
			logging.String(logging.FieldErrorHint, "the message is requeued for redelivery"),
		)
		return SettleRequeue
	}

	logger.Info("job settled",
		logging.String(logging.FieldEventType, "job_settled"),
		logging.String(logging.FieldJobID, outcome.JobID),
		logging.String("status", string(outcome.Status)),
		logging.Duration("duration", outcome.FinishedAt.Sub(outcome.StartedAt)),
	)
	return SettleAck
}

// replyAccepted tells the producer the job was picked up. Failures are logged
// and never block dispatch.
func (c *Consumer) replyAccepted(ctx context.Context, pub Publisher, d amqp.Delivery, j job.Job) {
	body, err := json.Marshal(Acceptance{
		Status:        "accepted",
		Command:       string(j.Kind),
		CorrelationID: j.CorrelationID,
	})
	if err != nil {
		c.logger.Warn("encode acceptance reply", logging.Error(err))
		return
	}
	replyCtx, cancel := context.WithTimeout(ctx, replyTimeout)
	defer cancel()
	err = pub.PublishWithContext(replyCtx, "", d.ReplyTo, false, false, amqp.Publishing{
		ContentType:   "application/json",
		CorrelationId: j.CorrelationID,
		Timestamp:     time.Now(),
		Body:          body,
	})
	if err != nil {
		logging.WarnWithContext(c.logger, "acceptance reply failed", "reply_failed",
			logging.Error(err),
			logging.String("reply_to", d.ReplyTo),
			logging.String(logging.FieldImpact, "producer is not told the job was accepted"),
			logging.String(logging.FieldErrorHint, "check that the reply queue exists"),
		)
	}
}
