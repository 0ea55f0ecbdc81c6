package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"rvcworker/internal/config"
	"rvcworker/internal/logging"
)

const heartbeatInterval = 10 * time.Second

// Consumer reads jobs from the configured queue and dispatches them one at a time.
type Consumer struct {
	queue     config.Queue
	reconnect time.Duration

	dispatcher Dispatcher
	logger     *slog.Logger
	dial       func(url, tag string) (*amqp.Connection, error)

	mu          sync.RWMutex
	connected   bool
	connectedAt time.Time
	settled     map[Settlement]int
}

// Stats describes the consumer's connection and settlement counters.
type Stats struct {
	Queue       string
	Connected   bool
	ConnectedAt time.Time
	Acked       int
	Dropped     int
	Requeued    int
}

// New constructs a consumer for cfg.Queue.
func New(cfg *config.Config, dispatcher Dispatcher, logger *slog.Logger) *Consumer {
	return &Consumer{
		queue:      cfg.Queue,
		reconnect:  cfg.ReconnectInterval(),
		dispatcher: dispatcher,
		logger:     logging.NewComponentLogger(logger, "consumer"),
		dial:       dialBroker,
		settled:    make(map[Settlement]int),
	}
}

func dialBroker(url, tag string) (*amqp.Connection, error) {
	props := amqp.NewConnectionProperties()
	props.SetClientConnectionName(tag)
	return amqp.DialConfig(url, amqp.Config{
		Heartbeat:  heartbeatInterval,
		Properties: props,
	})
}

// Run consumes until ctx is cancelled. Connection failures are logged and
// retried after the configured reconnect interval.
func (c *Consumer) Run(ctx context.Context) error {
	interval := c.reconnect
	if interval <= 0 {
		interval = 5 * time.Second
	}
	for {
		err := c.consumeOnce(ctx)
		if ctx.Err() != nil {
			c.logger.Info("consumer stopped", logging.String("queue", c.queue.Name))
			return nil
		}
		logging.WarnWithContext(c.logger, "queue connection lost", "queue_disconnected",
			logging.Error(err),
			logging.String("queue", c.queue.Name),
			logging.Duration("retry_in", interval),
			logging.String(logging.FieldImpact, "no jobs are consumed until the connection is restored"),
			logging.String(logging.FieldErrorHint, "check queue.url and broker availability"),
		)
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			c.logger.Info("consumer stopped", logging.String("queue", c.queue.Name))
			return nil
		case <-timer.C:
		}
	}
}

func (c *Consumer) consumeOnce(ctx context.Context) error {
	conn, err := c.dial(c.queue.URL, c.queue.ConsumerTag)
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if c.queue.Declare {
		if _, err := ch.QueueDeclare(c.queue.Name, c.queue.Durable, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %q: %w", c.queue.Name, err)
		}
	}
	prefetch := c.queue.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		return fmt.Errorf("set prefetch: %w", err)
	}
	deliveries, err := ch.Consume(c.queue.Name, c.queue.ConsumerTag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %q: %w", c.queue.Name, err)
	}
	closed := conn.NotifyClose(make(chan *amqp.Error, 1))

	c.setConnected(true)
	defer c.setConnected(false)
	c.logger.Info("waiting for jobs",
		logging.String(logging.FieldEventType, "consumer_ready"),
		logging.String("queue", c.queue.Name),
		logging.Int("prefetch", prefetch),
	)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case amqpErr, ok := <-closed:
			if ok && amqpErr != nil {
				return fmt.Errorf("connection closed: %w", amqpErr)
			}
			return errors.New("connection closed")
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			c.Handle(ctx, ch, d)
		}
	}
}

// Stats returns a snapshot of the consumer state.
func (c *Consumer) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{
		Queue:       c.queue.Name,
		Connected:   c.connected,
		ConnectedAt: c.connectedAt,
		Acked:       c.settled[SettleAck],
		Dropped:     c.settled[SettleDrop],
		Requeued:    c.settled[SettleRequeue],
	}
}

func (c *Consumer) setConnected(connected bool) {
	c.mu.Lock()
	c.connected = connected
	if connected {
		c.connectedAt = time.Now()
	}
	c.mu.Unlock()
}

func (c *Consumer) count(s Settlement) {
	c.mu.Lock()
	c.settled[s]++
	c.mu.Unlock()
}
