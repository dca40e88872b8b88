package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Handler processes one envelope. A nil error acks the message.
type Handler func(ctx context.Context, env *Envelope) error

// Consumer runs a pool of workers over one queue.
type Consumer struct {
	conn       *Connection
	queue      string
	handler    Handler
	workers    int
	prefetch   int
	timeout    time.Duration
	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	Workers  int           // Number of concurrent workers
	Prefetch int           // Prefetch count per worker
	Timeout  time.Duration // Per-message handler timeout
}

// DefaultConsumerConfig returns sensible defaults
func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		Workers:  3,
		Prefetch: 1,
		Timeout:  30 * time.Second,
	}
}

func (cfg ConsumerConfig) withDefaults() ConsumerConfig {
	def := DefaultConsumerConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = def.Prefetch
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return cfg
}

// NewConsumer creates a consumer of queue.
func NewConsumer(conn *Connection, queue string, handler Handler, cfg ConsumerConfig) *Consumer {
	cfg = cfg.withDefaults()
	return &Consumer{
		conn:     conn,
		queue:    queue,
		handler:  handler,
		workers:  cfg.Workers,
		prefetch: cfg.Prefetch,
		timeout:  cfg.Timeout,
		logger:   slog.Default().With("component", "queue", "queue", queue),
	}
}

// Start begins consuming messages
func (c *Consumer) Start(ctx context.Context) error {
	ctx, c.cancelFunc = context.WithCancel(ctx)

	ch := c.conn.Channel()

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("set QoS: %w", err)
	}

	msgs, err := ch.Consume(
		c.queue,
		"",    // consumer tag (auto-generated)
		false, // auto-ack (manual ack for reliability)
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("start consuming %s: %w", c.queue, err)
	}

	c.logger.Info("starting queue consumer", "workers", c.workers, "prefetch", c.prefetch)

	for i := 0; i < c.workers; i++ {
		c.wg.Add(1)
		go c.worker(ctx, i, msgs)
	}

	return nil
}

func (c *Consumer) worker(ctx context.Context, id int, msgs <-chan amqp.Delivery) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-msgs:
			if !ok {
				c.logger.Info("message channel closed", "worker_id", id)
				return
			}
			c.process(ctx, id, msg)
		}
	}
}

// Acknowledger is the ack surface of a delivery.
type Acknowledger interface {
	Ack(multiple bool) error
	Reject(requeue bool) error
}

func (c *Consumer) process(ctx context.Context, workerID int, msg amqp.Delivery) {
	c.handle(ctx, workerID, msg.Body, &msg)
}

// handle decodes body and runs the handler. Malformed messages and handler
// failures are rejected without requeue.
func (c *Consumer) handle(ctx context.Context, workerID int, body []byte, ack Acknowledger) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		c.logger.Error("failed to unmarshal message", "worker_id", workerID, "error", err)
		_ = ack.Reject(false)
		return
	}

	msgCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.handler(msgCtx, &env); err != nil {
		c.logger.Error("message handling failed",
			"worker_id", workerID,
			"message_id", env.ID,
			"type", env.Type,
			"error", err,
		)
		_ = ack.Reject(false)
		return
	}

	if err := ack.Ack(false); err != nil {
		c.logger.Error("failed to ack message", "worker_id", workerID, "message_id", env.ID, "error", err)
	}
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() {
	if c.cancelFunc != nil {
		c.cancelFunc()
	}
	c.wg.Wait()
	c.logger.Info("consumer stopped")
}
