package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/suPer8Hu/studio-assistant/internal/logx"
	"go.uber.org/zap"
)

// Handler writes one job. A returned error schedules a retry.
type Handler func(ctx context.Context, job PersistJob) error

type ConsumerConfig struct {
	URL         string
	Queue       string
	Concurrency int
	MaxRetries  int
	RetryDelay  time.Duration
	Log         *zap.Logger
}

// Consumer drains the persist queue with a fixed worker pool.
type Consumer struct {
	cfg  ConsumerConfig
	conn *amqp.Connection
	ch   *amqp.Channel
	log  *zap.Logger

	pubMu sync.Mutex
}

func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	log := logx.OrNop(cfg.Log)

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("rabbit dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbit channel: %w", err)
	}
	if err := declareTopology(ch, cfg.Queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("queue declare: %w", err)
	}
	// strict concurrency control
	if err := ch.Qos(cfg.Concurrency, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("qos: %w", err)
	}
	return &Consumer{cfg: cfg, conn: conn, ch: ch, log: log}, nil
}

func (c *Consumer) Close() error {
	_ = c.ch.Close()
	return c.conn.Close()
}

// Run consumes until ctx is done, then drains the pool.
func (c *Consumer) Run(ctx context.Context, handle Handler) error {
	msgs, err := c.ch.Consume(c.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	c.log.Info("worker started", zap.String("queue", c.cfg.Queue), zap.Int("concurrency", c.cfg.Concurrency))

	jobs := make(chan amqp.Delivery, c.cfg.Concurrency*2)
	var wg sync.WaitGroup
	wg.Add(c.cfg.Concurrency)
	for i := 0; i < c.cfg.Concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				c.process(ctx, workerID, d, handle)
			}
		}(i)
	}

	// dispatcher
	defer func() {
		close(jobs)
		wg.Wait()
	}()
	for {
		select {
		case <-ctx.Done():
			c.log.Info("worker shutting down")
			return nil
		case d, ok := <-msgs:
			if !ok {
				return errors.New("delivery channel closed")
			}
			jobs <- d
		}
	}
}

func (c *Consumer) process(ctx context.Context, workerID int, d amqp.Delivery, handle Handler) {
	log := c.log.With(zap.Int("worker", workerID), zap.String("job_id", d.MessageId))

	job, err := decodeJob(d.Body)
	if err != nil {
		log.Warn("bad message", zap.Error(err))
		_ = d.Nack(false, false)
		return
	}

	start := time.Now()
	// the write outlives shutdown so an acked job is always stored
	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	err = handle(hctx, job)
	cancel()
	if err == nil {
		if err := d.Ack(false); err != nil {
			log.Warn("ack failed", zap.Error(err))
		}
		return
	}

	attempt := retryCount(d.Headers)
	log = log.With(zap.Duration("cost", time.Since(start)), zap.Int("attempt", attempt), zap.Error(err))
	if attempt >= c.cfg.MaxRetries {
		log.Error("job failed, dead-lettering")
		_ = d.Nack(false, false)
		return
	}
	if err := c.scheduleRetry(ctx, d, attempt+1); err != nil {
		log.Error("schedule retry failed, dead-lettering", zap.NamedError("retry_error", err))
		_ = d.Nack(false, false)
		return
	}
	log.Warn("job failed, retry scheduled")
	_ = d.Ack(false)
}

func (c *Consumer) scheduleRetry(ctx context.Context, d amqp.Delivery, attempt int) error {
	headers := amqp.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers[retryHeader] = int32(attempt)

	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	c.pubMu.Lock()
	defer c.pubMu.Unlock()
	return c.ch.PublishWithContext(cctx, "", retryQueue(c.cfg.Queue), false, false, amqp.Publishing{
		ContentType:  d.ContentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    d.MessageId,
		Headers:      headers,
		Body:         d.Body,
		Timestamp:    time.Now(),
		// retry queue has no consumer; expiry dead-letters back to the main queue
		Expiration: strconv.FormatInt(c.cfg.RetryDelay.Milliseconds(), 10),
	})
}
