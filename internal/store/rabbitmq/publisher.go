package rabbitmq

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/suPer8Hu/studio-assistant/internal/chat"
	"github.com/suPer8Hu/studio-assistant/internal/common"
	"github.com/suPer8Hu/studio-assistant/internal/logx"
	"go.uber.org/zap"
)

const publishTimeout = 5 * time.Second

// Publisher is the queued chat.Persister: turns become jobs for cmd/worker.
type Publisher struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
	log   *zap.Logger

	mu sync.Mutex
	wg sync.WaitGroup
}

func NewPublisher(url, queue string, log *zap.Logger) (*Publisher, error) {
	log = logx.OrNop(log)
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := declareTopology(ch, queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return &Publisher{conn: conn, ch: ch, queue: queue, log: log}, nil
}

// Close drains in-flight publishes, then closes the connection.
func (p *Publisher) Close() error {
	p.wg.Wait()
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// Persist publishes m from a detached goroutine. Failures are logged.
func (p *Publisher) Persist(m chat.Message) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		jobID, err := p.PublishTurn(ctx, m)
		if err != nil {
			p.log.Warn("enqueue turn failed",
				zap.String("user_id", m.UserID),
				zap.String("sender", m.Sender),
				zap.Error(err),
			)
			return
		}
		p.log.Debug("turn enqueued", zap.String("job_id", jobID), zap.String("user_id", m.UserID))
	}()
}

// PublishTurn enqueues m and returns the job id.
func (p *Publisher) PublishTurn(ctx context.Context, m chat.Message) (string, error) {
	jobID, err := common.NewULID()
	if err != nil {
		return "", err
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	body, err := json.Marshal(jobFromMessage(jobID, m))
	if err != nil {
		return "", err
	}
	return jobID, p.publish(ctx, p.queue, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    jobID,
		Body:         body,
		Timestamp:    time.Now(),
	})
}

func (p *Publisher) publish(ctx context.Context, key string, msg amqp.Publishing) error {
	cctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.PublishWithContext(cctx,
		"",  // default exchange
		key, // routing key = queue
		false,
		false,
		msg,
	)
}
