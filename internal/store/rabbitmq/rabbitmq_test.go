package rabbitmq

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/studio-assistant/internal/chat"
)

var _ chat.Persister = (*Publisher)(nil)

func TestJobRoundTrip(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	m := chat.Message{UserID: "u1", Text: "hi", Sender: "user", Images: []string{"data:image/png;base64,AA=="}, CreatedAt: at}

	body, err := json.Marshal(jobFromMessage("job-1", m))
	require.NoError(t, err)

	job, err := decodeJob(body)
	require.NoError(t, err)
	assert.Equal(t, "job-1", job.JobID)
	assert.Equal(t, m, job.Message())
}

func TestDecodeJob_Rejects(t *testing.T) {
	_, err := decodeJob([]byte("{"))
	assert.ErrorIs(t, err, errBadJob)

	_, err = decodeJob([]byte(`{"text":"orphan"}`))
	assert.ErrorIs(t, err, errBadJob)
}

func TestRetryCount(t *testing.T) {
	assert.Equal(t, 0, retryCount(nil))
	assert.Equal(t, 0, retryCount(amqp.Table{retryHeader: "x"}))
	assert.Equal(t, 2, retryCount(amqp.Table{retryHeader: int32(2)}))
	assert.Equal(t, 3, retryCount(amqp.Table{retryHeader: int64(3)}))
}

func TestQueueNames(t *testing.T) {
	assert.Equal(t, "persist_turns.retry", retryQueue("persist_turns"))
	assert.Equal(t, "persist_turns.dlq", dlqQueue("persist_turns"))
}

// TestPublishConsume runs against a broker when TEST_RABBIT_URL is set.
func TestPublishConsume(t *testing.T) {
	url := os.Getenv("TEST_RABBIT_URL")
	if url == "" {
		t.Skip("TEST_RABBIT_URL not set")
	}
	queue := "persist_turns_test_" + time.Now().Format("150405.000")

	pub, err := NewPublisher(url, queue, nil)
	require.NoError(t, err)
	cons, err := NewConsumer(ConsumerConfig{URL: url, Queue: queue, Concurrency: 1, MaxRetries: 1, RetryDelay: 100 * time.Millisecond})
	require.NoError(t, err)
	defer cons.Close()

	got := make(chan PersistJob, 2)
	failed := false
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- cons.Run(ctx, func(ctx context.Context, job PersistJob) error {
			if !failed {
				failed = true
				return assert.AnError
			}
			got <- job
			return nil
		})
	}()

	pub.Persist(chat.Message{UserID: "u1", Text: "hi", Sender: "user"})
	require.NoError(t, pub.Close())

	select {
	case job := <-got:
		assert.Equal(t, "hi", job.Text)
	case <-time.After(10 * time.Second):
		t.Fatal("job not delivered after retry")
	}
	cancel()
	require.NoError(t, <-done)
}
