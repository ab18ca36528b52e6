package rabbitmq

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/suPer8Hu/studio-assistant/internal/chat"
)

// PersistJob is one turn waiting to be written by the worker.
type PersistJob struct {
	JobID     string    `json:"job_id"`
	UserID    string    `json:"user_id"`
	Text      string    `json:"text"`
	Sender    string    `json:"sender"`
	Images    []string  `json:"images,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

var errBadJob = errors.New("bad persist job")

func jobFromMessage(jobID string, m chat.Message) PersistJob {
	return PersistJob{
		JobID:     jobID,
		UserID:    m.UserID,
		Text:      m.Text,
		Sender:    m.Sender,
		Images:    m.Images,
		CreatedAt: m.CreatedAt,
	}
}

// Message is the row the job inserts.
func (j PersistJob) Message() chat.Message {
	return chat.Message{
		UserID:    j.UserID,
		Text:      j.Text,
		Sender:    j.Sender,
		Images:    j.Images,
		CreatedAt: j.CreatedAt,
	}
}

func decodeJob(body []byte) (PersistJob, error) {
	var j PersistJob
	if err := json.Unmarshal(body, &j); err != nil {
		return PersistJob{}, fmt.Errorf("%w: %v", errBadJob, err)
	}
	if j.UserID == "" || j.Sender == "" {
		return PersistJob{}, fmt.Errorf("%w: missing user_id or sender", errBadJob)
	}
	return j, nil
}

const retryHeader = "x-retry-count"

// retryCount reads the retry header; brokers may hand ints back in any width.
func retryCount(h amqp.Table) int {
	switch v := h[retryHeader].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	default:
		return 0
	}
}
