package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const TypeOptimizeURL = "image:optimize"

type OptimizeURLPayload struct {
	BatchID     string    `json:"batch_id"`
	Index       int       `json:"index"`
	SourceURL   string    `json:"source_url"`
	WebhookURL  string    `json:"webhook_url,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

func NewOptimizeURLTask(payload OptimizeURLPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal optimize payload: %w", err)
	}
	return asynq.NewTask(TypeOptimizeURL, body), nil
}

func ParseOptimizeURLPayload(task *asynq.Task) (OptimizeURLPayload, error) {
	var payload OptimizeURLPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return OptimizeURLPayload{}, fmt.Errorf("unmarshal optimize payload: %w", err)
	}
	return payload, nil
}
