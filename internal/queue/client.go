package queue

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
)

type Client struct {
	client *asynq.Client
	queue  string
}

func NewClient(redisOpt asynq.RedisClientOpt, queueName string) *Client {
	return &Client{
		client: asynq.NewClient(redisOpt),
		queue:  queueName,
	}
}

func (c *Client) EnqueueOptimizeURL(ctx context.Context, payload OptimizeURLPayload) (*asynq.TaskInfo, error) {
	task, err := NewOptimizeURLTask(payload)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(
		ctx,
		task,
		asynq.Queue(c.queue),
		asynq.MaxRetry(3),
		asynq.Timeout(2*time.Minute),
	)
}

func (c *Client) Close() error {
	return c.client.Close()
}
