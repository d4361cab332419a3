// Package tasks queues range runs on asynq.
package tasks

import (
	"time"

	"github.com/hibiken/asynq"

	"maintscraper/internal/platform/redis"
)

const (
	TaskTypeRunRange = "run:range"

	runTimeout = 24 * time.Hour
)

type Client struct{ c *asynq.Client }

func New(r *redis.Service) *Client { return &Client{c: asynq.NewClient(r.AsynqRedisOpt())} }

// Enqueue queues task with a one-day processing timeout.
func (t *Client) Enqueue(task *asynq.Task, queue string, maxRetries int) error {
	_, err := t.c.Enqueue(task, asynq.Queue(queue), asynq.MaxRetry(maxRetries), asynq.Timeout(runTimeout))
	return err
}

func (t *Client) Close() error { return t.c.Close() }
