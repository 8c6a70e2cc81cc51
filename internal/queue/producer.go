package queue

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"placement/internal/tasks"
)

// Producer appends tasks to the stream read by the worker.
type Producer struct {
	client *redis.Client
	stream string
}

func NewProducer(client *redis.Client, stream string) *Producer {
	return &Producer{client: client, stream: stream}
}

func (p *Producer) Enqueue(ctx context.Context, task tasks.Task) error {
	if task.Type == "" {
		return fmt.Errorf("enqueue: empty task type")
	}
	if _, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: task.Values(),
	}).Result(); err != nil {
		return fmt.Errorf("xadd %s: %w", p.stream, err)
	}
	return nil
}
