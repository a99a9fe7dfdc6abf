package queue

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Producer appends tasks to a redis stream.
type Producer struct {
	client redis.Cmdable
	stream string
	maxLen int64
}

func NewProducer(client redis.Cmdable, stream string) *Producer {
	return &Producer{client: client, stream: stream, maxLen: 10000}
}

func (p *Producer) Enqueue(ctx context.Context, values map[string]any) (string, error) {
	id, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: values,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", p.stream, err)
	}
	return id, nil
}
