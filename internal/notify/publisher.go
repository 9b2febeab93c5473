// Package notify publishes lifecycle events to Redis streams. Delivery is
// fire-and-forget and at-least-once; entries carry a group id (the form id)
// so consumers can serialize per form.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const maxStreamLen = 100_000

// RedisPublisher implements the notification publisher on Redis streams.
type RedisPublisher struct {
	client *redis.Client
}

func NewRedisPublisher(redisURL string) (*RedisPublisher, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisPublisher{client: client}, nil
}

// NewRedisPublisherWithClient creates a publisher from an existing client.
func NewRedisPublisherWithClient(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

// Publish appends one entry to the topic stream. Attributes are flattened
// into the entry alongside the message body and group id.
func (p *RedisPublisher) Publish(ctx context.Context, topic string, message []byte, groupID string, attrs map[string]string) error {
	values := map[string]any{
		"message": string(message),
		"groupId": groupID,
	}
	for k, v := range attrs {
		values["attr:"+k] = v
	}
	err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: topic,
		MaxLen: maxStreamLen,
		Approx: true,
		Values: values,
	}).Err()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

func (p *RedisPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
