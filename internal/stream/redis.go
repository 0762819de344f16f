package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type redisClient interface {
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
	Close() error
}

// RedisLog implements Log on Redis Streams with consumer groups.
type RedisLog struct {
	client redisClient
}

func NewRedisLog(address string) (*RedisLog, error) {
	if address == "" {
		address = "redis://127.0.0.1:6379"
	}
	options, err := redis.ParseURL(address)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisLog{client: redis.NewClient(options)}, nil
}

func (l *RedisLog) EnsureGroup(ctx context.Context, channel, group string) error {
	err := l.client.XGroupCreateMkStream(ctx, channel, group, "$").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group %s on %s: %w", group, channel, err)
	}
	return nil
}

func (l *RedisLog) Publish(ctx context.Context, channel string, payload []byte) error {
	err := l.client.XAdd(ctx, &redis.XAddArgs{
		Stream: channel,
		Values: map[string]interface{}{"payload": payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", channel, err)
	}
	return nil
}

func (l *RedisLog) Consume(ctx context.Context, channel, group, consumer string, count int, block time.Duration) ([]Message, error) {
	streams, err := l.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{channel, ">"},
		Count:    int64(count),
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s as %s/%s: %w", channel, group, consumer, err)
	}
	var msgs []Message
	for _, s := range streams {
		for _, m := range s.Messages {
			msgs = append(msgs, Message{
				ID:      m.ID,
				Payload: redisPayload(m.Values),
				ack:     l.ackFunc(channel, group, m.ID),
			})
		}
	}
	return msgs, nil
}

func (l *RedisLog) ackFunc(channel, group, id string) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := l.client.XAck(ctx, channel, group, id).Err(); err != nil {
			return fmt.Errorf("ack %s on %s: %w", id, channel, err)
		}
		return nil
	}
}

func redisPayload(values map[string]interface{}) []byte {
	switch v := values["payload"].(type) {
	case string:
		return []byte(v)
	case []byte:
		return v
	default:
		return nil
	}
}

func (l *RedisLog) Close() error {
	return l.client.Close()
}
