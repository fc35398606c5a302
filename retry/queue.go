// Package retry holds the pending-retry queue and the scheduler that
// republishes delayed orders back onto the primary topic. Keeping the
// delay out of the primary queue stops a slow retry from head-of-line
// blocking fresh orders.
package retry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/daniel-vizcarra/IntegraHub/hubevent"
)

const pendingRetryKey = "integrahub:orders:pending_retry"

type IQueue interface {
	Schedule(ctx context.Context, event hubevent.OrderCreatedEvent, delay time.Duration) error
	PopDue(ctx context.Context) (*hubevent.OrderCreatedEvent, error)
}

type redisQueue struct {
	client *redis.Client
}

func NewRedisQueue(redisURL string) (IQueue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &redisQueue{client: client}, nil
}

// Schedule stores the envelope with its due time as the sorted-set
// score; the member is the serialized envelope itself.
func (q *redisQueue) Schedule(ctx context.Context, event hubevent.OrderCreatedEvent, delay time.Duration) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal retry envelope: %w", err)
	}

	return q.client.ZAdd(ctx, pendingRetryKey, redis.Z{
		Score:  float64(time.Now().Add(delay).UnixNano()),
		Member: string(data),
	}).Err()
}

// PopDue removes and returns the earliest due envelope, or nil when
// nothing is due yet. The ZRem result guards against a concurrent pop
// of the same member.
func (q *redisQueue) PopDue(ctx context.Context) (*hubevent.OrderCreatedEvent, error) {
	now := float64(time.Now().UnixNano())

	results, err := q.client.ZRangeByScore(ctx, pendingRetryKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%f", now),
		Offset: 0,
		Count:  1,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("read pending retries: %w", err)
	}
	if len(results) == 0 {
		return nil, nil
	}

	member := results[0]
	removed, err := q.client.ZRem(ctx, pendingRetryKey, member).Result()
	if err != nil {
		return nil, fmt.Errorf("remove pending retry: %w", err)
	}
	if removed == 0 {
		return nil, nil
	}

	var event hubevent.OrderCreatedEvent
	if err := json.Unmarshal([]byte(member), &event); err != nil {
		return nil, fmt.Errorf("unmarshal retry envelope: %w", err)
	}
	return &event, nil
}
