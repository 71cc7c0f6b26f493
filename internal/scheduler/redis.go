package scheduler

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/rendis/procflow/pkg/schema"
)

// DefaultRedisKey is the sorted set holding scheduled delays.
const DefaultRedisKey = "procflow:delays"

// RedisDelayQueue keeps delays in a sorted set scored by due time in unix
// milliseconds.
type RedisDelayQueue struct {
	client redis.UniversalClient
	key    string
}

var _ DelayQueue = (*RedisDelayQueue)(nil)

// NewRedisDelayQueue creates a queue on client under key.
func NewRedisDelayQueue(client redis.UniversalClient, key string) *RedisDelayQueue {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisDelayQueue{client: client, key: key}
}

// DialRedis connects to a single redis node and pings it.
func DialRedis(ctx context.Context, addr, password string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, schema.NewErrorf(schema.ErrCodeStore, "redis ping %s: %s", addr, err.Error()).WithCause(err)
	}
	return client, nil
}

// Schedule adds or moves processRunID to at.
func (q *RedisDelayQueue) Schedule(ctx context.Context, processRunID string, at time.Time) error {
	err := q.client.ZAdd(ctx, q.key, &redis.Z{
		Score:  float64(at.UnixMilli()),
		Member: processRunID,
	}).Err()
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "schedule delay %s: %s", processRunID, err.Error()).WithCause(err)
	}
	return nil
}

// Due returns up to limit ids whose score is at or before now, oldest first.
func (q *RedisDelayQueue) Due(ctx context.Context, now time.Time, limit int) ([]string, error) {
	opt := &redis.ZRangeBy{
		Min: "0",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}
	if limit > 0 {
		opt.Count = int64(limit)
	}
	ids, err := q.client.ZRangeByScore(ctx, q.key, opt).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "list due delays: %s", err.Error()).WithCause(err)
	}
	return ids, nil
}

// Remove drops processRunID from the queue.
func (q *RedisDelayQueue) Remove(ctx context.Context, processRunID string) error {
	if err := q.client.ZRem(ctx, q.key, processRunID).Err(); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "remove delay %s: %s", processRunID, err.Error()).WithCause(err)
	}
	return nil
}

// Len returns the number of scheduled delays.
func (q *RedisDelayQueue) Len(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.key).Result()
}
