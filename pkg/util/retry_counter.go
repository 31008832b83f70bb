package util

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RetryCounter 按消息记录重试次数，过期后自动清零
type RetryCounter struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewRetryCounter(rdb redis.Cmdable, ttl time.Duration) *RetryCounter {
	return &RetryCounter{rdb: rdb, ttl: ttl}
}

// IncrementAndGet 重试次数加一并返回新值
func (r *RetryCounter) IncrementAndGet(ctx context.Context, key string) (int64, error) {
	count, err := r.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		r.rdb.Expire(ctx, key, r.ttl)
	}
	return count, nil
}

func (r *RetryCounter) Get(ctx context.Context, key string) (int64, error) {
	count, err := r.rdb.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return count, err
}

func (r *RetryCounter) Reset(ctx context.Context, key string) error {
	return r.rdb.Del(ctx, key).Err()
}

// FormatRetryKey handler + 事件 ID 的重试计数 key
func FormatRetryKey(handler, eventID string) string {
	return "retry:" + handler + ":" + eventID
}
