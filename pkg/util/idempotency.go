package util

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// StoredResponse 幂等键对应的第一次响应
type StoredResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

// IdempotencyStore 用 Redis 保存 Idempotency-Key 的响应
// Reserve 用 SetNX 占位，保证同一个键只有一个请求真正执行
type IdempotencyStore struct {
	rdb redis.Cmdable
	ttl time.Duration
}

var ErrRequestInFlight = errors.New("request with this idempotency key is still in progress")

const pendingMarker = "pending"

func NewIdempotencyStore(rdb redis.Cmdable, ttl time.Duration) *IdempotencyStore {
	return &IdempotencyStore{rdb: rdb, ttl: ttl}
}

func idempotencyKey(scope, key string) string {
	return "idem:" + scope + ":" + key
}

// Reserve 第一次出现时占位并返回 (nil, nil)；已完成的返回保存的响应；仍在执行的返回 ErrRequestInFlight
func (s *IdempotencyStore) Reserve(ctx context.Context, scope, key string) (*StoredResponse, error) {
	k := idempotencyKey(scope, key)
	ok, err := s.rdb.SetNX(ctx, k, pendingMarker, s.ttl).Result()
	if err != nil {
		return nil, err
	}
	if ok {
		return nil, nil
	}
	raw, err := s.rdb.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		// 占位刚好过期，重新占位
		return s.Reserve(ctx, scope, key)
	}
	if err != nil {
		return nil, err
	}
	if raw == pendingMarker {
		return nil, ErrRequestInFlight
	}
	var resp StoredResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Complete 保存最终响应
func (s *IdempotencyStore) Complete(ctx context.Context, scope, key string, resp StoredResponse) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, idempotencyKey(scope, key), data, s.ttl).Err()
}

// Abandon 请求没有产生可缓存的结果时删除占位
func (s *IdempotencyStore) Abandon(ctx context.Context, scope, key string) error {
	return s.rdb.Del(ctx, idempotencyKey(scope, key)).Err()
}
