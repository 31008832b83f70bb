package util

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Deduper 基于 Redis SetNX 的消息去重
type Deduper struct {
	rdb    redis.Cmdable
	ttl    time.Duration
	logger *zap.Logger
}

func NewDeduper(rdb redis.Cmdable, ttl time.Duration, logger *zap.Logger) *Deduper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deduper{rdb: rdb, ttl: ttl, logger: logger}
}

// AcquireOnce 第一次处理 handler + eventID 时返回 true，重复消息返回 false
func (d *Deduper) AcquireOnce(ctx context.Context, handler, eventID string) bool {
	key := "dedup:" + handler + ":" + eventID

	ok, err := d.rdb.SetNX(ctx, key, 1, d.ttl).Result()
	if err != nil {
		// Redis 不可用时不阻止处理
		d.logger.Warn("Redis dedup check failed, allowing processing",
			zap.String("handler", handler),
			zap.String("event_id", eventID),
			zap.Error(err),
		)
		return true
	}
	if !ok {
		d.logger.Info("Skipped duplicated event",
			zap.String("handler", handler),
			zap.String("event_id", eventID),
			zap.String("dedup_key", key),
		)
	}
	return ok
}

// Release 处理失败时释放去重标记，让重投的消息可以再次处理
func (d *Deduper) Release(ctx context.Context, handler, eventID string) {
	if err := d.rdb.Del(ctx, "dedup:"+handler+":"+eventID).Err(); err != nil {
		d.logger.Warn("Failed to release dedup key", zap.String("event_id", eventID), zap.Error(err))
	}
}
