package httpserver

import (
	"bytes"
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"milestonefund/internal/handler"
	"milestonefund/internal/model"
	"milestonefund/pkg/util"
)

// IdempotencyHeader 客户端为一次变更请求生成的唯一键
const IdempotencyHeader = "Idempotency-Key"

// IdempotencyStore 幂等键的预占、保存和释放，由 util.IdempotencyStore 基于 Redis 实现
type IdempotencyStore interface {
	Reserve(ctx context.Context, scope, key string) (*util.StoredResponse, error)
	Complete(ctx context.Context, scope, key string, resp util.StoredResponse) error
	Abandon(ctx context.Context, scope, key string) error
}

// responseRecorder 在写给客户端的同时保存响应体
type responseRecorder struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *responseRecorder) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *responseRecorder) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// IdempotencyMiddleware 相同调用方重复发送相同的 Idempotency-Key 时返回第一次的响应
// 5xx 响应不缓存，客户端可以用同一个键重试；Redis 不可用时直接执行请求
func IdempotencyMiddleware(store IdempotencyStore, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(IdempotencyHeader)
		if key == "" || c.Request.Method == http.MethodGet || c.Request.Method == http.MethodHead {
			c.Next()
			return
		}
		if len(key) > 128 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "idempotency key too long"})
			return
		}

		scope := c.Request.Method + ":" + c.Request.URL.Path
		if v, ok := c.Get(handler.ActorKey); ok {
			if actor, ok := v.(model.Actor); ok {
				scope = actor.ID + ":" + scope
			}
		}

		ctx := c.Request.Context()
		stored, err := store.Reserve(ctx, scope, key)
		switch {
		case errors.Is(err, util.ErrRequestInFlight):
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		case err != nil:
			log.Warn("Idempotency store unavailable, executing request", zap.Error(err))
			c.Next()
			return
		case stored != nil:
			c.Header("Idempotent-Replayed", "true")
			c.Data(stored.Status, stored.ContentType, stored.Body)
			c.Abort()
			return
		}

		// 没有保存响应（5xx、保存失败或 handler panic）时释放键，否则重试会一直得到 409
		completed := false
		defer func() {
			if completed {
				return
			}
			if err := store.Abandon(context.WithoutCancel(ctx), scope, key); err != nil {
				log.Warn("Failed to release idempotency key", zap.String("key", key), zap.Error(err))
			}
		}()

		rec := &responseRecorder{ResponseWriter: c.Writer}
		c.Writer = rec
		c.Next()

		status := rec.Status()
		if status >= http.StatusInternalServerError {
			return
		}
		resp := util.StoredResponse{
			Status:      status,
			ContentType: rec.Header().Get("Content-Type"),
			Body:        rec.body.Bytes(),
		}
		if err := store.Complete(ctx, scope, key, resp); err != nil {
			log.Warn("Failed to store idempotent response", zap.String("key", key), zap.Error(err))
			return
		}
		completed = true
	}
}
