package httpserver

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"milestonefund/internal/handler"
	"milestonefund/internal/model"
	"milestonefund/pkg/logger"
	"milestonefund/pkg/metrics"
	"milestonefund/pkg/rbac"
	"milestonefund/pkg/trace"
	"milestonefund/pkg/util"
)

// AuthConfig 令牌校验参数
type AuthConfig struct {
	Secret  string
	Issuer  string
	OwnerID string // 平台所有者账户
}

// TraceMiddleware 读取或生成 X-Trace-ID，写入请求 context 和响应头
func TraceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := trace.FromHeader(c.GetHeader(trace.HeaderName()))
		c.Set(trace.TraceIDKey, traceID)
		c.Request = c.Request.WithContext(trace.WithContext(c.Request.Context(), traceID))
		c.Header(trace.HeaderName(), traceID)
		c.Next()
	}
}

// AccessLogMiddleware 请求日志和延迟指标
func AccessLogMiddleware(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := c.Writer.Status()
		duration := time.Since(start)
		metrics.RecordHTTPRequestDuration(c.Request.Method, path, strconv.Itoa(status), duration)

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", status),
			zap.Duration("duration", duration),
		}
		l := logger.WithTrace(c.Request.Context(), log)
		if status >= http.StatusInternalServerError {
			l.Error("HTTP request", fields...)
		} else {
			l.Info("HTTP request", fields...)
		}
	}
}

// AuthMiddleware 校验 bearer token，把 sub 和解析后的角色写入 context
func AuthMiddleware(cfg AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := util.ExtractToken(c.Request)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}

		claims, err := util.ParseJWT(token, cfg.Secret, cfg.Issuer)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(handler.ActorKey, model.Actor{
			ID:   claims.Subject,
			Role: rbac.ResolveRole(claims.Subject, claims.Role, cfg.OwnerID),
		})
		c.Next()
	}
}

// RequirePermission 中间件：要求调用方具有指定权限
func RequirePermission(permission string) gin.HandlerFunc {
	return func(c *gin.Context) {
		v, exists := c.Get(handler.ActorKey)
		if !exists {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
			return
		}
		actor, _ := v.(model.Actor)
		if err := rbac.CheckPermission(actor.ID, actor.Role, permission); err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": err.Error(), "kind": "NotAuthorized"})
			return
		}
		c.Next()
	}
}
