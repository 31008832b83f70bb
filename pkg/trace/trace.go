package trace

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

type ctxKey struct{}

// TraceIDKey gin context 中保存 trace_id 的键
const TraceIDKey = "trace_id"

// GenerateTraceID 生成一个新的 trace ID
func GenerateTraceID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// FromContext 从 context 中获取 trace_id
func FromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if traceID, ok := ctx.Value(ctxKey{}).(string); ok {
		return traceID
	}
	return ""
}

// WithContext 将 trace_id 添加到 context 中
func WithContext(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, traceID)
}

// FromHeader 从 HTTP header 中提取 trace_id，没有时生成新的
func FromHeader(headerValue string) string {
	if v := strings.TrimSpace(headerValue); v != "" && len(v) <= 128 {
		return v
	}
	return GenerateTraceID()
}

// HeaderName 返回 trace ID 的 HTTP header 名称
func HeaderName() string {
	return "X-Trace-ID"
}
