package db

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"milestonefund/pkg/metrics"
)

type queryStartKey struct{}

type queryStart struct {
	at  time.Time
	sql string
}

// QueryTracer 记录每条查询的耗时，超过阈值的记录慢查询日志
type QueryTracer struct {
	logger        *zap.Logger
	slowThreshold time.Duration
}

// NewQueryTracer 阈值为 0 时使用 100ms
func NewQueryTracer(logger *zap.Logger, slowThreshold time.Duration) *QueryTracer {
	if slowThreshold == 0 {
		slowThreshold = 100 * time.Millisecond
	}
	return &QueryTracer{
		logger:        logger,
		slowThreshold: slowThreshold,
	}
}

// TraceQueryStart 查询开始时的钩子
func (t *QueryTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, queryStartKey{}, queryStart{at: time.Now(), sql: data.SQL})
}

// TraceQueryEnd 查询结束时的钩子
func (t *QueryTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	start, ok := ctx.Value(queryStartKey{}).(queryStart)
	if !ok {
		return
	}
	duration := time.Since(start.at)
	op := Operation(start.sql)
	metrics.RecordDBQueryDuration(op, duration)

	if duration <= t.slowThreshold {
		return
	}
	sql := start.sql
	if len(sql) > 200 {
		sql = sql[:200] + "..."
	}
	t.logger.Warn("slow-query",
		zap.String("sql", sql),
		zap.Duration("took", duration),
		zap.String("command_tag", data.CommandTag.String()),
		zap.Error(data.Err),
	)
	metrics.IncrementSlowQuery(op)
}

// Operation SQL 的第一个关键字（小写），用作指标标签
func Operation(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return "unknown"
	}
	return strings.ToLower(fields[0])
}
