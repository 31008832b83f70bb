package otel

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DBSpan 为数据库操作创建 client span
func DBSpan(ctx context.Context, operation, table string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "db."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation", operation),
			attribute.String("db.sql.table", table),
		),
	)
}

// EndSpan 记录结果并结束 span；pgx.ErrNoRows 不算失败
func EndSpan(span trace.Span, err error) {
	switch {
	case err == nil:
		span.SetStatus(codes.Ok, "")
	case errors.Is(err, pgx.ErrNoRows):
		span.SetStatus(codes.Ok, "no rows")
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
