package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// 引擎操作延迟（秒）
	EngineOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "engine_operation_duration_seconds",
			Help:    "Engine operation latency in seconds, including the storage commit",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14), // 0.1ms to ~1.6s
		},
		[]string{"op"},
	)

	// 引擎操作计数，result 为 ok 或错误类型
	EngineOperationCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_operation_total",
			Help: "Total number of engine operations by result",
		},
		[]string{"op", "result"},
	)

	// 资金划转金额
	EscrowTransferAmount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_transfer_amount_total",
			Help: "Total amount authorized for transfer out of escrow or the fee pool",
		},
		[]string{"kind"}, // kind: release, refund, fee_withdrawal
	)

	// 惰性状态转换计数（过期、投票截止）
	LazyTransitionCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_lazy_transition_total",
			Help: "Deadline-driven transitions applied on access",
		},
		[]string{"transition"}, // transition: campaign_expired, milestone_closed
	)

	// MQ 消费延迟（毫秒）
	MQConsumeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mq_consume_latency_ms",
			Help:    "MQ message consumption latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10ms to ~10s
		},
		[]string{"routing_key", "queue"},
	)

	// 审计事件消费计数
	AuditEventConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_event_consumed_total",
			Help: "Total number of audit events consumed by the worker",
		},
		[]string{"type", "status"}, // status: processed, duplicate, failed
	)

	// Outbox 发布计数
	OutboxPublishCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_publish_total",
			Help: "Outbox events published to MQ",
		},
		[]string{"status"}, // status: sent, failed, rejected
	)

	// 数据库查询延迟（秒）
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"operation"}, // operation: SQL 的第一个关键字
	)

	// 慢查询计数
	DBSlowQueryCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_slow_query_total",
			Help: "Total number of queries slower than the configured threshold",
		},
		[]string{"operation"},
	)

	// HTTP 请求延迟（秒）
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "path", "status"},
	)
)

// RecordEngineOperation 记录一次引擎操作
func RecordEngineOperation(op, result string, duration time.Duration) {
	EngineOperationDuration.WithLabelValues(op).Observe(duration.Seconds())
	EngineOperationCount.WithLabelValues(op, result).Inc()
}

// AddEscrowTransfer 累加资金划转金额
func AddEscrowTransfer(kind string, amount int64) {
	EscrowTransferAmount.WithLabelValues(kind).Add(float64(amount))
}

// IncrementLazyTransition 增加惰性转换计数
func IncrementLazyTransition(transition string, n int) {
	LazyTransitionCount.WithLabelValues(transition).Add(float64(n))
}

// RecordMQConsumeLatency 记录 MQ 消费延迟
func RecordMQConsumeLatency(routingKey, queue string, duration time.Duration) {
	MQConsumeLatency.WithLabelValues(routingKey, queue).Observe(float64(duration.Milliseconds()))
}

// IncrementAuditEventConsumed 增加审计事件消费计数
func IncrementAuditEventConsumed(eventType, status string) {
	AuditEventConsumed.WithLabelValues(eventType, status).Inc()
}

// IncrementOutboxPublish 增加 outbox 发布计数
func IncrementOutboxPublish(status string) {
	OutboxPublishCount.WithLabelValues(status).Inc()
}

// RecordDBQueryDuration 记录数据库查询延迟
func RecordDBQueryDuration(operation string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// IncrementSlowQuery 增加慢查询计数
func IncrementSlowQuery(operation string) {
	DBSlowQueryCount.WithLabelValues(operation).Inc()
}

// RecordHTTPRequestDuration 记录 HTTP 请求延迟
func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}
