package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// 事件状态
const (
	StatusPending = "pending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
)

var ErrEventNotFound = errors.New("outbox event not found")

// Event 一个待发布的事件
type Event struct {
	ID            int64
	EventID       string // 业务事件 ID，作为 MQ MessageId，消费端据此去重
	AggregateType string
	AggregateID   *int64
	RoutingKey    string
	Payload       json.RawMessage
	TraceID       string
	Status        string
	RetryCount    int
	NextRetryAt   *time.Time
	LastError     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Store 分发器和重放服务需要的 outbox 操作
type Store interface {
	GetPendingEvents(ctx context.Context, limit int) ([]*Event, error)
	GetFailedEvents(ctx context.Context, limit int) ([]*Event, error)
	GetEventByID(ctx context.Context, id int64) (*Event, error)
	MarkAsSent(ctx context.Context, id int64) error
	MarkAsFailed(ctx context.Context, id int64, maxRetries int, cause string) error
}

// Repository outbox_events 表的 PostgreSQL 实现
type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const eventColumns = `id, event_id, aggregate_type, aggregate_id, routing_key, payload, trace_id, status,
	retry_count, next_retry_at, last_error, created_at, updated_at`

// InsertEvent 在业务事务中插入事件，保证与业务数据同时提交
func (r *Repository) InsertEvent(ctx context.Context, tx pgx.Tx, event *Event) error {
	if event.Status == "" {
		event.Status = StatusPending
	}
	err := tx.QueryRow(ctx, `
		INSERT INTO outbox_events (event_id, aggregate_type, aggregate_id, routing_key, payload, trace_id, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (event_id) DO NOTHING
		RETURNING id, created_at, updated_at
	`,
		event.EventID,
		event.AggregateType,
		event.AggregateID,
		event.RoutingKey,
		event.Payload,
		event.TraceID,
		event.Status,
	).Scan(&event.ID, &event.CreatedAt, &event.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// 同一个事件已经写入过
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}
	return nil
}

// GetPendingEvents 到达重试时间的待发送事件，按写入顺序
func (r *Repository) GetPendingEvents(ctx context.Context, limit int) ([]*Event, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+eventColumns+`
		FROM outbox_events
		WHERE status = 'pending'
		AND (next_retry_at IS NULL OR next_retry_at <= NOW())
		ORDER BY id ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending events: %w", err)
	}
	return collectEvents(rows)
}

// GetFailedEvents 超过重试次数的事件，最新的在前
func (r *Repository) GetFailedEvents(ctx context.Context, limit int) ([]*Event, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+eventColumns+`
		FROM outbox_events
		WHERE status = 'failed'
		ORDER BY id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query failed events: %w", err)
	}
	return collectEvents(rows)
}

func (r *Repository) GetEventByID(ctx context.Context, id int64) (*Event, error) {
	rows, err := r.db.Query(ctx, `SELECT `+eventColumns+` FROM outbox_events WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	events, err := collectEvents(rows)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("%w: %d", ErrEventNotFound, id)
	}
	return events[0], nil
}

func collectEvents(rows pgx.Rows) ([]*Event, error) {
	defer rows.Close()
	var events []*Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(
			&e.ID,
			&e.EventID,
			&e.AggregateType,
			&e.AggregateID,
			&e.RoutingKey,
			&e.Payload,
			&e.TraceID,
			&e.Status,
			&e.RetryCount,
			&e.NextRetryAt,
			&e.LastError,
			&e.CreatedAt,
			&e.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

func (r *Repository) MarkAsSent(ctx context.Context, id int64) error {
	_, err := r.db.Exec(ctx, `
		UPDATE outbox_events
		SET status = 'sent', last_error = '', next_retry_at = NULL, updated_at = NOW()
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("failed to mark event as sent: %w", err)
	}
	return nil
}

// MarkAsFailed 重试次数加一；达到上限时状态变为 failed，否则按退避时间等待下次发送
func (r *Repository) MarkAsFailed(ctx context.Context, id int64, maxRetries int, cause string) error {
	var retryCount int
	err := r.db.QueryRow(ctx, `SELECT retry_count FROM outbox_events WHERE id = $1`, id).Scan(&retryCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %d", ErrEventNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("failed to get retry count: %w", err)
	}

	retryCount++
	status := StatusPending
	var nextRetryAt *time.Time
	if retryCount >= maxRetries {
		status = StatusFailed
	} else {
		next := time.Now().Add(RetryDelay(retryCount))
		nextRetryAt = &next
	}

	_, err = r.db.Exec(ctx, `
		UPDATE outbox_events
		SET status = $1, retry_count = $2, next_retry_at = $3, last_error = $4, updated_at = NOW()
		WHERE id = $5
	`, status, retryCount, nextRetryAt, cause, id)
	if err != nil {
		return fmt.Errorf("failed to mark event as failed: %w", err)
	}
	return nil
}

// RetryDelay 第 n 次失败后的等待时间：5s 起指数增长，最多 5 分钟
func RetryDelay(retryCount int) time.Duration {
	const (
		base    = 5 * time.Second
		ceiling = 5 * time.Minute
	)
	if retryCount <= 1 {
		return base
	}
	d := base
	for i := 1; i < retryCount; i++ {
		d *= 2
		if d >= ceiling {
			return ceiling
		}
	}
	return d
}
