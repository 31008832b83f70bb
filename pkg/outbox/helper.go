package outbox

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
)

// InsertEventInTx 序列化 payload 并在事务中写入 outbox
func InsertEventInTx(
	ctx context.Context,
	tx pgx.Tx,
	repo *Repository,
	eventID string,
	aggregateType string,
	aggregateID *int64,
	routingKey string,
	traceID string,
	payload any,
) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	event := &Event{
		EventID:       eventID,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		RoutingKey:    routingKey,
		Payload:       payloadJSON,
		TraceID:       traceID,
		Status:        StatusPending,
	}
	return repo.InsertEvent(ctx, tx, event)
}
