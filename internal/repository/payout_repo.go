package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"milestonefund/internal/model"
)

// PayoutRepository 付款指令表，外部钱包按 pending 状态拉取执行
type PayoutRepository struct {
	db *pgxpool.Pool
}

func NewPayoutRepository(db *pgxpool.Pool) *PayoutRepository {
	return &PayoutRepository{db: db}
}

// RecordPayout 为一笔已授权的划转写入付款指令
// 同一笔划转重复写入时返回 false
func (r *PayoutRepository) RecordPayout(ctx context.Context, eventID string, tr model.Transfer) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO payouts (transfer_id, event_id, kind, campaign_id, recipient, amount, status)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending')
		ON CONFLICT (transfer_id) DO NOTHING
	`, tr.ID, eventID, string(tr.Kind), nullableID(tr.CampaignID), tr.Recipient, tr.Amount)
	if err != nil {
		return false, fmt.Errorf("failed to record payout: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
