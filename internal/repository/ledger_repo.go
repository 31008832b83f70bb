package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"milestonefund/internal/model"
	"milestonefund/internal/store"
	"milestonefund/pkg/metrics"
	"milestonefund/pkg/otel"
	"milestonefund/pkg/outbox"
)

// 审计事件在 outbox 中的聚合类型
const (
	AggregateCampaign = "campaign"
	AggregatePlatform = "platform"
)

// LedgerRepository 把引擎的变更集写入 PostgreSQL
// 业务表、审计日志和 outbox 事件在同一个事务里提交
type LedgerRepository struct {
	db     *pgxpool.Pool
	outbox *outbox.Repository
	logger *zap.Logger
}

func NewLedgerRepository(db *pgxpool.Pool, outboxRepo *outbox.Repository, logger *zap.Logger) *LedgerRepository {
	return &LedgerRepository{db: db, outbox: outboxRepo, logger: logger}
}

// Commit 实现 store.Committer
func (r *LedgerRepository) Commit(ctx context.Context, cs store.ChangeSet) (err error) {
	start := time.Now()
	ctx, span := otel.DBSpan(ctx, "commit", "ledger")
	defer func() {
		metrics.RecordDBQueryDuration("commit", time.Since(start))
		otel.EndSpan(span, err)
	}()

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				r.logger.Error("Failed to rollback ledger transaction", zap.Error(rbErr))
			}
		}
	}()

	if err = r.writeState(ctx, tx, cs); err != nil {
		return err
	}
	for _, ev := range cs.Events {
		if err = r.appendEvent(ctx, tx, ev); err != nil {
			return err
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit ledger transaction: %w", err)
	}
	return nil
}

// writeState 用一个 batch 发送所有 upsert
func (r *LedgerRepository) writeState(ctx context.Context, tx pgx.Tx, cs store.ChangeSet) error {
	batch := &pgx.Batch{}

	if p := cs.Platform; p != nil {
		batch.Queue(`
			INSERT INTO platform_state (id, fee_basis_points, minimum_investment, maximum_investment_per_campaign,
				maximum_total_investment_per_contributor, fee_pool, fees_collected, fees_withdrawn, updated_at)
			VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO UPDATE SET
				fee_basis_points = EXCLUDED.fee_basis_points,
				minimum_investment = EXCLUDED.minimum_investment,
				maximum_investment_per_campaign = EXCLUDED.maximum_investment_per_campaign,
				maximum_total_investment_per_contributor = EXCLUDED.maximum_total_investment_per_contributor,
				fee_pool = EXCLUDED.fee_pool,
				fees_collected = EXCLUDED.fees_collected,
				fees_withdrawn = EXCLUDED.fees_withdrawn,
				updated_at = EXCLUDED.updated_at
		`,
			p.Config.FeeBasisPoints,
			p.Config.MinimumInvestment,
			p.Config.MaximumInvestmentPerCampaign,
			p.Config.MaximumTotalInvestmentPerContributor,
			p.FeePool,
			p.FeesCollected,
			p.FeesWithdrawn,
			p.UpdatedAt,
		)
	}

	// 活动必须先于其引用者写入
	for _, c := range cs.Campaigns {
		batch.Queue(`
			INSERT INTO campaigns (id, owner, title, description, target_amount, unit_price, deadline, status,
				raised_amount, milestone_ids, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (id) DO UPDATE SET
				status = EXCLUDED.status,
				raised_amount = EXCLUDED.raised_amount,
				milestone_ids = EXCLUDED.milestone_ids,
				updated_at = EXCLUDED.updated_at
		`,
			c.ID, c.Owner, c.Title, c.Description, c.TargetAmount, c.UnitPrice, c.Deadline,
			string(c.Status), c.RaisedAmount, milestoneIDs(c.MilestoneIDs), c.CreatedAt, c.UpdatedAt,
		)
	}

	for _, a := range cs.Escrows {
		batch.Queue(`
			INSERT INTO escrow_accounts (campaign_id, deposited, released, refunded, updated_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (campaign_id) DO UPDATE SET
				deposited = EXCLUDED.deposited,
				released = EXCLUDED.released,
				refunded = EXCLUDED.refunded,
				updated_at = EXCLUDED.updated_at
		`, a.CampaignID, a.Deposited, a.Released, a.Refunded, a.UpdatedAt)
	}

	for _, i := range cs.Investments {
		batch.Queue(`
			INSERT INTO investments (campaign_id, contributor_id, gross_amount, fee_amount, net_amount,
				entitlement_units, refunded, refunded_amount, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (campaign_id, contributor_id) DO UPDATE SET
				gross_amount = EXCLUDED.gross_amount,
				fee_amount = EXCLUDED.fee_amount,
				net_amount = EXCLUDED.net_amount,
				entitlement_units = EXCLUDED.entitlement_units,
				refunded = EXCLUDED.refunded,
				refunded_amount = EXCLUDED.refunded_amount,
				updated_at = EXCLUDED.updated_at
		`,
			i.CampaignID, i.ContributorID, i.GrossAmount, i.FeeAmount, i.NetAmount,
			i.EntitlementUnits, i.Refunded, i.RefundedAmount, i.CreatedAt, i.UpdatedAt,
		)
	}

	for _, m := range cs.Milestones {
		batch.Queue(`
			INSERT INTO milestones (campaign_id, idx, title, description, target_amount, voting_deadline, status,
				votes_for, votes_against, vote_count, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (campaign_id, idx) DO UPDATE SET
				title = EXCLUDED.title,
				description = EXCLUDED.description,
				target_amount = EXCLUDED.target_amount,
				voting_deadline = EXCLUDED.voting_deadline,
				status = EXCLUDED.status,
				votes_for = EXCLUDED.votes_for,
				votes_against = EXCLUDED.votes_against,
				vote_count = EXCLUDED.vote_count,
				updated_at = EXCLUDED.updated_at
		`,
			m.CampaignID, m.Index, m.Title, m.Description, m.TargetAmount, m.VotingDeadline,
			string(m.Status), m.VotesFor, m.VotesAgainst, m.VoteCount, m.CreatedAt, m.UpdatedAt,
		)
	}

	for _, v := range cs.Votes {
		batch.Queue(`
			INSERT INTO votes (campaign_id, milestone_index, contributor_id, in_favor, weight, void, cast_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (campaign_id, milestone_index, contributor_id) DO UPDATE SET
				in_favor = EXCLUDED.in_favor,
				weight = EXCLUDED.weight,
				void = EXCLUDED.void,
				cast_at = EXCLUDED.cast_at
		`, v.CampaignID, v.MilestoneIndex, v.ContributorID, v.InFavor, v.Weight, v.Void, v.CastAt)
	}

	for _, t := range cs.Transfers {
		batch.Queue(`
			INSERT INTO transfers (id, kind, campaign_id, recipient, amount, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, t.ID, string(t.Kind), nullableID(t.CampaignID), t.Recipient, t.Amount, t.CreatedAt)
	}

	if batch.Len() == 0 {
		return nil
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to write ledger state: %w", err)
	}
	return nil
}

// appendEvent 写审计日志并同时写 outbox，路由键即事件类型
func (r *LedgerRepository) appendEvent(ctx context.Context, tx pgx.Tx, ev model.AuditEvent) error {
	aggID := nullableID(ev.CampaignID)
	_, err := tx.Exec(ctx, `
		INSERT INTO audit_events (id, type, campaign_id, actor, trace_id, occurred_at, data)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, ev.ID, ev.Type, aggID, ev.Actor, ev.TraceID, ev.OccurredAt, []byte(ev.Data))
	if err != nil {
		return fmt.Errorf("failed to append audit event: %w", err)
	}

	aggregate := AggregateCampaign
	if aggID == nil {
		aggregate = AggregatePlatform
	}
	if err := outbox.InsertEventInTx(ctx, tx, r.outbox, ev.ID, aggregate, aggID, ev.Type, ev.TraceID, ev); err != nil {
		return fmt.Errorf("failed to write outbox event: %w", err)
	}
	return nil
}

// Events 实现引擎的 AuditLog，按写入顺序分页
func (r *LedgerRepository) Events(ctx context.Context, offset, limit int) ([]model.AuditEvent, error) {
	if offset < 0 {
		offset = 0
	}
	var lim *int
	if limit > 0 {
		lim = &limit
	}
	rows, err := r.db.Query(ctx, `
		SELECT id, type, campaign_id, actor, trace_id, occurred_at, data
		FROM audit_events
		ORDER BY seq ASC
		OFFSET $1
		LIMIT $2
	`, offset, lim)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []model.AuditEvent
	for rows.Next() {
		var (
			ev         model.AuditEvent
			campaignID *int64
		)
		if err := rows.Scan(&ev.ID, &ev.Type, &campaignID, &ev.Actor, &ev.TraceID, &ev.OccurredAt, &ev.Data); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		if campaignID != nil {
			ev.CampaignID = *campaignID
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// nullableID 平台级事件和手续费提取没有活动 ID
func nullableID(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}

func milestoneIDs(ids []int) []int64 {
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}
