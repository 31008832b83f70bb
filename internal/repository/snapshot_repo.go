package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"milestonefund/internal/model"
	"milestonefund/internal/store"
	"milestonefund/pkg/otel"
)

// LoadSnapshot 读取全部已提交状态，进程启动时交给 engine.Hydrate
func (r *LedgerRepository) LoadSnapshot(ctx context.Context) (snap store.Snapshot, err error) {
	ctx, span := otel.DBSpan(ctx, "select", "snapshot")
	defer func() { otel.EndSpan(span, err) }()

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return snap, fmt.Errorf("failed to begin snapshot transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if snap.Platform, err = loadPlatform(ctx, tx); err != nil {
		return snap, err
	}
	if snap.Campaigns, err = loadCampaigns(ctx, tx); err != nil {
		return snap, err
	}
	if snap.Investments, err = loadInvestments(ctx, tx); err != nil {
		return snap, err
	}
	if snap.Milestones, err = loadMilestones(ctx, tx); err != nil {
		return snap, err
	}
	if snap.Votes, err = loadVotes(ctx, tx); err != nil {
		return snap, err
	}
	if snap.Escrows, err = loadEscrows(ctx, tx); err != nil {
		return snap, err
	}
	return snap, nil
}

// loadPlatform 表为空（首次启动）时返回 nil，由引擎使用配置文件中的默认值
func loadPlatform(ctx context.Context, tx pgx.Tx) (*model.PlatformState, error) {
	var p model.PlatformState
	err := tx.QueryRow(ctx, `
		SELECT fee_basis_points, minimum_investment, maximum_investment_per_campaign,
			maximum_total_investment_per_contributor, fee_pool, fees_collected, fees_withdrawn, updated_at
		FROM platform_state
		WHERE id = 1
	`).Scan(
		&p.Config.FeeBasisPoints,
		&p.Config.MinimumInvestment,
		&p.Config.MaximumInvestmentPerCampaign,
		&p.Config.MaximumTotalInvestmentPerContributor,
		&p.FeePool,
		&p.FeesCollected,
		&p.FeesWithdrawn,
		&p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load platform state: %w", err)
	}
	return &p, nil
}

func loadCampaigns(ctx context.Context, tx pgx.Tx) ([]model.Campaign, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, owner, title, description, target_amount, unit_price, deadline, status,
			raised_amount, milestone_ids, created_at, updated_at
		FROM campaigns
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to load campaigns: %w", err)
	}
	defer rows.Close()

	var out []model.Campaign
	for rows.Next() {
		var (
			c      model.Campaign
			status string
			ids    []int64
		)
		if err := rows.Scan(&c.ID, &c.Owner, &c.Title, &c.Description, &c.TargetAmount, &c.UnitPrice,
			&c.Deadline, &status, &c.RaisedAmount, &ids, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan campaign: %w", err)
		}
		c.Status = model.CampaignStatus(status)
		for _, id := range ids {
			c.MilestoneIDs = append(c.MilestoneIDs, int(id))
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func loadInvestments(ctx context.Context, tx pgx.Tx) ([]model.Investment, error) {
	rows, err := tx.Query(ctx, `
		SELECT campaign_id, contributor_id, gross_amount, fee_amount, net_amount,
			entitlement_units, refunded, refunded_amount, created_at, updated_at
		FROM investments
		ORDER BY campaign_id, created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to load investments: %w", err)
	}
	defer rows.Close()

	var out []model.Investment
	for rows.Next() {
		var i model.Investment
		if err := rows.Scan(&i.CampaignID, &i.ContributorID, &i.GrossAmount, &i.FeeAmount, &i.NetAmount,
			&i.EntitlementUnits, &i.Refunded, &i.RefundedAmount, &i.CreatedAt, &i.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan investment: %w", err)
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

func loadMilestones(ctx context.Context, tx pgx.Tx) ([]model.Milestone, error) {
	rows, err := tx.Query(ctx, `
		SELECT campaign_id, idx, title, description, target_amount, voting_deadline, status,
			votes_for, votes_against, vote_count, created_at, updated_at
		FROM milestones
		ORDER BY campaign_id, idx
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to load milestones: %w", err)
	}
	defer rows.Close()

	var out []model.Milestone
	for rows.Next() {
		var (
			m      model.Milestone
			status string
		)
		if err := rows.Scan(&m.CampaignID, &m.Index, &m.Title, &m.Description, &m.TargetAmount,
			&m.VotingDeadline, &status, &m.VotesFor, &m.VotesAgainst, &m.VoteCount,
			&m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan milestone: %w", err)
		}
		m.Status = model.MilestoneStatus(status)
		out = append(out, m)
	}
	return out, rows.Err()
}

func loadVotes(ctx context.Context, tx pgx.Tx) ([]model.Vote, error) {
	rows, err := tx.Query(ctx, `
		SELECT campaign_id, milestone_index, contributor_id, in_favor, weight, void, cast_at
		FROM votes
		ORDER BY campaign_id, milestone_index, cast_at
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to load votes: %w", err)
	}
	defer rows.Close()

	var out []model.Vote
	for rows.Next() {
		var v model.Vote
		if err := rows.Scan(&v.CampaignID, &v.MilestoneIndex, &v.ContributorID, &v.InFavor,
			&v.Weight, &v.Void, &v.CastAt); err != nil {
			return nil, fmt.Errorf("failed to scan vote: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func loadEscrows(ctx context.Context, tx pgx.Tx) ([]model.EscrowAccount, error) {
	rows, err := tx.Query(ctx, `
		SELECT campaign_id, deposited, released, refunded, updated_at
		FROM escrow_accounts
		ORDER BY campaign_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to load escrow accounts: %w", err)
	}
	defer rows.Close()

	var out []model.EscrowAccount
	for rows.Next() {
		var a model.EscrowAccount
		if err := rows.Scan(&a.CampaignID, &a.Deposited, &a.Released, &a.Refunded, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan escrow account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
