package engine

import (
	"context"

	"milestonefund/internal/model"
	"milestonefund/internal/service/fee"
)

func (e *Engine) GetCampaign(ctx context.Context, campaignID int64) (model.Campaign, error) {
	var out model.Campaign
	err := e.read(ctx, "get_campaign", campaignID, func() error {
		c, err := e.campaign(campaignID)
		out = c
		return err
	})
	return out, err
}

// ListCampaigns 所有活动，逐个应用到期的状态转换
func (e *Engine) ListCampaigns(ctx context.Context) ([]model.Campaign, error) {
	ids := e.registry.IDs()
	out := make([]model.Campaign, 0, len(ids))
	for _, id := range ids {
		c, err := e.GetCampaign(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (e *Engine) GetMilestone(ctx context.Context, campaignID int64, index int) (model.Milestone, error) {
	var out model.Milestone
	err := e.read(ctx, "get_milestone", campaignID, func() error {
		if _, err := e.registry.Get(campaignID); err != nil {
			return err
		}
		m, err := e.governor.Get(campaignID, index)
		out = m
		return err
	})
	return out, err
}

func (e *Engine) ListMilestones(ctx context.Context, campaignID int64) ([]model.Milestone, error) {
	var out []model.Milestone
	err := e.read(ctx, "list_milestones", campaignID, func() error {
		if _, err := e.registry.Get(campaignID); err != nil {
			return err
		}
		out = e.governor.List(campaignID)
		return nil
	})
	return out, err
}

func (e *Engine) GetInvestment(ctx context.Context, campaignID int64, contributorID string) (model.Investment, error) {
	var out model.Investment
	err := e.read(ctx, "get_investment", campaignID, func() error {
		if _, err := e.registry.Get(campaignID); err != nil {
			return err
		}
		inv, err := e.ledger.GetInvestment(campaignID, contributorID)
		out = inv
		return err
	})
	return out, err
}

// GetCampaignContributors 按首次投资顺序返回投资记录（包含已退款的）
func (e *Engine) GetCampaignContributors(ctx context.Context, campaignID int64) ([]model.Investment, error) {
	var out []model.Investment
	err := e.read(ctx, "get_contributors", campaignID, func() error {
		if _, err := e.registry.Get(campaignID); err != nil {
			return err
		}
		out = e.ledger.Contributors(campaignID)
		return nil
	})
	return out, err
}

func (e *Engine) GetMilestoneVotingStatus(ctx context.Context, campaignID int64, index int) (model.VotingStatus, error) {
	var out model.VotingStatus
	err := e.read(ctx, "get_voting_status", campaignID, func() error {
		if _, err := e.registry.Get(campaignID); err != nil {
			return err
		}
		st, err := e.governor.VotingStatus(e.now(), campaignID, index)
		out = st
		return err
	})
	return out, err
}

// GetMilestoneVotes 里程碑上已记录的投票（包含作废的）
func (e *Engine) GetMilestoneVotes(ctx context.Context, campaignID int64, index int) ([]model.Vote, error) {
	var out []model.Vote
	err := e.read(ctx, "get_votes", campaignID, func() error {
		if _, err := e.governor.Get(campaignID, index); err != nil {
			return err
		}
		out = e.governor.Votes(campaignID, index)
		return nil
	})
	return out, err
}

func (e *Engine) GetEscrowBalance(ctx context.Context, campaignID int64) (model.EscrowBalance, error) {
	var out model.EscrowBalance
	err := e.read(ctx, "get_escrow_balance", campaignID, func() error {
		bal, err := e.escrowBalance(campaignID)
		out = bal
		return err
	})
	return out, err
}

// CalculatePlatformFee 按当前费率试算
func (e *Engine) CalculatePlatformFee(gross int64) (FeeQuote, error) {
	e.platformMu.RLock()
	bps := e.escrow.Config().FeeBasisPoints
	e.platformMu.RUnlock()

	f, net, err := fee.Compute(gross, bps)
	if err != nil {
		return FeeQuote{}, err
	}
	return FeeQuote{GrossAmount: gross, FeeBasisPoints: bps, FeeAmount: f, NetAmount: net}, nil
}

func (e *Engine) GetPlatformConfig() model.PlatformConfig {
	e.platformMu.RLock()
	defer e.platformMu.RUnlock()
	return e.escrow.Config()
}

// GetPlatformState 平台配置和手续费池
func (e *Engine) GetPlatformState() model.PlatformState {
	e.platformMu.RLock()
	defer e.platformMu.RUnlock()
	return e.escrow.Platform()
}
