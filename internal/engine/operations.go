package engine

import (
	"context"
	"fmt"
	"strings"

	"milestonefund/internal/model"
	"milestonefund/internal/service/campaign"
	"milestonefund/internal/service/escrow"
	"milestonefund/internal/service/fee"
	"milestonefund/internal/service/governor"
	"milestonefund/internal/store"
	"milestonefund/pkg/rbac"
)

// CreateCampaign 调用者成为活动发起人
func (e *Engine) CreateCampaign(ctx context.Context, actor model.Actor, in campaign.CreateInput) (model.Campaign, error) {
	id := e.registry.ReserveID()
	var out model.Campaign
	err := e.mutate(ctx, call{op: "create_campaign", actor: actor, campaignID: id}, func(tx *store.Txn) error {
		c, err := e.registry.Create(tx, id, actor.ID, in)
		if err != nil {
			return err
		}
		out = *c
		return nil
	})
	return out, err
}

func (e *Engine) PauseCampaign(ctx context.Context, actor model.Actor, campaignID int64) (model.Campaign, error) {
	var out model.Campaign
	err := e.mutate(ctx, call{op: "pause_campaign", actor: actor, campaignID: campaignID}, func(tx *store.Txn) error {
		c, err := e.registry.Pause(tx, actor, campaignID)
		if err != nil {
			return err
		}
		out = *c
		return nil
	})
	return out, err
}

func (e *Engine) UnpauseCampaign(ctx context.Context, actor model.Actor, campaignID int64) (model.Campaign, error) {
	var out model.Campaign
	err := e.mutate(ctx, call{op: "unpause_campaign", actor: actor, campaignID: campaignID}, func(tx *store.Txn) error {
		c, err := e.registry.Unpause(tx, actor, campaignID)
		if err != nil {
			return err
		}
		out = *c
		return nil
	})
	return out, err
}

// CancelCampaign 管理员紧急取消：退回剩余托管，未执行的里程碑全部失败
func (e *Engine) CancelCampaign(ctx context.Context, actor model.Actor, campaignID int64) (CancelResult, error) {
	var out CancelResult
	err := e.mutate(ctx, call{op: "cancel_campaign", actor: actor, campaignID: campaignID}, func(tx *store.Txn) error {
		c, s, err := e.registry.Cancel(tx, actor, campaignID)
		if err != nil {
			return err
		}
		failed := e.governor.Abandon(tx, campaignID)
		bal, err := e.escrowBalance(campaignID)
		if err != nil {
			return err
		}
		out = CancelResult{Campaign: *c, Settlement: s, FailedMilestones: failed, Escrow: bal}
		return nil
	})
	return out, err
}

// EvaluateExpiry 显式触发过期检查，重复调用结果相同
func (e *Engine) EvaluateExpiry(ctx context.Context, campaignID int64) (model.Campaign, error) {
	var out model.Campaign
	err := e.read(ctx, "evaluate_expiry", campaignID, func() error {
		c, err := e.campaign(campaignID)
		out = c
		return err
	})
	return out, err
}

// Invest 调用者向活动投资 gross，手续费进入平台费用池，净额进入托管
func (e *Engine) Invest(ctx context.Context, actor model.Actor, campaignID, gross int64) (InvestResult, error) {
	var out InvestResult
	err := e.mutate(ctx, call{op: "invest", actor: actor, campaignID: campaignID, platform: true}, func(tx *store.Txn) error {
		before, _ := e.ledger.GetInvestment(campaignID, actor.ID)
		inv, net, err := e.ledger.RecordInvestment(tx, campaignID, actor.ID, gross)
		if err != nil {
			return err
		}
		c, err := e.campaign(campaignID)
		if err != nil {
			return err
		}
		bal, err := e.escrowBalance(campaignID)
		if err != nil {
			return err
		}
		out = InvestResult{
			Investment: *inv,
			NetAmount:  net,
			FeeAmount:  inv.FeeAmount - before.FeeAmount,
			Campaign:   c,
			Escrow:     bal,
			FeePool:    e.escrow.Platform().FeePool,
		}
		return nil
	})
	return out, err
}

// RefundContributor 注销一个贡献者的投资并退回托管中的对应金额
// 贡献者本人可以在活动 Active/Paused 时退出；管理员在 Funded 时也可以强制退款
func (e *Engine) RefundContributor(ctx context.Context, actor model.Actor, campaignID int64, contributorID string) (RefundResult, error) {
	contributorID = strings.TrimSpace(contributorID)
	var out RefundResult
	err := e.mutate(ctx, call{op: "refund_contributor", actor: actor, campaignID: campaignID}, func(tx *store.Txn) error {
		c, err := e.registry.Get(campaignID)
		if err != nil {
			return err
		}
		if err := authorizeRefund(actor, c, contributorID); err != nil {
			return err
		}
		r, err := e.ledger.Refund(tx, campaignID, contributorID)
		if err != nil {
			return err
		}
		var transfer *model.Transfer
		if r.Amount > 0 {
			tr, err := e.escrow.RefundTransfer(tx, escrow.AuthorityLedger, campaignID, contributorID, r.Amount)
			if err != nil {
				return err
			}
			transfer = &tr
		}
		e.governor.VoidVotes(tx, campaignID, contributorID)

		inv, err := e.ledger.GetInvestment(campaignID, contributorID)
		if err != nil {
			return err
		}
		bal, err := e.escrowBalance(campaignID)
		if err != nil {
			return err
		}
		out = RefundResult{Refund: r, Transfer: transfer, Investment: inv, Campaign: *c, Escrow: bal}
		return nil
	})
	return out, err
}

func authorizeRefund(actor model.Actor, c *model.Campaign, contributorID string) error {
	if contributorID == "" {
		return fmt.Errorf("%w: empty contributor", model.ErrValidation)
	}
	admin := rbac.HasPermission(actor.Role, rbac.PermissionRefundInvestment) && actor.ID != ""
	if actor.ID != contributorID && !admin {
		return fmt.Errorf("%w: %q cannot refund %q", model.ErrNotAuthorized, actor.ID, contributorID)
	}
	switch c.Status {
	case model.CampaignActive, model.CampaignPaused:
		return nil
	case model.CampaignFunded:
		if admin {
			return nil
		}
	}
	return fmt.Errorf("%w: campaign %d is %s", model.ErrInvalidStatus, c.ID, c.Status)
}

func (e *Engine) CreateMilestone(ctx context.Context, actor model.Actor, campaignID int64, in governor.MilestoneInput) (model.Milestone, error) {
	var out model.Milestone
	err := e.mutate(ctx, call{op: "create_milestone", actor: actor, campaignID: campaignID}, func(tx *store.Txn) error {
		m, err := e.governor.CreateMilestone(tx, actor, campaignID, in)
		if err != nil {
			return err
		}
		out = *m
		return nil
	})
	return out, err
}

func (e *Engine) UpdateMilestone(ctx context.Context, actor model.Actor, campaignID int64, index int, in governor.MilestoneUpdate) (model.Milestone, error) {
	var out model.Milestone
	err := e.mutate(ctx, call{op: "update_milestone", actor: actor, campaignID: campaignID}, func(tx *store.Txn) error {
		m, err := e.governor.UpdateMilestone(tx, actor, campaignID, index, in)
		if err != nil {
			return err
		}
		out = *m
		return nil
	})
	return out, err
}

func (e *Engine) DeleteMilestone(ctx context.Context, actor model.Actor, campaignID int64, index int) (model.Milestone, error) {
	var out model.Milestone
	err := e.mutate(ctx, call{op: "delete_milestone", actor: actor, campaignID: campaignID}, func(tx *store.Txn) error {
		m, err := e.governor.DeleteMilestone(tx, actor, campaignID, index)
		if err != nil {
			return err
		}
		out = *m
		return nil
	})
	return out, err
}

// Vote 调用者以当前净投资额为权重投票，重复投票覆盖之前的选择
func (e *Engine) Vote(ctx context.Context, actor model.Actor, campaignID int64, index int, inFavor bool) (VoteResult, error) {
	var out VoteResult
	err := e.mutate(ctx, call{op: "vote", actor: actor, campaignID: campaignID}, func(tx *store.Txn) error {
		m, v, err := e.governor.CastVote(tx, campaignID, index, actor.ID, inFavor)
		if err != nil {
			return err
		}
		out = VoteResult{Milestone: *m, Vote: *v}
		return nil
	})
	return out, err
}

// ExecuteMilestone 投票结束后任何人都可以触发执行
func (e *Engine) ExecuteMilestone(ctx context.Context, actor model.Actor, campaignID int64, index int) (ExecuteResult, error) {
	var out ExecuteResult
	err := e.mutate(ctx, call{op: "execute_milestone", actor: actor, campaignID: campaignID}, func(tx *store.Txn) error {
		m, tr, err := e.governor.Execute(tx, campaignID, index)
		if err != nil {
			return err
		}
		bal, err := e.escrowBalance(campaignID)
		if err != nil {
			return err
		}
		out = ExecuteResult{Milestone: *m, Transfer: tr, Escrow: bal}
		return nil
	})
	return out, err
}

// SetPlatformFeeBasisPoints 平台所有者修改费率，只影响之后的投资
func (e *Engine) SetPlatformFeeBasisPoints(ctx context.Context, actor model.Actor, bps int64) (model.PlatformConfig, error) {
	var out model.PlatformConfig
	err := e.mutate(ctx, call{op: "set_fee", actor: actor, platform: true}, func(tx *store.Txn) error {
		prev := e.escrow.Config().FeeBasisPoints
		cfg, err := e.escrow.UpdateConfig(tx, actor, rbac.PermissionSetFee, func(cfg *model.PlatformConfig) error {
			if err := fee.ValidateRate(bps); err != nil {
				return err
			}
			cfg.FeeBasisPoints = bps
			return nil
		})
		if err != nil {
			return err
		}
		tx.Emit(model.EventPlatformFeeUpdated, 0, map[string]int64{"previous_bps": prev, "fee_basis_points": bps})
		out = cfg
		return nil
	})
	return out, err
}

// SetInvestmentLimits 平台所有者修改投资限额，0 表示不限制
func (e *Engine) SetInvestmentLimits(ctx context.Context, actor model.Actor, limits InvestmentLimits) (model.PlatformConfig, error) {
	var out model.PlatformConfig
	err := e.mutate(ctx, call{op: "set_limits", actor: actor, platform: true}, func(tx *store.Txn) error {
		cfg, err := e.escrow.UpdateConfig(tx, actor, rbac.PermissionSetLimits, func(cfg *model.PlatformConfig) error {
			if err := limits.validate(); err != nil {
				return err
			}
			cfg.MinimumInvestment = limits.MinimumInvestment
			cfg.MaximumInvestmentPerCampaign = limits.MaximumInvestmentPerCampaign
			cfg.MaximumTotalInvestmentPerContributor = limits.MaximumTotalInvestmentPerContributor
			return nil
		})
		if err != nil {
			return err
		}
		tx.Emit(model.EventPlatformLimitsUpdated, 0, limits)
		out = cfg
		return nil
	})
	return out, err
}

// WithdrawPlatformFees 平台所有者提取全部手续费
func (e *Engine) WithdrawPlatformFees(ctx context.Context, actor model.Actor, recipient string) (WithdrawResult, error) {
	var out WithdrawResult
	err := e.mutate(ctx, call{op: "withdraw_fees", actor: actor, platform: true}, func(tx *store.Txn) error {
		amount, tr, err := e.escrow.WithdrawPlatformFees(tx, actor, recipient)
		if err != nil {
			return err
		}
		out = WithdrawResult{Amount: amount, Transfer: tr, Platform: e.escrow.Platform()}
		return nil
	})
	return out, err
}
