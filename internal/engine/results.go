package engine

import (
	"fmt"

	"milestonefund/internal/model"
	"milestonefund/internal/service/campaign"
)

// 变更操作成功后返回完整的更新结果，调用方不需要再查询一次

type InvestResult struct {
	Investment model.Investment    `json:"investment"`
	NetAmount  int64               `json:"net_amount"` // 本次计入的净额
	FeeAmount  int64               `json:"fee_amount"` // 本次收取的手续费
	Campaign   model.Campaign      `json:"campaign"`
	Escrow     model.EscrowBalance `json:"escrow"`
	FeePool    int64               `json:"fee_pool"`
}

type RefundResult struct {
	Refund     model.Refund        `json:"refund"`
	Transfer   *model.Transfer     `json:"transfer,omitempty"` // 托管已全部放款时没有划转
	Investment model.Investment    `json:"investment"`
	Campaign   model.Campaign      `json:"campaign"`
	Escrow     model.EscrowBalance `json:"escrow"`
}

type CancelResult struct {
	Campaign         model.Campaign      `json:"campaign"`
	Settlement       campaign.Settlement `json:"settlement"`
	FailedMilestones []model.Milestone   `json:"failed_milestones"`
	Escrow           model.EscrowBalance `json:"escrow"`
}

type VoteResult struct {
	Milestone model.Milestone `json:"milestone"`
	Vote      model.Vote      `json:"vote"`
}

type ExecuteResult struct {
	Milestone model.Milestone     `json:"milestone"`
	Transfer  *model.Transfer     `json:"transfer,omitempty"` // 否决时为空
	Escrow    model.EscrowBalance `json:"escrow"`
}

type WithdrawResult struct {
	Amount   int64               `json:"amount"`
	Transfer model.Transfer      `json:"transfer"`
	Platform model.PlatformState `json:"platform"`
}

// FeeQuote 按当前费率试算手续费
type FeeQuote struct {
	GrossAmount    int64 `json:"gross_amount"`
	FeeBasisPoints int64 `json:"fee_basis_points"`
	FeeAmount      int64 `json:"fee_amount"`
	NetAmount      int64 `json:"net_amount"`
}

// InvestmentLimits 平台投资限额，0 表示不限制
type InvestmentLimits struct {
	MinimumInvestment                    int64 `json:"minimum_investment"`
	MaximumInvestmentPerCampaign         int64 `json:"maximum_investment_per_campaign"`
	MaximumTotalInvestmentPerContributor int64 `json:"maximum_total_investment_per_contributor"`
}

func (l InvestmentLimits) validate() error {
	if l.MinimumInvestment < 0 || l.MaximumInvestmentPerCampaign < 0 || l.MaximumTotalInvestmentPerContributor < 0 {
		return fmt.Errorf("%w: limits must not be negative", model.ErrValidation)
	}
	if l.MaximumInvestmentPerCampaign > 0 && l.MaximumInvestmentPerCampaign < l.MinimumInvestment {
		return fmt.Errorf("%w: per-campaign maximum below minimum investment", model.ErrValidation)
	}
	if l.MaximumTotalInvestmentPerContributor > 0 && l.MaximumTotalInvestmentPerContributor < l.MinimumInvestment {
		return fmt.Errorf("%w: per-contributor maximum below minimum investment", model.ErrValidation)
	}
	return nil
}
