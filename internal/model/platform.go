package model

import "time"

// MaxFeeBasisPoints 平台费率上限（10%）
const MaxFeeBasisPoints = 1000

// PlatformConfig 平台级配置，只能由平台所有者修改
type PlatformConfig struct {
	FeeBasisPoints                       int64 `json:"fee_basis_points"`
	MinimumInvestment                    int64 `json:"minimum_investment"`
	MaximumInvestmentPerCampaign         int64 `json:"maximum_investment_per_campaign"`          // 0 表示不限制
	MaximumTotalInvestmentPerContributor int64 `json:"maximum_total_investment_per_contributor"` // 0 表示不限制
}

// PlatformState 平台配置与手续费池，与任何活动的托管账户分离
type PlatformState struct {
	Config        PlatformConfig `json:"config"`
	FeePool       int64          `json:"fee_pool"`
	FeesCollected int64          `json:"fees_collected"`
	FeesWithdrawn int64          `json:"fees_withdrawn"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Actor 每次调用显式携带的调用者身份
type Actor struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}
