package model

import (
	"math"
	"time"
)

// Investment 某个贡献者在某个活动中的投资记录，重复投资累加，退款后清零但不删除
type Investment struct {
	CampaignID       int64     `json:"campaign_id"`
	ContributorID    string    `json:"contributor_id"`
	GrossAmount      int64     `json:"gross_amount"`
	FeeAmount        int64     `json:"fee_amount"`
	NetAmount        int64     `json:"net_amount"`
	EntitlementUnits int64     `json:"entitlement_units"`
	Refunded         bool      `json:"refunded"`
	RefundedAmount   int64     `json:"refunded_amount"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// AddOverflows sum+delta 是否超出 int64
func AddOverflows(sum, delta int64) bool {
	return delta > 0 && sum > math.MaxInt64-delta
}

// Active 是否为有效（未退款）投资
func (i *Investment) Active() bool {
	return i != nil && !i.Refunded && i.NetAmount > 0
}

// Refund 单个贡献者的退款结果
type Refund struct {
	ContributorID string `json:"contributor_id"`
	NetAmount     int64  `json:"net_amount"` // 被注销的净投资
	Amount        int64  `json:"amount"`     // 实际从托管账户退回的金额
}
