package model

import "time"

// CampaignStatus 众筹活动状态
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignActive    CampaignStatus = "active"
	CampaignPaused    CampaignStatus = "paused"
	CampaignFunded    CampaignStatus = "funded"
	CampaignExpired   CampaignStatus = "expired"
	CampaignCancelled CampaignStatus = "cancelled"
)

// Terminal 终态不可再变更（Funded 仍可执行里程碑，但不再接受投资）
func (s CampaignStatus) Terminal() bool {
	return s == CampaignExpired || s == CampaignCancelled
}

// Campaign 众筹活动
type Campaign struct {
	ID           int64          `json:"id"`
	Owner        string         `json:"owner"`
	Title        string         `json:"title"`
	Description  string         `json:"description"`
	TargetAmount int64          `json:"target_amount"`
	UnitPrice    int64          `json:"unit_price"`
	Deadline     time.Time      `json:"deadline"`
	Status       CampaignStatus `json:"status"`
	RaisedAmount int64          `json:"raised_amount"` // 未退款的净投资总额
	MilestoneIDs []int          `json:"milestone_ids"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Investable 是否可以接受新的投资
func (c *Campaign) Investable(now time.Time) bool {
	return c.Status == CampaignActive && now.Before(c.Deadline)
}

// ExpiryDue 截止时间已过且状态仍为 Active/Paused
func (c *Campaign) ExpiryDue(now time.Time) bool {
	return (c.Status == CampaignActive || c.Status == CampaignPaused) && !now.Before(c.Deadline)
}
