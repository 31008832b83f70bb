package model

import (
	"encoding/json"
	"time"
)

// 审计事件类型，同时作为 MQ routing key
const (
	EventCampaignCreated   = "campaign.created"
	EventCampaignPaused    = "campaign.paused"
	EventCampaignUnpaused  = "campaign.unpaused"
	EventCampaignFunded    = "campaign.funded"
	EventCampaignExpired   = "campaign.expired"
	EventCampaignCancelled = "campaign.cancelled"

	EventInvestmentRecorded = "investment.recorded"
	EventInvestmentRefunded = "investment.refunded"

	EventMilestoneCreated  = "milestone.created"
	EventMilestoneUpdated  = "milestone.updated"
	EventMilestoneDeleted  = "milestone.deleted"
	EventMilestoneVoted    = "milestone.voted"
	EventMilestoneClosed   = "milestone.closed"
	EventMilestoneExecuted = "milestone.executed"
	EventMilestoneFailed   = "milestone.failed"

	EventEscrowReleased = "escrow.released"
	EventEscrowRefunded = "escrow.refunded"

	EventPlatformFeeUpdated    = "platform.fee_updated"
	EventPlatformLimitsUpdated = "platform.limits_updated"
	EventPlatformFeesWithdrawn = "platform.fees_withdrawn"
)

// AuditEvent 已提交变更的追加式审计记录
type AuditEvent struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	CampaignID int64           `json:"campaign_id,omitempty"`
	Actor      string          `json:"actor"`
	TraceID    string          `json:"trace_id,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}
