package model

import "time"

// MilestoneStatus 里程碑状态
type MilestoneStatus string

const (
	MilestoneOpen     MilestoneStatus = "open"
	MilestoneApproved MilestoneStatus = "approved"
	MilestoneRejected MilestoneStatus = "rejected"
	MilestoneExecuted MilestoneStatus = "executed"
	MilestoneFailed   MilestoneStatus = "failed"
	MilestoneDeleted  MilestoneStatus = "deleted"
)

// Milestone 由贡献者投票决定是否放款的资金分期
type Milestone struct {
	CampaignID     int64           `json:"campaign_id"`
	Index          int             `json:"index"`
	Title          string          `json:"title"`
	Description    string          `json:"description"`
	TargetAmount   int64           `json:"target_amount"`
	VotingDeadline time.Time       `json:"voting_deadline"`
	Status         MilestoneStatus `json:"status"`
	VotesFor       int64           `json:"votes_for"`     // 赞成票权重之和
	VotesAgainst   int64           `json:"votes_against"` // 反对票权重之和
	VoteCount      int             `json:"vote_count"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Vote 贡献者对里程碑的投票，重复投票覆盖之前的记录
type Vote struct {
	CampaignID     int64     `json:"campaign_id"`
	MilestoneIndex int       `json:"milestone_index"`
	ContributorID  string    `json:"contributor_id"`
	InFavor        bool      `json:"in_favor"`
	Weight         int64     `json:"weight"`
	Void           bool      `json:"void"` // 投票人退款后作废
	CastAt         time.Time `json:"cast_at"`
}

// VotingStatus 里程碑投票进度（只读视图）
type VotingStatus struct {
	CampaignID           int64           `json:"campaign_id"`
	MilestoneIndex       int             `json:"milestone_index"`
	Status               MilestoneStatus `json:"status"`
	VotesFor             int64           `json:"votes_for"`
	VotesAgainst         int64           `json:"votes_against"`
	TotalVotingPower     int64           `json:"total_voting_power"`
	ApprovalPercent      string          `json:"approval_percent"`
	ParticipationPercent string          `json:"participation_percent"`
	VotingDeadline       time.Time       `json:"voting_deadline"`
	VotingEnded          bool            `json:"voting_ended"`
	WouldPass            bool            `json:"would_pass"`
}
