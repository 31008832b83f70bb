package model

import "time"

// EscrowAccount 活动托管账户
type EscrowAccount struct {
	CampaignID int64     `json:"campaign_id"`
	Deposited  int64     `json:"deposited"` // 累计存入的净投资
	Released   int64     `json:"released"`  // 累计放款给发起人
	Refunded   int64     `json:"refunded"`  // 累计退回给贡献者
	UpdatedAt  time.Time `json:"updated_at"`
}

// Balance 当前托管余额
func (a *EscrowAccount) Balance() int64 {
	return a.Deposited - a.Released - a.Refunded
}

// TransferKind 资金划转类型
type TransferKind string

const (
	TransferRelease       TransferKind = "release"
	TransferRefund        TransferKind = "refund"
	TransferFeeWithdrawal TransferKind = "fee_withdrawal"
)

// Transfer 一笔已授权的资金划转，由外部钱包组件订阅审计日志后执行
type Transfer struct {
	ID         string       `json:"id"`
	Kind       TransferKind `json:"kind"`
	CampaignID int64        `json:"campaign_id,omitempty"`
	Recipient  string       `json:"recipient"`
	Amount     int64        `json:"amount"`
	CreatedAt  time.Time    `json:"created_at"`
}

// EscrowBalance 托管余额查询结果
type EscrowBalance struct {
	CampaignID   int64 `json:"campaign_id"`
	RaisedAmount int64 `json:"raised_amount"`
	Deposited    int64 `json:"deposited"`
	Released     int64 `json:"released"`
	Refunded     int64 `json:"refunded"`
	Balance      int64 `json:"balance"`
}
