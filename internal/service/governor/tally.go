package governor

import (
	"github.com/shopspring/decimal"

	"milestonefund/internal/model"
)

const bpsDenominator = 10000

var hundred = decimal.NewFromInt(100)

// Thresholds 投票通过条件（基点）
type Thresholds struct {
	ApprovalBps      int64
	ParticipationBps int64
}

// Approved 赞成比例 >= 通过阈值 且 参与比例 >= 参与阈值
// 没有任何投票时一律否决
func (th Thresholds) Approved(votesFor, votesAgainst, totalPower int64) bool {
	cast := votesFor + votesAgainst
	if cast <= 0 || totalPower <= 0 {
		return false
	}
	denom := decimal.NewFromInt(bpsDenominator)
	castD := decimal.NewFromInt(cast)

	approval := decimal.NewFromInt(votesFor).Mul(denom)
	if approval.LessThan(decimal.NewFromInt(th.ApprovalBps).Mul(castD)) {
		return false
	}
	participation := castD.Mul(denom)
	return !participation.LessThan(decimal.NewFromInt(th.ParticipationBps).Mul(decimal.NewFromInt(totalPower)))
}

// Decide 截止后的投票结果
func (th Thresholds) Decide(m *model.Milestone, totalPower int64) model.MilestoneStatus {
	if th.Approved(m.VotesFor, m.VotesAgainst, totalPower) {
		return model.MilestoneApproved
	}
	return model.MilestoneRejected
}

// percent part*100/whole，保留两位小数
func percent(part, whole int64) string {
	if whole <= 0 {
		return "0.00"
	}
	return decimal.NewFromInt(part).Mul(hundred).DivRound(decimal.NewFromInt(whole), 2).StringFixed(2)
}
