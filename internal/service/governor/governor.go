package governor

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"milestonefund/internal/model"
	"milestonefund/internal/service/escrow"
	"milestonefund/internal/store"
	"milestonefund/pkg/rbac"
)

// Config 投票规则
type Config struct {
	Thresholds
	MinVotingDuration        time.Duration
	MaxVotingDuration        time.Duration
	MaxMilestonesPerCampaign int // 0 表示不限制
}

// Campaigns 登记处中治理需要的部分
type Campaigns interface {
	Get(campaignID int64) (*model.Campaign, error)
	AppendMilestone(tx *store.Txn, campaignID int64, index int) error
}

// Weights 台账提供的投票权重
type Weights interface {
	VotingWeight(campaignID int64, contributorID string) int64
	TotalVotingPower(campaignID int64) int64
}

// Escrow 治理只能通过 Release 从托管放款
type Escrow interface {
	Balance(campaignID int64) (int64, error)
	Release(tx *store.Txn, auth escrow.Authority, campaignID int64, recipient string, amount int64) (model.Transfer, error)
}

// MilestoneInput 创建里程碑的参数
type MilestoneInput struct {
	Title          string
	Description    string
	TargetAmount   int64
	VotingDuration time.Duration
}

// MilestoneUpdate 修改里程碑，nil 字段保持不变
type MilestoneUpdate struct {
	Title        *string
	Description  *string
	TargetAmount *int64
}

type milestoneKey struct {
	campaignID int64
	index      int
}

// Governor 里程碑定义、投票窗口、加权计票和放款决定
type Governor struct {
	cfg       Config
	campaigns Campaigns
	weights   Weights
	escrow    Escrow

	mu         sync.RWMutex
	milestones map[int64][]*model.Milestone
	votes      map[milestoneKey]map[string]*model.Vote
}

func New(cfg Config, campaigns Campaigns, weights Weights, escrow Escrow) *Governor {
	return &Governor{
		cfg:        cfg,
		campaigns:  campaigns,
		weights:    weights,
		escrow:     escrow,
		milestones: make(map[int64][]*model.Milestone),
		votes:      make(map[milestoneKey]map[string]*model.Vote),
	}
}

// CreateMilestone 发起人为活动添加里程碑，投票窗口从现在开始
func (g *Governor) CreateMilestone(tx *store.Txn, actor model.Actor, campaignID int64, in MilestoneInput) (*model.Milestone, error) {
	c, err := g.campaigns.Get(campaignID)
	if err != nil {
		return nil, err
	}
	if actor.ID == "" || actor.ID != c.Owner {
		return nil, fmt.Errorf("%w: only the campaign owner can add milestones", model.ErrNotAuthorized)
	}
	if c.Status != model.CampaignActive && c.Status != model.CampaignFunded {
		return nil, fmt.Errorf("%w: campaign %d is %s", model.ErrInvalidStatus, campaignID, c.Status)
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: empty milestone title", model.ErrValidation)
	}
	if in.VotingDuration < g.cfg.MinVotingDuration || in.VotingDuration > g.cfg.MaxVotingDuration {
		return nil, fmt.Errorf("%w: %s not within [%s, %s]", model.ErrInvalidDuration, in.VotingDuration, g.cfg.MinVotingDuration, g.cfg.MaxVotingDuration)
	}
	if err := g.checkAmount(campaignID, -1, in.TargetAmount); err != nil {
		return nil, err
	}

	list := g.list(campaignID)
	if g.cfg.MaxMilestonesPerCampaign > 0 {
		live := 0
		for _, m := range list {
			if m.Status != model.MilestoneDeleted {
				live++
			}
		}
		if live >= g.cfg.MaxMilestonesPerCampaign {
			return nil, fmt.Errorf("%w: campaign %d already has %d milestones", model.ErrValidation, campaignID, live)
		}
	}

	now := tx.Now()
	m := &model.Milestone{
		CampaignID:     campaignID,
		Index:          len(list),
		Title:          title,
		Description:    strings.TrimSpace(in.Description),
		TargetAmount:   in.TargetAmount,
		VotingDeadline: now.Add(in.VotingDuration),
		Status:         model.MilestoneOpen,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	g.mu.Lock()
	g.milestones[campaignID] = append(g.milestones[campaignID], m)
	g.mu.Unlock()
	tx.OnRollback(func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		ms := g.milestones[campaignID]
		if n := len(ms); n > 0 && ms[n-1] == m {
			g.milestones[campaignID] = ms[:n-1]
		}
	})
	tx.Milestone(m)

	if err := g.campaigns.AppendMilestone(tx, campaignID, m.Index); err != nil {
		return nil, err
	}
	tx.Emit(model.EventMilestoneCreated, campaignID, m)
	return m, nil
}

// checkAmount 目标金额不能超过托管余额减去其他 Open/Approved 里程碑已占用的部分
// skip 为正在修改的里程碑序号，新建时传 -1
func (g *Governor) checkAmount(campaignID int64, skip int, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: milestone target %d", model.ErrInvalidAmount, amount)
	}
	balance, err := g.escrow.Balance(campaignID)
	if err != nil {
		return err
	}
	available := balance - g.committed(campaignID, skip)
	if amount > available {
		return fmt.Errorf("%w: milestone target %d exceeds remaining unreleased escrow %d", model.ErrInvalidAmount, amount, max(available, 0))
	}
	return nil
}

// committed 尚未执行但可能放款的里程碑目标金额之和
func (g *Governor) committed(campaignID int64, skip int) int64 {
	var sum int64
	for _, m := range g.list(campaignID) {
		if m.Index == skip {
			continue
		}
		if m.Status == model.MilestoneOpen || m.Status == model.MilestoneApproved {
			sum += m.TargetAmount
		}
	}
	return sum
}

// UpdateMilestone 发起人在开始投票前修改里程碑内容
func (g *Governor) UpdateMilestone(tx *store.Txn, actor model.Actor, campaignID int64, index int, in MilestoneUpdate) (*model.Milestone, error) {
	c, err := g.campaigns.Get(campaignID)
	if err != nil {
		return nil, err
	}
	if actor.ID == "" || actor.ID != c.Owner {
		return nil, fmt.Errorf("%w: only the campaign owner can edit milestones", model.ErrNotAuthorized)
	}
	m, err := g.find(campaignID, index)
	if err != nil {
		return nil, err
	}
	if m.Status != model.MilestoneOpen || m.VoteCount > 0 {
		return nil, fmt.Errorf("%w: milestone %d is %s with %d votes", model.ErrInvalidStatus, index, m.Status, m.VoteCount)
	}
	if !tx.Now().Before(m.VotingDeadline) {
		return nil, model.ErrVotingClosed
	}

	next := *m
	if in.Title != nil {
		next.Title = strings.TrimSpace(*in.Title)
		if next.Title == "" {
			return nil, fmt.Errorf("%w: empty milestone title", model.ErrValidation)
		}
	}
	if in.Description != nil {
		next.Description = strings.TrimSpace(*in.Description)
	}
	if in.TargetAmount != nil {
		if err := g.checkAmount(campaignID, index, *in.TargetAmount); err != nil {
			return nil, err
		}
		next.TargetAmount = *in.TargetAmount
	}

	tx.Milestone(m)
	next.UpdatedAt = tx.Now()
	*m = next
	tx.Emit(model.EventMilestoneUpdated, campaignID, m)
	return m, nil
}

// DeleteMilestone 管理员在任何投票之前删除里程碑
func (g *Governor) DeleteMilestone(tx *store.Txn, actor model.Actor, campaignID int64, index int) (*model.Milestone, error) {
	if err := model.Authorize(actor, rbac.PermissionDeleteMilestone); err != nil {
		return nil, err
	}
	m, err := g.find(campaignID, index)
	if err != nil {
		return nil, err
	}
	if m.Status != model.MilestoneOpen || m.VoteCount > 0 {
		return nil, fmt.Errorf("%w: milestone %d is %s with %d votes", model.ErrInvalidStatus, index, m.Status, m.VoteCount)
	}
	tx.Milestone(m)
	m.Status = model.MilestoneDeleted
	m.UpdatedAt = tx.Now()
	tx.Emit(model.EventMilestoneDeleted, campaignID, m)
	return m, nil
}

// CastVote 记录或覆盖贡献者的投票，权重为当前的净投资额，赞成/反对总数从已存储的投票重新汇总
func (g *Governor) CastVote(tx *store.Txn, campaignID int64, index int, contributorID string, inFavor bool) (*model.Milestone, *model.Vote, error) {
	contributorID = strings.TrimSpace(contributorID)
	c, err := g.campaigns.Get(campaignID)
	if err != nil {
		return nil, nil, err
	}
	m, err := g.find(campaignID, index)
	if err != nil {
		return nil, nil, err
	}
	if c.Status == model.CampaignPaused {
		return nil, nil, fmt.Errorf("%w: campaign %d is paused", model.ErrInvalidStatus, campaignID)
	}
	weight := g.weights.VotingWeight(campaignID, contributorID)
	if contributorID == "" || weight <= 0 {
		return nil, nil, model.ErrNotInvestor
	}
	if m.Status != model.MilestoneOpen || !tx.Now().Before(m.VotingDeadline) {
		return nil, nil, fmt.Errorf("%w: milestone %d voting ended at %s", model.ErrVotingClosed, index, m.VotingDeadline.UTC().Format(time.RFC3339))
	}

	key := milestoneKey{campaignID, index}
	v := g.vote(key, contributorID)
	if v == nil {
		v = g.insertVote(tx, key, contributorID)
	}
	tx.Vote(v)
	v.InFavor = inFavor
	v.Weight = weight
	v.Void = false
	v.CastAt = tx.Now()

	g.recount(tx, m)
	tx.Emit(model.EventMilestoneVoted, campaignID, v)
	return m, v, nil
}

func (g *Governor) insertVote(tx *store.Txn, key milestoneKey, contributorID string) *model.Vote {
	g.mu.Lock()
	defer g.mu.Unlock()
	byVoter, ok := g.votes[key]
	if !ok {
		byVoter = make(map[string]*model.Vote)
		g.votes[key] = byVoter
	}
	v := &model.Vote{CampaignID: key.campaignID, MilestoneIndex: key.index, ContributorID: contributorID}
	byVoter[contributorID] = v
	tx.OnRollback(func() {
		g.mu.Lock()
		delete(byVoter, contributorID)
		g.mu.Unlock()
	})
	return v
}

// recount 从有效投票重新计算赞成/反对权重
func (g *Governor) recount(tx *store.Txn, m *model.Milestone) {
	var votesFor, votesAgainst int64
	count := 0
	for _, v := range g.Votes(m.CampaignID, m.Index) {
		if v.Void {
			continue
		}
		count++
		if v.InFavor {
			votesFor += v.Weight
		} else {
			votesAgainst += v.Weight
		}
	}
	tx.Milestone(m)
	m.VotesFor, m.VotesAgainst, m.VoteCount = votesFor, votesAgainst, count
	m.UpdatedAt = tx.Now()
}

// Tally 投票截止后的结果，不修改状态
func (g *Governor) Tally(now time.Time, campaignID int64, index int) (model.MilestoneStatus, error) {
	m, err := g.find(campaignID, index)
	if err != nil {
		return "", err
	}
	if now.Before(m.VotingDeadline) {
		return "", model.ErrVotingNotEnded
	}
	switch m.Status {
	case model.MilestoneApproved, model.MilestoneRejected:
		return m.Status, nil
	case model.MilestoneExecuted:
		return model.MilestoneApproved, nil
	case model.MilestoneFailed:
		return model.MilestoneRejected, nil
	}
	return g.cfg.Decide(m, g.weights.TotalVotingPower(campaignID)), nil
}

// CloseDue 把所有已过截止时间的 Open 里程碑定为 Approved/Rejected
// 结果在截止后第一次触及活动时确定，之后投资或退款不再影响
func (g *Governor) CloseDue(tx *store.Txn, campaignID int64) []model.Milestone {
	var closed []model.Milestone
	for _, m := range g.list(campaignID) {
		if m.Status != model.MilestoneOpen || tx.Now().Before(m.VotingDeadline) {
			continue
		}
		result, err := g.Tally(tx.Now(), campaignID, m.Index)
		if err != nil {
			continue
		}
		g.close(tx, m, result)
		closed = append(closed, *m)
	}
	return closed
}

func (g *Governor) close(tx *store.Txn, m *model.Milestone, result model.MilestoneStatus) {
	total := g.weights.TotalVotingPower(m.CampaignID)
	tx.Milestone(m)
	m.Status = result
	m.UpdatedAt = tx.Now()
	tx.Emit(model.EventMilestoneClosed, m.CampaignID, map[string]any{
		"index":              m.Index,
		"status":             m.Status,
		"votes_for":          m.VotesFor,
		"votes_against":      m.VotesAgainst,
		"total_voting_power": total,
	})
}

// Execute 投票结束后执行里程碑：通过则从托管放款给发起人，否则标记失败，资金留在托管中
// 退款使托管余额不足以支付已通过的目标金额时同样标记失败，剩余资金可用于新的里程碑或退款
func (g *Governor) Execute(tx *store.Txn, campaignID int64, index int) (*model.Milestone, *model.Transfer, error) {
	c, err := g.campaigns.Get(campaignID)
	if err != nil {
		return nil, nil, err
	}
	m, err := g.find(campaignID, index)
	if err != nil {
		return nil, nil, err
	}
	if m.Status == model.MilestoneExecuted || m.Status == model.MilestoneFailed {
		return nil, nil, fmt.Errorf("%w: milestone %d is %s", model.ErrAlreadyExecuted, index, m.Status)
	}
	result, err := g.Tally(tx.Now(), campaignID, index)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: voting ends at %s", err, m.VotingDeadline.UTC().Format(time.RFC3339))
	}
	if c.Status == model.CampaignPaused {
		return nil, nil, fmt.Errorf("%w: campaign %d is paused", model.ErrInvalidStatus, campaignID)
	}
	if m.Status == model.MilestoneOpen {
		g.close(tx, m, result)
	}

	tx.Milestone(m)
	m.UpdatedAt = tx.Now()
	if result != model.MilestoneApproved {
		m.Status = model.MilestoneFailed
		tx.Emit(model.EventMilestoneFailed, campaignID, m)
		return m, nil, nil
	}

	balance, err := g.escrow.Balance(campaignID)
	if err != nil {
		return nil, nil, err
	}
	if m.TargetAmount > balance {
		m.Status = model.MilestoneFailed
		tx.Emit(model.EventMilestoneFailed, campaignID, map[string]any{
			"milestone": m,
			"reason":    "insufficient_escrow",
			"balance":   balance,
		})
		return m, nil, nil
	}

	tr, err := g.escrow.Release(tx, escrow.AuthorityGovernor, campaignID, c.Owner, m.TargetAmount)
	if err != nil {
		return nil, nil, err
	}
	m.Status = model.MilestoneExecuted
	tx.Emit(model.EventMilestoneExecuted, campaignID, map[string]any{"milestone": m, "transfer": tr})
	return m, &tr, nil
}

// Abandon 活动过期或取消后，未执行的里程碑全部失败（托管已退回贡献者）
func (g *Governor) Abandon(tx *store.Txn, campaignID int64) []model.Milestone {
	var failed []model.Milestone
	for _, m := range g.list(campaignID) {
		switch m.Status {
		case model.MilestoneOpen, model.MilestoneApproved, model.MilestoneRejected:
		default:
			continue
		}
		tx.Milestone(m)
		m.Status = model.MilestoneFailed
		m.UpdatedAt = tx.Now()
		tx.Emit(model.EventMilestoneFailed, campaignID, m)
		failed = append(failed, *m)
	}
	return failed
}

// VoidVotes 贡献者退款后作废其在进行中里程碑上的投票
func (g *Governor) VoidVotes(tx *store.Txn, campaignID int64, contributorID string) {
	for _, m := range g.list(campaignID) {
		if m.Status != model.MilestoneOpen {
			continue
		}
		v := g.vote(milestoneKey{campaignID, m.Index}, contributorID)
		if v == nil || v.Void {
			continue
		}
		tx.Vote(v)
		v.Void = true
		g.recount(tx, m)
	}
}

// VotingStatus 投票进度，百分比保留两位小数
func (g *Governor) VotingStatus(now time.Time, campaignID int64, index int) (model.VotingStatus, error) {
	m, err := g.find(campaignID, index)
	if err != nil {
		return model.VotingStatus{}, err
	}
	total := g.weights.TotalVotingPower(campaignID)
	cast := m.VotesFor + m.VotesAgainst
	return model.VotingStatus{
		CampaignID:           campaignID,
		MilestoneIndex:       index,
		Status:               m.Status,
		VotesFor:             m.VotesFor,
		VotesAgainst:         m.VotesAgainst,
		TotalVotingPower:     total,
		ApprovalPercent:      percent(m.VotesFor, cast),
		ParticipationPercent: percent(cast, total),
		VotingDeadline:       m.VotingDeadline,
		VotingEnded:          !now.Before(m.VotingDeadline),
		WouldPass:            g.cfg.Approved(m.VotesFor, m.VotesAgainst, total),
	}, nil
}

// Get 查询里程碑（已删除的也返回）
func (g *Governor) Get(campaignID int64, index int) (model.Milestone, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ms := g.milestones[campaignID]
	if index < 0 || index >= len(ms) {
		return model.Milestone{}, fmt.Errorf("%w: milestone %d of campaign %d", model.ErrNotFound, index, campaignID)
	}
	return *ms[index], nil
}

// List 活动的全部里程碑快照
func (g *Governor) List(campaignID int64) []model.Milestone {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]model.Milestone, 0, len(g.milestones[campaignID]))
	for _, m := range g.milestones[campaignID] {
		out = append(out, *m)
	}
	return out
}

// Votes 里程碑上的投票，按投票人排序
func (g *Governor) Votes(campaignID int64, index int) []model.Vote {
	g.mu.RLock()
	defer g.mu.RUnlock()
	byVoter := g.votes[milestoneKey{campaignID, index}]
	out := make([]model.Vote, 0, len(byVoter))
	for _, v := range byVoter {
		out = append(out, *v)
	}
	slices.SortFunc(out, func(a, b model.Vote) int { return strings.Compare(a.ContributorID, b.ContributorID) })
	return out
}

// find 查找未删除的里程碑
func (g *Governor) find(campaignID int64, index int) (*model.Milestone, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ms := g.milestones[campaignID]
	if index < 0 || index >= len(ms) || ms[index].Status == model.MilestoneDeleted {
		return nil, fmt.Errorf("%w: milestone %d of campaign %d", model.ErrNotFound, index, campaignID)
	}
	return ms[index], nil
}

func (g *Governor) list(campaignID int64) []*model.Milestone {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return slices.Clone(g.milestones[campaignID])
}

func (g *Governor) vote(key milestoneKey, contributorID string) *model.Vote {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.votes[key][contributorID]
}

// Restore 用已提交的快照恢复里程碑和投票
func (g *Governor) Restore(milestones []model.Milestone, votes []model.Vote) {
	sorted := slices.Clone(milestones)
	slices.SortFunc(sorted, func(a, b model.Milestone) int {
		if a.CampaignID != b.CampaignID {
			if a.CampaignID < b.CampaignID {
				return -1
			}
			return 1
		}
		return a.Index - b.Index
	})

	g.mu.Lock()
	defer g.mu.Unlock()
	for _, v := range sorted {
		m := v
		g.milestones[m.CampaignID] = append(g.milestones[m.CampaignID], &m)
	}
	for _, v := range votes {
		vote := v
		key := milestoneKey{vote.CampaignID, vote.MilestoneIndex}
		if g.votes[key] == nil {
			g.votes[key] = make(map[string]*model.Vote)
		}
		g.votes[key][vote.ContributorID] = &vote
	}
}
