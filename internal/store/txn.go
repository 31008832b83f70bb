package store

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/google/uuid"

	"milestonefund/internal/model"
)

// Txn 一次引擎变更的工作单元：记录撤销日志和待提交的变更集
// 校验失败或存储提交失败时调用 Rollback，保证不出现部分生效的状态
type Txn struct {
	now     time.Time
	actor   string
	traceID string

	undo []func()
	seen map[any]struct{}

	campaigns   []*model.Campaign
	investments []*model.Investment
	milestones  []*model.Milestone
	votes       []*model.Vote
	escrows     []*model.EscrowAccount
	platform    *model.PlatformState
	transfers   []model.Transfer
	events      []model.AuditEvent
}

// NewTxn 创建工作单元，now 为本次操作统一使用的时间
func NewTxn(now time.Time, actor, traceID string) *Txn {
	return &Txn{
		now:     now,
		actor:   actor,
		traceID: traceID,
		seen:    make(map[any]struct{}),
	}
}

func (t *Txn) Now() time.Time { return t.now }

func (t *Txn) Actor() string { return t.actor }

// track 第一次修改某个实体前保存旧值
func track[T any](t *Txn, p *T) bool {
	if _, ok := t.seen[p]; ok {
		return false
	}
	t.seen[p] = struct{}{}
	prev := *p
	t.undo = append(t.undo, func() { *p = prev })
	return true
}

// Campaign 在修改活动之前调用
func (t *Txn) Campaign(c *model.Campaign) {
	if track(t, c) {
		t.campaigns = append(t.campaigns, c)
	}
}

func (t *Txn) Investment(i *model.Investment) {
	if track(t, i) {
		t.investments = append(t.investments, i)
	}
}

func (t *Txn) Milestone(m *model.Milestone) {
	if track(t, m) {
		t.milestones = append(t.milestones, m)
	}
}

func (t *Txn) Vote(v *model.Vote) {
	if track(t, v) {
		t.votes = append(t.votes, v)
	}
}

func (t *Txn) Escrow(a *model.EscrowAccount) {
	if track(t, a) {
		t.escrows = append(t.escrows, a)
	}
}

func (t *Txn) Platform(p *model.PlatformState) {
	if track(t, p) {
		t.platform = p
	}
}

// OnRollback 注册额外的撤销动作（例如撤销 map 插入）
func (t *Txn) OnRollback(f func()) {
	t.undo = append(t.undo, f)
}

// AddTransfer 记录一笔资金划转
func (t *Txn) AddTransfer(tr model.Transfer) model.Transfer {
	if tr.ID == "" {
		tr.ID = uuid.NewString()
	}
	if tr.CreatedAt.IsZero() {
		tr.CreatedAt = t.now
	}
	t.transfers = append(t.transfers, tr)
	return tr
}

// Emit 追加审计事件，提交成功后才对外可见
func (t *Txn) Emit(eventType string, campaignID int64, data any) {
	b, _ := json.Marshal(data)
	t.events = append(t.events, model.AuditEvent{
		ID:         uuid.NewString(),
		Type:       eventType,
		CampaignID: campaignID,
		Actor:      t.actor,
		TraceID:    t.traceID,
		OccurredAt: t.now,
		Data:       b,
	})
}

// Rollback 按相反顺序撤销所有修改
func (t *Txn) Rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
	t.seen = make(map[any]struct{})
	t.campaigns, t.investments, t.milestones, t.votes, t.escrows = nil, nil, nil, nil, nil
	t.platform = nil
	t.transfers, t.events = nil, nil
}

// Empty 没有任何待提交的变更
func (t *Txn) Empty() bool {
	return len(t.undo) == 0 && len(t.transfers) == 0 && len(t.events) == 0
}

func (t *Txn) Events() []model.AuditEvent {
	return slices.Clone(t.events)
}

func (t *Txn) Transfers() []model.Transfer {
	return slices.Clone(t.transfers)
}

// Changes 生成变更集的值拷贝，交给存储组件提交
func (t *Txn) Changes() ChangeSet {
	cs := ChangeSet{
		Transfers: slices.Clone(t.transfers),
		Events:    slices.Clone(t.events),
	}
	for _, c := range t.campaigns {
		v := *c
		v.MilestoneIDs = slices.Clone(c.MilestoneIDs)
		cs.Campaigns = append(cs.Campaigns, v)
	}
	for _, i := range t.investments {
		cs.Investments = append(cs.Investments, *i)
	}
	for _, m := range t.milestones {
		cs.Milestones = append(cs.Milestones, *m)
	}
	for _, v := range t.votes {
		cs.Votes = append(cs.Votes, *v)
	}
	for _, a := range t.escrows {
		cs.Escrows = append(cs.Escrows, *a)
	}
	if t.platform != nil {
		p := *t.platform
		cs.Platform = &p
	}
	return cs
}
